package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

const CurrencySymbol = "₹"

// FormatMoney renders an amount with two decimals and the currency symbol.
func FormatMoney(amount decimal.Decimal) string {
	return CurrencySymbol + amount.StringFixed(2)
}

// ParseAmount accepts both "10.5" and "10,5".
func ParseAmount(text string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(strings.Replace(text, ",", ".", -1))
	cleaned = strings.TrimPrefix(cleaned, CurrencySymbol)
	return decimal.NewFromString(cleaned)
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "`", "\\`",
)

// EscapeMarkdown escapes user supplied text for Telegram's legacy Markdown mode.
func EscapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}
