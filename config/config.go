package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	DB_URL           string `mapstructure:"DB_URL"`
	DBAutoMigrate    bool   `mapstructure:"DB_AUTO_MIGRATE"`
	LogLevel         string `mapstructure:"LOG_LEVEL"`

	// Comma separated telegram ids of the operators.
	AdminIDsRaw    string `mapstructure:"ADMIN_IDS"`
	SupportContact string `mapstructure:"SUPPORT_CONTACT"`

	MinWithdrawalUPI     string `mapstructure:"MIN_WITHDRAWAL_UPI"`
	MinWithdrawalGateway string `mapstructure:"MIN_WITHDRAWAL_GATEWAY"`

	NotifyTimeout time.Duration `mapstructure:"NOTIFY_TIMEOUT"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`

	VerifyListenAddr  string        `mapstructure:"VERIFY_LISTEN_ADDR"`
	VerifyBaseURL     string        `mapstructure:"VERIFY_BASE_URL"`
	VerifySecret      string        `mapstructure:"VERIFY_SECRET"`
	VerifyTokenTTL    time.Duration `mapstructure:"VERIFY_TOKEN_TTL"`
	TrustedProxiesRaw string        `mapstructure:"TRUSTED_PROXIES"`
}

var defaults = map[string]any{
	"TELEGRAM_BOT_TOKEN":     "",
	"DB_URL":                 "",
	"DB_AUTO_MIGRATE":        true,
	"LOG_LEVEL":              "debug",
	"ADMIN_IDS":              "",
	"SUPPORT_CONTACT":        "",
	"MIN_WITHDRAWAL_UPI":     "10",
	"MIN_WITHDRAWAL_GATEWAY": "1",
	"NOTIFY_TIMEOUT":         "5s",
	"SESSION_TTL":            "15m",
	"VERIFY_LISTEN_ADDR":     ":8080",
	"VERIFY_BASE_URL":        "",
	"VERIFY_SECRET":          "",
	"VERIFY_TOKEN_TTL":       "10m",
	"TRUSTED_PROXIES":        "",
}

func LoadConfig(path string) (config Config, err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return config, fmt.Errorf("failed to resolve config path: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AddConfigPath(filepath.Dir(absPath))
	v.SetConfigName(filepath.Base(absPath))
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}

	return config, nil
}

func (c Config) Validate() error {
	var missing []string
	if c.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.DB_URL == "" {
		missing = append(missing, "DB_URL")
	}
	if c.VerifySecret == "" {
		missing = append(missing, "VERIFY_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}

	if _, err := c.AdminIDs(); err != nil {
		return err
	}
	if _, err := c.WithdrawalMinimums(); err != nil {
		return err
	}
	return nil
}

func (c Config) AdminIDs() ([]int64, error) {
	var ids []int64
	for _, part := range splitList(c.AdminIDsRaw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// WithdrawalMinimums is keyed by withdrawal method name.
func (c Config) WithdrawalMinimums() (map[string]decimal.Decimal, error) {
	upi, err := decimal.NewFromString(c.MinWithdrawalUPI)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_WITHDRAWAL_UPI: %w", err)
	}
	gateway, err := decimal.NewFromString(c.MinWithdrawalGateway)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_WITHDRAWAL_GATEWAY: %w", err)
	}
	return map[string]decimal.Decimal{
		"upi":     upi,
		"gateway": gateway,
	}, nil
}

func (c Config) TrustedProxies() []string {
	return splitList(c.TrustedProxiesRaw)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
