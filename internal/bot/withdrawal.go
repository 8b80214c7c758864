package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/internal/service"
	"github.com/Fi44er/task_bot/utils"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const withdrawalsPerPage = 5

func (b *Bot) handleWithdrawRequest(ctx context.Context, chatID int64, user *models.User) {
	if !b.ensureAuthorized(ctx, chatID, user.TelegramID) {
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, method := range []models.WithdrawalMethod{models.MethodUPI, models.MethodGateway} {
		minimum, err := b.service.MethodMinimum(method)
		if err != nil {
			continue
		}
		icon := "💳"
		if method == models.MethodGateway {
			icon = "⚡"
		}
		label := fmt.Sprintf("%s %s (Min %s)", icon, method.Title(), utils.FormatMoney(minimum))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "withdraw_"+string(method)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("◀️ Back", "main_menu")))

	b.setStage(user.TelegramID, Draft{Stage: StageAwaitingMethod})
	b.sendMessage(chatID, fmt.Sprintf(
		"💸 *Withdraw Funds*\n\nYour Balance: %s\n\nChoose withdrawal method:",
		utils.FormatMoney(user.Balance),
	), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) handleWithdrawMethod(ctx context.Context, callback *tgbotapi.CallbackQuery, method models.WithdrawalMethod) {
	chatID := callback.Message.Chat.ID
	userID := callback.From.ID
	b.answerCallback(callback.ID, "")

	if b.sessions.get(userID).Stage != StageAwaitingMethod {
		b.sendMessage(chatID, "Please start again with 💳 Withdraw.", GetMainMenu())
		return
	}

	minimum, err := b.service.MethodMinimum(method)
	if err != nil {
		b.sendMessage(chatID, b.describeError(err), GetMainMenu())
		return
	}
	user, err := b.service.GetUser(ctx, userID)
	if err != nil {
		b.sendMessage(chatID, b.describeError(err), GetMainMenu())
		return
	}

	b.setStage(userID, Draft{Stage: StageAwaitingAmount, Method: method})
	edit := tgbotapi.NewEditMessageText(chatID, callback.Message.MessageID, fmt.Sprintf(
		"💳 *%s Withdrawal*\n\nYour Balance: %s\nMinimum: %s\n\nPlease enter the amount you want to withdraw:",
		method.Title(), utils.FormatMoney(user.Balance), utils.FormatMoney(minimum),
	))
	edit.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.API.Send(edit); err != nil {
		b.logger.Errorf("Failed to edit withdrawal message: %v", err)
	}
}

func (b *Bot) handleWithdrawAmount(_ context.Context, chatID int64, user *models.User, draft Draft, text string) {
	amount, err := utils.ParseAmount(text)
	if err != nil {
		b.sendMessage(chatID, "❌ Please enter a valid number", nil)
		return
	}
	if err := b.service.ValidateWithdrawalAmount(draft.Method, amount); err != nil {
		b.sendMessage(chatID, b.describeError(err), nil)
		return
	}
	if amount.GreaterThan(user.Balance) {
		b.sendMessage(chatID, fmt.Sprintf("❌ Insufficient balance. Your balance: %s", utils.FormatMoney(user.Balance)), nil)
		return
	}

	draft.Stage = StageAwaitingAccountDetails
	draft.Amount = amount
	b.setStage(user.TelegramID, draft)

	prompt := "Please enter your UPI ID (e.g., name@okhdfcbank):"
	if draft.Method == models.MethodGateway {
		prompt = "Please enter your gateway account details (e.g., Phone number/Email):"
	}
	b.sendMessage(chatID, prompt, nil)
}

func (b *Bot) handleWithdrawDetails(ctx context.Context, chatID int64, user *models.User, draft Draft, text string) {
	if err := service.ValidateAccountDetails(draft.Method, text); err != nil {
		b.sendMessage(chatID, b.describeError(err), nil)
		return
	}

	withdrawal, _, err := b.service.RequestWithdrawal(ctx, service.WithdrawalRequest{
		UserID:         user.TelegramID,
		Amount:         draft.Amount,
		Method:         draft.Method,
		AccountDetails: text,
	})
	b.resetStage(user.TelegramID)
	if err != nil {
		b.sendMessage(chatID, b.describeError(err), GetMainMenu())
		return
	}

	b.sendMessage(chatID, fmt.Sprintf(
		"✅ *Withdrawal Request Submitted*\n\n"+
			"Request ID: #%d\n"+
			"Amount: %s\n"+
			"Method: %s\n\n"+
			"Your request is pending admin approval.\n"+
			"You'll be notified once processed.",
		withdrawal.ID, utils.FormatMoney(withdrawal.Amount), withdrawal.Method.Title(),
	), GetMainMenu())
}

func (b *Bot) sendWithdrawalsPage(chatID int64, withdrawals []*models.Withdrawal, page int) {
	if len(withdrawals) == 0 {
		b.sendMessage(chatID, "ℹ️ No pending withdrawal requests.", nil)
		return
	}

	start := page * withdrawalsPerPage
	if start >= len(withdrawals) || start < 0 {
		start = 0
		page = 0
	}
	end := start + withdrawalsPerPage
	if end > len(withdrawals) {
		end = len(withdrawals)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("💳 *Pending Withdrawals* (page %d of %d)\n\n", page+1, (len(withdrawals)-1)/withdrawalsPerPage+1))
	for _, w := range withdrawals[start:end] {
		sb.WriteString(fmt.Sprintf(
			"🆔 #%d | 👤 `%d`\n💰 %s via %s\n📝 `%s`\n🕐 %s\n/approve\\_withdraw\\_%d | /reject\\_withdraw\\_%d\n\n",
			w.ID, w.UserID, utils.FormatMoney(w.Amount), w.Method.Title(),
			strings.ReplaceAll(w.AccountDetails, "`", "'"), w.RequestedAt.Format("2006-01-02 15:04"), w.ID, w.ID,
		))
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, w := range withdrawals[start:end] {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ Complete #%d", w.ID), fmt.Sprintf("admin_confirm_withdraw:%d", w.ID)),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("❌ Refund #%d", w.ID), fmt.Sprintf("admin_refund_withdraw:%d", w.ID)),
		))
	}
	if len(withdrawals) > withdrawalsPerPage {
		var pagination []tgbotapi.InlineKeyboardButton
		if page > 0 {
			pagination = append(pagination, tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", fmt.Sprintf("admin_withdraw_page:%d", page-1)))
		}
		if end < len(withdrawals) {
			pagination = append(pagination, tgbotapi.NewInlineKeyboardButtonData("Next ➡️", fmt.Sprintf("admin_withdraw_page:%d", page+1)))
		}
		if len(pagination) > 0 {
			rows = append(rows, pagination)
		}
	}

	b.sendMessage(chatID, sb.String(), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) handleAdminWithdrawCallback(ctx context.Context, callback *tgbotapi.CallbackQuery, op service.Operator) {
	data := callback.Data
	chatID := callback.Message.Chat.ID

	if strings.HasPrefix(data, "admin_withdraw_page:") {
		page, err := strconv.Atoi(strings.TrimPrefix(data, "admin_withdraw_page:"))
		if err != nil {
			b.logger.Errorf("Invalid page number in callback: %v", err)
			return
		}
		withdrawals, err := b.service.ListPendingWithdrawals(ctx, op, 0)
		if err != nil {
			b.logger.Errorf("Failed to get pending withdrawals: %v", err)
			return
		}
		b.sendWithdrawalsPage(chatID, withdrawals, page)
		b.answerCallback(callback.ID, "")
		return
	}

	if id, ok := callbackID(data, "admin_confirm_withdraw:"); ok {
		confirm := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Yes, mark paid", fmt.Sprintf("admin_final_confirm_withdraw:%d", id)),
				tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", "admin_cancel_action"),
			),
		)
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, callback.Message.MessageID,
			fmt.Sprintf("Mark withdrawal #%d as paid? This cannot be undone.", id), confirm)
		if _, err := b.API.Send(edit); err != nil {
			b.logger.Errorf("Failed to edit confirmation: %v", err)
		}
		b.answerCallback(callback.ID, "")
		return
	}

	var action service.AdminAction
	if id, ok := callbackID(data, "admin_final_confirm_withdraw:"); ok {
		action = service.ApproveWithdrawalAction{WithdrawalID: id}
	} else if id, ok := callbackID(data, "admin_refund_withdraw:"); ok {
		action = service.RejectWithdrawalAction{WithdrawalID: id}
	} else {
		return
	}

	if _, err := b.service.Execute(ctx, op, action); err != nil {
		b.answerCallback(callback.ID, b.describeError(err))
		return
	}
	if _, err := b.API.Request(tgbotapi.NewDeleteMessage(chatID, callback.Message.MessageID)); err != nil {
		b.logger.Warnf("Failed to delete processed message: %v", err)
	}
	b.answerCallback(callback.ID, "✅ Done")
}

func callbackID(data, prefix string) (uint, bool) {
	if !strings.HasPrefix(data, prefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(data, prefix), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
