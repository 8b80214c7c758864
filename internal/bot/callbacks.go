package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/internal/service"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil || callback.From == nil {
		return
	}
	data := callback.Data
	chatID := callback.Message.Chat.ID

	b.logger.Debugf("Callback %q from user %d", data, callback.From.ID)

	if strings.HasPrefix(data, "admin_") || strings.HasPrefix(data, "delchan_") || strings.HasPrefix(data, "deltask_") {
		b.withOperator(chatID, callback.From.ID, func(op service.Operator) {
			b.handleAdminCallback(ctx, callback, op)
		})
		return
	}

	b.withUser(ctx, callback.From, chatID, func(user *models.User) {
		switch {
		case data == "verify_channels":
			b.answerCallback(callback.ID, "")
			if b.ensureAuthorized(ctx, chatID, user.TelegramID) {
				b.sendMessage(chatID, "✅ Verification complete!", nil)
				b.sendMainMenu(chatID, user)
			}
		case data == "main_menu":
			b.answerCallback(callback.ID, "")
			b.resetStage(user.TelegramID)
			b.sendMainMenu(chatID, user)
		case strings.HasPrefix(data, "withdraw_"):
			b.handleWithdrawMethod(ctx, callback, models.WithdrawalMethod(strings.TrimPrefix(data, "withdraw_")))
		case strings.HasPrefix(data, "submit_"):
			b.answerCallback(callback.ID, "")
			if id, ok := callbackID(data, "submit_"); ok {
				b.startSubmission(ctx, chatID, user, id)
			}
		default:
			b.answerCallback(callback.ID, "")
			b.logger.Warnf("Unknown callback data: %q", data)
		}
	})
}

func (b *Bot) handleAdminCallback(ctx context.Context, callback *tgbotapi.CallbackQuery, op service.Operator) {
	data := callback.Data
	chatID := callback.Message.Chat.ID
	userID := callback.From.ID

	if strings.HasPrefix(data, "admin_withdraw_page:") ||
		strings.HasPrefix(data, "admin_confirm_withdraw:") ||
		strings.HasPrefix(data, "admin_final_confirm_withdraw:") ||
		strings.HasPrefix(data, "admin_refund_withdraw:") {
		b.handleAdminWithdrawCallback(ctx, callback, op)
		return
	}

	if id, ok := callbackID(data, "deltask_"); ok {
		b.answerCallback(callback.ID, "")
		b.runAdminAction(ctx, chatID, op, service.RemoveTask{TaskID: id})
		return
	}
	if channelID, ok := strings.CutPrefix(data, "delchan_"); ok {
		b.answerCallback(callback.ID, "")
		b.runAdminAction(ctx, chatID, op, service.RemoveChannel{ChannelID: channelID})
		return
	}

	b.answerCallback(callback.ID, "")
	switch data {
	case "admin_add_task":
		b.setStage(userID, Draft{Stage: StageAwaitingTaskInput})
		b.sendMessage(chatID,
			"➕ *Add New Task*\n\nSend task details in this format:\n"+
				"`"+taskInputHelp+"`\n\n"+
				"Example:\n`Join our channel | 10 | Join and stay for 24h | https://t.me/example`\n\n"+
				"Send /cancel to abort.", nil)
	case "admin_remove_task":
		b.sendRemoveTaskPicker(ctx, chatID)
	case "admin_list_tasks":
		b.runAdminAction(ctx, chatID, op, service.ListTasksAction{})
	case "admin_list_users":
		b.runAdminAction(ctx, chatID, op, service.ListUsersAction{Limit: adminListLimit})
	case "admin_pending_withdrawals":
		b.runAdminAction(ctx, chatID, op, service.ListPendingWithdrawalsAction{})
	case "admin_pending_submissions":
		b.runAdminAction(ctx, chatID, op, service.ListPendingSubmissionsAction{Limit: adminListLimit})
	case "admin_financial_stats":
		b.runAdminAction(ctx, chatID, op, service.ShowFinancialStats{})
	case "admin_system_stats":
		b.runAdminAction(ctx, chatID, op, service.ShowSystemStats{})
	case "admin_add_channel":
		b.setStage(userID, Draft{Stage: StageAwaitingChannelInput})
		b.sendMessage(chatID,
			"➕ *Add Channel*\n\nSend channel details in this format:\n"+
				"`Channel ID | Channel Name`\n\n"+
				"Example:\n`@mychannel | My Channel`\n\n"+
				"Send /cancel to abort.", nil)
	case "admin_remove_channel":
		b.sendRemoveChannelPicker(ctx, chatID)
	case "admin_cancel_action":
		if _, err := b.API.Request(tgbotapi.NewDeleteMessage(chatID, callback.Message.MessageID)); err != nil {
			b.logger.Warnf("Failed to delete message: %v", err)
		}
	case "admin_back":
		b.resetStage(userID)
		b.sendAdminPanel(chatID)
	default:
		b.logger.Warnf("Unknown admin callback: %q", data)
	}
}

func (b *Bot) sendRemoveTaskPicker(ctx context.Context, chatID int64) {
	tasks, err := b.service.ListActiveTasks(ctx)
	if err != nil {
		b.sendMessage(chatID, b.describeError(err), nil)
		return
	}
	if len(tasks) == 0 {
		b.sendMessage(chatID, "ℹ️ No active tasks.", nil)
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, t := range tasks {
		label := fmt.Sprintf("❌ #%d %s", t.ID, truncate(t.Description, 30))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("deltask_%d", t.ID)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("◀️ Back", "admin_back")))
	b.sendMessage(chatID, "Select a task to deactivate:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) sendRemoveChannelPicker(ctx context.Context, chatID int64) {
	channels, err := b.service.ListChannels(ctx)
	if err != nil {
		b.sendMessage(chatID, b.describeError(err), nil)
		return
	}
	if len(channels) == 0 {
		b.sendMessage(chatID, "ℹ️ No required channels configured.", nil)
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range channels {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ "+c.DisplayName(), "delchan_"+c.ChannelID),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("◀️ Back", "admin_back")))
	b.sendMessage(chatID, "Select a channel to remove:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
