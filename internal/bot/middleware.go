package bot

import (
	"context"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/internal/service"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// withUser registers or refreshes the sender before running handler.
func (b *Bot) withUser(ctx context.Context, from *tgbotapi.User, chatID int64, handler func(*models.User)) {
	if from == nil {
		return
	}

	user, err := b.service.EnsureUser(ctx, service.Profile{
		TelegramID: from.ID,
		Username:   from.UserName,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
	})
	if err != nil {
		b.logger.Errorf("Failed to load user %d: %v", from.ID, err)
		b.sendMessage(chatID, "❌ Something went wrong. Please try again later.", nil)
		return
	}

	handler(user)
}

// withOperator runs handler only for configured operators.
func (b *Bot) withOperator(chatID, userID int64, handler func(service.Operator)) {
	op, err := b.service.Operators().Authorize(userID)
	if err != nil {
		b.sendMessage(chatID, "⛔ Unauthorized access", nil)
		return
	}
	handler(op)
}
