package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/utils"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Gateway is the service's view of Telegram: it delivers notifications and
// answers channel membership questions.
type Gateway struct {
	api    *tgbotapi.BotAPI
	logger *utils.Logger
}

func NewGateway(api *tgbotapi.BotAPI, logger *utils.Logger) *Gateway {
	return &Gateway{api: api, logger: logger}
}

func (g *Gateway) Notify(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	return g.do(ctx, func() error {
		_, err := g.api.Send(msg)
		return err
	})
}

// CheckMembership asks Telegram for every channel in turn. A failed lookup
// counts the channel as missing.
func (g *Gateway) CheckMembership(ctx context.Context, userID int64, channels []models.Channel) (bool, []string, error) {
	var missing []string
	for _, channel := range channels {
		if err := ctx.Err(); err != nil {
			return false, nil, err
		}

		cfg := tgbotapi.GetChatMemberConfig{ChatConfigWithUser: chatWithUser(channel.ChannelID, userID)}
		var member tgbotapi.ChatMember
		err := g.do(ctx, func() error {
			var err error
			member, err = g.api.GetChatMember(cfg)
			return err
		})
		if err != nil {
			g.logger.Warnf("Membership lookup for user %d in %s failed: %v", userID, channel.ChannelID, err)
			missing = append(missing, channel.DisplayName())
			continue
		}
		if member.HasLeft() || member.WasKicked() {
			missing = append(missing, channel.DisplayName())
		}
	}
	return len(missing) == 0, missing, nil
}

// do runs a blocking Bot API call and gives up when ctx is done. The call
// itself keeps running in the background until the HTTP client returns.
func (g *Gateway) do(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() { done <- call() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("telegram call abandoned: %w", ctx.Err())
	}
}

func chatWithUser(channelID string, userID int64) tgbotapi.ChatConfigWithUser {
	if id, err := strconv.ParseInt(channelID, 10, 64); err == nil {
		return tgbotapi.ChatConfigWithUser{ChatID: id, UserID: userID}
	}
	username := channelID
	if !strings.HasPrefix(username, "@") {
		username = "@" + username
	}
	return tgbotapi.ChatConfigWithUser{SuperGroupUsername: username, UserID: userID}
}

// channelURL builds the join link shown next to a missing channel.
func channelURL(channelID string) string {
	if strings.HasPrefix(channelID, "@") {
		return "https://t.me/" + strings.TrimPrefix(channelID, "@")
	}
	return ""
}
