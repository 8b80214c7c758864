package bot

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Fi44er/task_bot/internal/service"
	"github.com/Fi44er/task_bot/utils"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// LinkIssuer hands out the one-time link a user opens to verify their
// network address.
type LinkIssuer interface {
	Link(userID int64) (string, error)
}

type Options struct {
	SupportContact string
	SessionTTL     time.Duration
}

type Bot struct {
	API      *tgbotapi.BotAPI
	service  *service.Service
	links    LinkIssuer
	sessions *sessions
	support  string
	logger   *utils.Logger

	wg sync.WaitGroup
}

func NewBot(
	api *tgbotapi.BotAPI,
	svc *service.Service,
	links LinkIssuer,
	opts Options,
	logger *utils.Logger,
) *Bot {
	return &Bot{
		API:      api,
		service:  svc,
		links:    links,
		sessions: newSessions(opts.SessionTTL),
		support:  opts.SupportContact,
		logger:   logger,
	}
}

// Start polls for updates until ctx is cancelled. Every update is handled in
// its own goroutine; Start waits for those to finish before returning.
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("Starting bot...")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.API.GetUpdatesChan(u)

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			b.API.StopReceivingUpdates()
			b.wg.Wait()
			b.logger.Info("Bot stopped")
			return
		case <-sweep.C:
			if n := b.sessions.sweep(); n > 0 {
				b.logger.Debugf("Dropped %d expired drafts", n)
			}
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.dispatch(ctx, update)
			}()
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Errorf("Panic while handling update %d: %v\n%s", update.UpdateID, p, debug.Stack())
		}
	}()

	b.logger.Debugf("Received update: %d", update.UpdateID)
	switch {
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.HandleUpdate(ctx, update)
	}
}

const (
	btnTasks    = "📋 Available Tasks"
	btnBalance  = "💰 My Balance"
	btnProfile  = "📊 My Profile"
	btnWithdraw = "💳 Withdraw"
	btnSupport  = "📞 Support"
	btnHistory  = "📜 History"
)

func GetMainMenu() tgbotapi.ReplyKeyboardMarkup {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnTasks),
			tgbotapi.NewKeyboardButton(btnBalance),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnProfile),
			tgbotapi.NewKeyboardButton(btnWithdraw),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSupport),
			tgbotapi.NewKeyboardButton(btnHistory),
		),
	)
	keyboard.ResizeKeyboard = true
	return keyboard
}
