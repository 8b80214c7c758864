package bot

import (
	"sync"
	"time"

	"github.com/Fi44er/task_bot/internal/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
)

// Stage is the step of a multi-message conversation the user is in.
type Stage int

const (
	StageNone Stage = iota
	StageAwaitingProof
	StageAwaitingMethod
	StageAwaitingAmount
	StageAwaitingAccountDetails
	StageAwaitingTaskInput
	StageAwaitingChannelInput
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingProof:
		return "awaiting_proof"
	case StageAwaitingMethod:
		return "awaiting_method"
	case StageAwaitingAmount:
		return "awaiting_amount"
	case StageAwaitingAccountDetails:
		return "awaiting_account_details"
	case StageAwaitingTaskInput:
		return "awaiting_task_input"
	case StageAwaitingChannelInput:
		return "awaiting_channel_input"
	default:
		return "none"
	}
}

// Draft holds what the user entered so far in the current conversation.
type Draft struct {
	Stage  Stage
	TaskID uint
	Method models.WithdrawalMethod
	Amount decimal.Decimal

	updatedAt time.Time
}

// sessions keeps one draft per user. Drafts that were not touched for ttl
// are treated as absent.
type sessions struct {
	mu     sync.Mutex
	drafts map[int64]Draft
	ttl    time.Duration
	now    func() time.Time
}

func newSessions(ttl time.Duration) *sessions {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &sessions{
		drafts: make(map[int64]Draft),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *sessions) get(userID int64) Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[userID]
	if !ok {
		return Draft{}
	}
	if s.now().Sub(d.updatedAt) > s.ttl {
		delete(s.drafts, userID)
		return Draft{}
	}
	return d
}

func (s *sessions) set(userID int64, d Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Stage == StageNone {
		delete(s.drafts, userID)
		return
	}
	d.updatedAt = s.now()
	s.drafts[userID] = d
}

func (s *sessions) clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, userID)
}

// sweep drops expired drafts and returns how many were removed.
func (s *sessions) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, d := range s.drafts {
		if now.Sub(d.updatedAt) > s.ttl {
			delete(s.drafts, id)
			removed++
		}
	}
	return removed
}

func (b *Bot) setStage(userID int64, d Draft) {
	b.sessions.set(userID, d)
	b.logger.Debugf("Set stage for user %d: %s", userID, d.Stage)
}

func (b *Bot) resetStage(userID int64) {
	b.sessions.clear(userID)
}

func (b *Bot) sendMessage(chatID int64, text string, replyMarkup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if replyMarkup != nil {
		msg.ReplyMarkup = replyMarkup
	}
	if _, err := b.API.Send(msg); err != nil {
		b.logger.Errorf("Failed to send message to %d: %v", chatID, err)
	}
}

func (b *Bot) answerCallback(callbackID string, text string) {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.API.Request(callback); err != nil {
		b.logger.Errorf("Failed to answer callback: %v", err)
	}
}
