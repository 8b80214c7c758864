package service

import (
	"context"
)

// notify is best effort: it runs after the state change committed, is bounded
// by notifyTimeout and only logs failures.
func (s *Service) notify(ctx context.Context, chatID int64, text string) {
	if s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(ctx, chatID, text); err != nil {
		s.logger.Warnf("Failed to notify chat %d: %v", chatID, err)
	}
}

func (s *Service) notifyOperators(ctx context.Context, text string) {
	for _, id := range s.operators.IDs() {
		s.notify(ctx, id, text)
	}
}
