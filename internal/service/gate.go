package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/Fi44er/task_bot/internal/models"
	"gorm.io/gorm"
)

type Profile struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// EnsureUser creates the user on first contact and refreshes the profile
// fields afterwards.
func (s *Service) EnsureUser(ctx context.Context, p Profile) (*models.User, error) {
	now := s.now()
	created, err := s.repo.CreateUserIfAbsent(ctx, &models.User{
		TelegramID:   p.TelegramID,
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		JoinedAt:     now,
		LastActiveAt: now,
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Infof("New user %d (@%s)", p.TelegramID, p.Username)
	} else {
		err := s.repo.UpdateUserFields(ctx, nil, p.TelegramID, map[string]interface{}{
			"username":       p.Username,
			"first_name":     p.FirstName,
			"last_name":      p.LastName,
			"last_active_at": now,
		})
		if err != nil {
			return nil, err
		}
	}

	return s.GetUser(ctx, p.TelegramID)
}

func (s *Service) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.repo.GetUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return user, nil
}

// IsAuthorized evaluates the gate from scratch on every call: membership can
// be revoked on the chat platform at any moment.
func (s *Service) IsAuthorized(ctx context.Context, userID int64) (bool, string, error) {
	err := s.Authorize(ctx, userID)
	if err == nil {
		return true, "", nil
	}
	var denied *UnauthorizedError
	if errors.As(err, &denied) {
		return false, denied.Reason, nil
	}
	return false, "", err
}

// Authorize returns nil or an *UnauthorizedError; any other error is an
// infrastructure failure.
func (s *Service) Authorize(ctx context.Context, userID int64) error {
	user, err := s.repo.GetUser(ctx, nil, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return &UnauthorizedError{Reason: "unknown user"}
	}
	if user.IsBlocked {
		return &UnauthorizedError{Reason: "user is blocked"}
	}

	if !user.IsVerified || user.VerifiedAddress == "" {
		return &UnauthorizedError{Reason: "network address not verified"}
	}
	record, err := s.repo.GetAddress(ctx, nil, user.VerifiedAddress)
	if err != nil {
		return err
	}
	if record == nil || record.UserID != userID {
		return &UnauthorizedError{Reason: "network address not owned"}
	}

	ok, missing, err := s.CheckChannels(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return &UnauthorizedError{Reason: "required channels not joined", MissingChannels: missing}
	}
	return nil
}

// CheckChannels reports the required channels the user has not joined.
// A failing membership lookup counts as not joined.
func (s *Service) CheckChannels(ctx context.Context, userID int64) (bool, []string, error) {
	channels, err := s.repo.ListChannels(ctx, true)
	if err != nil {
		return false, nil, err
	}
	if len(channels) == 0 {
		return true, nil, nil
	}
	if s.membership == nil {
		return false, channelNames(channels), nil
	}

	ok, missing, err := s.membership.CheckMembership(ctx, userID, channels)
	if err != nil {
		s.logger.Warnf("Membership check failed for user %d: %v", userID, err)
		return false, channelNames(channels), nil
	}
	return ok, missing, nil
}

func channelNames(channels []models.Channel) []string {
	names := make([]string, 0, len(channels))
	for _, c := range channels {
		names = append(names, c.DisplayName())
	}
	return names
}

// NormalizeAddress returns the canonical text form of an IP address.
// Placeholder values yield ErrAddressUnavailable so the caller can re-prompt.
func NormalizeAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "unknown", "none":
		return "", ErrAddressUnavailable
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", invalid("address", "%q is not an IP address", raw)
	}
	if addr.IsUnspecified() {
		return "", ErrAddressUnavailable
	}
	return addr.Unmap().String(), nil
}

// ClaimNetworkAddress binds address to the user unless another user got it
// first, in which case ErrConflict is returned. Re-claiming one's own
// address only refreshes last_seen.
func (s *Service) ClaimNetworkAddress(ctx context.Context, userID int64, address string) (bool, error) {
	return s.claimAddress(ctx, userID, address, "")
}

// RedeemVerificationLink claims address on behalf of a verification link.
// A link binds at most once: a second redemption returns ErrTokenUsed, while
// a failed claim leaves the link usable.
func (s *Service) RedeemVerificationLink(ctx context.Context, userID int64, tokenID, address string) (bool, error) {
	if strings.TrimSpace(tokenID) == "" {
		return false, invalid("token", "token id is required")
	}
	return s.claimAddress(ctx, userID, address, tokenID)
}

func (s *Service) claimAddress(ctx context.Context, userID int64, address, tokenID string) (bool, error) {
	address, err := NormalizeAddress(address)
	if err != nil {
		return false, err
	}

	now := s.now()
	err = s.repo.InTransaction(ctx, func(tx *gorm.DB) error {
		user, err := s.repo.LockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}

		if err := s.repo.InsertAddressIfAbsent(ctx, tx, &models.NetworkAddress{
			Address:   address,
			UserID:    userID,
			FirstSeen: now,
			LastSeen:  now,
		}); err != nil {
			return err
		}

		record, err := s.repo.GetAddress(ctx, tx, address)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("address %s vanished after insert", address)
		}
		if record.UserID != userID {
			return ErrConflict
		}

		if tokenID != "" {
			fresh, err := s.repo.MarkTokenUsed(ctx, tx, &models.VerificationToken{
				ID:      tokenID,
				UserID:  userID,
				Address: address,
				UsedAt:  now,
			})
			if err != nil {
				return err
			}
			if !fresh {
				return ErrTokenUsed
			}
		}

		if err := s.repo.TouchAddress(ctx, tx, address, now); err != nil {
			return err
		}
		return s.repo.UpdateUserFields(ctx, tx, userID, map[string]interface{}{
			"verified_address": address,
			"is_verified":      true,
			"last_active_at":   now,
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			s.logger.Warnf("User %d tried to claim address %s owned by another user", userID, address)
		case errors.Is(err, ErrTokenUsed):
			s.logger.Warnf("User %d replayed verification link %s from %s", userID, tokenID, address)
		}
		return false, err
	}

	s.logger.Infof("User %d verified with address %s", userID, address)
	return true, nil
}
