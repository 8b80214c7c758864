package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fi44er/task_bot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) GetUser(ctx context.Context, tx *gorm.DB, telegramID int64) (*models.User, error) {
	var user models.User
	err := r.conn(ctx, tx).First(&user, "telegram_id = ?", telegramID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user %d: %w", telegramID, err)
	}
	return &user, nil
}

// LockUser reads the user row with FOR UPDATE. It must run inside a transaction;
// every balance mutation for the user serializes on this lock.
func (r *Repository) LockUser(ctx context.Context, tx *gorm.DB, telegramID int64) (*models.User, error) {
	var user models.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "telegram_id = ?", telegramID).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock user %d: %w", telegramID, err)
	}
	return &user, nil
}

// CreateUserIfAbsent inserts the user unless a row with the same id exists.
// It reports whether a new row was written.
func (r *Repository) CreateUserIfAbsent(ctx context.Context, user *models.User) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(user)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create user %d: %w", user.TelegramID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) UpdateUserFields(ctx context.Context, tx *gorm.DB, telegramID int64, fields map[string]interface{}) error {
	res := r.conn(ctx, tx).
		Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Updates(fields)
	if res.Error != nil {
		r.logger.Errorf("failed to update user %d: %v", telegramID, res.Error)
		return fmt.Errorf("failed to update user %d: %w", telegramID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %d not found for update", telegramID)
	}
	return nil
}

func (r *Repository) ListUsers(ctx context.Context, limit int) ([]*models.User, error) {
	var users []*models.User
	err := r.db.WithContext(ctx).
		Order("joined_at DESC").
		Scopes(limited(limit)).
		Find(&users).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (r *Repository) ListVerifiedUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("is_verified = ? AND is_blocked = ?", true, false).
		Pluck("telegram_id", &ids).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to list verified users: %w", err)
	}
	return ids, nil
}
