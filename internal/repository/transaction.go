package repository

import (
	"context"
	"fmt"

	"github.com/Fi44er/task_bot/internal/models"
	"gorm.io/gorm"
)

// The transactions table is append-only: there is no update or
// delete method for it.

func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, entry *models.Transaction) error {
	if err := r.conn(ctx, tx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to write transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the newest entries first. limit <= 0 means all.
func (r *Repository) ListTransactions(ctx context.Context, tx *gorm.DB, userID int64, limit int) ([]*models.Transaction, error) {
	var entries []*models.Transaction
	err := r.conn(ctx, tx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Scopes(limited(limit)).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for user %d: %w", userID, err)
	}
	return entries, nil
}
