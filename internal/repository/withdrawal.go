package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fi44er/task_bot/internal/models"
	"gorm.io/gorm"
)

func (r *Repository) CreateWithdrawal(ctx context.Context, tx *gorm.DB, withdrawal *models.Withdrawal) error {
	if err := r.conn(ctx, tx).Create(withdrawal).Error; err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

func (r *Repository) GetWithdrawalByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Withdrawal, error) {
	var withdrawal models.Withdrawal
	err := r.conn(ctx, tx).
		Where("id = ?", id).
		First(&withdrawal).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get withdrawal by id %d: %w", id, err)
	}
	return &withdrawal, nil
}

// TransitionWithdrawal is the withdrawal twin of TransitionSubmission.
func (r *Repository) TransitionWithdrawal(ctx context.Context, tx *gorm.DB, id uint, to models.WithdrawalStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	res := r.conn(ctx, tx).
		Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, models.WithdrawalPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update withdrawal status: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) ListWithdrawals(ctx context.Context, status models.WithdrawalStatus, limit int) ([]*models.Withdrawal, error) {
	var withdrawals []*models.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("requested_at ASC").
		Scopes(limited(limit)).
		Find(&withdrawals).
		Error

	if err != nil {
		return nil, fmt.Errorf("failed to get %s withdrawals: %w", status, err)
	}
	return withdrawals, nil
}
