package repository

import (
	"context"
	"fmt"

	"github.com/Fi44er/task_bot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MarkTokenUsed records a redeemed verification link. It reports false when
// the link was redeemed before.
func (r *Repository) MarkTokenUsed(ctx context.Context, tx *gorm.DB, token *models.VerificationToken) (bool, error) {
	res := r.conn(ctx, tx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(token)
	if res.Error != nil {
		return false, fmt.Errorf("failed to record verification token: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
