package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Fi44er/task_bot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertAddressIfAbsent is the single atomic first-writer-wins step of an
// address claim. Concurrent inserts of the same address leave exactly one row.
func (r *Repository) InsertAddressIfAbsent(ctx context.Context, tx *gorm.DB, record *models.NetworkAddress) error {
	err := r.conn(ctx, tx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record).
		Error
	if err != nil {
		return fmt.Errorf("failed to insert address: %w", err)
	}
	return nil
}

func (r *Repository) GetAddress(ctx context.Context, tx *gorm.DB, address string) (*models.NetworkAddress, error) {
	var record models.NetworkAddress
	err := r.conn(ctx, tx).First(&record, "address = ?", address).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	return &record, nil
}

// TouchAddress refreshes last_seen and never changes the owner.
func (r *Repository) TouchAddress(ctx context.Context, tx *gorm.DB, address string, seen time.Time) error {
	err := r.conn(ctx, tx).
		Model(&models.NetworkAddress{}).
		Where("address = ?", address).
		Update("last_seen", seen).
		Error
	if err != nil {
		return fmt.Errorf("failed to refresh address: %w", err)
	}
	return nil
}
