package repository

import (
	"context"
	"fmt"

	"github.com/Fi44er/task_bot/internal/models"
	"gorm.io/gorm/clause"
)

func (r *Repository) UpsertChannel(ctx context.Context, channel *models.Channel) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "is_required", "added_by", "added_at"}),
		}).
		Create(channel).
		Error
	if err != nil {
		return fmt.Errorf("failed to save channel %s: %w", channel.ChannelID, err)
	}
	return nil
}

func (r *Repository) DeleteChannel(ctx context.Context, channelID string) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&models.Channel{}, "channel_id = ?", channelID)
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete channel %s: %w", channelID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) ListChannels(ctx context.Context, requiredOnly bool) ([]models.Channel, error) {
	var channels []models.Channel
	query := r.db.WithContext(ctx).Order("added_at ASC")
	if requiredOnly {
		query = query.Where("is_required = ?", true)
	}
	if err := query.Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}
