package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fi44er/task_bot/internal/models"
	"gorm.io/gorm"
)

func (r *Repository) CreateSubmission(ctx context.Context, tx *gorm.DB, submission *models.Submission) error {
	if err := r.conn(ctx, tx).Create(submission).Error; err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

func (r *Repository) GetSubmission(ctx context.Context, tx *gorm.DB, id uint) (*models.Submission, error) {
	var submission models.Submission
	err := r.conn(ctx, tx).First(&submission, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get submission %d: %w", id, err)
	}
	return &submission, nil
}

func (r *Repository) HasSubmission(ctx context.Context, tx *gorm.DB, userID int64, taskID uint, status models.SubmissionStatus) (bool, error) {
	var count int64
	err := r.conn(ctx, tx).
		Model(&models.Submission{}).
		Where("user_id = ? AND task_id = ? AND status = ?", userID, taskID, status).
		Count(&count).
		Error
	if err != nil {
		return false, fmt.Errorf("failed to check submissions: %w", err)
	}
	return count > 0, nil
}

// TransitionSubmission moves a pending submission to a terminal status.
// It reports false when the row was not pending any more, so of two racing
// reviewers exactly one gets true.
func (r *Repository) TransitionSubmission(ctx context.Context, tx *gorm.DB, id uint, to models.SubmissionStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	res := r.conn(ctx, tx).
		Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, models.SubmissionPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update submission %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) ListSubmissions(ctx context.Context, status models.SubmissionStatus, limit int) ([]*models.Submission, error) {
	var submissions []*models.Submission
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("submitted_at ASC").
		Scopes(limited(limit)).
		Find(&submissions).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return submissions, nil
}
