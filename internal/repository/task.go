package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fi44er/task_bot/internal/models"
	"gorm.io/gorm"
)

func (r *Repository) CreateTask(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *Repository) GetTask(ctx context.Context, tx *gorm.DB, id uint) (*models.Task, error) {
	var task models.Task
	err := r.conn(ctx, tx).First(&task, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return &task, nil
}

func (r *Repository) ListTasks(ctx context.Context, activeOnly bool) ([]*models.Task, error) {
	var tasks []*models.Task
	query := r.db.WithContext(ctx).Order("id ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// DeactivateTask reports false when the task does not exist.
func (r *Repository) DeactivateTask(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ?", id).
		Update("is_active", false)
	if res.Error != nil {
		return false, fmt.Errorf("failed to deactivate task %d: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// Some drivers report zero rows when the value did not change.
	task, err := r.GetTask(ctx, nil, id)
	if err != nil {
		return false, err
	}
	return task != nil, nil
}
