package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/shopspring/decimal"
)

type NewTask struct {
	Description  string
	Reward       decimal.Decimal
	Requirements string
	Link         string
}

func (s *Service) ListActiveTasks(ctx context.Context) ([]*models.Task, error) {
	return s.repo.ListTasks(ctx, true)
}

func (s *Service) ListTasks(ctx context.Context, op Operator) ([]*models.Task, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}
	return s.repo.ListTasks(ctx, false)
}

func (s *Service) GetTask(ctx context.Context, id uint) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task #%d: %w", id, ErrNotFound)
	}
	return task, nil
}

func (s *Service) CreateTask(ctx context.Context, op Operator, in NewTask) (*models.Task, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}

	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return nil, invalid("description", "must not be empty")
	}
	if err := validateAmount(in.Reward); err != nil {
		return nil, invalid("reward", "must be a positive amount with at most two decimals")
	}

	task := &models.Task{
		Description:  in.Description,
		Reward:       in.Reward,
		Requirements: strings.TrimSpace(in.Requirements),
		Link:         strings.TrimSpace(in.Link),
		IsActive:     true,
		CreatedBy:    op.ID(),
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Infof("Operator %d created task #%d (reward %s)", op.ID(), task.ID, task.Reward.StringFixed(2))
	return task, nil
}

// DeactivateTask hides the task from the catalog. Submissions that are
// already pending keep referencing it and can still be approved.
func (s *Service) DeactivateTask(ctx context.Context, op Operator, id uint) error {
	if err := requireOperator(op); err != nil {
		return err
	}

	found, err := s.repo.DeactivateTask(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("task #%d: %w", id, ErrNotFound)
	}

	s.logger.Infof("Operator %d deactivated task #%d", op.ID(), id)
	return nil
}
