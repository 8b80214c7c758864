package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/utils"
	"gorm.io/gorm"
)

func clampedDecrement(n int) int {
	if n <= 0 {
		return 0
	}
	return n - 1
}

// Submit files a proof of completion for review. Preconditions on the
// (user, task) pair are checked under the user's row lock, so two racing
// submits for the same pair cannot both pass.
func (s *Service) Submit(ctx context.Context, userID int64, taskID uint, proofRef, address string) (*models.Submission, error) {
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return nil, invalid("proof", "a proof reference is required")
	}

	if err := s.Authorize(ctx, userID); err != nil {
		return nil, err
	}

	var (
		submission *models.Submission
		task       *models.Task
	)
	now := s.now()
	err := s.repo.InTransaction(ctx, func(tx *gorm.DB) error {
		user, err := s.repo.LockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		if user.IsBlocked {
			return &UnauthorizedError{Reason: "user is blocked"}
		}

		task, err = s.repo.GetTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("task #%d: %w", taskID, ErrNotFound)
		}
		if !task.IsActive {
			return &RejectionError{Reason: ReasonTaskInactive}
		}

		pending, err := s.repo.HasSubmission(ctx, tx, userID, taskID, models.SubmissionPending)
		if err != nil {
			return err
		}
		if pending {
			return &RejectionError{Reason: ReasonPendingExists}
		}

		approved, err := s.repo.HasSubmission(ctx, tx, userID, taskID, models.SubmissionApproved)
		if err != nil {
			return err
		}
		if approved {
			return &RejectionError{Reason: ReasonAlreadyCompleted}
		}

		submission = &models.Submission{
			UserID:      userID,
			TaskID:      taskID,
			ProofRef:    proofRef,
			Address:     address,
			Status:      models.SubmissionPending,
			SubmittedAt: now,
		}
		if err := s.repo.CreateSubmission(ctx, tx, submission); err != nil {
			return err
		}

		return s.repo.UpdateUserFields(ctx, tx, userID, map[string]interface{}{
			"pending_tasks":  user.PendingTasks + 1,
			"last_active_at": now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("User %d submitted task #%d (submission #%d)", userID, taskID, submission.ID)
	s.notifyOperators(ctx, fmt.Sprintf(
		"📥 *New Task Submission*\n\n"+
			"📋 Submission ID: #%d\n"+
			"🆔 User ID: %d\n"+
			"📝 Task #%d: %s\n"+
			"💰 Reward: %s\n\n"+
			"Use /approve %d or /reject %d",
		submission.ID, userID, task.ID, utils.EscapeMarkdown(task.Description), utils.FormatMoney(task.Reward), submission.ID, submission.ID,
	))
	return submission, nil
}

// ApproveSubmission credits the task reward exactly once. Status change,
// counters and the ledger entry commit together; a submission that is no
// longer pending yields ErrAlreadyProcessed and changes nothing.
func (s *Service) ApproveSubmission(ctx context.Context, op Operator, id uint) (*models.Submission, *models.Transaction, error) {
	if err := requireOperator(op); err != nil {
		return nil, nil, err
	}

	var (
		submission *models.Submission
		entry      *models.Transaction
		balance    string
	)
	now := s.now()
	reviewer := op.ID()
	err := s.repo.InTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		submission, err = s.loadPendingSubmission(ctx, tx, id)
		if err != nil {
			return err
		}

		user, err := s.repo.LockUser(ctx, tx, submission.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %d: %w", submission.UserID, ErrNotFound)
		}

		moved, err := s.repo.TransitionSubmission(ctx, tx, id, models.SubmissionApproved, map[string]interface{}{
			"reviewed_by": reviewer,
			"reviewed_at": now,
		})
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("submission #%d: %w", id, ErrAlreadyProcessed)
		}

		task, err := s.repo.GetTask(ctx, tx, submission.TaskID)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("task #%d of submission #%d: %w", submission.TaskID, id, ErrNotFound)
		}

		entry, err = s.post(ctx, tx, user, posting{
			txType:      models.TxCredit,
			amount:      task.Reward,
			description: fmt.Sprintf("Task #%d approved", task.ID),
			earned:      true,
			fields: map[string]interface{}{
				"completed_tasks": user.CompletedTasks + 1,
				"pending_tasks":   clampedDecrement(user.PendingTasks),
			},
		})
		if err != nil {
			return err
		}
		balance = utils.FormatMoney(user.Balance)

		submission.Status = models.SubmissionApproved
		submission.ReviewedBy = &reviewer
		submission.ReviewedAt = &now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Infof("Operator %d approved submission #%d, credited %s to user %d", reviewer, id, entry.Amount.StringFixed(2), submission.UserID)
	s.notify(ctx, submission.UserID, fmt.Sprintf(
		"✅ *Task Approved!*\n\nYour submission for Task #%d has been approved.\n💰 Reward: %s added to your balance.\nNew Balance: %s",
		submission.TaskID, utils.FormatMoney(entry.Amount), balance,
	))
	return submission, entry, nil
}

// RejectSubmission closes a pending submission without touching the balance.
func (s *Service) RejectSubmission(ctx context.Context, op Operator, id uint, reason string) (*models.Submission, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "No reason provided"
	}

	var submission *models.Submission
	now := s.now()
	reviewer := op.ID()
	err := s.repo.InTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		submission, err = s.loadPendingSubmission(ctx, tx, id)
		if err != nil {
			return err
		}

		user, err := s.repo.LockUser(ctx, tx, submission.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %d: %w", submission.UserID, ErrNotFound)
		}

		moved, err := s.repo.TransitionSubmission(ctx, tx, id, models.SubmissionRejected, map[string]interface{}{
			"reviewed_by": reviewer,
			"reviewed_at": now,
			"notes":       reason,
		})
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("submission #%d: %w", id, ErrAlreadyProcessed)
		}

		submission.Status = models.SubmissionRejected
		submission.ReviewedBy = &reviewer
		submission.ReviewedAt = &now
		submission.Notes = reason

		return s.repo.UpdateUserFields(ctx, tx, user.TelegramID, map[string]interface{}{
			"pending_tasks": clampedDecrement(user.PendingTasks),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Operator %d rejected submission #%d: %s", reviewer, id, reason)
	s.notify(ctx, submission.UserID, fmt.Sprintf(
		"❌ *Task Rejected*\n\nYour submission for Task #%d was rejected.\nReason: %s\n\nYou can submit the task again.",
		submission.TaskID, utils.EscapeMarkdown(reason),
	))
	return submission, nil
}

// loadPendingSubmission is a fast path; the conditional update that follows
// is what actually decides a race.
func (s *Service) loadPendingSubmission(ctx context.Context, tx *gorm.DB, id uint) (*models.Submission, error) {
	submission, err := s.repo.GetSubmission(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if submission == nil {
		return nil, fmt.Errorf("submission #%d: %w", id, ErrNotFound)
	}
	if submission.Status != models.SubmissionPending {
		return nil, fmt.Errorf("submission #%d is %s: %w", id, submission.Status, ErrAlreadyProcessed)
	}
	return submission, nil
}

func (s *Service) ListPendingSubmissions(ctx context.Context, op Operator, limit int) ([]*models.Submission, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}
	return s.repo.ListSubmissions(ctx, models.SubmissionPending, limit)
}
