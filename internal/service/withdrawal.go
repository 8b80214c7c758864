package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type WithdrawalRequest struct {
	UserID         int64
	Amount         decimal.Decimal
	Method         models.WithdrawalMethod
	AccountDetails string
}

func (s *Service) MethodMinimum(method models.WithdrawalMethod) (decimal.Decimal, error) {
	if !method.Valid() {
		return decimal.Zero, invalid("method", "unknown withdrawal method %q", method)
	}
	return s.minimums[method], nil
}

// ValidateWithdrawalAmount checks an amount before the user gets to the
// account details prompt.
func (s *Service) ValidateWithdrawalAmount(method models.WithdrawalMethod, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	minimum, err := s.MethodMinimum(method)
	if err != nil {
		return err
	}
	if amount.LessThan(minimum) {
		return fmt.Errorf("%w: minimum for %s is %s", ErrBelowMinimum, method.Title(), utils.FormatMoney(minimum))
	}
	return nil
}

func ValidateAccountDetails(method models.WithdrawalMethod, details string) error {
	details = strings.TrimSpace(details)
	switch method {
	case models.MethodUPI:
		if !strings.Contains(details, "@") {
			return invalid("account_details", "a UPI id looks like name@bank")
		}
	case models.MethodGateway:
		if details == "" {
			return invalid("account_details", "payment details are required")
		}
	default:
		return invalid("method", "unknown withdrawal method %q", method)
	}
	return nil
}

// RequestWithdrawal holds the amount right away: the withdrawal row and the
// withdrawal_request ledger entry are written in one transaction, so the
// funds are unavailable while the request waits for review.
func (s *Service) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.Withdrawal, *models.Transaction, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, nil, err
	}
	if !req.Method.Valid() {
		return nil, nil, invalid("method", "unknown withdrawal method %q", req.Method)
	}
	if err := ValidateAccountDetails(req.Method, req.AccountDetails); err != nil {
		return nil, nil, err
	}
	if err := s.ValidateWithdrawalAmount(req.Method, req.Amount); err != nil {
		return nil, nil, err
	}

	if err := s.Authorize(ctx, req.UserID); err != nil {
		return nil, nil, err
	}

	var (
		withdrawal *models.Withdrawal
		entry      *models.Transaction
	)
	err := s.repo.InTransaction(ctx, func(tx *gorm.DB) error {
		user, err := s.repo.LockUser(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %d: %w", req.UserID, ErrNotFound)
		}
		if user.IsBlocked {
			return &UnauthorizedError{Reason: "user is blocked"}
		}
		if req.Amount.GreaterThan(user.Balance) {
			return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, user.Balance.StringFixed(2), req.Amount.StringFixed(2))
		}

		withdrawal = &models.Withdrawal{
			UserID:         req.UserID,
			Amount:         req.Amount,
			Method:         req.Method,
			AccountDetails: strings.TrimSpace(req.AccountDetails),
			Status:         models.WithdrawalPending,
			RequestedAt:    s.now(),
		}
		if err := s.repo.CreateWithdrawal(ctx, tx, withdrawal); err != nil {
			return err
		}

		entry, err = s.post(ctx, tx, user, posting{
			txType:      models.TxWithdrawalRequest,
			amount:      req.Amount,
			description: fmt.Sprintf("Withdrawal request #%d via %s", withdrawal.ID, req.Method.Title()),
			withdrawn:   true,
			fields:      map[string]interface{}{"last_active_at": s.now()},
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Infof("User %d requested withdrawal #%d of %s via %s", req.UserID, withdrawal.ID, req.Amount.StringFixed(2), req.Method)
	s.notifyOperators(ctx, fmt.Sprintf(
		"💸 *New Withdrawal Request*\n\n"+
			"📋 Request ID: #%d\n"+
			"🆔 User ID: %d\n"+
			"💰 Amount: %s\n"+
			"🏦 Method: %s\n"+
			"📝 Details: `%s`\n\n"+
			"Use /approve\\_withdraw %d [ref] or /reject\\_withdraw %d [reason]",
		withdrawal.ID, req.UserID, utils.FormatMoney(req.Amount), req.Method.Title(),
		strings.ReplaceAll(withdrawal.AccountDetails, "`", "'"), withdrawal.ID, withdrawal.ID,
	))
	return withdrawal, entry, nil
}

// ApproveWithdrawal marks the payout as done. The funds were already taken
// at request time, so the balance does not change here.
func (s *Service) ApproveWithdrawal(ctx context.Context, op Operator, id uint, externalRef string) (*models.Withdrawal, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		externalRef = "MANUAL"
	}

	var withdrawal *models.Withdrawal
	now := s.now()
	processor := op.ID()
	err := s.repo.InTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		withdrawal, err = s.loadPendingWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}

		if _, err := s.repo.LockUser(ctx, tx, withdrawal.UserID); err != nil {
			return err
		}

		moved, err := s.repo.TransitionWithdrawal(ctx, tx, id, models.WithdrawalCompleted, map[string]interface{}{
			"processed_at": now,
			"processed_by": processor,
			"external_ref": externalRef,
		})
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("withdrawal #%d: %w", id, ErrAlreadyProcessed)
		}

		withdrawal.Status = models.WithdrawalCompleted
		withdrawal.ProcessedAt = &now
		withdrawal.ProcessedBy = &processor
		withdrawal.ExternalRef = externalRef
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Operator %d completed withdrawal #%d (ref %s)", processor, id, externalRef)
	s.notify(ctx, withdrawal.UserID, fmt.Sprintf(
		"✅ *Withdrawal Completed!*\n\n💰 Amount: %s\n🏦 Method: %s\n🧾 Reference: %s",
		utils.FormatMoney(withdrawal.Amount), withdrawal.Method.Title(), utils.EscapeMarkdown(externalRef),
	))
	return withdrawal, nil
}

// RejectWithdrawal closes the request and returns the held amount in the
// same transaction. A withdrawal can be refunded at most once.
func (s *Service) RejectWithdrawal(ctx context.Context, op Operator, id uint, reason string) (*models.Withdrawal, *models.Transaction, error) {
	if err := requireOperator(op); err != nil {
		return nil, nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "No reason provided"
	}

	var (
		withdrawal *models.Withdrawal
		entry      *models.Transaction
		balance    string
	)
	now := s.now()
	processor := op.ID()
	err := s.repo.InTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		withdrawal, err = s.loadPendingWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}

		user, err := s.repo.LockUser(ctx, tx, withdrawal.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %d: %w", withdrawal.UserID, ErrNotFound)
		}

		moved, err := s.repo.TransitionWithdrawal(ctx, tx, id, models.WithdrawalRejected, map[string]interface{}{
			"processed_at": now,
			"processed_by": processor,
			"admin_notes":  reason,
		})
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("withdrawal #%d: %w", id, ErrAlreadyProcessed)
		}

		entry, err = s.post(ctx, tx, user, posting{
			txType:      models.TxRefund,
			amount:      withdrawal.Amount,
			description: fmt.Sprintf("Refund for withdrawal #%d: %s", withdrawal.ID, reason),
			operatorID:  &processor,
		})
		if err != nil {
			return err
		}
		balance = utils.FormatMoney(user.Balance)

		withdrawal.Status = models.WithdrawalRejected
		withdrawal.ProcessedAt = &now
		withdrawal.ProcessedBy = &processor
		withdrawal.AdminNotes = reason
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Infof("Operator %d rejected withdrawal #%d, refunded %s to user %d", processor, id, withdrawal.Amount.StringFixed(2), withdrawal.UserID)
	s.notify(ctx, withdrawal.UserID, fmt.Sprintf(
		"❌ *Withdrawal Rejected*\n\n💰 Amount: %s has been returned to your balance.\nReason: %s\nNew Balance: %s",
		utils.FormatMoney(withdrawal.Amount), utils.EscapeMarkdown(reason), balance,
	))
	return withdrawal, entry, nil
}

func (s *Service) loadPendingWithdrawal(ctx context.Context, tx *gorm.DB, id uint) (*models.Withdrawal, error) {
	withdrawal, err := s.repo.GetWithdrawalByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if withdrawal == nil {
		return nil, fmt.Errorf("withdrawal #%d: %w", id, ErrNotFound)
	}
	if withdrawal.Status != models.WithdrawalPending {
		return nil, fmt.Errorf("withdrawal #%d is %s: %w", id, withdrawal.Status, ErrAlreadyProcessed)
	}
	return withdrawal, nil
}

func (s *Service) ListPendingWithdrawals(ctx context.Context, op Operator, limit int) ([]*models.Withdrawal, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}
	return s.repo.ListWithdrawals(ctx, models.WithdrawalPending, limit)
}
