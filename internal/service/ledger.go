package service

import (
	"context"
	"fmt"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// posting describes one balance change. Every mutation of User.Balance in
// the service goes through post, which writes the user row and its
// Transaction row in the caller's database transaction.
type posting struct {
	txType      models.TransactionType
	amount      decimal.Decimal
	description string
	operatorID  *int64

	// Raise the lifetime counters together with the balance.
	earned    bool
	withdrawn bool

	// Additional user columns written in the same UPDATE.
	fields map[string]interface{}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return invalid("amount", "at most two decimal places are allowed")
	}
	return nil
}

// post applies p to a user that the caller already locked with LockUser
// inside tx. The in-memory user is updated to the new state on success.
func (s *Service) post(ctx context.Context, tx *gorm.DB, user *models.User, p posting) (*models.Transaction, error) {
	if err := validateAmount(p.amount); err != nil {
		return nil, err
	}

	before := user.Balance
	after := before.Sub(p.amount)
	if p.txType.Inflow() {
		after = before.Add(p.amount)
	}
	if after.IsNegative() {
		return nil, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, before.StringFixed(2), p.amount.StringFixed(2))
	}

	fields := map[string]interface{}{"balance": after}
	totalEarned := user.TotalEarned
	totalWithdrawn := user.TotalWithdrawn
	if p.earned {
		totalEarned = totalEarned.Add(p.amount)
		fields["total_earned"] = totalEarned
	}
	if p.withdrawn {
		totalWithdrawn = totalWithdrawn.Add(p.amount)
		fields["total_withdrawn"] = totalWithdrawn
	}
	for k, v := range p.fields {
		fields[k] = v
	}

	if err := s.repo.UpdateUserFields(ctx, tx, user.TelegramID, fields); err != nil {
		return nil, err
	}

	entry := &models.Transaction{
		UserID:        user.TelegramID,
		Type:          p.txType,
		Amount:        p.amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   p.description,
		OperatorID:    p.operatorID,
		CreatedAt:     s.now(),
	}
	if err := s.repo.CreateTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}

	user.Balance = after
	user.TotalEarned = totalEarned
	user.TotalWithdrawn = totalWithdrawn
	return entry, nil
}

// postLocked runs post in its own database transaction.
func (s *Service) postLocked(ctx context.Context, userID int64, p posting) (*models.Transaction, error) {
	var entry *models.Transaction
	err := s.repo.InTransaction(ctx, func(tx *gorm.DB) error {
		user, err := s.repo.LockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}

		entry, err = s.post(ctx, tx, user, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) Credit(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*models.Transaction, error) {
	entry, err := s.postLocked(ctx, userID, posting{
		txType:      models.TxCredit,
		amount:      amount,
		description: description,
		earned:      true,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infof("Credited %s to user %d (tx #%d)", amount.StringFixed(2), userID, entry.ID)
	return entry, nil
}

// Debit never drives the balance below zero; it fails with
// ErrInsufficientFunds and leaves no trace instead.
func (s *Service) Debit(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*models.Transaction, error) {
	entry, err := s.postLocked(ctx, userID, posting{
		txType:      models.TxDebit,
		amount:      amount,
		description: description,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infof("Debited %s from user %d (tx #%d)", amount.StringFixed(2), userID, entry.ID)
	return entry, nil
}

func (s *Service) History(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error) {
	return s.repo.ListTransactions(ctx, nil, userID, limit)
}

type Reconciliation struct {
	UserID    int64
	Balance   decimal.Decimal
	LedgerSum decimal.Decimal
}

func (r Reconciliation) Consistent() bool {
	return r.Balance.Equal(r.LedgerSum)
}

// Reconcile compares the stored balance with the signed sum of the user's
// transactions. Both are read under the user row lock, so a posting in flight
// is either fully counted or not at all.
func (s *Service) Reconcile(ctx context.Context, userID int64) (Reconciliation, error) {
	var report Reconciliation
	err := s.repo.InTransaction(ctx, func(tx *gorm.DB) error {
		user, err := s.repo.LockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}

		entries, err := s.repo.ListTransactions(ctx, tx, userID, 0)
		if err != nil {
			return err
		}

		sum := decimal.Zero
		for _, e := range entries {
			sum = sum.Add(e.SignedAmount())
		}
		report = Reconciliation{UserID: userID, Balance: user.Balance, LedgerSum: sum}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}

	if !report.Consistent() {
		s.logger.Errorf("Ledger drift for user %d: balance %s, ledger %s", userID, report.Balance, report.LedgerSum)
	}
	return report, nil
}
