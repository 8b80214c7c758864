package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/shopspring/decimal"
)

type FinancialStats struct {
	TotalUserBalance   decimal.Decimal
	TotalPaidOut       decimal.Decimal
	PendingWithdrawals decimal.Decimal
	RewardsGiven       decimal.Decimal
	VerifiedUsers      int64
	ActiveTasks        int64
	// Sum of amounts since the given moment, keyed by transaction type.
	Since map[models.TransactionType]decimal.Decimal
}

type SystemStats struct {
	Users                int64
	VerifiedUsers        int64
	BlockedUsers         int64
	ActiveTasks          int64
	PendingSubmissions   int64
	ApprovedSubmissions  int64
	PendingWithdrawals   int64
	CompletedWithdrawals int64
	Channels             int64
}

type sumRow struct {
	Total decimal.Decimal
}

func (r *Repository) sum(ctx context.Context, model interface{}, column string, where string, args ...interface{}) (decimal.Decimal, error) {
	var row sumRow
	err := r.db.WithContext(ctx).
		Model(model).
		Select(fmt.Sprintf("COALESCE(SUM(%s), 0) AS total", column)).
		Where(where, args...).
		Scan(&row).
		Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum %s: %w", column, err)
	}
	return row.Total, nil
}

func (r *Repository) count(ctx context.Context, model interface{}, where string, args ...interface{}) (int64, error) {
	var n int64
	query := r.db.WithContext(ctx).Model(model)
	if where != "" {
		query = query.Where(where, args...)
	}
	if err := query.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

func (r *Repository) GetFinancialStats(ctx context.Context, since time.Time) (*FinancialStats, error) {
	stats := &FinancialStats{Since: make(map[models.TransactionType]decimal.Decimal)}
	var err error

	if stats.TotalUserBalance, err = r.sum(ctx, &models.User{}, "balance", "1 = 1"); err != nil {
		return nil, err
	}
	if stats.TotalPaidOut, err = r.sum(ctx, &models.Withdrawal{}, "amount", "status = ?", models.WithdrawalCompleted); err != nil {
		return nil, err
	}
	if stats.PendingWithdrawals, err = r.sum(ctx, &models.Withdrawal{}, "amount", "status = ?", models.WithdrawalPending); err != nil {
		return nil, err
	}
	if stats.RewardsGiven, err = r.sum(ctx, &models.Transaction{}, "amount", "type = ?", models.TxCredit); err != nil {
		return nil, err
	}
	if stats.VerifiedUsers, err = r.count(ctx, &models.User{}, "is_verified = ?", true); err != nil {
		return nil, err
	}
	if stats.ActiveTasks, err = r.count(ctx, &models.Task{}, "is_active = ?", true); err != nil {
		return nil, err
	}

	var rows []struct {
		Type  models.TransactionType
		Total decimal.Decimal
	}
	err = r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("type, COALESCE(SUM(amount), 0) AS total").
		Where("created_at >= ?", since).
		Group("type").
		Scan(&rows).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}
	for _, row := range rows {
		stats.Since[row.Type] = row.Total
	}

	return stats, nil
}

func (r *Repository) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	stats := &SystemStats{}
	counters := []struct {
		dst   *int64
		model interface{}
		where string
		args  []interface{}
	}{
		{&stats.Users, &models.User{}, "", nil},
		{&stats.VerifiedUsers, &models.User{}, "is_verified = ?", []interface{}{true}},
		{&stats.BlockedUsers, &models.User{}, "is_blocked = ?", []interface{}{true}},
		{&stats.ActiveTasks, &models.Task{}, "is_active = ?", []interface{}{true}},
		{&stats.PendingSubmissions, &models.Submission{}, "status = ?", []interface{}{models.SubmissionPending}},
		{&stats.ApprovedSubmissions, &models.Submission{}, "status = ?", []interface{}{models.SubmissionApproved}},
		{&stats.PendingWithdrawals, &models.Withdrawal{}, "status = ?", []interface{}{models.WithdrawalPending}},
		{&stats.CompletedWithdrawals, &models.Withdrawal{}, "status = ?", []interface{}{models.WithdrawalCompleted}},
		{&stats.Channels, &models.Channel{}, "", nil},
	}

	for _, c := range counters {
		n, err := r.count(ctx, c.model, c.where, c.args...)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}
	return stats, nil
}
