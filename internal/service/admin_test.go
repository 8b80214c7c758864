package service

import (
	"context"
	"testing"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjust(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.EnsureUser(ctx, Profile{TelegramID: 1})
	require.NoError(t, err)

	entry, err := f.svc.Adjust(ctx, f.op, 1, decimal.NewFromInt(12), "bonus")
	require.NoError(t, err)
	assert.Equal(t, models.TxAdminCredit, entry.Type)
	require.NotNil(t, entry.OperatorID)
	assert.Equal(t, testOperatorID, *entry.OperatorID)

	entry, err = f.svc.Adjust(ctx, f.op, 1, decimal.NewFromInt(-2), "")
	require.NoError(t, err)
	assert.Equal(t, models.TxAdminDebit, entry.Type)
	assertMoney(t, "2", entry.Amount)
	assert.Equal(t, "Manual adjustment", entry.Description)

	_, err = f.svc.Adjust(ctx, f.op, 1, decimal.Zero, "noop")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Adjust(ctx, f.op, 1, decimal.NewFromInt(-11), "too much")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = f.svc.Adjust(ctx, f.op, 77, decimal.NewFromInt(1), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	user, err := f.svc.GetUser(ctx, 1)
	require.NoError(t, err)
	assertMoney(t, "10", user.Balance)
	assertMoney(t, "12", user.TotalEarned)
	assert.Equal(t, 2, f.notifier.count(1))
	f.assertReconciled(t, 1)
}

func TestDebitFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.EnsureUser(ctx, Profile{TelegramID: 1})
	require.NoError(t, err)
	f.fund(t, 1, "4")

	_, err = f.svc.Debit(ctx, 1, decimal.NewFromInt(5), "fee")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	history, err := f.svc.History(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	entry, err := f.svc.Debit(ctx, 1, decimal.NewFromInt(4), "fee")
	require.NoError(t, err)
	assert.True(t, entry.BalanceAfter.IsZero())
	f.assertReconciled(t, 1)
}

func TestExecuteDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verifiedUser(t, 1)

	res, err := f.svc.Execute(ctx, f.op, AddTask{Task: NewTask{Description: "Follow us", Reward: decimal.NewFromInt(3)}})
	require.NoError(t, err)
	require.NotNil(t, res.Task)
	taskID := res.Task.ID

	sub, err := f.svc.Submit(ctx, 1, taskID, "photo", "")
	require.NoError(t, err)

	res, err = f.svc.Execute(ctx, f.op, ListPendingSubmissionsAction{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Submissions, 1)

	res, err = f.svc.Execute(ctx, f.op, ApproveSubmissionAction{SubmissionID: sub.ID})
	require.NoError(t, err)
	require.NotNil(t, res.Transaction)
	assertMoney(t, "3", res.Transaction.Amount)

	res, err = f.svc.Execute(ctx, f.op, AdjustBalance{UserID: 1, Amount: decimal.NewFromInt(20), Reason: "promo"})
	require.NoError(t, err)
	assertMoney(t, "23", res.Transaction.BalanceAfter)

	w, _, err := f.svc.RequestWithdrawal(ctx, upiRequest(1, "10"))
	require.NoError(t, err)
	res, err = f.svc.Execute(ctx, f.op, ApproveWithdrawalAction{WithdrawalID: w.ID, ExternalRef: "UTR123"})
	require.NoError(t, err)
	assert.Equal(t, "UTR123", res.Withdrawal.ExternalRef)

	_, err = f.svc.Execute(ctx, f.op, RemoveTask{TaskID: taskID})
	require.NoError(t, err)
	res, err = f.svc.Execute(ctx, f.op, ListTasksAction{})
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.False(t, res.Tasks[0].IsActive)

	_, err = f.svc.Execute(ctx, f.op, AddChannel{ChannelID: "@updates", Name: "Updates"})
	require.NoError(t, err)
	_, err = f.svc.Execute(ctx, f.op, AddChannel{ChannelID: "updates"})
	assert.ErrorIs(t, err, ErrValidation)

	res, err = f.svc.Execute(ctx, f.op, ShowSystemStats{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.System.Users)
	assert.Equal(t, int64(1), res.System.ApprovedSubmissions)
	assert.Equal(t, int64(1), res.System.CompletedWithdrawals)
	assert.Equal(t, int64(1), res.System.Channels)

	res, err = f.svc.Execute(ctx, f.op, ShowFinancialStats{})
	require.NoError(t, err)
	assertMoney(t, "13", res.Financial.TotalUserBalance)
	assertMoney(t, "10", res.Financial.TotalPaidOut)
	assertMoney(t, "3", res.Financial.Since[models.TxCredit])

	_, err = f.svc.Execute(ctx, f.op, RemoveChannel{ChannelID: "@updates"})
	require.NoError(t, err)
	_, err = f.svc.Execute(ctx, f.op, RemoveChannel{ChannelID: "@updates"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Execute(ctx, f.op, BlockUser{UserID: 1})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, 1, taskID, "photo", "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err = f.svc.Execute(ctx, f.op, ListUsersAction{Limit: 5})
	require.NoError(t, err)
	require.Len(t, res.Users, 1)
	assert.True(t, res.Users[0].IsBlocked)

	_, err = f.svc.Execute(ctx, f.op, UnblockUser{UserID: 1})
	require.NoError(t, err)
	require.NoError(t, f.svc.Authorize(ctx, 1))

	_, err = f.svc.Execute(ctx, f.op, BlockUser{UserID: 42})
	assert.ErrorIs(t, err, ErrNotFound)

	res, err = f.svc.Execute(ctx, f.op, ReconcileUser{UserID: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Reconciliation)
	assert.True(t, res.Reconciliation.Consistent())
	assertMoney(t, "13", res.Reconciliation.Balance)

	f.assertReconciled(t, 1)
}
