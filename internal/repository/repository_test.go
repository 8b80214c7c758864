package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Fi44er/task_bot/internal/dbtest"
	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(dbtest.Open(t), utils.NewDiscardLogger())
}

func mustUser(t *testing.T, r *Repository, id int64) {
	t.Helper()
	now := time.Now()
	created, err := r.CreateUserIfAbsent(context.Background(), &models.User{TelegramID: id, JoinedAt: now, LastActiveAt: now})
	require.NoError(t, err)
	require.True(t, created)
}

func TestCreateUserIfAbsentIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	mustUser(t, r, 1)
	created, err := r.CreateUserIfAbsent(ctx, &models.User{TelegramID: 1, Username: "other"})
	require.NoError(t, err)
	assert.False(t, created)

	user, err := r.GetUser(ctx, nil, 1)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Empty(t, user.Username)
	assert.True(t, user.Balance.IsZero())

	missing, err := r.GetUser(ctx, nil, 2)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInTransactionRollsBack(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	mustUser(t, r, 1)

	boom := errors.New("boom")
	err := r.InTransaction(ctx, func(tx *gorm.DB) error {
		if err := r.UpdateUserFields(ctx, tx, 1, map[string]interface{}{"balance": decimal.NewFromInt(50)}); err != nil {
			return err
		}
		if err := r.CreateTransaction(ctx, tx, &models.Transaction{
			UserID: 1, Type: models.TxCredit, Amount: decimal.NewFromInt(50),
			BalanceBefore: decimal.Zero, BalanceAfter: decimal.NewFromInt(50),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	user, err := r.GetUser(ctx, nil, 1)
	require.NoError(t, err)
	assert.True(t, user.Balance.IsZero())

	entries, err := r.ListTransactions(ctx, nil, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInsertAddressIfAbsentKeepsFirstOwner(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.InsertAddressIfAbsent(ctx, nil, &models.NetworkAddress{Address: "10.0.0.1", UserID: 1, FirstSeen: now, LastSeen: now}))
	require.NoError(t, r.InsertAddressIfAbsent(ctx, nil, &models.NetworkAddress{Address: "10.0.0.1", UserID: 2, FirstSeen: now, LastSeen: now}))

	record, err := r.GetAddress(ctx, nil, "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(1), record.UserID)

	later := now.Add(time.Hour)
	require.NoError(t, r.TouchAddress(ctx, nil, "10.0.0.1", later))
	record, err = r.GetAddress(ctx, nil, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.UserID)
	assert.WithinDuration(t, later, record.LastSeen, time.Second)
}

func TestMarkTokenUsedOnlyOnce(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	token := func(address string) *models.VerificationToken {
		return &models.VerificationToken{ID: "7b0c9a52-1f57-4c1e-9d8e-2d6c1c6f0a11", UserID: 7, Address: address, UsedAt: time.Now()}
	}

	fresh, err := r.MarkTokenUsed(ctx, nil, token("10.0.0.1"))
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = r.MarkTokenUsed(ctx, nil, token("10.0.0.2"))
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestTransitionSubmissionOnlyOnce(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	sub := &models.Submission{UserID: 1, TaskID: 1, Status: models.SubmissionPending, SubmittedAt: time.Now()}
	require.NoError(t, r.CreateSubmission(ctx, nil, sub))

	ok, err := r.TransitionSubmission(ctx, nil, sub.ID, models.SubmissionApproved, map[string]interface{}{"notes": "fine"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TransitionSubmission(ctx, nil, sub.ID, models.SubmissionRejected, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetSubmission(ctx, nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionApproved, got.Status)
	assert.Equal(t, "fine", got.Notes)
}

func TestPendingSubmissionIndexIsUnique(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	first := &models.Submission{UserID: 1, TaskID: 7, Status: models.SubmissionPending, SubmittedAt: time.Now()}
	require.NoError(t, r.CreateSubmission(ctx, nil, first))

	dup := &models.Submission{UserID: 1, TaskID: 7, Status: models.SubmissionPending, SubmittedAt: time.Now()}
	assert.Error(t, r.CreateSubmission(ctx, nil, dup))

	// Terminal rows do not take part in the index.
	_, err := r.TransitionSubmission(ctx, nil, first.ID, models.SubmissionRejected, nil)
	require.NoError(t, err)
	again := &models.Submission{UserID: 1, TaskID: 7, Status: models.SubmissionPending, SubmittedAt: time.Now()}
	require.NoError(t, r.CreateSubmission(ctx, nil, again))
}

func TestTransitionWithdrawalOnlyOnce(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	w := &models.Withdrawal{UserID: 1, Amount: decimal.NewFromInt(10), Method: models.MethodUPI, Status: models.WithdrawalPending, RequestedAt: time.Now()}
	require.NoError(t, r.CreateWithdrawal(ctx, nil, w))

	ok, err := r.TransitionWithdrawal(ctx, nil, w.ID, models.WithdrawalCompleted, map[string]interface{}{"external_ref": "TX1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TransitionWithdrawal(ctx, nil, w.ID, models.WithdrawalRejected, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := r.ListWithdrawals(ctx, models.WithdrawalPending, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDeactivateTask(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	task := &models.Task{Description: "follow", Reward: decimal.NewFromInt(5), IsActive: true}
	require.NoError(t, r.CreateTask(ctx, task))

	found, err := r.DeactivateTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = r.DeactivateTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = r.DeactivateTask(ctx, 999)
	require.NoError(t, err)
	assert.False(t, found)

	active, err := r.ListTasks(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestChannelsUpsertAndDelete(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.UpsertChannel(ctx, &models.Channel{ChannelID: "@news", Name: "News", IsRequired: true, AddedAt: time.Now()}))
	require.NoError(t, r.UpsertChannel(ctx, &models.Channel{ChannelID: "@news", Name: "Daily News", IsRequired: true, AddedAt: time.Now()}))

	channels, err := r.ListChannels(ctx, true)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "Daily News", channels[0].Name)

	deleted, err := r.DeleteChannel(ctx, "@news")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = r.DeleteChannel(ctx, "@news")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStats(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	mustUser(t, r, 1)

	require.NoError(t, r.UpdateUserFields(ctx, nil, 1, map[string]interface{}{"balance": decimal.NewFromInt(7), "is_verified": true}))
	require.NoError(t, r.CreateTransaction(ctx, nil, &models.Transaction{
		UserID: 1, Type: models.TxCredit, Amount: decimal.NewFromInt(7),
		BalanceBefore: decimal.Zero, BalanceAfter: decimal.NewFromInt(7), CreatedAt: time.Now(),
	}))
	require.NoError(t, r.CreateWithdrawal(ctx, nil, &models.Withdrawal{
		UserID: 1, Amount: decimal.NewFromInt(3), Method: models.MethodGateway, Status: models.WithdrawalPending, RequestedAt: time.Now(),
	}))

	fin, err := r.GetFinancialStats(ctx, time.Time{})
	require.NoError(t, err)
	assert.True(t, fin.TotalUserBalance.Equal(decimal.NewFromInt(7)))
	assert.True(t, fin.PendingWithdrawals.Equal(decimal.NewFromInt(3)))
	assert.True(t, fin.TotalPaidOut.IsZero())
	assert.True(t, fin.RewardsGiven.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, int64(1), fin.VerifiedUsers)
	assert.True(t, fin.Since[models.TxCredit].Equal(decimal.NewFromInt(7)))

	sys, err := r.GetSystemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sys.Users)
	assert.Equal(t, int64(1), sys.PendingWithdrawals)
	assert.Equal(t, int64(0), sys.Channels)
}
