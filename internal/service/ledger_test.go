package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// interleavingRepo runs during once, right before the first transaction list
// is read, i.e. after the balance has already been loaded.
type interleavingRepo struct {
	*repository.Repository
	once   sync.Once
	during func()
}

func (r *interleavingRepo) ListTransactions(ctx context.Context, tx *gorm.DB, userID int64, limit int) ([]*models.Transaction, error) {
	r.once.Do(r.during)
	return r.Repository.ListTransactions(ctx, tx, userID, limit)
}

func TestReconcileIgnoresConcurrentPosting(t *testing.T) {
	base := newFixture(t)
	ctx := context.Background()
	_, err := base.svc.EnsureUser(ctx, Profile{TelegramID: 1})
	require.NoError(t, err)
	base.fund(t, 1, "10")

	repo := &interleavingRepo{Repository: base.repo}
	svc := NewService(repo, base.membership, base.notifier, Options{Operators: base.svc.Operators()}, base.svc.logger)

	credited := make(chan error, 1)
	repo.during = func() {
		go func() {
			_, err := svc.Credit(ctx, 1, decimal.NewFromInt(5), "late reward")
			credited <- err
		}()
		// The credit has to wait for the user lock; give it a chance to
		// slip in anyway.
		select {
		case err := <-credited:
			credited <- err
		case <-time.After(200 * time.Millisecond):
		}
	}

	report, err := svc.Reconcile(ctx, 1)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "balance %s, ledger %s", report.Balance, report.LedgerSum)
	assertMoney(t, "10", report.Balance)

	require.NoError(t, <-credited)
	report, err = svc.Reconcile(ctx, 1)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assertMoney(t, "15", report.Balance)
}

func TestReconcileUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reconcile(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}
