package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "203.0.113.7", want: "203.0.113.7"},
		{in: " 203.0.113.7 ", want: "203.0.113.7"},
		{in: "::ffff:203.0.113.7", want: "203.0.113.7"},
		{in: "2001:db8::1", want: "2001:db8::1"},
		{in: "", wantErr: ErrAddressUnavailable},
		{in: "unknown", wantErr: ErrAddressUnavailable},
		{in: "0.0.0.0", wantErr: ErrAddressUnavailable},
		{in: "::", wantErr: ErrAddressUnavailable},
		{in: "example.com", wantErr: ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeAddress(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnsureUserRefreshesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.EnsureUser(ctx, Profile{TelegramID: 5, Username: "old"})
	require.NoError(t, err)
	assert.Equal(t, "old", user.Username)
	assert.True(t, user.Balance.IsZero())

	user, err = f.svc.EnsureUser(ctx, Profile{TelegramID: 5, Username: "new"})
	require.NoError(t, err)
	assert.Equal(t, "new", user.Username)
}

func TestAuthorizeReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, reason, err := f.svc.IsAuthorized(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "unknown user", reason)

	_, err = f.svc.EnsureUser(ctx, Profile{TelegramID: 1})
	require.NoError(t, err)
	_, reason, err = f.svc.IsAuthorized(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "network address not verified", reason)

	_, err = f.svc.ClaimNetworkAddress(ctx, 1, "198.51.100.1")
	require.NoError(t, err)
	ok, _, err = f.svc.IsAuthorized(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.AddChannel(ctx, f.op, "@news", "News")
	require.NoError(t, err)
	f.membership.missing = []string{"News"}
	err = f.svc.Authorize(ctx, 1)
	var denied *UnauthorizedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, []string{"News"}, denied.MissingChannels)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// A broken membership lookup must not let the user through.
	f.membership.missing = nil
	f.membership.err = errors.New("api down")
	ok, _, err = f.svc.IsAuthorized(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	f.membership.err = nil
	require.NoError(t, f.svc.Authorize(ctx, 1))

	require.NoError(t, f.svc.BlockUser(ctx, f.op, 1))
	_, reason, err = f.svc.IsAuthorized(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "user is blocked", reason)
}

func TestClaimNetworkAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		_, err := f.svc.EnsureUser(ctx, Profile{TelegramID: id})
		require.NoError(t, err)
	}

	ok, err := f.svc.ClaimNetworkAddress(ctx, 1, "192.0.2.10")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.ClaimNetworkAddress(ctx, 1, "192.0.2.10")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.ClaimNetworkAddress(ctx, 2, "192.0.2.10")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.ClaimNetworkAddress(ctx, 2, "0.0.0.0")
	assert.ErrorIs(t, err, ErrAddressUnavailable)

	_, err = f.svc.ClaimNetworkAddress(ctx, 3, "192.0.2.11")
	assert.ErrorIs(t, err, ErrNotFound)

	user, err := f.svc.GetUser(ctx, 2)
	require.NoError(t, err)
	assert.False(t, user.IsVerified)
	assert.Empty(t, user.VerifiedAddress)

	record, err := f.repo.GetAddress(ctx, nil, "192.0.2.10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.UserID)
}

func TestClaimNetworkAddressConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const users = 8
	for id := int64(1); id <= users; id++ {
		_, err := f.svc.EnsureUser(ctx, Profile{TelegramID: id})
		require.NoError(t, err)
	}

	var won, conflicts atomic.Int32
	var g errgroup.Group
	for id := int64(1); id <= users; id++ {
		id := id
		g.Go(func() error {
			_, err := f.svc.ClaimNetworkAddress(ctx, id, "203.0.113.50")
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(users-1), conflicts.Load())

	record, err := f.repo.GetAddress(ctx, nil, "203.0.113.50")
	require.NoError(t, err)
	owner, err := f.svc.GetUser(ctx, record.UserID)
	require.NoError(t, err)
	assert.True(t, owner.IsVerified)

	verified, err := f.repo.ListVerifiedUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{record.UserID}, verified)
}

func TestAddressTakenAfterVerificationRevokesGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verifiedUser(t, 1)

	// Simulate the binding moving to someone else.
	require.NoError(t, f.repo.UpdateUserFields(ctx, nil, 1, map[string]interface{}{"verified_address": "198.51.100.99"}))
	require.NoError(t, f.repo.InsertAddressIfAbsent(ctx, nil, &models.NetworkAddress{Address: "198.51.100.99", UserID: 2}))

	_, reason, err := f.svc.IsAuthorized(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "network address not owned", reason)
}

func TestRedeemVerificationLinkOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		_, err := f.svc.EnsureUser(ctx, Profile{TelegramID: id})
		require.NoError(t, err)
	}
	const tokenID = "0b4f3c1e-8a54-4f0e-9a77-3f1d2b6e5c90"

	_, err := f.svc.RedeemVerificationLink(ctx, 1, "", "10.1.1.1")
	assert.ErrorIs(t, err, ErrValidation)

	// A refused claim does not use up the link.
	_, err = f.svc.ClaimNetworkAddress(ctx, 2, "10.1.1.1")
	require.NoError(t, err)
	_, err = f.svc.RedeemVerificationLink(ctx, 1, tokenID, "10.1.1.1")
	assert.ErrorIs(t, err, ErrConflict)

	ok, err := f.svc.RedeemVerificationLink(ctx, 1, tokenID, "10.2.2.2")
	require.NoError(t, err)
	assert.True(t, ok)

	for _, address := range []string{"10.3.3.3", "10.2.2.2"} {
		_, err = f.svc.RedeemVerificationLink(ctx, 1, tokenID, address)
		assert.ErrorIs(t, err, ErrTokenUsed, address)
	}

	user, err := f.svc.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "10.2.2.2", user.VerifiedAddress)
	record, err := f.repo.GetAddress(ctx, nil, "10.3.3.3")
	require.NoError(t, err)
	assert.Nil(t, record, "replayed link must not bind a new address")
}
