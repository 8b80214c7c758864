package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Fi44er/task_bot/internal/dbtest"
	"github.com/Fi44er/task_bot/internal/repository"
	"github.com/Fi44er/task_bot/internal/service"
	"github.com/Fi44er/task_bot/utils"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type claim struct {
	userID  int64
	tokenID string
	address string
}

type fakeClaimer struct {
	mu     sync.Mutex
	claims []claim
	err    error
}

func (f *fakeClaimer) RedeemVerificationLink(_ context.Context, userID int64, tokenID, address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, claim{userID, tokenID, address})
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

func newTestServer(t *testing.T, claimer Claimer, proxies []string) (*Server, *Issuer) {
	t.Helper()
	issuer := NewIssuer("test-secret", "https://verify.example.com/", time.Minute)
	srv, err := NewServer(issuer, claimer, proxies, utils.NewDiscardLogger())
	require.NoError(t, err)
	return srv, issuer
}

func get(t *testing.T, srv *Server, target string, headers map[string]string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	return getFrom(t, srv, "192.0.2.10:4321", target, headers)
}

func getFrom(t *testing.T, srv *Server, remote, target string, headers map[string]string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	body := map[string]string{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestLinkRoundTrip(t *testing.T) {
	issuer := NewIssuer("s3cret", "https://verify.example.com/", time.Minute)

	raw, err := issuer.Link(42)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "verify.example.com", u.Host)
	assert.Equal(t, "/verify", u.Path)

	parsed, err := issuer.Parse(u.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), parsed.UserID)
	assert.NotEmpty(t, parsed.TokenID)
}

func TestTokensAreUnique(t *testing.T) {
	issuer := NewIssuer("s3cret", "", time.Minute)
	a, err := issuer.Token(1)
	require.NoError(t, err)
	b, err := issuer.Token(1)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestParseRejects(t *testing.T) {
	issuer := NewIssuer("s3cret", "", time.Minute)
	token, err := issuer.Token(7)
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewIssuer("other", "", time.Minute).Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewIssuer("s3cret", "", time.Minute)
		later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		_, err := later.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no expiry", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "7"}).SignedString([]byte("s3cret"))
		require.NoError(t, err)
		_, err = issuer.Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing token id", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}).SignedString([]byte("s3cret"))
		require.NoError(t, err)
		_, err = issuer.Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("non numeric subject", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}).SignedString([]byte("s3cret"))
		require.NoError(t, err)
		_, err = issuer.Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestVerifyClaimsClientAddress(t *testing.T) {
	claimer := &fakeClaimer{}
	srv, issuer := newTestServer(t, claimer, nil)
	token, err := issuer.Token(42)
	require.NoError(t, err)

	rec, body := get(t, srv, "/verify?token="+url.QueryEscape(token), map[string]string{
		"X-Forwarded-For": "203.0.113.7",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "verified", body["status"])
	require.Len(t, claimer.claims, 1)
	link, err := issuer.Parse(token)
	require.NoError(t, err)
	// Proxy headers from untrusted peers are ignored.
	assert.Equal(t, claim{42, link.TokenID, "192.0.2.10"}, claimer.claims[0])
}

func TestVerifyTrustedProxy(t *testing.T) {
	claimer := &fakeClaimer{}
	srv, issuer := newTestServer(t, claimer, []string{"192.0.2.0/24"})
	token, err := issuer.Token(42)
	require.NoError(t, err)

	rec, _ := get(t, srv, "/verify?token="+url.QueryEscape(token), map[string]string{
		"X-Forwarded-For": "203.0.113.7",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, claimer.claims, 1)
	assert.Equal(t, "203.0.113.7", claimer.claims[0].address)
}

func TestVerifyBadToken(t *testing.T) {
	claimer := &fakeClaimer{}
	srv, _ := newTestServer(t, claimer, nil)

	rec, body := get(t, srv, "/verify?token=nope", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, body["error"])
	assert.Empty(t, claimer.claims)
}

func TestVerifyClaimFailures(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{service.ErrConflict, http.StatusConflict},
		{service.ErrTokenUsed, http.StatusUnauthorized},
		{service.ErrAddressUnavailable, http.StatusUnprocessableEntity},
		{fmt.Errorf("user 42: %w", service.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv, issuer := newTestServer(t, &fakeClaimer{err: tc.err}, nil)
		token, err := issuer.Token(42)
		require.NoError(t, err)

		rec, body := get(t, srv, "/verify?token="+url.QueryEscape(token), nil)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
		assert.NotEmpty(t, body["error"])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, &fakeClaimer{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestVerifyUnlocksGate(t *testing.T) {
	logger := utils.NewDiscardLogger()
	svc := service.NewService(repository.NewRepository(dbtest.Open(t), logger), nil, nil, service.Options{}, logger)
	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		_, err := svc.EnsureUser(ctx, service.Profile{TelegramID: id})
		require.NoError(t, err)
	}

	srv, issuer := newTestServer(t, svc, nil)
	assert.ErrorIs(t, svc.Authorize(ctx, 1), service.ErrUnauthorized)

	first, err := issuer.Token(1)
	require.NoError(t, err)
	rec, _ := get(t, srv, "/verify?token="+url.QueryEscape(first), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, svc.Authorize(ctx, 1))

	// Same address from another account.
	second, err := issuer.Token(2)
	require.NoError(t, err)
	rec, _ = get(t, srv, "/verify?token="+url.QueryEscape(second), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.ErrorIs(t, svc.Authorize(ctx, 2), service.ErrUnauthorized)
}

func TestVerifyLinkIsSingleUse(t *testing.T) {
	logger := utils.NewDiscardLogger()
	svc := service.NewService(repository.NewRepository(dbtest.Open(t), logger), nil, nil, service.Options{}, logger)
	ctx := context.Background()
	_, err := svc.EnsureUser(ctx, service.Profile{TelegramID: 7})
	require.NoError(t, err)

	srv, issuer := newTestServer(t, svc, nil)
	link, err := issuer.Link(7)
	require.NoError(t, err)
	target := strings.TrimPrefix(link, "https://verify.example.com")

	rec, _ := getFrom(t, srv, "192.0.2.10:4321", target, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, remote := range []string{"198.51.100.1:80", "192.0.2.10:4321"} {
		rec, body := getFrom(t, srv, remote, target, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, remote)
		assert.NotEmpty(t, body["error"])
	}

	user, err := svc.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", user.VerifiedAddress)

	// The second address was never bound, so another user can still take it.
	_, err = svc.EnsureUser(ctx, service.Profile{TelegramID: 8})
	require.NoError(t, err)
	ok, err := svc.ClaimNetworkAddress(ctx, 8, "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, ok)

	// A fresh link still works.
	again, err := issuer.Token(7)
	require.NoError(t, err)
	rec, _ = getFrom(t, srv, "192.0.2.10:4321", "/verify?token="+url.QueryEscape(again), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
