package verify

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid verification token")

// Issuer signs and checks the short-lived tokens embedded in verification
// links. A token names the chat user it was issued to and carries a unique
// id, so the claim behind it can be redeemed only once.
type Issuer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewIssuer(secret, baseURL string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Issuer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (i *Issuer) Token(userID int64) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Link returns the URL a user opens in a browser to verify their address.
func (i *Issuer) Link(userID int64) (string, error) {
	token, err := i.Token(userID)
	if err != nil {
		return "", fmt.Errorf("sign verification token: %w", err)
	}
	return i.baseURL + "/verify?token=" + url.QueryEscape(token), nil
}

// Link is what a valid token proves: who it was issued to and its unique id.
type Link struct {
	UserID  int64
	TokenID string
}

// Parse checks signature and expiry and returns the link the token names.
func (i *Issuer) Parse(token string) (Link, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Link{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Link{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return Link{}, fmt.Errorf("%w: bad token id %q", ErrInvalidToken, claims.ID)
	}
	return Link{UserID: userID, TokenID: claims.ID}, nil
}
