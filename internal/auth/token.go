package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

const (
	// TokenBytes is the entropy of every verification and reset token.
	TokenBytes = 32

	// DefaultResetTTL is how long a password reset token stays valid.
	DefaultResetTTL = time.Hour
)

// TokenIssuer mints single-use verification and password reset tokens.
type TokenIssuer struct {
	random   io.Reader
	now      func() time.Time
	resetTTL time.Duration
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithClock replaces time.Now. Tests use it to move across the reset window.
func WithClock(now func() time.Time) TokenOption {
	return func(t *TokenIssuer) { t.now = now }
}

// WithRandom replaces crypto/rand as the entropy source.
func WithRandom(r io.Reader) TokenOption {
	return func(t *TokenIssuer) { t.random = r }
}

// NewTokenIssuer returns an issuer whose reset tokens expire after resetTTL.
// A non-positive resetTTL means DefaultResetTTL.
func NewTokenIssuer(resetTTL time.Duration, opts ...TokenOption) *TokenIssuer {
	if resetTTL <= 0 {
		resetTTL = DefaultResetTTL
	}
	t := &TokenIssuer{
		random:   rand.Reader,
		now:      time.Now,
		resetTTL: resetTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Now is the issuer's clock. The service compares reset expiry against it
// so issuance and checking always agree on time.
func (t *TokenIssuer) Now() time.Time {
	return t.now().UTC()
}

// ResetTTL is how long a reset token stays valid.
func (t *TokenIssuer) ResetTTL() time.Duration {
	return t.resetTTL
}

// VerificationToken returns a fresh hex-encoded token.
func (t *TokenIssuer) VerificationToken() (string, error) {
	return t.generate()
}

// ResetToken returns a fresh token and the instant it stops being valid.
func (t *TokenIssuer) ResetToken() (string, time.Time, error) {
	token, err := t.generate()
	if err != nil {
		return "", time.Time{}, err
	}
	return token, t.Now().Add(t.resetTTL), nil
}

func (t *TokenIssuer) generate() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := io.ReadFull(t.random, buf); err != nil {
		return "", fmt.Errorf("auth: generating token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
