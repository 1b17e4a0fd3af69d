package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenMalformed means the access token payload could not be decoded.
	ErrTokenMalformed = errors.New("access token malformed")
	// ErrTokenExpired means the access token's exp claim is in the past.
	ErrTokenExpired = errors.New("access token expired")
)

// ExpiresAt decodes the token payload and returns its expiry. The client
// holds no signing key, so the signature is deliberately not verified; the
// server re-checks it on every request anyway.
func ExpiresAt(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp claim", ErrTokenMalformed)
	}
	return claims.ExpiresAt.Time, nil
}

// Remaining reports how long the token stays valid relative to now. Returns
// ErrTokenExpired when the remaining time is zero or negative and
// ErrTokenMalformed when the payload cannot be parsed. Pure; the caller owns
// the polling timer (the UI re-evaluates this every 15s).
func Remaining(token string, now time.Time) (time.Duration, error) {
	exp, err := ExpiresAt(token)
	if err != nil {
		return 0, err
	}
	d := exp.Sub(now)
	if d <= 0 {
		return 0, ErrTokenExpired
	}
	return d, nil
}
