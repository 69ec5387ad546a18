package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryLeeway is subtracted from a token's remaining lifetime when deciding
// whether it is still usable, so a request never departs with a token that
// dies in flight.
const ExpiryLeeway = 30 * time.Second

// TokenExpiry extracts the expiry instant from an access token without
// verifying its signature. Signature verification is the backend's job; the
// client only needs the exp claim to decide when to refresh.
func TokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode token: %w", err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}

	return claims.ExpiresAt.Time, nil
}

// TokenExpired reports whether the access token is expired at the given
// instant. A token that cannot be decoded is always treated as expired: the
// worst case is a spurious refresh, never the use of a dead credential.
func TokenExpired(token string, now time.Time) bool {
	exp, err := TokenExpiry(token)
	if err != nil {
		return true
	}

	return !now.Add(ExpiryLeeway).Before(exp)
}
