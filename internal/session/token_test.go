package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mintToken creates a signed JWT with the given expiry. The codec never
// verifies signatures, so any signing key works.
func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   "1",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return token
}

func TestTokenExpiry(t *testing.T) {
	t.Run("extracts exp claim", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Truncate(time.Second)
		token := mintToken(t, exp)

		got, err := TokenExpiry(token)
		require.NoError(t, err)
		assert.True(t, got.Equal(exp))
	})

	t.Run("fails on malformed token", func(t *testing.T) {
		_, err := TokenExpiry("not-a-token")
		require.Error(t, err)
	})

	t.Run("fails on missing exp claim", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject: "1",
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = TokenExpiry(token)
		require.Error(t, err)
	})
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()

	t.Run("valid token is not expired", func(t *testing.T) {
		token := mintToken(t, now.Add(time.Hour))
		assert.False(t, TokenExpired(token, now))
	})

	t.Run("past exp is expired", func(t *testing.T) {
		token := mintToken(t, now.Add(-time.Hour))
		assert.True(t, TokenExpired(token, now))
	})

	t.Run("token inside the leeway window is expired", func(t *testing.T) {
		token := mintToken(t, now.Add(ExpiryLeeway/2))
		assert.True(t, TokenExpired(token, now))
	})

	t.Run("undecodable tokens always read as expired", func(t *testing.T) {
		for _, token := range []string{
			"",
			"A1",
			"garbage",
			"a.b.c",
			"eyJhbGciOiJIUzI1NiJ9.not-base64!!.sig",
		} {
			assert.True(t, TokenExpired(token, now), "token %q", token)
		}
	})
}
