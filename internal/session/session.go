// Package session holds the authenticated state for one user agent and the
// client logic that acquires, validates, and renews it against the remote
// CRM backend.
package session

import (
	"errors"
	"time"
)

// Sentinel errors
var (
	// ErrInvalidCredentials is returned when the backend rejects a login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionExpired is returned when the session can no longer be
	// renewed and the user must authenticate again.
	ErrSessionExpired = errors.New("session expired")

	// ErrBackendUnreachable is returned on transport-level failures
	// (network error, timeout, malformed response).
	ErrBackendUnreachable = errors.New("backend unreachable")
)

// UserProfile is a cached snapshot of the authenticated user. The
// authoritative copy lives on the remote backend.
type UserProfile struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session is the bundle of credentials and cached profile representing one
// authenticated agent.
type Session struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	SessionID    string       `json:"sessionId"`
	ExpiresIn    int64        `json:"expiresIn,omitempty"`
	User         *UserProfile `json:"user,omitempty"`
	IssuedAt     time.Time    `json:"issuedAt,omitempty"`
	ExpiresAt    time.Time    `json:"expiresAt,omitempty"`
}

// Refreshable returns true if the session carries a refresh token and can be
// renewed without re-entering credentials. A session without one is terminal.
func (s *Session) Refreshable() bool {
	return s != nil && s.RefreshToken != ""
}
