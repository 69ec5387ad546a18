package session

import (
	"context"
	"sync"
)

// Store is the single read/write surface for session state. Setting a new
// session replaces all fields as one unit; accessors return zero values when
// no session is present. Clear is idempotent.
//
// Store is mutated exclusively by Client. Implementations cover the
// persistence media this project uses: in-process memory, a JSON file for
// the CLI, request cookies on the gateway, and redis.
type Store interface {
	Set(ctx context.Context, sess *Session) error
	AccessToken(ctx context.Context) string
	RefreshToken(ctx context.Context) string
	SessionID(ctx context.Context) string
	User(ctx context.Context) *UserProfile
	Clear(ctx context.Context) error
}

// MemoryStore holds the session in process memory. Suitable for a single
// agent, such as a Go program embedding the session client.
type MemoryStore struct {
	mu   sync.RWMutex
	sess *Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Set replaces the stored session.
func (m *MemoryStore) Set(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *sess
	m.sess = &copied
	return nil
}

// AccessToken returns the current access token, or "" if absent.
func (m *MemoryStore) AccessToken(_ context.Context) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.AccessToken
}

// RefreshToken returns the current refresh token, or "" if absent.
func (m *MemoryStore) RefreshToken(_ context.Context) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.RefreshToken
}

// SessionID returns the current session identifier, or "" if absent.
func (m *MemoryStore) SessionID(_ context.Context) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.SessionID
}

// User returns the cached profile, or nil if absent.
func (m *MemoryStore) User(_ context.Context) *UserProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess == nil {
		return nil
	}
	return m.sess.User
}

// Clear removes the stored session. Safe to call repeatedly.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
	return nil
}
