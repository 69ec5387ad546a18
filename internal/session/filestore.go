package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// FileStore persists the session as a JSON file on the local filesystem.
// Used by the CLI so a login survives across invocations.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a file-backed session store.
// If baseDir is empty, uses ~/.crmgate/
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".crmgate")
	}

	// Tokens are credentials, keep the directory private
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	log.Debug().Str("baseDir", baseDir).Msg("file session store initialized")

	return &FileStore{baseDir: baseDir}, nil
}

func (f *FileStore) sessionPath() string {
	return filepath.Join(f.baseDir, "session.json")
}

// Set writes the session file atomically via a temp file and rename.
func (f *FileStore) Set(_ context.Context, sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	sessionPath := f.sessionPath()
	tempPath := sessionPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// load reads the session file. A missing or unreadable file yields nil, not
// an error: absent storage means absent session.
func (f *FileStore) load() *Session {
	data, err := os.ReadFile(f.sessionPath())
	if err != nil {
		return nil
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		log.Debug().Err(err).Msg("failed to parse session file")
		return nil
	}

	return &sess
}

// AccessToken returns the stored access token, or "" if absent.
func (f *FileStore) AccessToken(_ context.Context) string {
	if sess := f.load(); sess != nil {
		return sess.AccessToken
	}
	return ""
}

// RefreshToken returns the stored refresh token, or "" if absent.
func (f *FileStore) RefreshToken(_ context.Context) string {
	if sess := f.load(); sess != nil {
		return sess.RefreshToken
	}
	return ""
}

// SessionID returns the stored session identifier, or "" if absent.
func (f *FileStore) SessionID(_ context.Context) string {
	if sess := f.load(); sess != nil {
		return sess.SessionID
	}
	return ""
}

// User returns the cached profile, or nil if absent.
func (f *FileStore) User(_ context.Context) *UserProfile {
	if sess := f.load(); sess != nil {
		return sess.User
	}
	return nil
}

// Clear removes the session file. Safe to call repeatedly.
func (f *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(f.sessionPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
