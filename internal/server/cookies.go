package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/salesloop/crmgate/internal/session"
)

// Cookie names for the session fields. One persistence strategy, one set of
// names; the browser never sees token values outside these.
const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"
	sessionIDCookie    = "sessionId"
	userCookie         = "user"

	// sidCookie carries the opaque agent id when sessions live in redis
	// instead of cookies.
	sidCookie = "crm_sid"
)

// CookieConfig controls the attributes of session cookies.
type CookieConfig struct {
	// Secure should be true everywhere except local development over HTTP.
	Secure bool

	// AccessMaxAge bounds the access token cookie, default 1 hour.
	AccessMaxAge time.Duration

	// RefreshMaxAge bounds the refresh token and session id cookies,
	// default 7 days.
	RefreshMaxAge time.Duration
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.AccessMaxAge <= 0 {
		c.AccessMaxAge = time.Hour
	}
	if c.RefreshMaxAge <= 0 {
		c.RefreshMaxAge = 7 * 24 * time.Hour
	}
	return c
}

// CookieStore implements session.Store over one request/response pair,
// reading session fields from request cookies and writing them as httpOnly
// response cookies. Writes are overlaid locally so reads within the same
// request observe them.
type CookieStore struct {
	w   http.ResponseWriter
	r   *http.Request
	cfg CookieConfig

	written *session.Session
	cleared bool
}

// NewCookieStore creates a store bound to one request/response pair.
func NewCookieStore(w http.ResponseWriter, r *http.Request, cfg CookieConfig) *CookieStore {
	return &CookieStore{w: w, r: r, cfg: cfg.withDefaults()}
}

// Set writes all session fields as one unit.
func (s *CookieStore) Set(_ context.Context, sess *session.Session) error {
	s.setCookie(accessTokenCookie, sess.AccessToken, s.cfg.AccessMaxAge)
	s.setCookie(refreshTokenCookie, sess.RefreshToken, s.cfg.RefreshMaxAge)
	s.setCookie(sessionIDCookie, sess.SessionID, s.cfg.RefreshMaxAge)

	if sess.User != nil {
		data, err := json.Marshal(sess.User)
		if err == nil {
			s.setCookie(userCookie, base64.RawURLEncoding.EncodeToString(data), s.cfg.RefreshMaxAge)
		}
	} else {
		s.deleteCookie(userCookie)
	}

	copied := *sess
	s.written = &copied
	s.cleared = false

	return nil
}

func (s *CookieStore) read(name string) string {
	if s.cleared {
		return ""
	}
	if s.written != nil {
		switch name {
		case accessTokenCookie:
			return s.written.AccessToken
		case refreshTokenCookie:
			return s.written.RefreshToken
		case sessionIDCookie:
			return s.written.SessionID
		}
	}
	cookie, err := s.r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// AccessToken returns the access token, or "" if absent.
func (s *CookieStore) AccessToken(_ context.Context) string {
	return s.read(accessTokenCookie)
}

// RefreshToken returns the refresh token, or "" if absent.
func (s *CookieStore) RefreshToken(_ context.Context) string {
	return s.read(refreshTokenCookie)
}

// SessionID returns the session identifier, or "" if absent.
func (s *CookieStore) SessionID(_ context.Context) string {
	return s.read(sessionIDCookie)
}

// User returns the cached profile, or nil if absent.
func (s *CookieStore) User(_ context.Context) *session.UserProfile {
	if s.cleared {
		return nil
	}
	if s.written != nil {
		return s.written.User
	}

	cookie, err := s.r.Cookie(userCookie)
	if err != nil {
		return nil
	}

	data, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		log.Debug().Msg("invalid user cookie encoding")
		return nil
	}

	var user session.UserProfile
	if err := json.Unmarshal(data, &user); err != nil {
		log.Debug().Msg("failed to parse user cookie")
		return nil
	}

	return &user
}

// Clear expires all session cookies. Safe to call repeatedly.
func (s *CookieStore) Clear(_ context.Context) error {
	s.deleteCookie(accessTokenCookie)
	s.deleteCookie(refreshTokenCookie)
	s.deleteCookie(sessionIDCookie)
	s.deleteCookie(userCookie)

	s.written = nil
	s.cleared = true

	return nil
}

func (s *CookieStore) setCookie(name, value string, maxAge time.Duration) {
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

func (s *CookieStore) deleteCookie(name string) {
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
