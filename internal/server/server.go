// Package server exposes the dashboard-facing HTTP API: the auth session
// routes and the proxied CRM resource routes. Handlers translate between the
// browser's cookie-based session and the session client library.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/salesloop/crmgate/internal/gateway"
	httpmiddleware "github.com/salesloop/crmgate/internal/http"
	"github.com/salesloop/crmgate/internal/session"
	"github.com/salesloop/crmgate/internal/telemetry"
)

// Server handles the dashboard API and fronts the remote CRM backend.
type Server struct {
	gateway *gateway.Client
	cookies CookieConfig

	// flight is shared across request-scoped session clients so concurrent
	// requests for the same agent collapse into one refresh call.
	flight singleflight.Group

	// redis, when set, holds sessions server-side; the browser only carries
	// an opaque agent id.
	redis    *redis.Client
	redisTTL time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithRedisSessions stores sessions in redis keyed by an opaque cookie id
// instead of sending tokens to the browser.
func WithRedisSessions(client *redis.Client, ttl time.Duration) Option {
	return func(s *Server) {
		s.redis = client
		s.redisTTL = ttl
	}
}

// New creates a server fronting the given backend gateway.
func New(gw *gateway.Client, cookies CookieConfig, opts ...Option) *Server {
	s := &Server{
		gateway: gw,
		cookies: cookies.withDefaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route table for the dashboard API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout(false))
	mux.HandleFunc("POST /api/auth/logout-all", s.handleLogout(true))
	mux.HandleFunc("GET /api/auth/profile", s.handleProfile)
	mux.HandleFunc("GET /api/auth/check", s.handleCheck)

	// CRM resources pass through the authenticated proxy so every dashboard
	// data call gets the refresh-and-retry treatment.
	for _, resource := range []string{"companies", "contacts", "opportunities", "activities"} {
		mux.HandleFunc("/api/"+resource, s.handleProxy)
		mux.HandleFunc("/api/"+resource+"/", s.handleProxy)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// storeFor picks the session store for this request: redis keyed by the
// agent id cookie when configured, httpOnly token cookies otherwise.
func (s *Server) storeFor(w http.ResponseWriter, r *http.Request) session.Store {
	if s.redis == nil {
		return NewCookieStore(w, r, s.cookies)
	}

	sid := ""
	if cookie, err := r.Cookie(sidCookie); err == nil {
		sid = cookie.Value
	}
	if sid == "" {
		sid = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     sidCookie,
			Value:    sid,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.cookies.Secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(s.redisTTL.Seconds()),
		})
	}

	return session.NewRedisStore(s.redis, sid, s.redisTTL)
}

// clientFor builds a request-scoped session client sharing the server-wide
// flight group.
func (s *Server) clientFor(w http.ResponseWriter, r *http.Request) *session.Client {
	return session.NewClient(s.storeFor(w, r), s.gateway, session.WithFlightGroup(&s.flight))
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client := s.clientFor(w, r)

	sess, err := client.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		log.Debug().Err(err).
			Str("username", req.Username).
			Str("clientIP", httpmiddleware.ClientIPFromContext(r.Context())).
			Msg("login failed")
		writeSessionError(w, err)
		return
	}

	log.Info().
		Str("username", req.Username).
		Str("sessionId", sess.SessionID).
		Str("clientIP", httpmiddleware.ClientIPFromContext(r.Context())).
		Msg("user logged in")

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client := s.clientFor(w, r)

	sess, err := client.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	log.Info().Str("username", req.Username).Msg("user registered")

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	client := s.clientFor(w, r)

	sess, err := client.Refresh(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(all bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := s.clientFor(w, r)

		if err := client.Logout(r.Context(), all); err != nil {
			log.Warn().Err(err).Msg("failed to clear session state")
			writeError(w, http.StatusInternalServerError, "logout failed")
			return
		}

		telemetry.GetMetrics().LogoutsTotal.Add(r.Context(), 1)

		writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	client := s.clientFor(w, r)

	user, err := client.Profile(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleCheck reports whether the agent is authenticated. Always 200: the
// dashboard uses this to pick between login and app shells, and an
// unreachable backend simply reads as unauthenticated.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	store := s.storeFor(w, r)

	authenticated := false
	if token := store.AccessToken(r.Context()); token != "" {
		authenticated = s.gateway.Validate(r.Context(), token) == nil
	}

	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": authenticated})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeSessionError maps the session error taxonomy onto HTTP statuses. The
// distinction between 401 and 503 matters: the dashboard shows "log in
// again" for one and "service unavailable" for the other.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, session.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "session expired")
	case errors.Is(err, session.ErrBackendUnreachable):
		writeError(w, http.StatusServiceUnavailable, "backend unreachable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
