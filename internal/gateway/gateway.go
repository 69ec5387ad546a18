// Package gateway translates local session operations into wire calls
// against the remote CRM backend and normalizes backend responses and
// failures into the session error taxonomy. It owns no state.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/salesloop/crmgate/internal/session"
	"github.com/salesloop/crmgate/internal/telemetry"
)

// DefaultTimeout bounds every backend call so a hung backend surfaces as
// ErrBackendUnreachable instead of stalling the caller indefinitely.
const DefaultTimeout = 10 * time.Second

// Client is a stateless request/response mapper for the backend's auth API.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport. Used in tests.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// New creates a gateway client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// authResponse is the backend's token issuance payload, shared by login,
// refresh, and register.
type authResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
	TokenType    string               `json:"tokenType"`
	ExpiresIn    int64                `json:"expiresIn"`
	SessionID    string               `json:"sessionId"`
	User         *session.UserProfile `json:"user"`
	IssuedAt     time.Time            `json:"issuedAt"`
	ExpiresAt    time.Time            `json:"expiresAt"`
}

func (a *authResponse) toSession() *session.Session {
	return &session.Session{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		SessionID:    a.SessionID,
		ExpiresIn:    a.ExpiresIn,
		User:         a.User,
		IssuedAt:     a.IssuedAt,
		ExpiresAt:    a.ExpiresAt,
	}
}

// errorResponse is the backend's 4xx payload.
type errorResponse struct {
	Message string `json:"message"`
}

// Login forwards credentials to the backend. A 4xx response maps to
// ErrInvalidCredentials carrying the backend's message.
func (c *Client) Login(ctx context.Context, username, password string) (*session.Session, error) {
	body := map[string]string{"username": username, "password": password}

	resp, err := c.postJSON(ctx, "/auth/login", body, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%s: %w", c.errorMessage(resp, "login failed"), session.ErrInvalidCredentials)
	}

	return c.decodeAuthResponse(resp)
}

// Register creates a new account. The backend issues a session on success,
// same as login.
func (c *Client) Register(ctx context.Context, username, email, password string) (*session.Session, error) {
	body := map[string]string{"username": username, "email": email, "password": password}

	resp, err := c.postJSON(ctx, "/auth/register", body, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%s: %w", c.errorMessage(resp, "registration failed"), session.ErrInvalidCredentials)
	}

	return c.decodeAuthResponse(resp)
}

// Refresh exchanges a refresh token for a new session. A 4xx response maps
// to ErrSessionExpired: the token has been rotated away or revoked.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	body := map[string]string{"refreshToken": refreshToken}

	resp, err := c.postJSON(ctx, "/auth/refresh", body, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%s: %w", c.errorMessage(resp, "refresh rejected"), session.ErrSessionExpired)
	}

	return c.decodeAuthResponse(resp)
}

// Logout invalidates the session's refresh token on the backend.
func (c *Client) Logout(ctx context.Context, refreshToken, sessionID string) error {
	return c.logout(ctx, "/auth/logout", refreshToken, sessionID)
}

// LogoutAll invalidates every session for the user on the backend.
func (c *Client) LogoutAll(ctx context.Context, refreshToken, sessionID string) error {
	return c.logout(ctx, "/auth/logout-all", refreshToken, sessionID)
}

func (c *Client) logout(ctx context.Context, path, refreshToken, sessionID string) error {
	body := map[string]string{}
	if refreshToken != "" {
		body["refreshToken"] = refreshToken
	}
	if sessionID != "" {
		body["sessionId"] = sessionID
	}

	resp, err := c.postJSON(ctx, path, body, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("backend logout returned HTTP %d", resp.StatusCode)
	}

	return nil
}

// Profile fetches the authoritative user profile. Transport failures are
// retried with exponential backoff since the call is idempotent; an
// unauthorized response maps to ErrSessionExpired and is not retried.
func (c *Client) Profile(ctx context.Context, accessToken string) (*session.UserProfile, error) {
	return backoff.Retry(ctx, func() (*session.UserProfile, error) {
		resp, err := c.getJSON(ctx, "/auth/profile", accessToken)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, backoff.Permanent(fmt.Errorf("profile fetch unauthorized: %w", session.ErrSessionExpired))
		}

		if resp.StatusCode >= 400 {
			return nil, backoff.Permanent(fmt.Errorf("%w: profile fetch returned HTTP %d", session.ErrBackendUnreachable, resp.StatusCode))
		}

		var user session.UserProfile
		if err := decodeJSON(resp, &user); err != nil {
			return nil, backoff.Permanent(err)
		}

		return &user, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
}

// Validate checks whether an access token is still accepted by the backend.
func (c *Client) Validate(ctx context.Context, accessToken string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		resp, err := c.getJSON(ctx, "/auth/validate", accessToken)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return struct{}{}, backoff.Permanent(fmt.Errorf("token rejected: %w", session.ErrSessionExpired))
		}

		if resp.StatusCode >= 400 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: validate returned HTTP %d", session.ErrBackendUnreachable, resp.StatusCode))
		}

		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	return err
}

// ResolveURL joins a request path onto the backend base URL. Used by the
// resource proxy when forwarding dashboard calls.
func (c *Client) ResolveURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) postJSON(ctx context.Context, path string, body any, accessToken string) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return c.do(req)
}

func (c *Client) getJSON(ctx context.Context, path, accessToken string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		telemetry.GetMetrics().BackendErrorsTotal.Add(req.Context(), 1)
		return nil, fmt.Errorf("%w: %v", session.ErrBackendUnreachable, err)
	}
	return resp, nil
}

func (c *Client) decodeAuthResponse(resp *http.Response) (*session.Session, error) {
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: backend returned HTTP %d", session.ErrBackendUnreachable, resp.StatusCode)
	}

	var auth authResponse
	if err := decodeJSON(resp, &auth); err != nil {
		return nil, err
	}

	return auth.toSession(), nil
}

// errorMessage extracts the backend's error message, falling back when the
// body is not the expected shape.
func (c *Client) errorMessage(resp *http.Response, fallback string) string {
	var errResp errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&errResp); err != nil || errResp.Message == "" {
		log.Debug().Int("status", resp.StatusCode).Msg("backend error response had no message")
		return fallback
	}
	return errResp.Message
}

// decodeJSON decodes a success body, treating non-JSON as a transport-level
// failure: a proxy error page must not be mistaken for an auth decision.
func decodeJSON(resp *http.Response, v any) error {
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return fmt.Errorf("%w: expected JSON response, got %q", session.ErrBackendUnreachable, contentType)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", session.ErrBackendUnreachable, err)
	}

	return nil
}
