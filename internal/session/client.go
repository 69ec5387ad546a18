package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/salesloop/crmgate/internal/telemetry"
)

// Gateway is the wire surface the client drives. Implemented by
// gateway.Client against the remote CRM backend, and by fakes in tests.
type Gateway interface {
	Login(ctx context.Context, username, password string) (*Session, error)
	Register(ctx context.Context, username, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	Logout(ctx context.Context, refreshToken, sessionID string) error
	LogoutAll(ctx context.Context, refreshToken, sessionID string) error
	Profile(ctx context.Context, accessToken string) (*UserProfile, error)
}

// Client is the single authority for acquiring, validating, and renewing a
// session, and for wrapping outbound authenticated calls with automatic
// recovery. All session mutation goes through it.
type Client struct {
	store   Store
	gateway Gateway
	httpc   *http.Client
	flight  *singleflight.Group
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used by Do for outbound requests.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithFlightGroup shares a single-flight group between clients. The gateway
// server builds one Client per request but must still collapse concurrent
// refreshes for the same agent, so all request-scoped clients share a group.
func WithFlightGroup(g *singleflight.Group) Option {
	return func(c *Client) { c.flight = g }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a session client over the given store and gateway.
func NewClient(store Store, gw Gateway, opts ...Option) *Client {
	c := &Client{
		store:   store,
		gateway: gw,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		flight:  &singleflight.Group{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a session and stores it. On failure the
// prior session state is left untouched.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	metrics := telemetry.GetMetrics()

	sess, err := c.gateway.Login(ctx, username, password)
	if err != nil {
		metrics.LoginFailuresTotal.Add(ctx, 1)
		return nil, err
	}

	if err := c.store.Set(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	metrics.LoginsTotal.Add(ctx, 1)

	log.Debug().Str("username", username).Str("sessionId", sess.SessionID).Msg("login succeeded")

	return sess, nil
}

// Register creates an account and stores the session the backend issues
// with it, same as a successful login.
func (c *Client) Register(ctx context.Context, username, email, password string) (*Session, error) {
	sess, err := c.gateway.Register(ctx, username, email, password)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	telemetry.GetMetrics().LoginsTotal.Add(ctx, 1)

	return sess, nil
}

// Refresh exchanges the stored refresh token for a new session. Concurrent
// callers are collapsed into a single network call and all receive the same
// session or the same failure. If the backend rejects the refresh, the local
// session is cleared and ErrSessionExpired is returned; a transport failure
// leaves the session intact so a network blip does not log the user out.
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	refreshToken := c.store.RefreshToken(ctx)
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token: %w", ErrSessionExpired)
	}

	metrics := telemetry.GetMetrics()

	v, err, shared := c.flight.Do(refreshToken, func() (any, error) {
		// The result is fanned out to every waiter, so the underlying call
		// must not die with whichever caller happens to be cancelled first.
		callCtx := context.WithoutCancel(ctx)

		metrics.RefreshesTotal.Add(callCtx, 1)

		sess, err := c.gateway.Refresh(callCtx, refreshToken)
		if err != nil {
			if errors.Is(err, ErrBackendUnreachable) {
				return nil, err
			}

			metrics.RefreshFailuresTotal.Add(callCtx, 1)
			log.Debug().Err(err).Msg("refresh rejected, clearing session")

			if clearErr := c.store.Clear(callCtx); clearErr != nil {
				log.Warn().Err(clearErr).Msg("failed to clear session after rejected refresh")
			}
			return nil, err
		}

		if err := c.store.Set(callCtx, sess); err != nil {
			return nil, fmt.Errorf("failed to store session: %w", err)
		}

		return sess, nil
	})
	if err != nil {
		// A waiter that shared a rejected refresh still has to converge its
		// own store; the store belongs to the caller, not the flight group.
		if shared && !errors.Is(err, ErrBackendUnreachable) {
			if clearErr := c.store.Clear(ctx); clearErr != nil {
				log.Warn().Err(clearErr).Msg("failed to clear session after shared rejected refresh")
			}
		}
		return nil, err
	}

	sess := v.(*Session)

	if shared {
		metrics.RefreshesSharedTotal.Add(ctx, 1)
		if err := c.store.Set(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to store session: %w", err)
		}
	}

	return sess, nil
}

// Do issues an authenticated request. If the stored access token looks
// expired it refreshes first; if the response still reports unauthorized it
// performs exactly one refresh-and-retry cycle and returns whatever the
// retry yields. The request needs GetBody set (as requests built with
// http.NewRequest have) for the retry to replay a body.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	token := c.store.AccessToken(ctx)
	if TokenExpired(token, c.now()) {
		sess, err := c.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		token = sess.AccessToken
	}

	resp, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}
	resp.Body.Close()

	// One refresh-and-retry cycle, never a loop: a backend that rejects the
	// fresh token too gets its answer passed straight back to the caller.
	sess, err := c.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	telemetry.GetMetrics().RequestRetriesTotal.Add(ctx, 1)
	log.Debug().Str("url", req.URL.String()).Msg("retrying request after refresh")

	return c.send(ctx, req, sess.AccessToken)
}

func (c *Client) send(ctx context.Context, req *http.Request, token string) (*http.Response, error) {
	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		r.Body = body
	}
	r.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}

	return resp, nil
}

// Logout invalidates the session on the backend (all sessions for the user
// when all is true) and clears the local store. The remote call is best
// effort: local logout proceeds even when the backend is down.
func (c *Client) Logout(ctx context.Context, all bool) error {
	refreshToken := c.store.RefreshToken(ctx)
	sessionID := c.store.SessionID(ctx)

	if refreshToken != "" || sessionID != "" {
		var err error
		if all {
			err = c.gateway.LogoutAll(ctx, refreshToken, sessionID)
		} else {
			err = c.gateway.Logout(ctx, refreshToken, sessionID)
		}
		if err != nil {
			log.Warn().Err(err).Msg("remote logout failed, clearing local session anyway")
		}
	}

	return c.store.Clear(ctx)
}

// IsAuthenticated reports whether the agent holds a usable session: a live
// access token, or a refresh token that can mint one.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	if !TokenExpired(c.store.AccessToken(ctx), c.now()) {
		return true
	}
	return c.store.RefreshToken(ctx) != ""
}

// Profile returns the user profile, serving the cached copy when present
// and falling back to the backend otherwise. The fetched copy is not written
// back piecemeal; the cache is only ever replaced whole by login or refresh.
func (c *Client) Profile(ctx context.Context) (*UserProfile, error) {
	if user := c.store.User(ctx); user != nil {
		return user, nil
	}

	token := c.store.AccessToken(ctx)
	if TokenExpired(token, c.now()) {
		sess, err := c.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		token = sess.AccessToken
	}

	return c.gateway.Profile(ctx, token)
}
