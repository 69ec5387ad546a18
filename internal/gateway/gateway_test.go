package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesloop/crmgate/internal/session"
)

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func authPayload() map[string]any {
	return map[string]any{
		"accessToken":  "A1",
		"refreshToken": "R1",
		"tokenType":    "Bearer",
		"expiresIn":    3600,
		"sessionId":    "S1",
		"user": map[string]any{
			"id":       42,
			"username": "alice",
			"email":    "alice@example.com",
			"role":     "USER",
		},
		"issuedAt":  time.Now().UTC(),
		"expiresAt": time.Now().Add(time.Hour).UTC(),
	}
}

func TestClientLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("maps the token payload", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/auth/login", r.URL.Path)

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "alice", body["username"])
			require.Equal(t, "secret", body["password"])

			writeJSON(t, w, http.StatusOK, authPayload())
		}))
		defer backend.Close()

		sess, err := New(backend.URL).Login(ctx, "alice", "secret")
		require.NoError(t, err)

		assert.Equal(t, "A1", sess.AccessToken)
		assert.Equal(t, "R1", sess.RefreshToken)
		assert.Equal(t, "S1", sess.SessionID)
		assert.Equal(t, int64(3600), sess.ExpiresIn)
		require.NotNil(t, sess.User)
		assert.Equal(t, "alice", sess.User.Username)
	})

	t.Run("rejection carries the backend message", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "Invalid username or password"})
		}))
		defer backend.Close()

		_, err := New(backend.URL).Login(ctx, "alice", "wrong")
		require.ErrorIs(t, err, session.ErrInvalidCredentials)
		assert.Contains(t, err.Error(), "Invalid username or password")
	})

	t.Run("rejection without a message uses a fallback", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer backend.Close()

		_, err := New(backend.URL).Login(ctx, "alice", "wrong")
		require.ErrorIs(t, err, session.ErrInvalidCredentials)
		assert.Contains(t, err.Error(), "login failed")
	})

	t.Run("5xx is a backend failure, not an auth decision", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer backend.Close()

		_, err := New(backend.URL).Login(ctx, "alice", "secret")
		require.ErrorIs(t, err, session.ErrBackendUnreachable)
		assert.NotErrorIs(t, err, session.ErrInvalidCredentials)
	})

	t.Run("non-JSON success body is a backend failure", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<html>proxy error</html>"))
		}))
		defer backend.Close()

		_, err := New(backend.URL).Login(ctx, "alice", "secret")
		require.ErrorIs(t, err, session.ErrBackendUnreachable)
	})

	t.Run("connection failure is a backend failure", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		backend.Close()

		_, err := New(backend.URL).Login(ctx, "alice", "secret")
		require.ErrorIs(t, err, session.ErrBackendUnreachable)
	})
}

func TestClientRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("exchanges the refresh token", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/auth/refresh", r.URL.Path)

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "R1", body["refreshToken"])

			payload := authPayload()
			payload["accessToken"] = "A2"
			payload["refreshToken"] = "R2"
			writeJSON(t, w, http.StatusOK, payload)
		}))
		defer backend.Close()

		sess, err := New(backend.URL).Refresh(ctx, "R1")
		require.NoError(t, err)

		assert.Equal(t, "A2", sess.AccessToken)
		assert.Equal(t, "R2", sess.RefreshToken)
	})

	t.Run("rejection maps to an expired session", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "Refresh token was rotated"})
		}))
		defer backend.Close()

		_, err := New(backend.URL).Refresh(ctx, "R1")
		require.ErrorIs(t, err, session.ErrSessionExpired)
		assert.Contains(t, err.Error(), "Refresh token was rotated")
	})
}

func TestClientRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a session on success", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/auth/register", r.URL.Path)

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "bob", body["username"])
			require.Equal(t, "bob@example.com", body["email"])

			writeJSON(t, w, http.StatusCreated, authPayload())
		}))
		defer backend.Close()

		sess, err := New(backend.URL).Register(ctx, "bob", "bob@example.com", "secret")
		require.NoError(t, err)
		assert.Equal(t, "A1", sess.AccessToken)
	})

	t.Run("duplicate username is rejected", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusBadRequest, map[string]string{"message": "Username is already taken"})
		}))
		defer backend.Close()

		_, err := New(backend.URL).Register(ctx, "bob", "bob@example.com", "secret")
		require.ErrorIs(t, err, session.ErrInvalidCredentials)
		assert.Contains(t, err.Error(), "already taken")
	})
}

func TestClientLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("posts the refresh token and session id", func(t *testing.T) {
		var gotPath string
		var gotBody map[string]string

		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			writeJSON(t, w, http.StatusOK, map[string]string{"message": "Logged out"})
		}))
		defer backend.Close()

		require.NoError(t, New(backend.URL).Logout(ctx, "R1", "S1"))

		assert.Equal(t, "/auth/logout", gotPath)
		assert.Equal(t, "R1", gotBody["refreshToken"])
		assert.Equal(t, "S1", gotBody["sessionId"])
	})

	t.Run("logout all hits its own route", func(t *testing.T) {
		var gotPath string

		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			writeJSON(t, w, http.StatusOK, map[string]string{"message": "Logged out"})
		}))
		defer backend.Close()

		require.NoError(t, New(backend.URL).LogoutAll(ctx, "R1", "S1"))
		assert.Equal(t, "/auth/logout-all", gotPath)
	})
}

func TestClientProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the profile", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/auth/profile", r.URL.Path)
			require.Equal(t, "Bearer A1", r.Header.Get("Authorization"))

			writeJSON(t, w, http.StatusOK, map[string]any{
				"id":       42,
				"username": "alice",
				"email":    "alice@example.com",
				"role":     "USER",
			})
		}))
		defer backend.Close()

		user, err := New(backend.URL).Profile(ctx, "A1")
		require.NoError(t, err)

		assert.Equal(t, int64(42), user.ID)
		assert.Equal(t, "alice", user.Username)
	})

	t.Run("unauthorized is not retried", func(t *testing.T) {
		var calls int

		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer backend.Close()

		_, err := New(backend.URL).Profile(ctx, "stale")
		require.ErrorIs(t, err, session.ErrSessionExpired)
		assert.Equal(t, 1, calls)
	})
}

func TestClientValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts a live token", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/auth/validate", r.URL.Path)
			writeJSON(t, w, http.StatusOK, map[string]bool{"valid": true})
		}))
		defer backend.Close()

		require.NoError(t, New(backend.URL).Validate(ctx, "A1"))
	})

	t.Run("rejects a stale token", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer backend.Close()

		err := New(backend.URL).Validate(ctx, "stale")
		require.ErrorIs(t, err, session.ErrSessionExpired)
	})
}

func TestResolveURL(t *testing.T) {
	client := New("http://backend:8080/")

	assert.Equal(t, "http://backend:8080/companies", client.ResolveURL("/companies"))
	assert.Equal(t, "http://backend:8080/companies", client.ResolveURL("companies"))
	assert.Equal(t, "http://backend:8080/contacts/7", client.ResolveURL("/contacts/7"))
}
