package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore keeps the session server-side in redis, keyed by an opaque
// agent identifier. The browser then only carries that identifier in a
// cookie; tokens never leave the gateway. The entry expires with the
// refresh token, after which the session is unrecoverable anyway.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a redis-backed store for one agent. agentID is the
// opaque identifier from the agent's cookie; ttl should match the refresh
// token lifetime.
func NewRedisStore(client *redis.Client, agentID string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		key:    "crmgate:session:" + agentID,
		ttl:    ttl,
	}
}

// Set replaces the stored session and resets its expiry.
func (r *RedisStore) Set(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	return nil
}

func (r *RedisStore) load(ctx context.Context) *Session {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Msg("failed to read session from redis")
		}
		return nil
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		log.Debug().Err(err).Msg("failed to parse stored session")
		return nil
	}

	return &sess
}

// AccessToken returns the stored access token, or "" if absent.
func (r *RedisStore) AccessToken(ctx context.Context) string {
	if sess := r.load(ctx); sess != nil {
		return sess.AccessToken
	}
	return ""
}

// RefreshToken returns the stored refresh token, or "" if absent.
func (r *RedisStore) RefreshToken(ctx context.Context) string {
	if sess := r.load(ctx); sess != nil {
		return sess.RefreshToken
	}
	return ""
}

// SessionID returns the stored session identifier, or "" if absent.
func (r *RedisStore) SessionID(ctx context.Context) string {
	if sess := r.load(ctx); sess != nil {
		return sess.SessionID
	}
	return ""
}

// User returns the cached profile, or nil if absent.
func (r *RedisStore) User(ctx context.Context) *UserProfile {
	if sess := r.load(ctx); sess != nil {
		return sess.User
	}
	return nil
}

// Clear removes the stored session. Safe to call repeatedly.
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
