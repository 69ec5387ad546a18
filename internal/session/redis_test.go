package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, agentID string, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, agentID, ttl), mr
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStore(t, "agent-1", time.Hour)
	storeContract(t, store)
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()

	store, mr := newRedisStore(t, "agent-1", time.Hour)

	require.NoError(t, store.Set(ctx, testSession()))

	ttl := mr.TTL("crmgate:session:agent-1")
	assert.Equal(t, time.Hour, ttl)

	mr.FastForward(2 * time.Hour)

	assert.Empty(t, store.AccessToken(ctx))
	assert.Empty(t, store.RefreshToken(ctx))
}

func TestRedisStoreIsolatesAgents(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	alice := NewRedisStore(client, "agent-alice", time.Hour)
	bob := NewRedisStore(client, "agent-bob", time.Hour)

	require.NoError(t, alice.Set(ctx, testSession()))

	assert.Equal(t, "A1", alice.AccessToken(ctx))
	assert.Empty(t, bob.AccessToken(ctx))

	require.NoError(t, bob.Clear(ctx))
	assert.Equal(t, "A1", alice.AccessToken(ctx))
}
