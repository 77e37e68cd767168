// ABOUTME: Integration tests for the Redis session tier
// ABOUTME: Skipped unless REDIS_ADDR points at a disposable Redis instance

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisSessionStore(t *testing.T) *RedisSessionStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	s, err := NewRedisSessionStore(context.Background(), RedisSessionOptions{
		Addr:    addr,
		Prefix:  "convo-test-" + uuid.NewString()[:8],
		IdleTTL: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisSessionStore_Contract(t *testing.T) {
	s := setupRedisSessionStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "tab", "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "tab", SnapshotKey("A"), []byte(`{"id":"A"}`)))
	require.NoError(t, s.Put(ctx, "tab", ActiveConversationKey, []byte("A")))
	require.NoError(t, s.Put(ctx, "other", ActiveConversationKey, []byte("B")))

	keys, err := s.Keys(ctx, "tab")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{SnapshotKey("A"), ActiveConversationKey}, keys)

	require.NoError(t, s.Delete(ctx, "tab", SnapshotKey("A")))
	require.NoError(t, s.Delete(ctx, "tab", ActiveConversationKey))
	keys, err = s.Keys(ctx, "tab")
	require.NoError(t, err)
	assert.Empty(t, keys)

	got, err := s.Get(ctx, "other", ActiveConversationKey)
	require.NoError(t, err)
	assert.Equal(t, "B", string(got))
}

func TestRedisSessionStore_PutRefreshesTTL(t *testing.T) {
	s := setupRedisSessionStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "tab", "k", []byte("v")))

	ttl, err := s.rdb.TTL(ctx, s.key("tab", "k")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}
