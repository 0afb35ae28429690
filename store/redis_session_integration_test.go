//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klaus/types"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) *RedisSessionStore {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping redis test in short mode")
	}
	addr := os.Getenv("KLAUS_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rs, err := NewRedisSessionStore(context.Background(), addr, os.Getenv("KLAUS_TEST_REDIS_PASSWORD"), 0, ttl)
	if err != nil {
		t.Skip("redis not available:", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs
}

func TestRedisSessionStore_RoundTrip(t *testing.T) {
	rs := newTestRedisStore(t, time.Minute)
	ctx := context.Background()
	key := "test:" + uuid.NewString()
	t.Cleanup(func() { rs.client.Del(context.Background(), sessionKeyPrefix+key) })

	got, err := rs.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	var history []types.ChatMessage
	for i := 0; i < 14; i++ {
		history = append(history, types.ChatMessage{Role: types.RoleUser, Content: string(rune('a' + i))})
	}
	require.NoError(t, rs.Put(ctx, key, history))

	got, err = rs.Get(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, types.HistoryLimit)
	assert.Equal(t, "e", got[0].Content)
	assert.Equal(t, "n", got[len(got)-1].Content)

	ttl, err := rs.client.TTL(ctx, sessionKeyPrefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedisSessionStore_Expires(t *testing.T) {
	rs := newTestRedisStore(t, time.Second)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	require.NoError(t, rs.Put(ctx, key, []types.ChatMessage{{Role: types.RoleUser, Content: "hi"}}))
	assert.Eventually(t, func() bool {
		got, err := rs.Get(ctx, key)
		return err == nil && got == nil
	}, 5*time.Second, 100*time.Millisecond)
}

func TestRedisSessionStore_CorruptValue(t *testing.T) {
	rs := newTestRedisStore(t, time.Minute)
	ctx := context.Background()
	key := "test:" + uuid.NewString()
	t.Cleanup(func() { rs.client.Del(context.Background(), sessionKeyPrefix+key) })

	require.NoError(t, rs.client.Set(ctx, sessionKeyPrefix+key, "{not json", time.Minute).Err())
	_, err := rs.Get(ctx, key)
	assert.Error(t, err)
}
