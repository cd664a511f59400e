// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis creates a test Redis server using miniredis.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, newRedisCache(client, "", zerolog.Nop())
}

func TestRedisCache_SetGet(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)

	c.Set(ctx, "test-key", []byte("test-value"), 5*time.Minute)

	val, found := c.Get(ctx, "test-key")
	require.True(t, found)
	assert.Equal(t, []byte("test-value"), val)

	assert.True(t, mr.Exists(DefaultKeyPrefix+"test-key"), "keys are namespaced")

	stats := c.Stats(ctx)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestRedisCache_GetMissing(t *testing.T) {
	ctx := context.Background()
	_, c := setupMiniRedis(t)

	val, found := c.Get(ctx, "nonexistent")
	assert.False(t, found)
	assert.Nil(t, val)
	assert.Equal(t, int64(1), c.Stats(ctx).Misses)
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)

	c.Set(ctx, "ttl-key", []byte("ttl-value"), 100*time.Millisecond)

	_, found := c.Get(ctx, "ttl-key")
	require.True(t, found)

	mr.FastForward(200 * time.Millisecond)

	_, found = c.Get(ctx, "ttl-key")
	assert.False(t, found, "expected value to be expired")
}

func TestRedisCache_Delete(t *testing.T) {
	ctx := context.Background()
	_, c := setupMiniRedis(t)

	c.Set(ctx, "delete-key", []byte("v"), 5*time.Minute)
	c.Delete(ctx, "delete-key")

	_, found := c.Get(ctx, "delete-key")
	assert.False(t, found)
}

func TestRedisCache_ClearKeepsForeignKeys(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)

	c.Set(ctx, "key1", []byte("1"), 5*time.Minute)
	c.Set(ctx, "key2", []byte("2"), 5*time.Minute)
	require.NoError(t, mr.Set("other:key", "x"))

	assert.Equal(t, 2, c.Stats(ctx).CurrentSize)

	c.Clear(ctx)

	assert.Equal(t, 0, c.Stats(ctx).CurrentSize)
	assert.True(t, mr.Exists("other:key"))
}

func TestRedisCache_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = client.Close() }()
	c := newRedisCache(client, "", zerolog.Nop())
	mr.Close()

	_, found := c.Get(ctx, "key")
	assert.False(t, found)
	assert.Error(t, c.HealthCheck(ctx))
}

func TestNewRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedisCache(context.Background(), RedisConfig{Addr: mr.Addr(), KeyPrefix: "t:"}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	c.Set(context.Background(), "k", []byte("v"), time.Minute)
	assert.True(t, mr.Exists("t:k"))
}

func TestNewRedisCache_ConnectionFailure(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), RedisConfig{Addr: addr}, zerolog.Nop())
	assert.Error(t, err)
}
