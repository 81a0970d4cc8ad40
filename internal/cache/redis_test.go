package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/observability"
)

// setupRedisCache starts a miniredis server and connects a RedisCache to it
func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := NewRedisCache(context.Background(), config.RedisConfig{
		Address: mr.Addr(),
	}, observability.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})

	return c, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, _ := setupRedisCache(t)
	ctx := context.Background()

	in := testPayload{ID: "apple", Score: 0.9}
	require.NoError(t, c.Set(ctx, "k1", in, time.Minute))

	var out testPayload
	require.NoError(t, c.Get(ctx, "k1", &out))
	assert.Equal(t, in, out)
}

func TestRedisCacheMiss(t *testing.T) {
	c, _ := setupRedisCache(t)

	var out testPayload
	err := c.Get(context.Background(), "absent", &out)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisCacheTTLExpiry(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", testPayload{ID: "apple"}, time.Minute))

	var out testPayload
	require.NoError(t, c.Get(ctx, "k1", &out))

	mr.FastForward(61 * time.Second)

	err := c.Get(ctx, "k1", &out)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisCacheDelete(t *testing.T) {
	c, _ := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", testPayload{ID: "apple"}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k1"))

	var out testPayload
	assert.True(t, errors.Is(c.Get(ctx, "k1", &out), ErrNotFound))
}

func TestRedisCacheConnectFailure(t *testing.T) {
	_, err := NewRedisCache(context.Background(), config.RedisConfig{
		Address: "127.0.0.1:1", // nothing listens here
	}, observability.NewNoopLogger())
	assert.Error(t, err)
}

func TestNewSelectsBackend(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(context.Background(), config.CacheConfig{Backend: "memory", MaxEntries: 10},
			observability.NewNoopLogger())
		require.NoError(t, err)
		assert.IsType(t, &MemoryCache{}, c)
	})

	t.Run("Redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		c, err := New(context.Background(), config.CacheConfig{
			Backend: "redis",
			Redis:   config.RedisConfig{Address: mr.Addr()},
		}, observability.NewNoopLogger())
		require.NoError(t, err)
		assert.IsType(t, &RedisCache{}, c)
		_ = c.Close()
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := New(context.Background(), config.CacheConfig{Backend: "memcached"},
			observability.NewNoopLogger())
		assert.Error(t, err)
	})
}
