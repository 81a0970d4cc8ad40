package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	ID    string `json:"id"`
	Score float64
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c, err := NewMemoryCache(10)
	require.NoError(t, err)
	ctx := context.Background()

	in := testPayload{ID: "apple", Score: 0.9}
	require.NoError(t, c.Set(ctx, "k1", in, time.Minute))

	var out testPayload
	require.NoError(t, c.Get(ctx, "k1", &out))
	assert.Equal(t, in, out)
}

func TestMemoryCacheMiss(t *testing.T) {
	c, err := NewMemoryCache(10)
	require.NoError(t, err)

	var out testPayload
	err = c.Get(context.Background(), "absent", &out)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	c, err := NewMemoryCache(10)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k1", testPayload{ID: "apple"}, time.Minute))

	t.Run("ValidBeforeTTL", func(t *testing.T) {
		now = now.Add(59 * time.Second)
		var out testPayload
		assert.NoError(t, c.Get(ctx, "k1", &out))
	})

	t.Run("ExpiredReadIsMissAndEvicts", func(t *testing.T) {
		now = now.Add(2 * time.Second)
		var out testPayload
		err := c.Get(ctx, "k1", &out)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Zero(t, c.Len(), "expired entry is removed opportunistically")
	})
}

func TestMemoryCacheCapacityBound(t *testing.T) {
	c, err := NewMemoryCache(3)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, c.Set(ctx, key, testPayload{ID: key}, time.Minute))
	}

	assert.Equal(t, 3, c.Len())

	// Oldest entries were evicted
	var out testPayload
	assert.True(t, errors.Is(c.Get(ctx, "k0", &out), ErrNotFound))
	assert.NoError(t, c.Get(ctx, "k4", &out))
}

func TestMemoryCacheDelete(t *testing.T) {
	c, err := NewMemoryCache(10)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", testPayload{ID: "apple"}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k1"))

	var out testPayload
	assert.True(t, errors.Is(c.Get(ctx, "k1", &out), ErrNotFound))

	t.Run("DeleteMissingIsNoop", func(t *testing.T) {
		assert.NoError(t, c.Delete(ctx, "never-set"))
	})
}

func TestMemoryCacheRejectsNonPositiveTTL(t *testing.T) {
	c, err := NewMemoryCache(10)
	require.NoError(t, err)

	err = c.Set(context.Background(), "k1", testPayload{}, 0)
	assert.Error(t, err)
}
