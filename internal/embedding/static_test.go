package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProviderDeterministic(t *testing.T) {
	provider := NewStaticProvider(64)
	ctx := context.Background()

	first, err := provider.Embed(ctx, "apple pie recipe")
	require.NoError(t, err)
	second, err := provider.Embed(ctx, "apple pie recipe")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.True(t, IsUnitNorm(first, 1e-6))
}

func TestStaticProviderTokenOverlap(t *testing.T) {
	provider := NewStaticProvider(256)
	ctx := context.Background()

	applePie, err := provider.Embed(ctx, "apple pie recipe")
	require.NoError(t, err)
	appleTart, err := provider.Embed(ctx, "apple tart recipe")
	require.NoError(t, err)
	physics, err := provider.Embed(ctx, "quantum field theory")
	require.NoError(t, err)

	related := Cosine(applePie, appleTart)
	unrelated := Cosine(applePie, physics)
	assert.Greater(t, related, unrelated, "texts sharing tokens should be closer")
}

func TestStaticProviderRegister(t *testing.T) {
	provider := NewStaticProvider(4)
	ctx := context.Background()

	provider.Register("fruit dessert", []float32{2, 0, 0, 0})
	vec, err := provider.Embed(ctx, "fruit dessert")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, float64(vec[0]), 1e-6, "registered vector should come back unit-normalized")
	assert.True(t, IsUnitNorm(vec, 1e-6))

	t.Run("RegisteredCopyIsIsolated", func(t *testing.T) {
		vec[0] = 42
		again, err := provider.Embed(ctx, "fruit dessert")
		require.NoError(t, err)
		assert.InDelta(t, 1.0, float64(again[0]), 1e-6)
	})
}

func TestStaticProviderCancelledContext(t *testing.T) {
	provider := NewStaticProvider(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.Embed(ctx, "anything")
	assert.Error(t, err)
}
