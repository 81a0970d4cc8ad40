package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/observability"
)

// fakeProvider scripts provider behavior for client tests
type fakeProvider struct {
	dims     int
	vec      []float32
	err      error
	failures int // fail this many calls before succeeding
	calls    int
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("transient failure")
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float32, len(f.vec))
	copy(out, f.vec)
	return out, nil
}

func (f *fakeProvider) Dimensions() int { return f.dims }
func (f *fakeProvider) Name() string    { return "fake" }

func testClientConfig() config.EmbeddingConfig {
	return config.EmbeddingConfig{
		Provider:       "static",
		Dimensions:     4,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		MaxRetries:     3,
	}
}

func TestClientNormalizesOutput(t *testing.T) {
	provider := &fakeProvider{dims: 4, vec: []float32{3, 0, 4, 0}}
	client := NewClient(provider, testClientConfig(), observability.NewNoopLogger())

	vec, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, IsUnitNorm(vec, 1e-6))
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vec[2]), 1e-6)
}

func TestClientDimensionMismatch(t *testing.T) {
	provider := &fakeProvider{dims: 8, vec: []float32{1, 0, 0}}
	client := NewClient(provider, testClientConfig(), observability.NewNoopLogger())

	_, err := client.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestClientRetriesTransientFailures(t *testing.T) {
	provider := &fakeProvider{dims: 2, vec: []float32{1, 0}, failures: 2}
	client := NewClient(provider, testClientConfig(), observability.NewNoopLogger())

	vec, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, IsUnitNorm(vec, 1e-6))
	assert.Equal(t, 3, provider.calls)
}

func TestClientMapsFailureToUnavailable(t *testing.T) {
	provider := &fakeProvider{dims: 2, err: errors.New("boom")}
	cfg := testClientConfig()
	cfg.MaxRetries = 0
	client := NewClient(provider, cfg, observability.NewNoopLogger())

	_, err := client.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestClientRejectsZeroVector(t *testing.T) {
	provider := &fakeProvider{dims: 3, vec: []float32{0, 0, 0}}
	client := NewClient(provider, testClientConfig(), observability.NewNoopLogger())

	_, err := client.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}
