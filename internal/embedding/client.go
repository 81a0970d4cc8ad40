package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/observability"
)

// Client wraps a Provider with rate limiting, retry, and a circuit breaker.
// It guarantees unit-norm vectors of the provider's dimensionality and maps
// every failure to ErrUnavailable so callers can degrade cleanly.
type Client struct {
	provider   Provider
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
	logger     observability.Logger
}

// NewClient wraps the given provider according to the embedding configuration
func NewClient(provider Provider, cfg config.EmbeddingConfig, logger observability.Logger) *Client {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = int(rps)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Embedding circuit breaker state changed", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		provider:   provider,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		breaker:    breaker,
		maxRetries: uint64(maxRetries),
		logger:     logger,
	}
}

// NewFromConfig builds the configured provider and wraps it in a Client
func NewFromConfig(ctx context.Context, cfg config.EmbeddingConfig, logger observability.Logger) (*Client, error) {
	var provider Provider
	switch cfg.Provider {
	case "static":
		provider = NewStaticProvider(cfg.Dimensions)
	case "openai":
		provider = NewOpenAIProvider(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.Dimensions, cfg.RequestTimeout)
	case "bedrock":
		p, err := NewBedrockProvider(ctx, cfg.Bedrock.Region, cfg.Bedrock.Model, cfg.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to create bedrock provider: %w", err)
		}
		provider = p
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
	return NewClient(provider, cfg, logger), nil
}

// Embed generates a unit-norm embedding for the text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}

	var vec []float32
	operation := func() error {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.provider.Embed(ctx, text)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				// Retrying against an open breaker only burns the backoff budget
				return backoff.Permanent(fmt.Errorf("%w: circuit open", ErrUnavailable))
			}
			return err
		}
		vec = result.([]float32)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		c.logger.Warn("Embedding call failed", map[string]interface{}{
			"provider": c.provider.Name(),
			"error":    err.Error(),
		})
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if want := c.provider.Dimensions(); want > 0 && len(vec) != want {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}

	if Norm(vec) == 0 {
		return nil, fmt.Errorf("%w: provider returned a zero vector", ErrUnavailable)
	}
	if !IsUnitNorm(vec, 1e-6) {
		Normalize(vec)
	}
	return vec, nil
}

// Dimensions returns the wrapped provider's dimensionality
func (c *Client) Dimensions() int {
	return c.provider.Dimensions()
}

// Name identifies the wrapped provider
func (c *Client) Name() string {
	return c.provider.Name()
}
