// Package embedding provides the embedding client used by the retriever and
// the indexer. A Provider turns text into a dense vector; the Client wraps a
// provider with rate limiting, retries, and a circuit breaker, and guarantees
// unit-norm output of the configured dimensionality.
package embedding

import (
	"context"
	"errors"
)

// Provider generates embeddings for input text
type Provider interface {
	// Embed returns the embedding vector for the given text
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector dimensionality this provider produces
	Dimensions() int
	// Name identifies the provider in logs and errors
	Name() string
}

// ErrUnavailable indicates the provider could not serve the request.
// Callers degrade to lexical-only retrieval on this error.
var ErrUnavailable = errors.New("embedding provider unavailable")

// ErrDimensionMismatch indicates the provider returned a vector of an
// unexpected dimensionality
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")
