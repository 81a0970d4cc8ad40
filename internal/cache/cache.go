// Package cache provides the query result cache. Two backends implement the
// same contract: an in-process LRU for tests and single-node runs, and Redis
// for shared deployments. Entries expire by TTL; an expired read is a miss.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/observability"
)

// ErrNotFound is returned when a key is missing or its entry has expired
var ErrNotFound = errors.New("key not found in cache")

// Cache defines the query cache operations. Implementations are safe for
// concurrent use. Get unmarshals the stored value into value, which must be
// a pointer.
type Cache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New creates the configured cache backend
func New(ctx context.Context, cfg config.CacheConfig, logger observability.Logger) (Cache, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryCache(cfg.MaxEntries)
	case "redis":
		return NewRedisCache(ctx, cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %q", cfg.Backend)
	}
}
