package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry is the TTL envelope stored per key. The LRU bounds capacity;
// expiry is enforced on read.
type entry struct {
	data      []byte
	createdAt time.Time
	ttl       time.Duration
}

// expiredAt reports whether the entry is past its TTL at the given instant
func (e entry) expiredAt(now time.Time) bool {
	return !now.Before(e.createdAt.Add(e.ttl))
}

// MemoryCache is an in-process Cache on a capacity-bounded LRU
type MemoryCache struct {
	entries *lru.Cache[string, entry]

	// now is replaceable in tests
	now func() time.Time
}

// NewMemoryCache creates a memory cache holding at most maxEntries values
func NewMemoryCache(maxEntries int) (*MemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	entries, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}
	return &MemoryCache{
		entries: entries,
		now:     time.Now,
	}, nil
}

// Get retrieves a value. Expired entries are removed and reported as misses.
func (c *MemoryCache) Get(ctx context.Context, key string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e, ok := c.entries.Get(key)
	if !ok {
		return ErrNotFound
	}
	if e.expiredAt(c.now()) {
		c.entries.Remove(key)
		return ErrNotFound
	}

	return json.Unmarshal(e.data, value)
}

// Set stores a value with the given TTL. A non-positive TTL is rejected.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %v", ttl)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	c.entries.Add(key, entry{
		data:      data,
		createdAt: c.now(),
		ttl:       ttl,
	})
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.entries.Remove(key)
	return nil
}

// Len returns the number of resident entries, expired or not
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

// Ping reports liveness. The in-process cache is always reachable.
func (c *MemoryCache) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close releases the cache. The LRU needs no teardown.
func (c *MemoryCache) Close() error {
	c.entries.Purge()
	return nil
}
