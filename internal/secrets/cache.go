package secrets

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is how long a fetched KeySet stays fresh.
const DefaultTTL = 5 * time.Minute

// Fetcher retrieves provider credentials from an upstream source.
type Fetcher interface {
	Fetch(ctx context.Context) (KeySet, error)
}

// Cache is a time-bounded cache of provider credentials. Readers always
// get a consistent snapshot; a refresh replaces the snapshot wholesale
// rather than mutating it in place.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	logger  *zap.Logger

	mu        sync.Mutex
	snapshot  KeySet
	fetchedAt time.Time
}

// NewCache creates a key cache with the default 5 minute TTL.
func NewCache(fetcher Fetcher, logger *zap.Logger) *Cache {
	return &Cache{fetcher: fetcher, ttl: DefaultTTL, logger: logger}
}

// NewCacheTTL creates a key cache with an explicit TTL. A non-positive
// TTL disables caching entirely (every Get refreshes).
func NewCacheTTL(fetcher Fetcher, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{fetcher: fetcher, ttl: ttl, logger: logger}
}

// Get returns the cached KeySet, refreshing synchronously when the TTL
// has expired. It never fails: on upstream error an empty KeySet is
// returned and nothing is cached, so the next call retries.
func (c *Cache) Get(ctx context.Context) KeySet {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.snapshot
	}

	ks, err := c.fetcher.Fetch(ctx)
	if err != nil {
		c.logger.Warn("key fetch failed", zap.Error(err))
		if c.snapshot != nil && time.Since(c.fetchedAt) < c.ttl {
			return c.snapshot
		}
		return KeySet{}
	}

	// Copy so later upstream mutation cannot reach concurrent readers.
	fresh := make(KeySet, len(ks))
	for k, v := range ks {
		fresh[k] = v
	}
	c.snapshot = fresh
	c.fetchedAt = time.Now()
	return c.snapshot
}

// Invalidate drops the cached snapshot so the next Get refreshes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
	c.fetchedAt = time.Time{}
}
