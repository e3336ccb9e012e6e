package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/metrics"
	"quote-relay/src/models"
)

// ErrEmptyPrefix refuses a prefix delete that would match every key.
var ErrEmptyPrefix = errors.New("cache prefix cannot be empty")

// TTLCache is the read-through cache shared by all upstream operations. Each
// read names its own TTL; the store only records capture times.
type TTLCache struct {
	store   interfaces.ICacheStore
	metrics *metrics.Metrics
	logger  *logger.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// -----------------------------------------------------------------------------

func New(store interfaces.ICacheStore, m *metrics.Metrics, log *logger.Logger) *TTLCache {
	if log == nil {
		log = logger.Nop()
	}
	return &TTLCache{store: store, metrics: m, logger: log}
}

// -----------------------------------------------------------------------------

// Lookup decodes a fresh entry for key into dest and reports whether it hit.
// Backend failures count as misses.
func (c *TTLCache) Lookup(ctx context.Context, key string, ttl time.Duration, dest interface{}) bool {
	payload, ok, err := c.store.Get(ctx, key, ttl)
	if err != nil {
		c.logger.Warning("cache get %s: %v", key, err)
	}
	if ok && err == nil {
		if err := json.Unmarshal(payload, dest); err != nil {
			c.logger.Warning("cache decode %s: %v", key, err)
			ok = false
		}
	}

	if ok && err == nil {
		c.hits.Add(1)
		c.metrics.CacheLookup(true)
		return true
	}
	c.misses.Add(1)
	c.metrics.CacheLookup(false)
	return false
}

// -----------------------------------------------------------------------------

// Put stores value under key. Failures are logged and otherwise ignored.
func (c *TTLCache) Put(ctx context.Context, key string, value interface{}) {
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warning("cache encode %s: %v", key, err)
		return
	}
	if err := c.store.Set(ctx, key, payload); err != nil {
		c.logger.Warning("cache set %s: %v", key, err)
	}
}

// -----------------------------------------------------------------------------

func (c *TTLCache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// -----------------------------------------------------------------------------

func (c *TTLCache) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	return c.store.DeleteByPrefix(ctx, prefix)
}

// -----------------------------------------------------------------------------

func (c *TTLCache) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	removed, err := c.store.Cleanup(ctx, maxAge)
	if removed > 0 {
		c.logger.Debug("cache cleanup evicted %d entries", removed)
	}
	return removed, err
}

// -----------------------------------------------------------------------------

func (c *TTLCache) Stats(ctx context.Context) models.MCacheStats {
	size, err := c.store.Len(ctx)
	if err != nil {
		c.logger.Warning("cache size: %v", err)
	}
	hits, misses := c.hits.Load(), c.misses.Load()
	stats := models.MCacheStats{Hits: hits, Misses: misses, Size: size}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// -----------------------------------------------------------------------------

func (c *TTLCache) Close() error {
	return c.store.Close()
}

// -----------------------------------------------------------------------------

// Remember returns the cached value for key when fresh, otherwise calls load and
// caches its result. The bool reports a cache hit. Load errors are not cached.
func Remember[T any](ctx context.Context, c *TTLCache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, bool, error) {
	var cached T
	if c.Lookup(ctx, key, ttl, &cached) {
		return cached, true, nil
	}

	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	c.Put(ctx, key, value)
	return value, false, nil
}
