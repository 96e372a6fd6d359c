// Package fetch provides the TTL cache and request coalescer sitting between
// the data loader and the request queue. Identical concurrent fetches are
// merged into one remote call; completed fetches are served from cache until
// their TTL expires.
package fetch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/harborpos/till/internal/metrics"
)

// Operation produces the value for a cache key.
type Operation func(ctx context.Context) (any, error)

type entry struct {
	value    any
	cachedAt time.Time
}

// Cache is a TTL-keyed cache with in-flight coalescing.
type Cache struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
}

// New creates an empty cache. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		logger:  logger.With("component", "cache"),
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Do returns the cached value for key if it is younger than ttl, otherwise
// invokes op. Concurrent calls for the same key share a single in-flight op,
// including when force is set. A failed op caches nothing and its error
// reaches every coalesced caller.
func (c *Cache) Do(ctx context.Context, key string, ttl time.Duration, force bool, op Operation) (any, error) {
	if !force {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && c.now().Sub(e.cachedAt) < ttl {
			c.mu.Unlock()
			metrics.CacheHits.Inc()
			return e.value, nil
		}
		c.mu.Unlock()
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		metrics.CacheMisses.Inc()
		v, err := op(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry{value: v, cachedAt: c.now()}
		c.mu.Unlock()
		return v, nil
	})
	if shared {
		metrics.CacheCoalesced.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Peek returns the cached value for key regardless of age.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Invalidate drops every cached entry whose key contains substr and forgets
// any matching in-flight fetch, so the next Do issues a fresh call.
func (c *Cache) Invalidate(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if strings.Contains(key, substr) {
			delete(c.entries, key)
			c.group.Forget(key)
			n++
		}
	}
	if n > 0 {
		c.logger.Debug("invalidated cache entries", "match", substr, "count", n)
	}
	return n
}

// Clear drops all cached entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		c.group.Forget(key)
	}
	c.entries = make(map[string]entry)
}
