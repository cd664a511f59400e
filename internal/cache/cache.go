// SPDX-License-Identifier: MIT

// Package cache provides byte-valued TTL caches backed by memory or Redis.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/streamkeeper/internal/clock"
)

// Cache provides thread-safe caching with expiration support.
type Cache interface {
	// Get retrieves a value. The second result is false if the key is missing or expired.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores a value with the specified TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Delete removes a value.
	Delete(ctx context.Context, key string)
	// Clear removes all values owned by the cache.
	Clear(ctx context.Context)
	// Stats returns cache statistics.
	Stats(ctx context.Context) CacheStats
}

// CacheStats holds cache performance metrics.
type CacheStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	Evictions   int64 `json:"evictions"`
	CurrentSize int   `json:"currentSize"`
}

type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) expiredAt(now time.Time) bool {
	return now.After(e.expiration)
}

// MemoryCache is an in-memory implementation of Cache. Expired entries are
// hidden on read and removed by DeleteExpired.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	stats   CacheStats
	clock   clock.Clock
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache(c clock.Clock) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*entry),
		clock:   clock.OrReal(c),
	}
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found || e.expiredAt(c.clock.Now()) {
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	return e.value, true
}

// Set stores a value in the cache. A non-positive ttl deletes the key.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	c.entries[key] = &entry{
		value:      value,
		expiration: c.clock.Now().Add(ttl),
	}
	c.stats.Sets++
}

// Delete removes a value from the cache.
func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all values from the cache.
func (c *MemoryCache) Clear(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats(context.Context) CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

// DeleteExpired removes all expired entries and returns how many were deleted.
func (c *MemoryCache) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	count := 0
	for key, e := range c.entries {
		if e.expiredAt(now) {
			delete(c.entries, key)
			count++
		}
	}

	c.stats.Evictions += int64(count)
	return count
}

type noOpCache struct{}

// NewNoOpCache creates a cache that doesn't cache anything.
func NewNoOpCache() Cache {
	return noOpCache{}
}

func (noOpCache) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (noOpCache) Set(context.Context, string, []byte, time.Duration) {}
func (noOpCache) Delete(context.Context, string)                     {}
func (noOpCache) Clear(context.Context)                              {}
func (noOpCache) Stats(context.Context) CacheStats                   { return CacheStats{} }
