package rbac

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrCacheMiss is returned by PermissionCache.Get when no usable entry exists
var ErrCacheMiss = errors.New("permission cache miss")

// DefaultCacheTTL bounds how long a computed permission set may be served
const DefaultCacheTTL = 5 * time.Minute

// PermissionCache memoizes per-user permission computations.
//
// Implementations must never return an entry past its ExpiresAt, and
// Invalidate and InvalidateAll must be deletes: a subsequent Get misses
// until a new entry is Put.
type PermissionCache interface {
	Get(ctx context.Context, userID int64) (*CacheEntry, error)
	Put(ctx context.Context, entry *CacheEntry, ttl time.Duration) error
	Invalidate(ctx context.Context, userID int64) error
	InvalidateAll(ctx context.Context) error
}

// CacheStats holds hit and miss counters for a cache
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hit_rate"`
}

// MemoryCache is a bounded, process-local PermissionCache
type MemoryCache struct {
	cache  *lru.LRU[int64, *CacheEntry]
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates an LRU cache holding at most size entries, each
// evicted no later than maxTTL after insertion.
func NewMemoryCache(size int, maxTTL time.Duration) *MemoryCache {
	if size <= 0 {
		size = 10000
	}
	if maxTTL <= 0 {
		maxTTL = DefaultCacheTTL
	}

	return &MemoryCache{
		cache: lru.NewLRU[int64, *CacheEntry](size, nil, maxTTL),
		now:   time.Now,
	}
}

// Get returns the cached entry for userID
func (c *MemoryCache) Get(ctx context.Context, userID int64) (*CacheEntry, error) {
	entry, ok := c.cache.Get(userID)
	if !ok || entry.Expired(c.now()) {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}

	c.hits.Add(1)
	return entry, nil
}

// Put stores a copy of entry, expiring ttl after its computation time
func (c *MemoryCache) Put(ctx context.Context, entry *CacheEntry, ttl time.Duration) error {
	stored := withExpiry(entry, ttl, c.now)
	c.cache.Add(stored.UserID, stored)
	return nil
}

// Invalidate drops the entry for userID
func (c *MemoryCache) Invalidate(ctx context.Context, userID int64) error {
	c.cache.Remove(userID)
	return nil
}

// InvalidateAll drops every entry
func (c *MemoryCache) InvalidateAll(ctx context.Context) error {
	c.cache.Purge()
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() CacheStats {
	stats := CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.cache.Len(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func withExpiry(entry *CacheEntry, ttl time.Duration, now func() time.Time) *CacheEntry {
	stored := *entry
	if stored.ComputedAt.IsZero() {
		stored.ComputedAt = now()
	}
	stored.ExpiresAt = stored.ComputedAt.Add(ttl)
	return &stored
}

// NopCache never stores anything. It is used when caching is disabled.
type NopCache struct{}

func (NopCache) Get(context.Context, int64) (*CacheEntry, error) { return nil, ErrCacheMiss }
func (NopCache) Put(context.Context, *CacheEntry, time.Duration) error { return nil }
func (NopCache) Invalidate(context.Context, int64) error { return nil }
func (NopCache) InvalidateAll(context.Context) error { return nil }
