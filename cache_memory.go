package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryCache provides an in-memory implementation of ResponseCache.
//
// This implementation is suitable for single-instance deployments where
// replay state doesn't need to be shared across processes. For distributed
// deployments (load-balanced clusters, etc.), use a shared backend such as
// the Redis or Postgres caches.
//
// Features:
//   - Thread-safe with mutex protection
//   - Per-entry TTL supplied on Put
//   - Bounded capacity with oldest-expiry-first eviction
//   - Lazy cleanup of expired entries
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*CachedResponse
	expiry   map[string]time.Time
	capacity int
}

// NewMemoryCache creates an in-memory response cache holding at most
// capacity entries. Zero or negative capacity means unbounded. When full,
// the entry closest to expiry is evicted to admit a new key.
func NewMemoryCache(capacity int) *MemoryCache {
	return &MemoryCache{
		entries:  make(map[string]*CachedResponse),
		expiry:   make(map[string]time.Time),
		capacity: capacity,
	}
}

// Get returns the response stored under key, or nil if none exists or the
// entry has expired. Expired entries are cleaned up on the spot.
func (c *MemoryCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists {
		return nil, nil
	}

	if time.Now().After(expiry) {
		// Expired - clean it up
		delete(c.entries, key)
		delete(c.expiry, key)
		return nil, nil
	}

	return c.entries[key], nil
}

// Put stores resp under key for ttl, evicting the entry closest to expiry
// when the cache is full.
func (c *MemoryCache) Put(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity > 0 && len(c.entries) >= c.capacity {
		if _, exists := c.entries[key]; !exists {
			c.evictOldestLocked()
		}
	}

	c.entries[key] = resp
	c.expiry[key] = time.Now().Add(ttl)

	// Lazy cleanup of expired entries
	c.cleanupExpiredLocked()
	return nil
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldestLocked removes the entry with the earliest expiry.
// Must be called with lock held.
func (c *MemoryCache) evictOldestLocked() {
	var oldestKey string
	var oldestExpiry time.Time
	for key, expiry := range c.expiry {
		if oldestKey == "" || expiry.Before(oldestExpiry) {
			oldestKey = key
			oldestExpiry = expiry
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		delete(c.expiry, oldestKey)
	}
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (c *MemoryCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.entries, key)
			delete(c.expiry, key)
		}
	}
}

// Ensure MemoryCache implements ResponseCache
var _ ResponseCache = (*MemoryCache)(nil)
