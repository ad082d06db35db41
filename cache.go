package idempotency

import (
	"context"
	"time"
)

// ResponseCache is the storage contract for captured responses.
// Implementations must be safe for concurrent use.
//
// The interface is designed to support both in-memory and distributed
// backends (Redis, Postgres, etc.) for different deployment scenarios.
// Distributed backends make replays visible across processes; they do not
// add cross-process execution exclusion, which remains per-process via the
// in-flight registry.
//
// The coordinator absorbs every backend error: a failing Get is treated
// as a miss and a failing Put is logged and dropped, so a broken cache
// degrades idempotency to in-process coalescing instead of failing live
// requests.
type ResponseCache interface {
	// Get returns the response stored under key.
	//
	// Returns:
	//   - The response + nil on a hit
	//   - nil + nil on a miss (including expired entries)
	//   - nil + error when the backend failed
	Get(ctx context.Context, key string) (*CachedResponse, error)

	// Put stores resp under key for ttl. Overwriting an existing entry is
	// permitted; entries for the same key hold identical bytes by
	// construction.
	Put(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
}

// NopCache stores nothing and never hits. Use it to run pure in-process
// coalescing with no replay window.
type NopCache struct{}

// Get always misses.
func (NopCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	return nil, nil
}

// Put discards the response.
func (NopCache) Put(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	return nil
}

// Ensure NopCache implements ResponseCache
var _ ResponseCache = NopCache{}
