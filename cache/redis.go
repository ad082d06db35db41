package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/replaykit/idempotency"
)

// DefaultPrefix namespaces idempotency entries in Redis.
const DefaultPrefix = "idempotency:"

// Redis stores captured responses in Redis. Entries are JSON envelopes
// under a configurable key prefix, expired by Redis itself via SET EX.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures a Redis cache.
type RedisOption func(*Redis)

// RedisPrefix overrides the key prefix.
//
// Default: "idempotency:"
func RedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedis creates a response cache on client. Any go-redis client works,
// including cluster and sentinel clients.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the response stored under key, or nil on a miss.
func (r *Redis) Get(ctx context.Context, key string) (*idempotency.CachedResponse, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency entry: %w", err)
	}

	var resp idempotency.CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency entry: %w", err)
	}
	return &resp, nil
}

// Put stores resp under key with ttl as the Redis expiry.
func (r *Redis) Put(ctx context.Context, key string, resp *idempotency.CachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency entry: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write idempotency entry: %w", err)
	}
	return nil
}

// Ensure Redis implements ResponseCache
var _ idempotency.ResponseCache = (*Redis)(nil)
