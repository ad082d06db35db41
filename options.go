package idempotency

import (
	"log/slog"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Defaults applied by New when no option overrides them.
const (
	// DefaultHeader is the request header carrying the idempotency key.
	DefaultHeader = "X-Idempotency-Key"
	// DefaultTTL is how long captured responses stay replayable.
	DefaultTTL = 24 * time.Hour
	// DefaultCacheCapacity bounds the default in-memory cache.
	DefaultCacheCapacity = 4096
	// DefaultMaxBodySize caps how much of a request body is buffered for
	// schema validation.
	DefaultMaxBodySize = 1 << 20
	// ReplayMarkerHeader is the header set on replayed and coalesced
	// responses when WithReplayHeader is enabled.
	ReplayMarkerHeader = "X-Idempotent-Replay"
)

// DefaultMethods are the HTTP methods subject to idempotency handling.
func DefaultMethods() []string {
	return []string{"POST", "PUT", "PATCH"}
}

// KeyScope controls how client keys map to cache keys.
type KeyScope int

const (
	// ScopeGlobal uses the client key verbatim: the same key sent to two
	// different routes names the same logical operation.
	ScopeGlobal KeyScope = iota
	// ScopePerRoute prefixes the key with the method and route, so keys
	// are independent between endpoints.
	ScopePerRoute
)

// config holds the resolved configuration for a Coordinator.
type config struct {
	disabled     bool
	header       string
	ttl          time.Duration
	cache        ResponseCache
	methods      []string
	policy       RoutePolicy
	optOut       []string
	keyValidator KeyValidator
	keyScope     KeyScope
	cacheable    func(status int) bool
	replayHeader bool
	bodySchema   *gojsonschema.Schema
	maxBodySize  int64
	logger       *slog.Logger
}

// Option configures a Coordinator.
type Option func(*config)

// WithHeader sets the request header carrying the idempotency key.
//
// Default: X-Idempotency-Key
func WithHeader(name string) Option {
	return func(c *config) {
		if name != "" {
			c.header = name
		}
	}
}

// WithTTL sets how long captured responses are replayable.
//
// Default: 24 hours
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCache sets the ResponseCache implementation.
//
// Use this for distributed backends like Redis or Postgres, or NopCache to
// disable replay while keeping in-process coalescing.
//
// Default: an in-memory cache bounded to DefaultCacheCapacity entries
func WithCache(cache ResponseCache) Option {
	return func(c *config) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithMethods sets the HTTP methods subject to idempotency handling.
//
// Default: POST, PUT, PATCH
func WithMethods(methods ...string) Option {
	return func(c *config) {
		if len(methods) > 0 {
			c.methods = methods
		}
	}
}

// WithRoutePolicy sets the policy deciding which requests are application
// routes. See PathPolicy for the default prefix-list behavior.
//
// Default: PathPolicy{Allow: []string{"/api/"}}
func WithRoutePolicy(policy RoutePolicy) Option {
	return func(c *config) {
		if policy != nil {
			c.policy = policy
		}
	}
}

// WithOptOut excludes specific routes from idempotency handling. Entries
// match the framework-resolved route pattern or the raw request path
// exactly. Prefix-based exclusion belongs in the route policy's deny list.
func WithOptOut(routes ...string) Option {
	return func(c *config) {
		c.optOut = append(c.optOut, routes...)
	}
}

// WithKeyValidator sets a validator applied to non-blank keys. Rejected
// keys produce a 400 without invoking the handler.
//
// Default: any non-blank key is accepted
func WithKeyValidator(validate KeyValidator) Option {
	return func(c *config) {
		c.keyValidator = validate
	}
}

// WithUUIDKeys requires keys to parse as UUIDs. Shorthand for
// WithKeyValidator(UUIDValidator()).
func WithUUIDKeys() Option {
	return func(c *config) {
		c.keyValidator = UUIDValidator()
	}
}

// WithKeyScope sets how client keys map to cache keys.
//
// Default: ScopeGlobal
func WithKeyScope(scope KeyScope) Option {
	return func(c *config) {
		c.keyScope = scope
	}
}

// WithCacheableStatus sets which completed responses are cached. Responses
// failing the predicate still resolve the flight, so concurrent followers
// observe them, but later requests execute fresh.
//
// Default: status < 500. A 5xx is the rendered form of a failed execution
// and caching it would pin the failure for the whole TTL.
func WithCacheableStatus(cacheable func(status int) bool) Option {
	return func(c *config) {
		if cacheable != nil {
			c.cacheable = cacheable
		}
	}
}

// WithReplayHeader marks replayed and coalesced responses with
// ReplayMarkerHeader: true. Off by default so replays carry exactly the
// headers the contract promises.
func WithReplayHeader() Option {
	return func(c *config) {
		c.replayHeader = true
	}
}

// WithBodySchema validates buffered request bodies against a JSON Schema
// before the handler runs; failures become the documented 400 conversion.
// Compile the schema with CompileBodySchema.
func WithBodySchema(schema *gojsonschema.Schema) Option {
	return func(c *config) {
		c.bodySchema = schema
	}
}

// WithMaxBodySize caps how many request-body bytes are buffered for schema
// validation. Larger bodies pass through unvalidated.
//
// Default: 1 MiB
func WithMaxBodySize(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxBodySize = n
		}
	}
}

// WithLogger sets the logger for cache-failure and replay diagnostics.
//
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDisabled turns the whole mechanism off; adapters pass every request
// straight through. Useful as a deployment kill switch.
func WithDisabled(disabled bool) Option {
	return func(c *config) {
		c.disabled = disabled
	}
}
