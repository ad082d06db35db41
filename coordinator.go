package idempotency

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// ExecFunc runs the downstream work for one key and returns the captured
// response. HTTP adapters wrap the next handler in one of these; direct
// callers can wrap any operation whose result fits a CachedResponse.
type ExecFunc func(ctx context.Context) (*CachedResponse, error)

// Outcome reports how a Do call was served.
type Outcome int

const (
	// OutcomeExecuted means this call was the leader and ran the work.
	OutcomeExecuted Outcome = iota
	// OutcomeReplayed means the response came from the response cache.
	OutcomeReplayed
	// OutcomeCoalesced means the response came from a concurrent leader's
	// flight.
	OutcomeCoalesced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExecuted:
		return "executed"
	case OutcomeReplayed:
		return "replayed"
	case OutcomeCoalesced:
		return "coalesced"
	default:
		return "unknown"
	}
}

// Coordinator runs the idempotency protocol: response-cache lookup,
// leader election through the in-flight registry, execution with capture,
// and replay. One coordinator serves one middleware (or one direct
// caller); all of its state is process-local except the response cache.
type Coordinator struct {
	cfg      config
	methods  map[string]struct{}
	optOut   map[string]struct{}
	registry *Registry
}

// New creates a Coordinator.
//
// Default configuration:
//   - X-Idempotency-Key header, any non-blank key accepted
//   - In-memory cache bounded to DefaultCacheCapacity entries, 24-hour TTL
//   - POST, PUT, PATCH on resolved routes and paths under /api/
//   - Responses with status < 500 cached
//
// Use functional options to customize:
//
//	coord := idempotency.New(
//	    idempotency.WithTTL(30 * time.Minute),
//	    idempotency.WithCache(cache.NewRedis(rdb)),
//	)
func New(opts ...Option) *Coordinator {
	cfg := config{
		header:      DefaultHeader,
		ttl:         DefaultTTL,
		methods:     DefaultMethods(),
		policy:      DefaultRoutePolicy(),
		keyScope:    ScopeGlobal,
		cacheable:   func(status int) bool { return status < 500 },
		maxBodySize: DefaultMaxBodySize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cache == nil {
		cfg.cache = NewMemoryCache(DefaultCacheCapacity)
	}

	methods := make(map[string]struct{}, len(cfg.methods))
	for _, m := range cfg.methods {
		methods[strings.ToUpper(m)] = struct{}{}
	}
	optOut := make(map[string]struct{}, len(cfg.optOut))
	for _, route := range cfg.optOut {
		optOut[route] = struct{}{}
	}

	return &Coordinator{
		cfg:      cfg,
		methods:  methods,
		optOut:   optOut,
		registry: NewRegistry(),
	}
}

// Do executes exec under the idempotency protocol for key.
//
// The first caller for a live key becomes the leader: it runs exec, its
// response is cached when the status qualifies, and its flight is resolved
// so concurrent callers receive the same response or error. Callers
// arriving while the flight is live coalesce onto it; callers arriving
// after completion replay from the cache. The leader always receives its
// own live result.
//
// Cache failures never fail the call: reads degrade to misses and writes
// are logged and dropped, with followers still served from the flight.
// The in-flight registration is released on every exit path, including
// a panicking exec.
func (c *Coordinator) Do(ctx context.Context, key string, exec ExecFunc) (*CachedResponse, Outcome, error) {
	if cached, err := c.cfg.cache.Get(ctx, key); err != nil {
		// Degrade to a miss; coalescing still protects this process.
		c.cfg.logger.Warn("idempotency cache read failed", "key", key, "error", err)
	} else if cached != nil {
		c.cfg.logger.Debug("replaying cached response", "key", key, "status", cached.StatusCode)
		return cached, OutcomeReplayed, nil
	}

	flight, leader := c.registry.CheckAndMark(key)
	if !leader {
		// Wait for the in-flight execution, respecting context cancellation.
		resp, err := flight.Wait(ctx)
		if err != nil {
			return nil, OutcomeCoalesced, err
		}
		return resp, OutcomeCoalesced, nil
	}

	resolved := false
	defer func() {
		if !resolved {
			// exec panicked; release waiters before unwinding continues.
			c.registry.Fail(key, flight, ErrExecutionAborted)
		}
	}()

	resp, err := exec(ctx)
	if err != nil {
		// Don't cache failures - the error resolves the flight so
		// followers fail the same way, and later requests retry fresh.
		resolved = true
		c.registry.Fail(key, flight, err)
		return nil, OutcomeExecuted, err
	}
	if resp == nil {
		resolved = true
		c.registry.Fail(key, flight, ErrExecutionAborted)
		return nil, OutcomeExecuted, ErrExecutionAborted
	}

	if c.cfg.cacheable(resp.StatusCode) {
		if err := c.cfg.cache.Put(ctx, key, resp, c.cfg.ttl); err != nil {
			// The flight still carries the response, so followers are
			// unaffected by the lost write.
			c.cfg.logger.Warn("idempotency cache write failed", "key", key, "error", err)
		}
	}

	resolved = true
	c.registry.Complete(key, flight, resp)
	return resp, OutcomeExecuted, nil
}

// Enabled reports whether handling is on at all; adapters pass requests
// straight through when it is not.
func (c *Coordinator) Enabled() bool {
	return !c.cfg.disabled
}

// AppliesTo reports whether a request is subject to idempotency handling:
// its method is in the configured set, it has not opted out, and the route
// policy engages it. route is the framework-resolved pattern, empty when
// unknown.
func (c *Coordinator) AppliesTo(method, route, path string) bool {
	if _, ok := c.methods[strings.ToUpper(method)]; !ok {
		return false
	}
	if route != "" {
		if _, ok := c.optOut[route]; ok {
			return false
		}
	}
	if _, ok := c.optOut[path]; ok {
		return false
	}
	return c.cfg.policy.Engaged(route, path)
}

// Key extracts and validates the idempotency key from h. An empty key
// with a nil error means the header is absent and the request passes
// through unprotected.
func (c *Coordinator) Key(h http.Header) (string, error) {
	return keyFromHeader(h, c.cfg.header, c.cfg.keyValidator)
}

// CacheKey maps a client key to the cache key under the configured scope.
// route falls back to the raw path on adapters without route resolution.
func (c *Coordinator) CacheKey(method, route, key string) string {
	if c.cfg.keyScope == ScopePerRoute {
		return method + ":" + route + ":" + key
	}
	return key
}

// HeaderName returns the configured key header, for diagnostics.
func (c *Coordinator) HeaderName() string {
	return c.cfg.header
}

// ReplayHeader returns the marker header to set on replayed and coalesced
// responses, or "" when marking is off.
func (c *Coordinator) ReplayHeader() string {
	if c.cfg.replayHeader {
		return ReplayMarkerHeader
	}
	return ""
}
