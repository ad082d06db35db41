package idempotency

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config is the declarative counterpart to the functional options, shaped
// for loading from a service's configuration file. Zero values mean "use
// the default"; call Validate before use and Options to apply it.
type Config struct {
	// Disabled turns idempotency handling off entirely.
	Disabled bool `json:"disabled" yaml:"disabled"`

	// Header is the request header carrying the idempotency key.
	Header string `json:"header" yaml:"header" validate:"required"`

	// TTL is how long captured responses stay replayable.
	TTL time.Duration `json:"ttl" yaml:"ttl" validate:"gt=0"`

	// Methods are the HTTP methods subject to idempotency handling.
	Methods []string `json:"methods" yaml:"methods" validate:"min=1,dive,required"`

	// AllowPrefixes and DenyPrefixes configure the default PathPolicy.
	AllowPrefixes []string `json:"allowPrefixes" yaml:"allowPrefixes" validate:"dive,startswith=/"`
	DenyPrefixes  []string `json:"denyPrefixes" yaml:"denyPrefixes" validate:"dive,startswith=/"`

	// OptOutRoutes are exact routes excluded from handling.
	OptOutRoutes []string `json:"optOutRoutes" yaml:"optOutRoutes"`

	// MaxBodySize caps request-body buffering for schema validation.
	MaxBodySize int64 `json:"maxBodySize" yaml:"maxBodySize" validate:"min=0"`

	// ReplayHeader marks replayed responses with X-Idempotent-Replay.
	ReplayHeader bool `json:"replayHeader" yaml:"replayHeader"`
}

// DefaultConfig returns the configuration New applies when given no
// options: X-Idempotency-Key, 24-hour TTL, POST/PUT/PATCH, paths under
// /api/.
func DefaultConfig() Config {
	return Config{
		Header:        DefaultHeader,
		TTL:           DefaultTTL,
		Methods:       DefaultMethods(),
		AllowPrefixes: []string{"/api/"},
		MaxBodySize:   DefaultMaxBodySize,
	}
}

// Normalize fills zero-valued fields from DefaultConfig.
func (c Config) Normalize() Config {
	defaults := DefaultConfig()
	if c.Header == "" {
		c.Header = defaults.Header
	}
	if c.TTL == 0 {
		c.TTL = defaults.TTL
	}
	if len(c.Methods) == 0 {
		c.Methods = defaults.Methods
	}
	if c.AllowPrefixes == nil {
		c.AllowPrefixes = defaults.AllowPrefixes
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = defaults.MaxBodySize
	}
	return c
}

// Validate checks the configuration. Call it on the normalized form;
// loading code typically runs cfg.Normalize().Validate().
func (c Config) Validate() error {
	return validate.Struct(c)
}

// Options translates the configuration into functional options for New.
func (c Config) Options() []Option {
	opts := []Option{
		WithDisabled(c.Disabled),
		WithHeader(c.Header),
		WithTTL(c.TTL),
		WithMethods(c.Methods...),
		WithRoutePolicy(PathPolicy{Allow: c.AllowPrefixes, Deny: c.DenyPrefixes}),
		WithMaxBodySize(c.MaxBodySize),
	}
	if len(c.OptOutRoutes) > 0 {
		opts = append(opts, WithOptOut(c.OptOutRoutes...))
	}
	if c.ReplayHeader {
		opts = append(opts, WithReplayHeader())
	}
	return opts
}
