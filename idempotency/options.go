package idempotency

import (
	"time"

	"github.com/lojacheckout/paylink"
)

// Defaults
const (
	DefaultReplayTTL  = paylink.DefaultReplayTTL
	DefaultRateLimit  = paylink.DefaultRateLimit
	DefaultRateWindow = paylink.DefaultRateWindow
	DefaultKeyPrefix  = "paylink:"
)

// config holds the settings shared by every store.
type config struct {
	replayTTL  time.Duration
	rateLimit  int
	rateWindow time.Duration
	keyPrefix  string
	now        func() time.Time
}

func newConfig(opts []Option) config {
	c := config{
		replayTTL:  DefaultReplayTTL,
		rateLimit:  DefaultRateLimit,
		rateWindow: DefaultRateWindow,
		keyPrefix:  DefaultKeyPrefix,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Option configures a store.
type Option func(*config)

// WithReplayTTL sets how long an applied transaction id is remembered.
//
// Default: 1 hour
func WithReplayTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.replayTTL = ttl
		}
	}
}

// WithRateLimit sets the number of requests a source may make per window.
//
// Default: 30 per minute
func WithRateLimit(limit int, window time.Duration) Option {
	return func(c *config) {
		if limit > 0 {
			c.rateLimit = limit
		}
		if window > 0 {
			c.rateWindow = window
		}
	}
}

// WithGatewayConfig takes the replay window and rate limit from the gateway config
func WithGatewayConfig(cfg paylink.GatewayConfig) Option {
	return func(c *config) {
		WithReplayTTL(cfg.ReplayTTL)(c)
		WithRateLimit(cfg.RateLimit, cfg.RateWindow)(c)
	}
}

// WithKeyPrefix namespaces the keys a shared backend writes.
//
// Only applies to RedisStore.
func WithKeyPrefix(prefix string) Option {
	return func(c *config) {
		c.keyPrefix = prefix
	}
}

// WithClock replaces time.Now.
//
// Only applies to InMemoryStore; Redis expires keys on its own clock.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// sourceKey names the rate-limit bucket for a client address
func sourceKey(clientIP string) string {
	if clientIP == "" {
		return "unknown"
	}
	return clientIP
}
