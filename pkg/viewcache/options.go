package viewcache

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Cache
type Option func(*Cache)

// WithName sets the label used for metrics and logs
func WithName(name string) Option {
	return func(c *Cache) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger replaces the default component logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = l
	}
}

// WithProviderTimeout bounds every provider call. Zero means no timeout.
func WithProviderTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.providerTimeout = d
	}
}

// WithMaxEntries caps the number of cached boxes; the oldest entries go first.
// Zero means unlimited.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.maxEntries = n
		}
	}
}

// WithClock overrides time.Now for entry timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics toggles Prometheus instrumentation (on by default)
func WithMetrics(enabled bool) Option {
	return func(c *Cache) {
		c.metrics = enabled
	}
}
