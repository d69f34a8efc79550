package cache

import (
	"time"

	"github.com/okian/mapthewalls/pkg/logger"
)

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithTTL sets how long summaries live.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithDialTimeout bounds the initial ping.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}
