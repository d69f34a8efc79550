package repository

import (
	"time"

	"github.com/okian/mapthewalls/pkg/logger"
)

// Option applies a configuration option to the PostgresStore.
type Option func(*PostgresStore)

// WithMaxConns bounds the pool size.
func WithMaxConns(n int32) Option {
	return func(s *PostgresStore) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithConnectRetries sets how many times the initial connect is attempted
// and the pause between attempts.
func WithConnectRetries(attempts int, interval time.Duration) Option {
	return func(s *PostgresStore) {
		if attempts > 0 {
			s.connectAttempts = attempts
		}
		if interval > 0 {
			s.retryInterval = interval
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *PostgresStore) {
		if l != nil {
			s.log = l
		}
	}
}

// MemOption applies a configuration option to the MemStore.
type MemOption func(*MemStore)

// WithClock overrides the time source used for vote timestamps.
func WithClock(now func() time.Time) MemOption {
	return func(s *MemStore) {
		if now != nil {
			s.now = now
		}
	}
}
