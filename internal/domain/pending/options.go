package pending

import "time"

// Option applies a configuration option to the guard.
type Option func(*inMemoryGuard)

// WithMaxSize caps concurrent holds. If maxSize <= 0 the guard is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(g *inMemoryGuard) {
		g.maxSize = maxSize
	}
}

// WithMaxHold lets a hold older than d be re-acquired.
func WithMaxHold(d time.Duration) Option {
	return func(g *inMemoryGuard) {
		if d > 0 {
			g.maxHold = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *inMemoryGuard) {
		if now != nil {
			g.now = now
		}
	}
}
