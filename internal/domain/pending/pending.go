// Package pending guards in-flight vote actions so a second action on the
// same spot cannot race the first.
package pending

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Claim identifies one successful TryBegin. The zero Claim is never issued.
type Claim uint64

// Guard records keys with an action in flight.
type Guard interface {
	// TryBegin atomically claims key. It returns false when key is already
	// held by a live action, or when the guard is full.
	TryBegin(ctx context.Context, key string) (Claim, bool)

	// Done releases key if claim still owns it. Releasing a key that is not
	// held, or that was taken over since, is a no-op.
	Done(ctx context.Context, key string, claim Claim)

	Size() int64
}

type hold struct {
	since time.Time
	claim Claim
}

// inMemoryGuard implements Guard with a map of holds.
// A hold older than maxHold is stale and may be taken over; the old holder's
// Done then no longer matches and leaves the new hold in place.
type inMemoryGuard struct {
	mu      sync.Mutex
	held    map[string]hold
	seq     Claim
	maxSize int           // maximum concurrent holds (0 or negative = unbounded)
	maxHold time.Duration // 0 = holds never expire
	now     func() time.Time
	size    atomic.Int64
}

// New creates a guard with configuration options.
func New(opts ...Option) Guard {
	g := &inMemoryGuard{
		held: make(map[string]hold),
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func (g *inMemoryGuard) TryBegin(_ context.Context, key string) (Claim, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if h, ok := g.held[key]; ok {
		if g.maxHold <= 0 || now.Sub(h.since) < g.maxHold {
			return 0, false
		}
		// stale hold: take it over without changing size
		return g.claim(key, now), true
	}

	if g.maxSize > 0 && len(g.held) >= g.maxSize {
		g.evictStale(now)
		if len(g.held) >= g.maxSize {
			return 0, false
		}
	}

	g.size.Add(1)
	return g.claim(key, now), true
}

// claim issues a fresh hold. Must be called with g.mu held.
func (g *inMemoryGuard) claim(key string, now time.Time) Claim {
	g.seq++
	g.held[key] = hold{since: now, claim: g.seq}
	return g.seq
}

func (g *inMemoryGuard) Done(_ context.Context, key string, claim Claim) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if h, ok := g.held[key]; ok && h.claim == claim {
		delete(g.held, key)
		g.size.Add(-1)
	}
}

// evictStale drops expired holds. Must be called with g.mu held.
func (g *inMemoryGuard) evictStale(now time.Time) {
	if g.maxHold <= 0 {
		return
	}
	for k, h := range g.held {
		if now.Sub(h.since) >= g.maxHold {
			delete(g.held, k)
			g.size.Add(-1)
		}
	}
}

// Size returns the number of holds, stale ones included.
func (g *inMemoryGuard) Size() int64 {
	return g.size.Load()
}
