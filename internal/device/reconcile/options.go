package reconcile

import (
	"time"

	"github.com/okian/mapthewalls/internal/domain/pending"
	"github.com/okian/mapthewalls/pkg/logger"
)

// Option configures New.
type Option func(*Reconciler)

// WithTimeout bounds one remote-policy action, retries included.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithGuard replaces the in-flight guard.
func WithGuard(g pending.Guard) Option {
	return func(r *Reconciler) {
		if g != nil {
			r.guard = g
		}
	}
}

// WithLogger sets the reconciler logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}
