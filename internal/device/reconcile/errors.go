package reconcile

import "errors"

// Sentinel kinds for reconciliation errors.
var (
	ErrPending           = errors.New("another vote on this spot is in flight")
	ErrTimeout           = errors.New("vote timed out, try again")
	ErrUnknownPolicy     = errors.New("unknown reconciliation policy")
	ErrMissingDependency = errors.New("reconciler dependency missing")
)
