package queue

import "errors"

// Sentinel kinds for enqueue failures.
var (
	ErrClosed = errors.New("mirror queue closed")
	ErrFull   = errors.New("mirror queue full")
)
