package localstore

import "errors"

// Sentinel kinds for local store errors.
var (
	ErrQuotaExceeded = errors.New("local storage quota exceeded")
	ErrClosed        = errors.New("local store closed")
	ErrNewerSchema   = errors.New("local state written by a newer client")
)
