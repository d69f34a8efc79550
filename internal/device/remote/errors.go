package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds for remote errors.
var (
	ErrNotFound = errors.New("remote: not found")
	ErrRejected = errors.New("remote: request rejected")
	ErrServer   = errors.New("remote: server error")
)

// APIError is a non-2xx response decoded from the {code, message} body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("remote: %d %s: %s", e.Status, e.Code, e.Message)
}

// Is maps statuses onto the sentinel kinds.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrRejected:
		return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusNotFound
	case ErrServer:
		return e.Status >= 500
	}
	return false
}

// RemoteWriteError reports a failed vote write. Callers decide whether to
// surface or swallow it.
type RemoteWriteError struct {
	SpotID string
	Err    error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("remote write for spot %s failed: %v", e.SpotID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }
