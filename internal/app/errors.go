package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrAdminDisabled = errors.New("admin operations are disabled")
	ErrUnauthorized  = errors.New("admin token required")
	ErrForbidden     = errors.New("admin token rejected")
)
