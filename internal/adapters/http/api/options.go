package api

import "github.com/okian/mapthewalls/pkg/logger"

type serverConfig struct {
	maxUpload int
	log       logger.Logger
}

// Option configures NewServer.
type Option func(*serverConfig)

// WithMaxUpload caps POST /photos bodies.
func WithMaxUpload(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxUpload = n
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.log = l
		}
	}
}
