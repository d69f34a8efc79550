package localstore

import "github.com/okian/mapthewalls/pkg/logger"

// Option configures Open.
type Option func(*Store)

// WithQuota caps the total size of stored values in bytes.
func WithQuota(bytes int64) Option {
	return func(s *Store) {
		if bytes > 0 {
			s.quota = bytes
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}
