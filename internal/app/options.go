package service

import (
	"time"

	"github.com/okian/mapthewalls/internal/adapters/objectstore"
	"github.com/okian/mapthewalls/internal/adapters/repository"
	"github.com/okian/mapthewalls/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the spot and vote store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithCache sets the summary cache.
func WithCache(c SummaryCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithBucket sets the photo bucket.
func WithBucket(b objectstore.Bucket) Option {
	return func(s *Service) {
		if b != nil {
			s.bucket = b
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAdminToken enables admin operations guarded by token.
func WithAdminToken(token string) Option {
	return func(s *Service) {
		s.adminToken = token
	}
}

// WithPhotoBudget sets the compressed photo size target in bytes.
func WithPhotoBudget(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.photoBudget = n
		}
	}
}

// WithJanitorSchedule sets the cron spec for photo deletion retries.
func WithJanitorSchedule(spec string) Option {
	return func(s *Service) {
		if spec != "" {
			s.janitorSchedule = spec
		}
	}
}

// WithListLimit caps how many spots one list call returns.
func WithListLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.listLimit = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
