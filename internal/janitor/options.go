package janitor

import "github.com/okian/mapthewalls/pkg/logger"

// Option applies a configuration option to the Janitor.
type Option func(*Janitor)

// WithSchedule sets the cron spec, e.g. "@every 10m" or "*/10 * * * *".
func WithSchedule(spec string) Option {
	return func(j *Janitor) {
		if spec != "" {
			j.schedule = spec
		}
	}
}

// WithBatch bounds how many deletions one run attempts.
func WithBatch(n int) Option {
	return func(j *Janitor) {
		if n > 0 {
			j.batch = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(j *Janitor) {
		if l != nil {
			j.log = l
		}
	}
}
