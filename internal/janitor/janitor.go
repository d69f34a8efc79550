// Package janitor retries photo deletions that failed while deleting a spot.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/okian/mapthewalls/internal/adapters/objectstore"
	"github.com/okian/mapthewalls/internal/adapters/repository"
	"github.com/okian/mapthewalls/pkg/logger"
	"github.com/okian/mapthewalls/pkg/metrics"
)

const (
	defaultSchedule = "@every 10m"
	defaultBatch    = 100
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("janitor already started")

// Queue is the slice of the store the janitor drains.
type Queue interface {
	PendingPhotoDeletions(ctx context.Context, limit int) ([]repository.PhotoDeletion, error)
	ClearPhotoDeletion(ctx context.Context, path string) error
	BumpPhotoDeletion(ctx context.Context, path string) error
}

// Deleter removes objects from the bucket.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Report summarizes one run.
type Report struct {
	Cleared int
	Failed  int
}

// Janitor runs RunOnce on a cron schedule.
type Janitor struct {
	queue    Queue
	bucket   Deleter
	schedule string
	batch    int
	log      logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
	run  sync.Mutex // one run at a time
}

// New creates a janitor.
func New(queue Queue, bucket Deleter, opts ...Option) *Janitor {
	j := &Janitor{
		queue:    queue,
		bucket:   bucket,
		schedule: defaultSchedule,
		batch:    defaultBatch,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RunOnce deletes up to one batch of queued photos.
func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	j.run.Lock()
	defer j.run.Unlock()

	var rep Report
	pending, err := j.queue.PendingPhotoDeletions(ctx, j.batch)
	if err != nil {
		metrics.RecordJanitorRun("error")
		return rep, fmt.Errorf("list pending deletions: %w", err)
	}

	for _, d := range pending {
		err := j.bucket.Delete(ctx, d.Path)
		if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			rep.Failed++
			metrics.RecordPhotoDeleteFailure()
			j.log.Warn(ctx, "photo deletion retry failed",
				logger.String("path", d.Path),
				logger.Int("attempts", d.Attempts+1),
				logger.Error(err))
			if bErr := j.queue.BumpPhotoDeletion(ctx, d.Path); bErr != nil {
				j.log.Error(ctx, "count deletion attempt", logger.String("path", d.Path), logger.Error(bErr))
			}
			continue
		}
		if err := j.queue.ClearPhotoDeletion(ctx, d.Path); err != nil {
			rep.Failed++
			j.log.Error(ctx, "clear photo deletion", logger.String("path", d.Path), logger.Error(err))
			continue
		}
		rep.Cleared++
	}

	outcome := "ok"
	if rep.Failed > 0 {
		outcome = "partial"
	}
	metrics.RecordJanitorRun(outcome)
	metrics.UpdatePhotoDeletionsPending(len(pending) - rep.Cleared)
	if len(pending) > 0 {
		j.log.Info(ctx, "janitor run finished",
			logger.Int("cleared", rep.Cleared),
			logger.Int("failed", rep.Failed))
	}
	return rep, nil
}

// Start schedules RunOnce. ctx bounds every scheduled run.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return ErrAlreadyStarted
	}

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.log.Error(ctx, "janitor run failed", logger.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("janitor schedule %q: %w", j.schedule, err)
	}
	c.Start()
	j.cron = c
	j.log.Info(ctx, "janitor started", logger.String("schedule", j.schedule))
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
