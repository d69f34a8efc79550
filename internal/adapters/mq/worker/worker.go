package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/okian/mapthewalls/internal/adapters/mq/queue"
	"github.com/okian/mapthewalls/internal/domain/model"
	"github.com/okian/mapthewalls/pkg/logger"
	"github.com/okian/mapthewalls/pkg/metrics"
)

const (
	defaultWorkers    = 2
	defaultJobTimeout = 10 * time.Second
	poolStopTimeout   = 5 * time.Second
	laneBuffer        = 16
)

// Mirror writes a vote to the remote store.
type Mirror interface {
	UpsertVote(ctx context.Context, in model.VoteInput) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.MirrorJob
}

// Worker processes mirror jobs.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)
	// Shutdown stops the worker once its current job is done.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker. It handles jobs strictly in the order
// its queue yields them.
type InMemoryWorker struct {
	queue      Queue
	mirror     Mirror
	name       string
	jobTimeout time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker reading from q and writing to m.
func NewInMemoryWorker(q Queue, m Mirror, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		mirror:     m,
		name:       "worker",
		jobTimeout: defaultJobTimeout,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("mirror"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			// mirror failures are logged, never rolled back
			if err := w.process(ctx, job); err != nil {
				w.logger.Warn(ctx, "vote mirror failed",
					logger.String("spot_id", job.Input.SpotID),
					logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, job queue.MirrorJob) error {
	start := time.Now()
	jctx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	err := w.mirror.UpsertVote(jctx, job.Input)
	metrics.RecordMirrorLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordMirrorResult("failed")
		return fmt.Errorf("mirror spot %s: %w", job.Input.SpotID, err)
	}
	metrics.RecordMirrorResult("ok")
	w.logger.Debug(ctx, "vote mirrored",
		logger.String("spot_id", job.Input.SpotID),
		logger.Int64("queued_ms", time.Since(job.EnqueuedAt).Milliseconds()))
	return nil
}

// lane is one worker's private ordered queue.
type lane chan queue.MirrorJob

func (l lane) Dequeue(context.Context) <-chan queue.MirrorJob { return l }

// Pool manages multiple workers over one queue. Jobs for the same spot
// always go to the same worker, so a later vote can never overtake an
// earlier one on the remote row.
type Pool struct {
	workers []*InMemoryWorker
	lanes   []lane
	queue   Queue
	logger  logger.Logger

	shutdown   chan struct{}
	dispatched chan struct{}
}

// NewPool creates a pool of workerCount workers. Options apply to each worker.
func NewPool(workerCount int, q Queue, m Mirror, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkers
	}
	p := &Pool{
		workers:    make([]*InMemoryWorker, workerCount),
		lanes:      make([]lane, workerCount),
		queue:      q,
		logger:     logger.Get().Named("mirror-pool"),
		shutdown:   make(chan struct{}),
		dispatched: make(chan struct{}),
	}
	for i := range p.workers {
		p.lanes[i] = make(lane, laneBuffer)
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(p.lanes[i], m, wopts...)
	}
	metrics.UpdateWorkerActiveCount(workerCount)
	return p
}

// Start runs the dispatcher and every worker in their own goroutines.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.dispatch(ctx)
}

// laneFor picks the worker owning spotID.
func (p *Pool) laneFor(spotID string) lane {
	h := fnv.New32a()
	_, _ = h.Write([]byte(spotID))
	return p.lanes[h.Sum32()%uint32(len(p.lanes))]
}

// dispatch routes queued jobs to lanes until the queue closes, then closes
// every lane so workers finish what they hold and exit.
func (p *Pool) dispatch(ctx context.Context) {
	defer close(p.dispatched)
	defer func() {
		for _, l := range p.lanes {
			close(l)
		}
	}()

	jobs := p.queue.Dequeue(ctx)
	for {
		var (
			job queue.MirrorJob
			ok  bool
		)
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case job, ok = <-jobs:
			if !ok {
				return
			}
		}
		if l, isLen := p.queue.(interface{ Len(context.Context) int }); isLen {
			l.Len(ctx)
		}
		select {
		case p.laneFor(job.Input.SpotID) <- job:
		case <-ctx.Done():
			return
		case <-p.shutdown:
			p.logger.Warn(ctx, "mirror job dropped on shutdown", logger.String("spot_id", job.Input.SpotID))
			return
		}
	}
}

func (p *Pool) closeQueue(ctx context.Context) {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
}

// Drain closes the queue and waits for workers to finish the jobs already
// queued, up to ctx.
func (p *Pool) Drain(ctx context.Context) error {
	p.closeQueue(ctx)
	select {
	case <-p.dispatched:
	case <-ctx.Done():
		p.logger.Warn(ctx, "dispatcher drain timed out")
		return fmt.Errorf("drain: %w", ctx.Err())
	}
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
			return fmt.Errorf("drain: %w", ctx.Err())
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}

// Shutdown stops workers without waiting for queued jobs. Jobs still in the
// queue or a lane are dropped.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeQueue(ctx)
	select {
	case <-p.shutdown:
	default:
		close(p.shutdown)
	}
	stopCtx, cancel := context.WithTimeout(ctx, poolStopTimeout)
	defer cancel()
	select {
	case <-p.dispatched:
	case <-stopCtx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", stopCtx.Err())
	}
	for i, w := range p.workers {
		if err := w.Shutdown(stopCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}
