package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/guardian/internal/metrics"
	"github.com/jordanhubbard/guardian/pkg/messages"
)

var (
	// ErrPoolFull is returned by Submit when the queue has no free slot.
	ErrPoolFull = errors.New("worker pool queue is full")

	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Handler runs one learning job.
type Handler func(ctx context.Context, job *messages.LearningJob) error

// Tracker follows one submitted job. Started is called when a worker picks
// the job up. Finished is called exactly once, with the handler's error or
// with ErrPoolStopped when the pool shut down before running the job.
type Tracker interface {
	Started()
	Finished(err error)
}

type task struct {
	job     *messages.LearningJob
	tracker Tracker
}

func (t task) started() {
	if t.tracker != nil {
		t.tracker.Started()
	}
}

func (t task) finished(err error) {
	if t.tracker != nil {
		t.tracker.Finished(err)
	}
}

// Pool runs learning jobs on a fixed set of workers fed by a bounded queue.
type Pool struct {
	handler    Handler
	jobs       chan task
	logger     *zap.Logger
	metrics    *metrics.Metrics
	maxWorkers int

	mu      sync.RWMutex
	started bool
	stopped bool
	group   *errgroup.Group

	active    atomic.Int64
	processed atomic.Int64
}

// PoolStats contains statistics about the worker pool
type PoolStats struct {
	MaxWorkers int   `json:"max_workers"`
	QueueSize  int   `json:"queue_size"`
	Queued     int   `json:"queued"`
	Active     int64 `json:"active"`
	Processed  int64 `json:"processed"`
}

// NewPool creates a new worker pool
func NewPool(handler Handler, maxWorkers, queueSize int, logger *zap.Logger, m *metrics.Metrics) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		handler:    handler,
		jobs:       make(chan task, queueSize),
		logger:     logger.Named("worker_pool"),
		metrics:    m,
		maxWorkers: maxWorkers,
	}
}

// Start launches the workers. Jobs run with ctx; cancelling it abandons
// queued jobs, and their trackers see ErrPoolStopped.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.maxWorkers; i++ {
		workerID := i
		group.Go(func() error {
			p.work(gctx, workerID)
			return nil
		})
	}
	p.group = group
	p.logger.Info("worker pool started", zap.Int("workers", p.maxWorkers), zap.Int("queue_size", cap(p.jobs)))
}

// Submit enqueues a job without blocking. tracker may be nil. When Submit
// returns an error the tracker is never called.
func (p *Pool) Submit(job *messages.LearningJob, tracker Tracker) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- task{job: job, tracker: tracker}:
		p.metrics.JobQueued(1)
		return nil
	default:
		return ErrPoolFull
	}
}

// Stop closes the queue and waits for workers to finish the jobs already
// accepted, or for ctx to end. Jobs still queued when ctx ends are handed
// back to their trackers with ErrPoolStopped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	group := p.group
	p.mu.Unlock()

	if group == nil {
		p.abandonQueued()
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped", zap.Int64("processed", p.processed.Load()))
		return nil
	case <-ctx.Done():
		abandoned := p.abandonQueued()
		p.logger.Warn("worker pool stop timed out", zap.Int("abandoned", abandoned))
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

// GetPoolStats returns statistics about the pool
func (p *Pool) GetPoolStats() PoolStats {
	return PoolStats{
		MaxWorkers: p.maxWorkers,
		QueueSize:  cap(p.jobs),
		Queued:     len(p.jobs),
		Active:     p.active.Load(),
		Processed:  p.processed.Load(),
	}
}

func (p *Pool) work(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			p.abandonQueued()
			return
		}
		select {
		case <-ctx.Done():
			p.abandonQueued()
			return
		case t, ok := <-p.jobs:
			if !ok {
				return
			}
			p.metrics.JobQueued(-1)
			p.run(ctx, workerID, t)
		}
	}
}

// abandonQueued empties the queue without running anything and returns the
// number of jobs handed back.
func (p *Pool) abandonQueued() int {
	n := 0
	for {
		select {
		case t, ok := <-p.jobs:
			if !ok {
				return n
			}
			p.metrics.JobQueued(-1)
			t.finished(ErrPoolStopped)
			n++
		default:
			return n
		}
	}
}

func (p *Pool) run(ctx context.Context, workerID int, t task) {
	var err error
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.processed.Add(1)
		p.metrics.JobProcessed(string(t.job.Kind))
		if r := recover(); r != nil {
			p.logger.Error("learning job panicked",
				zap.Int("worker", workerID),
				zap.String("job_id", t.job.ID),
				zap.Any("panic", r))
			err = fmt.Errorf("learning job panicked: %v", r)
		}
		t.finished(err)
	}()

	t.started()
	err = p.handler(ctx, t.job)
}
