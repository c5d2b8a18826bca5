// Package dispatch hands recompute requests off the webhook's request path.
// Work is queued on a bounded pool and executed against a Target; callers
// never wait for, or learn about, the outcome.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"milestone-reconciler/pkg/logger"
	"milestone-reconciler/pkg/metrics"
	"milestone-reconciler/pkg/trace"

	"go.uber.org/zap"
)

var (
	ErrQueueFull  = errors.New("dispatch queue is full")
	ErrPoolClosed = errors.New("dispatch pool is closed")
)

// Target performs the recompute for one milestone.
type Target interface {
	Name() string
	Recompute(ctx context.Context, milestoneID string) error
}

type job struct {
	ctx         context.Context
	milestoneID string
}

type Pool struct {
	target  Target
	jobs    chan job
	workers int
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(target Target, workers, queueSize int, timeout time.Duration, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		target:  target,
		jobs:    make(chan job, queueSize),
		workers: workers,
		timeout: timeout,
		logger:  logger,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.logger.Info("Starting dispatch pool",
		zap.String("target", p.target.Name()),
		zap.Int("workers", p.workers),
		zap.Int("queue_size", cap(p.jobs)),
		zap.Duration("timeout", p.timeout),
	)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Dispatch enqueues a recompute without blocking. The request context is not
// carried over, only its trace id.
func (p *Pool) Dispatch(ctx context.Context, milestoneID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job{ctx: trace.Detach(ctx), milestoneID: milestoneID}:
		return nil
	default:
		metrics.IncrementDispatch(p.target.Name(), "dropped")
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued jobs to finish or ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Dispatch pool drained")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Dispatch pool shutdown timed out", zap.Int("pending", len(p.jobs)))
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	log := logger.WithTrace(j.ctx, p.logger).With(
		zap.String("milestone_id", j.milestoneID),
		zap.String("target", p.target.Name()),
	)

	defer func() {
		if r := recover(); r != nil {
			metrics.IncrementDispatch(p.target.Name(), "failed")
			log.Error("Dispatch panic recovered", zap.Any("panic", r))
		}
	}()

	ctx := j.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := p.target.Recompute(ctx, j.milestoneID); err != nil {
		metrics.IncrementDispatch(p.target.Name(), "failed")
		log.Error("Best-effort milestone recompute failed",
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return
	}

	metrics.IncrementDispatch(p.target.Name(), "success")
	log.Debug("Milestone recompute dispatched", zap.Duration("took", time.Since(start)))
}
