// Package scheduler runs the periodic sweep over in_progress milestones.
package scheduler

import (
	"context"
	"sync"
	"time"

	"milestone-reconciler/internal/config"
	"milestone-reconciler/internal/model"
	"milestone-reconciler/pkg/logger"
	"milestone-reconciler/pkg/trace"

	"go.uber.org/zap"
)

type sweeper interface {
	Sweep(ctx context.Context, limit int) model.ReconciliationReport
}

// LastRun summarises the most recent sweep.
type LastRun struct {
	Trigger        string    `json:"trigger"`
	StartedAt      time.Time `json:"started_at"`
	Duration       string    `json:"duration"`
	Success        bool      `json:"success"`
	TotalProcessed int       `json:"total_processed"`
	UpdatedCount   int       `json:"updated_count"`
	ErrorCount     int       `json:"error_count"`
}

// Status is the read-only view of the schedule.
type Status struct {
	Enabled    bool     `json:"enabled"`
	Interval   string   `json:"interval"`
	Limit      int      `json:"limit"`
	RunOnStart bool     `json:"run_on_start"`
	LastRun    *LastRun `json:"last_run"`
}

type Runner struct {
	sweeper    sweeper
	enabled    bool
	runOnStart bool
	interval   time.Duration
	limit      int
	logger     *zap.Logger

	mu      sync.Mutex
	lastRun *LastRun
	done    chan struct{}
}

func NewRunner(s sweeper, cfg config.SchedulerConfig, logger *zap.Logger) *Runner {
	return &Runner{
		sweeper:    s,
		enabled:    cfg.Enabled,
		runOnStart: cfg.RunOnStart,
		interval:   cfg.IntervalDuration(),
		limit:      cfg.Limit,
		logger:     logger,
	}
}

// Start launches the ticker goroutine. It stops when ctx is cancelled; Wait
// blocks until then.
func (r *Runner) Start(ctx context.Context) {
	r.done = make(chan struct{})
	if !r.enabled {
		r.logger.Info("Scheduler disabled")
		close(r.done)
		return
	}

	r.logger.Info("Starting scheduler",
		zap.Duration("interval", r.interval),
		zap.Int("limit", r.limit),
		zap.Bool("run_on_start", r.runOnStart),
	)

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		if r.runOnStart {
			r.RunOnce(ctx, "startup", r.limit)
		}

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Scheduler stopped")
				return
			case <-ticker.C:
				r.RunOnce(ctx, "ticker", r.limit)
			}
		}
	}()
}

// Wait blocks until the ticker goroutine has returned.
func (r *Runner) Wait() {
	if r.done != nil {
		<-r.done
	}
}

// RunOnce sweeps immediately. limit <= 0 uses the configured limit.
func (r *Runner) RunOnce(ctx context.Context, trigger string, limit int) model.ReconciliationReport {
	if limit <= 0 {
		limit = r.limit
	}
	if trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	}
	log := logger.WithTrace(ctx, r.logger)
	log.Info("Running sweep", zap.String("trigger", trigger), zap.Int("limit", limit))

	start := time.Now()
	report := r.sweeper.Sweep(ctx, limit)
	took := time.Since(start)

	r.mu.Lock()
	r.lastRun = &LastRun{
		Trigger:        trigger,
		StartedAt:      start,
		Duration:       took.String(),
		Success:        report.Success,
		TotalProcessed: report.TotalProcessed,
		UpdatedCount:   len(report.UpdatedMilestones),
		ErrorCount:     len(report.Errors),
	}
	r.mu.Unlock()

	if !report.Success {
		log.Warn("Sweep finished with errors",
			zap.String("trigger", trigger),
			zap.Strings("errors", report.Errors),
		)
	}
	return report
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	var last *LastRun
	if r.lastRun != nil {
		copied := *r.lastRun
		last = &copied
	}
	return Status{
		Enabled:    r.enabled,
		Interval:   r.interval.String(),
		Limit:      r.limit,
		RunOnStart: r.runOnStart,
		LastRun:    last,
	}
}
