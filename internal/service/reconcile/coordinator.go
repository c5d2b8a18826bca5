package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"milestone-reconciler/internal/model"
	"milestone-reconciler/pkg/logger"
	"milestone-reconciler/pkg/metrics"

	"go.uber.org/zap"
)

// DefaultSweepLimit bounds a sweep when the caller gives no limit.
const DefaultSweepLimit = 50

type recomputer interface {
	Recompute(ctx context.Context, milestoneID string) (Result, error)
}

// Coordinator fans a trigger out to one or more milestones and folds the
// per-milestone outcomes into a single report. Milestones are processed
// sequentially in a stable order.
type Coordinator struct {
	recomputer recomputer
	milestones MilestoneStore
	tasks      TaskStore
	logger     *zap.Logger
}

func NewCoordinator(r recomputer, milestones MilestoneStore, tasks TaskStore, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		recomputer: r,
		milestones: milestones,
		tasks:      tasks,
		logger:     logger,
	}
}

// ByMilestone recomputes a single milestone.
func (c *Coordinator) ByMilestone(ctx context.Context, milestoneID string) model.ReconciliationReport {
	start := time.Now()
	defer func() { metrics.RecordBatchDuration("milestone", time.Since(start)) }()
	return c.process(ctx, milestoneID)
}

// ByTask recomputes the milestone the task is linked to. An unlinked task is
// not an error and yields an empty successful report.
func (c *Coordinator) ByTask(ctx context.Context, taskID string) model.ReconciliationReport {
	start := time.Now()
	defer func() { metrics.RecordBatchDuration("task", time.Since(start)) }()

	log := logger.WithTrace(ctx, c.logger).With(zap.String("task_id", taskID))
	report := model.NewReport()

	milestoneID, err := c.tasks.FindMilestoneID(ctx, taskID)
	if err != nil {
		if errors.Is(err, model.ErrTaskNotFound) {
			log.Warn("Task not found")
			report.AddError(fmt.Sprintf("Task not found: %s", taskID))
			return report
		}
		log.Error("Failed to load task", zap.Error(err))
		report.AddError(fmt.Sprintf("failed to load task %s: %v", taskID, err))
		return report
	}
	if milestoneID == nil || *milestoneID == "" {
		log.Debug("Task is not linked to a milestone")
		return report
	}

	return c.process(ctx, *milestoneID)
}

// ByProject recomputes every milestone of the project in creation order.
func (c *Coordinator) ByProject(ctx context.Context, projectID string) model.ReconciliationReport {
	start := time.Now()
	defer func() { metrics.RecordBatchDuration("project", time.Since(start)) }()

	log := logger.WithTrace(ctx, c.logger).With(zap.String("project_id", projectID))
	report := model.NewReport()

	milestones, err := c.milestones.ListByProject(ctx, projectID)
	if err != nil {
		log.Error("Failed to list project milestones", zap.Error(err))
		report.AddError(fmt.Sprintf("failed to list milestones for project %s: %v", projectID, err))
		return report
	}

	c.run(ctx, log, milestones, &report)

	log.Info("Project reconciliation finished",
		zap.Int("milestones", len(milestones)),
		zap.Int("total_processed", report.TotalProcessed),
		zap.Int("updated", len(report.UpdatedMilestones)),
		zap.Int("errors", len(report.Errors)),
	)
	return report
}

// Sweep recomputes up to limit in_progress milestones, least recently updated first.
func (c *Coordinator) Sweep(ctx context.Context, limit int) model.ReconciliationReport {
	start := time.Now()
	defer func() { metrics.RecordBatchDuration("sweep", time.Since(start)) }()

	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	log := logger.WithTrace(ctx, c.logger).With(zap.Int("limit", limit))
	report := model.NewReport()

	milestones, err := c.milestones.ListByStatus(ctx, model.StatusInProgress, limit)
	if err != nil {
		log.Error("Failed to list in-progress milestones", zap.Error(err))
		report.AddError(fmt.Sprintf("failed to list in_progress milestones: %v", err))
		return report
	}

	c.run(ctx, log, milestones, &report)

	log.Info("Sweep finished",
		zap.Int("candidates", len(milestones)),
		zap.Int("total_processed", report.TotalProcessed),
		zap.Int("updated", len(report.UpdatedMilestones)),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("took", time.Since(start)),
	)
	return report
}

// Due lists the milestones a sweep with the given limit would visit, and the
// total number of in_progress milestones. It never writes.
func (c *Coordinator) Due(ctx context.Context, limit int) ([]model.Milestone, int, error) {
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	count, err := c.milestones.CountByStatus(ctx, model.StatusInProgress)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count in_progress milestones: %w", err)
	}
	milestones, err := c.milestones.ListByStatus(ctx, model.StatusInProgress, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list in_progress milestones: %w", err)
	}
	return milestones, count, nil
}

// run processes milestones one by one. A cancelled context stops the batch
// and keeps what was aggregated so far; each processed milestone is already
// committed, so a retry from scratch is safe.
func (c *Coordinator) run(ctx context.Context, log *zap.Logger, milestones []model.Milestone, report *model.ReconciliationReport) {
	for i, m := range milestones {
		if err := ctx.Err(); err != nil {
			log.Warn("Batch interrupted",
				zap.Int("processed", i),
				zap.Int("remaining", len(milestones)-i),
				zap.Error(err),
			)
			return
		}
		report.Merge(c.process(ctx, m.ID))
	}
}

// process turns one recompute into a sub-report. Only changed milestones are
// listed; unchanged ones still count as processed, skipped ones do not.
func (c *Coordinator) process(ctx context.Context, milestoneID string) (report model.ReconciliationReport) {
	report = model.NewReport()

	defer func() {
		if r := recover(); r != nil {
			logger.WithTrace(ctx, c.logger).Error("Recompute panic recovered",
				zap.String("milestone_id", milestoneID),
				zap.Any("panic", r),
			)
			report = model.NewReport()
			report.AddError(fmt.Sprintf("unexpected error processing milestone %s: %v", milestoneID, r))
		}
	}()

	res, err := c.recomputer.Recompute(ctx, milestoneID)
	if err != nil {
		report.AddError(err.Error())
		return report
	}
	if res.Skipped {
		return report
	}

	report.TotalProcessed = 1
	if res.Change.Changed() {
		report.UpdatedMilestones = append(report.UpdatedMilestones, res.Change)
	}
	return report
}
