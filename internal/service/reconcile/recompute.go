// Package reconcile keeps milestone progress consistent with the state of
// the tasks linked to it.
//
// Two triggers may recompute the same milestone concurrently. Each performs
// an independent read-modify-write, so the later write wins and can briefly
// store a stale percentage. Recompute is idempotent with respect to the
// current task state, so the next trigger (at the latest the periodic sweep)
// corrects it. A Locker narrows the window when one is configured.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"milestone-reconciler/internal/model"
	"milestone-reconciler/pkg/logger"
	"milestone-reconciler/pkg/metrics"
	"milestone-reconciler/pkg/otel"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type MilestoneStore interface {
	FindByID(ctx context.Context, id string) (*model.Milestone, error)
	ListByProject(ctx context.Context, projectID string) ([]model.Milestone, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]model.Milestone, error)
	CountByStatus(ctx context.Context, status string) (int, error)
	UpdateProgress(ctx context.Context, id string, progress int, status string, updatedAt time.Time) error
}

type TaskStore interface {
	FindMilestoneID(ctx context.Context, taskID string) (*string, error)
}

type ProgressCalculator interface {
	Calculate(ctx context.Context, milestoneID string) (model.ProgressSnapshot, error)
}

// Locker serialises recomputes of one milestone. Acquire never fails hard:
// when the lock is unavailable the caller proceeds unlocked.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool)
}

// Result of one recompute. Skipped results carry no change.
type Result struct {
	Skipped bool
	Change  model.MilestoneChange
}

type Recomputer struct {
	milestones MilestoneStore
	calculator ProgressCalculator
	locker     Locker
	logger     *zap.Logger
	now        func() time.Time
}

func NewRecomputer(milestones MilestoneStore, calculator ProgressCalculator, logger *zap.Logger) *Recomputer {
	return &Recomputer{
		milestones: milestones,
		calculator: calculator,
		logger:     logger,
		now:        time.Now,
	}
}

// WithLocker enables per-milestone locking.
func (r *Recomputer) WithLocker(l Locker) *Recomputer {
	r.locker = l
	return r
}

// Recompute loads the milestone, skips it when completed, otherwise derives
// progress and status from its tasks and persists them. The change is
// returned even when the percentage did not move.
func (r *Recomputer) Recompute(ctx context.Context, milestoneID string) (res Result, err error) {
	ctx, span := otel.StartSpan(ctx, "reconcile.recompute")
	span.SetAttributes(attribute.String("milestone.id", milestoneID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := logger.WithTrace(ctx, r.logger).With(zap.String("milestone_id", milestoneID))

	if r.locker != nil {
		release, _ := r.locker.Acquire(ctx, milestoneID)
		defer release()
	}

	milestone, err := r.milestones.FindByID(ctx, milestoneID)
	if err != nil {
		metrics.IncrementRecompute("error")
		if errors.Is(err, model.ErrMilestoneNotFound) {
			log.Warn("Milestone not found")
			return Result{}, fmt.Errorf("Milestone not found: %s", milestoneID)
		}
		log.Error("Failed to load milestone", zap.Error(err))
		return Result{}, fmt.Errorf("failed to load milestone %s: %w", milestoneID, err)
	}

	if milestone.Status == model.StatusCompleted {
		metrics.IncrementRecompute("skipped")
		log.Debug("Milestone already completed, skipping")
		span.SetAttributes(attribute.Bool("milestone.skipped", true))
		return Result{Skipped: true}, nil
	}

	snapshot, err := r.calculator.Calculate(ctx, milestoneID)
	if err != nil {
		metrics.IncrementRecompute("error")
		log.Error("Failed to calculate progress", zap.Error(err))
		return Result{}, err
	}

	status := NextStatus(milestone.Status, snapshot.ProgressPercentage)
	updatedAt := r.now()
	if err := r.milestones.UpdateProgress(ctx, milestoneID, snapshot.ProgressPercentage, status, updatedAt); err != nil {
		metrics.IncrementRecompute("error")
		log.Error("Failed to persist milestone progress", zap.Error(err))
		return Result{}, fmt.Errorf("failed to update milestone %s: %w", milestoneID, err)
	}

	change := model.MilestoneChange{
		MilestoneID:    milestoneID,
		OldProgress:    milestone.ProgressPercentage,
		NewProgress:    snapshot.ProgressPercentage,
		TaskCount:      snapshot.TotalTasks,
		CompletedTasks: snapshot.CompletedTasks,
		UpdatedAt:      updatedAt,
	}

	if change.Changed() {
		metrics.IncrementRecompute("changed")
		log.Info("Milestone progress updated",
			zap.Int("old_progress", change.OldProgress),
			zap.Int("new_progress", change.NewProgress),
			zap.String("status", status),
			zap.Int("task_count", change.TaskCount),
			zap.Int("completed_tasks", change.CompletedTasks),
		)
	} else {
		metrics.IncrementRecompute("unchanged")
		log.Debug("Milestone progress unchanged", zap.Int("progress", change.NewProgress))
	}

	span.SetAttributes(
		attribute.Int("milestone.old_progress", change.OldProgress),
		attribute.Int("milestone.new_progress", change.NewProgress),
	)
	return Result{Change: change}, nil
}

// NextStatus derives the milestone status from its percentage. Zero keeps the
// current status so on_hold or not_started milestones are not reset.
func NextStatus(current string, percentage int) string {
	switch {
	case percentage >= 100:
		return model.StatusCompleted
	case percentage > 0:
		return model.StatusInProgress
	default:
		return current
	}
}
