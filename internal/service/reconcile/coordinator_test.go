package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"milestone-reconciler/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestByMilestoneReportsChange(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusInProgress, 25, f.now.Add(-time.Hour))
	f.tasks("m1", 4, 3)

	report := f.coordinator.ByMilestone(context.Background(), "m1")
	assert.True(t, report.Success)
	assert.Equal(t, 1, report.TotalProcessed)
	assert.Empty(t, report.Errors)
	require.Len(t, report.UpdatedMilestones, 1)
	assert.Equal(t, 25, report.UpdatedMilestones[0].OldProgress)
	assert.Equal(t, 75, report.UpdatedMilestones[0].NewProgress)
}

func TestByMilestoneIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusNotStarted, 0, f.now.Add(-time.Hour))
	f.tasks("m1", 2, 1)
	ctx := context.Background()

	first := f.coordinator.ByMilestone(ctx, "m1")
	require.Len(t, first.UpdatedMilestones, 1)

	second := f.coordinator.ByMilestone(ctx, "m1")
	assert.True(t, second.Success)
	assert.Equal(t, 1, second.TotalProcessed)
	assert.Empty(t, second.UpdatedMilestones)
	assert.NotNil(t, second.UpdatedMilestones)
	assert.Equal(t, 2, f.store.Writes())
}

func TestByMilestoneSkipDoesNotCount(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusCompleted, 100, f.now)
	f.tasks("m1", 3, 0)

	report := f.coordinator.ByMilestone(context.Background(), "m1")
	assert.True(t, report.Success)
	assert.Equal(t, 0, report.TotalProcessed)
	assert.Empty(t, report.UpdatedMilestones)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 0, f.store.Writes())
}

func TestByMilestoneZeroTasksIsProcessed(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusOnHold, 0, f.now)

	report := f.coordinator.ByMilestone(context.Background(), "m1")
	assert.True(t, report.Success)
	assert.Equal(t, 1, report.TotalProcessed)
	assert.Empty(t, report.UpdatedMilestones)

	m, _ := f.store.Milestone("m1")
	assert.Equal(t, model.StatusOnHold, m.Status)
}

func TestByMilestoneNotFound(t *testing.T) {
	f := newFixture(t)

	report := f.coordinator.ByMilestone(context.Background(), "ghost")
	assert.False(t, report.Success)
	assert.Equal(t, []string{"Milestone not found: ghost"}, report.Errors)
	assert.Equal(t, 0, report.TotalProcessed)
	assert.Empty(t, report.UpdatedMilestones)
}

func TestByTaskWithoutMilestone(t *testing.T) {
	f := newFixture(t)
	f.store.PutTask(model.Task{ID: "loose", StageID: stageDone})

	report := f.coordinator.ByTask(context.Background(), "loose")
	assert.Equal(t, model.ReconciliationReport{
		Success:           true,
		UpdatedMilestones: []model.MilestoneChange{},
		Errors:            []string{},
		TotalProcessed:    0,
	}, report)
	assert.Equal(t, 0, f.store.Writes())
}

func TestByTaskDelegatesToMilestone(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusNotStarted, 0, f.now)
	f.tasks("m1", 2, 1)

	report := f.coordinator.ByTask(context.Background(), "m1-t0")
	assert.True(t, report.Success)
	assert.Equal(t, 1, report.TotalProcessed)
	require.Len(t, report.UpdatedMilestones, 1)
	assert.Equal(t, 50, report.UpdatedMilestones[0].NewProgress)
}

func TestByTaskUnknownTask(t *testing.T) {
	f := newFixture(t)
	report := f.coordinator.ByTask(context.Background(), "nope")
	assert.False(t, report.Success)
	assert.Equal(t, []string{"Task not found: nope"}, report.Errors)
}

func TestByProjectAggregates(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusNotStarted, 0, f.now.Add(-2*time.Hour))
	f.tasks("m1", 2, 1)
	f.milestone("m2", "p1", model.StatusNotStarted, 0, f.now.Add(-time.Hour))
	f.tasks("m2", 1, 1)
	f.milestone("other", "p2", model.StatusNotStarted, 0, f.now)
	f.tasks("other", 1, 1)

	report := f.coordinator.ByProject(context.Background(), "p1")
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.TotalProcessed)
	require.Len(t, report.UpdatedMilestones, 2)
	assert.Equal(t, "m1", report.UpdatedMilestones[0].MilestoneID)
	assert.Equal(t, 50, report.UpdatedMilestones[0].NewProgress)
	assert.Equal(t, "m2", report.UpdatedMilestones[1].MilestoneID)
	assert.Equal(t, 100, report.UpdatedMilestones[1].NewProgress)

	m2, _ := f.store.Milestone("m2")
	assert.Equal(t, model.StatusCompleted, m2.Status)
	other, _ := f.store.Milestone("other")
	assert.Equal(t, 0, other.ProgressPercentage)
}

func TestByProjectContinuesAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusInProgress, 0, f.now.Add(-3*time.Hour))
	f.store.FailMilestone("m1", errors.New("read timeout"))
	f.milestone("m2", "p1", model.StatusCompleted, 100, f.now.Add(-2*time.Hour))
	f.milestone("m3", "p1", model.StatusInProgress, 0, f.now.Add(-time.Hour))
	f.tasks("m3", 4, 1)

	report := f.coordinator.ByProject(context.Background(), "p1")
	assert.False(t, report.Success)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "read timeout")
	assert.Equal(t, 1, report.TotalProcessed)
	require.Len(t, report.UpdatedMilestones, 1)
	assert.Equal(t, "m3", report.UpdatedMilestones[0].MilestoneID)
}

func TestSweepSumsSubReports(t *testing.T) {
	f := newFixture(t)
	f.milestone("a", "p1", model.StatusInProgress, 10, f.now.Add(-3*time.Hour))
	f.tasks("a", 2, 1)
	f.milestone("b", "p1", model.StatusInProgress, 50, f.now.Add(-2*time.Hour))
	f.tasks("b", 2, 1)
	f.milestone("c", "p2", model.StatusInProgress, 0, f.now.Add(-time.Hour))
	f.tasks("c", 1, 1)
	f.milestone("d", "p2", model.StatusNotStarted, 0, f.now)
	f.tasks("d", 1, 1)

	report := f.coordinator.Sweep(context.Background(), 0)
	assert.True(t, report.Success)
	assert.Equal(t, 3, report.TotalProcessed)
	require.Len(t, report.UpdatedMilestones, 2)
	assert.Equal(t, "a", report.UpdatedMilestones[0].MilestoneID)
	assert.Equal(t, "c", report.UpdatedMilestones[1].MilestoneID)

	d, _ := f.store.Milestone("d")
	assert.Equal(t, 0, d.ProgressPercentage)
}

func TestSweepRespectsLimit(t *testing.T) {
	f := newFixture(t)
	f.milestone("a", "p1", model.StatusInProgress, 0, f.now.Add(-2*time.Hour))
	f.milestone("b", "p1", model.StatusInProgress, 0, f.now.Add(-time.Hour))

	report := f.coordinator.Sweep(context.Background(), 1)
	assert.Equal(t, 1, report.TotalProcessed)

	b, _ := f.store.Milestone("b")
	assert.Equal(t, f.now.Add(-time.Hour), b.UpdatedAt)
}

func TestSweepStopsWhenCancelled(t *testing.T) {
	f := newFixture(t)
	f.milestone("a", "p1", model.StatusInProgress, 0, f.now.Add(-time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := f.coordinator.Sweep(ctx, 10)
	assert.True(t, report.Success)
	assert.Equal(t, 0, report.TotalProcessed)
	assert.Equal(t, 0, f.store.Writes())
}

type panickingRecomputer struct{ recomputer }

func (p panickingRecomputer) Recompute(ctx context.Context, id string) (Result, error) {
	if id == "bad" {
		panic("nil pointer")
	}
	return p.recomputer.Recompute(ctx, id)
}

func TestSweepRecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	f.milestone("bad", "p1", model.StatusInProgress, 0, f.now.Add(-2*time.Hour))
	f.milestone("good", "p1", model.StatusInProgress, 0, f.now.Add(-time.Hour))
	f.tasks("good", 1, 1)

	c := NewCoordinator(panickingRecomputer{f.recomputer}, f.store, f.store, zap.NewNop())
	report := c.Sweep(context.Background(), 10)

	assert.False(t, report.Success)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "bad")
	assert.Equal(t, 1, report.TotalProcessed)
	require.Len(t, report.UpdatedMilestones, 1)
	assert.Equal(t, "good", report.UpdatedMilestones[0].MilestoneID)
}

func TestDueIsReadOnly(t *testing.T) {
	f := newFixture(t)
	f.milestone("a", "p1", model.StatusInProgress, 0, f.now.Add(-2*time.Hour))
	f.milestone("b", "p1", model.StatusInProgress, 0, f.now.Add(-time.Hour))
	f.milestone("c", "p1", model.StatusCompleted, 100, f.now)

	due, count, err := f.coordinator.Due(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].ID)
	assert.Equal(t, 0, f.store.Writes())
}
