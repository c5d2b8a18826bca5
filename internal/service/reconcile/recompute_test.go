package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"milestone-reconciler/internal/model"
	"milestone-reconciler/internal/progress"
	"milestone-reconciler/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	stageTodo = "todo"
	stageDone = "done"
)

type fixture struct {
	store       *repository.MemoryStore
	recomputer  *Recomputer
	coordinator *Coordinator
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutStage(model.Stage{ID: stageTodo, Name: "To do"})
	store.PutStage(model.Stage{ID: stageDone, Name: "Done", IsTerminal: true})

	calc := progress.NewCalculator(store, progress.NewTerminalPolicy(progress.DefaultTerminalStageNames))
	r := NewRecomputer(store, calc, zap.NewNop())
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	return &fixture{
		store:       store,
		recomputer:  r,
		coordinator: NewCoordinator(r, store, store, zap.NewNop()),
		now:         now,
	}
}

func (f *fixture) milestone(id, projectID, status string, progress int, created time.Time) {
	f.store.PutMilestone(model.Milestone{
		ID:                 id,
		ProjectID:          projectID,
		Name:               "Milestone " + id,
		Status:             status,
		ProgressPercentage: progress,
		CreatedAt:          created,
		UpdatedAt:          created,
	})
}

// tasks links total tasks to the milestone, the first done of them terminal.
func (f *fixture) tasks(milestoneID string, total, done int) {
	for i := 0; i < total; i++ {
		stage := stageTodo
		if i < done {
			stage = stageDone
		}
		mid := milestoneID
		f.store.PutTask(model.Task{
			ID:          fmt.Sprintf("%s-t%d", milestoneID, i),
			MilestoneID: &mid,
			StageID:     stage,
		})
	}
}

func TestRecomputeThreeOfFourTerminal(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusNotStarted, 10, f.now.Add(-time.Hour))
	f.tasks("m1", 4, 3)

	res, err := f.recomputer.Recompute(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, model.MilestoneChange{
		MilestoneID:    "m1",
		OldProgress:    10,
		NewProgress:    75,
		TaskCount:      4,
		CompletedTasks: 3,
		UpdatedAt:      f.now,
	}, res.Change)

	m, _ := f.store.Milestone("m1")
	assert.Equal(t, 75, m.ProgressPercentage)
	assert.Equal(t, model.StatusInProgress, m.Status)
	assert.Equal(t, f.now, m.UpdatedAt)
}

func TestRecomputeSkipsCompletedMilestone(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusCompleted, 100, f.now.Add(-time.Hour))
	f.tasks("m1", 2, 0)

	res, err := f.recomputer.Recompute(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, f.store.Writes())

	m, _ := f.store.Milestone("m1")
	assert.Equal(t, 100, m.ProgressPercentage)
	assert.Equal(t, model.StatusCompleted, m.Status)
}

func TestRecomputeAllDoneCompletesMilestone(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusInProgress, 50, f.now.Add(-time.Hour))
	f.tasks("m1", 2, 2)

	res, err := f.recomputer.Recompute(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 100, res.Change.NewProgress)

	m, _ := f.store.Milestone("m1")
	assert.Equal(t, model.StatusCompleted, m.Status)
}

func TestRecomputeZeroTasksKeepsStatus(t *testing.T) {
	for _, status := range []string{model.StatusNotStarted, model.StatusOnHold, model.StatusInProgress} {
		t.Run(status, func(t *testing.T) {
			f := newFixture(t)
			f.milestone("m1", "p1", status, 40, f.now.Add(-time.Hour))

			res, err := f.recomputer.Recompute(context.Background(), "m1")
			require.NoError(t, err)
			assert.Equal(t, 0, res.Change.NewProgress)
			assert.Equal(t, 0, res.Change.TaskCount)

			m, _ := f.store.Milestone("m1")
			assert.Equal(t, 0, m.ProgressPercentage)
			assert.Equal(t, status, m.Status)
			assert.Equal(t, 1, f.store.Writes())
		})
	}
}

func TestRecomputeMissingMilestone(t *testing.T) {
	f := newFixture(t)
	_, err := f.recomputer.Recompute(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, "Milestone not found: ghost", err.Error())
	assert.Equal(t, 0, f.store.Writes())
}

func TestRecomputeStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusInProgress, 0, f.now)
	f.store.FailMilestone("m1", errors.New("connection reset"))

	_, err := f.recomputer.Recompute(context.Background(), "m1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

type recordingLocker struct {
	keys     []string
	released int
}

func (l *recordingLocker) Acquire(_ context.Context, key string) (func(), bool) {
	l.keys = append(l.keys, key)
	return func() { l.released++ }, true
}

func TestRecomputeUsesLocker(t *testing.T) {
	f := newFixture(t)
	f.milestone("m1", "p1", model.StatusInProgress, 0, f.now)
	locker := &recordingLocker{}
	f.recomputer.WithLocker(locker)

	_, err := f.recomputer.Recompute(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, locker.keys)
	assert.Equal(t, 1, locker.released)
}

func TestNextStatus(t *testing.T) {
	assert.Equal(t, model.StatusCompleted, NextStatus(model.StatusNotStarted, 100))
	assert.Equal(t, model.StatusInProgress, NextStatus(model.StatusOnHold, 1))
	assert.Equal(t, model.StatusOnHold, NextStatus(model.StatusOnHold, 0))
	assert.Equal(t, model.StatusNotStarted, NextStatus(model.StatusNotStarted, 0))
}
