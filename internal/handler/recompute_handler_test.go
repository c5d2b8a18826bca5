package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"milestone-reconciler/internal/config"
	"milestone-reconciler/internal/model"
	"milestone-reconciler/internal/progress"
	"milestone-reconciler/internal/repository"
	"milestone-reconciler/internal/scheduler"
	"milestone-reconciler/internal/service/reconcile"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// twoMilestoneProject builds p1 with m1 (1 of 2 tasks done, not_started) and
// m2 (its single task done, not_started).
func twoMilestoneProject(t *testing.T) (*repository.MemoryStore, *reconcile.Coordinator) {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutStage(model.Stage{ID: "todo", Name: "To do"})
	store.PutStage(model.Stage{ID: "done", Name: "Done"})

	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2"} {
		store.PutMilestone(model.Milestone{
			ID:        id,
			ProjectID: "p1",
			Name:      "Milestone " + id,
			Status:    model.StatusNotStarted,
			CreatedAt: created.Add(time.Duration(i) * time.Hour),
			UpdatedAt: created.Add(time.Duration(i) * time.Hour),
		})
	}
	m1, m2 := "m1", "m2"
	store.PutTask(model.Task{ID: "t1", MilestoneID: &m1, StageID: "done"})
	store.PutTask(model.Task{ID: "t2", MilestoneID: &m1, StageID: "todo"})
	store.PutTask(model.Task{ID: "t3", MilestoneID: &m2, StageID: "done"})
	store.PutTask(model.Task{ID: "loose", StageID: "done"})

	calc := progress.NewCalculator(store, progress.NewTerminalPolicy(progress.DefaultTerminalStageNames))
	r := reconcile.NewRecomputer(store, calc, zap.NewNop())
	return store, reconcile.NewCoordinator(r, store, store, zap.NewNop())
}

func recomputeRouter(c Reconciler) *gin.Engine {
	r := gin.New()
	r.POST("/milestones/recompute", NewRecomputeHandler(c, zap.NewNop()).Recompute)
	return r
}

func postRecompute(t *testing.T, r http.Handler, body string) (int, ReportResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/milestones/recompute", strings.NewReader(body)))

	var resp ReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestRecomputeByProject(t *testing.T) {
	store, coordinator := twoMilestoneProject(t)

	code, resp := postRecompute(t, recomputeRouter(coordinator), `{"project_id":"p1"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.TotalProcessed)
	assert.Equal(t, 2, resp.UpdatedCount)
	assert.Equal(t, 0, resp.ErrorCount)
	require.Len(t, resp.UpdatedMilestones, 2)
	assert.Equal(t, 50, resp.UpdatedMilestones[0].NewProgress)
	assert.Equal(t, 100, resp.UpdatedMilestones[1].NewProgress)

	m2, _ := store.Milestone("m2")
	assert.Equal(t, model.StatusCompleted, m2.Status)
}

func TestRecomputeByMilestoneNotFoundIsStill200(t *testing.T) {
	_, coordinator := twoMilestoneProject(t)

	code, resp := postRecompute(t, recomputeRouter(coordinator), `{"milestone_id":"ghost"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, resp.Success)
	assert.Equal(t, []string{"Milestone not found: ghost"}, resp.Errors)
	assert.Equal(t, 1, resp.ErrorCount)
}

func TestRecomputeByUnlinkedTask(t *testing.T) {
	store, coordinator := twoMilestoneProject(t)

	code, resp := postRecompute(t, recomputeRouter(coordinator), `{"task_id":"loose"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, 0, resp.TotalProcessed)
	assert.Equal(t, 0, resp.UpdatedCount)
	assert.Equal(t, 0, store.Writes())
}

type targetRecorder struct {
	calls []string
}

func (r *targetRecorder) ByMilestone(_ context.Context, id string) model.ReconciliationReport {
	r.calls = append(r.calls, "milestone:"+id)
	return model.NewReport()
}

func (r *targetRecorder) ByTask(_ context.Context, id string) model.ReconciliationReport {
	r.calls = append(r.calls, "task:"+id)
	return model.NewReport()
}

func (r *targetRecorder) ByProject(_ context.Context, id string) model.ReconciliationReport {
	r.calls = append(r.calls, "project:"+id)
	return model.NewReport()
}

func (r *targetRecorder) Sweep(_ context.Context, limit int) model.ReconciliationReport {
	r.calls = append(r.calls, "sweep")
	return model.NewReport()
}

func TestRecomputeTargetSelection(t *testing.T) {
	cases := map[string]string{
		`{"milestone_id":"m1","task_id":"t1"}`: "milestone:m1",
		`{"task_id":"t1","project_id":"p1"}`:   "task:t1",
		`{"project_id":"p1"}`:                  "project:p1",
		`{}`:                                   "sweep",
		``:                                     "sweep",
		`{"milestone_id":`:                     "sweep",
		`[1,2,3]`:                              "sweep",
	}
	for body, want := range cases {
		rec := &targetRecorder{}
		code, resp := postRecompute(t, recomputeRouter(rec), body)
		assert.Equal(t, http.StatusOK, code, body)
		assert.True(t, resp.Success, body)
		assert.Equal(t, []string{want}, rec.calls, body)
	}
}

func TestSchedulerStatusIsReadOnly(t *testing.T) {
	store, coordinator := twoMilestoneProject(t)
	m1, _ := store.Milestone("m1")
	m1.Status = model.StatusInProgress
	store.PutMilestone(m1)

	runner := scheduler.NewRunner(coordinator, config.SchedulerConfig{Enabled: true, Interval: "15m", Limit: 50}, zap.NewNop())
	h := NewSchedulerHandler(coordinator, runner, zap.NewNop())
	r := gin.New()
	r.GET("/scheduler/status", h.Status)
	r.POST("/scheduler/run", h.Run)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduler/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status struct {
		InProgressCount     int    `json:"in_progress_count"`
		WouldUpdate         int    `json:"would_update"`
		RecommendedInterval string `json:"recommended_interval"`
		Milestones          []struct {
			ID string `json:"id"`
		} `json:"milestones"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 1, status.InProgressCount)
	assert.Equal(t, 1, status.WouldUpdate)
	assert.Equal(t, "15m0s", status.RecommendedInterval)
	require.Len(t, status.Milestones, 1)
	assert.Equal(t, "m1", status.Milestones[0].ID)
	assert.Equal(t, 0, store.Writes())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scheduler/run", strings.NewReader(`{"limit":10}`)))
	require.Equal(t, http.StatusOK, w.Code)

	var report ReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.TotalProcessed)
	assert.Equal(t, 1, report.UpdatedCount)
	assert.Equal(t, "api", runner.Status().LastRun.Trigger)
}
