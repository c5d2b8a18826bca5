package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"milestone-reconciler/internal/model"
	"milestone-reconciler/internal/scheduler"
	"milestone-reconciler/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type dueLister interface {
	Due(ctx context.Context, limit int) ([]model.Milestone, int, error)
}

type sweepRunner interface {
	RunOnce(ctx context.Context, trigger string, limit int) model.ReconciliationReport
	Status() scheduler.Status
}

type dueMilestone struct {
	ID                 string    `json:"id"`
	ProjectID          string    `json:"project_id"`
	Name               string    `json:"name"`
	ProgressPercentage int       `json:"progress_percentage"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type SchedulerHandler struct {
	due    dueLister
	runner sweepRunner
	logger *zap.Logger
}

func NewSchedulerHandler(due dueLister, runner sweepRunner, logger *zap.Logger) *SchedulerHandler {
	return &SchedulerHandler{due: due, runner: runner, logger: logger}
}

// Status handles GET /scheduler/status (只读)
func (h *SchedulerHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	schedule := h.runner.Status()

	milestones, count, err := h.due.Due(ctx, schedule.Limit)
	if err != nil {
		logger.WithTrace(ctx, h.logger).Error("Failed to load scheduler status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load in_progress milestones"})
		return
	}

	due := make([]dueMilestone, 0, len(milestones))
	for _, m := range milestones {
		due = append(due, dueMilestone{
			ID:                 m.ID,
			ProjectID:          m.ProjectID,
			Name:               m.Name,
			ProgressPercentage: m.ProgressPercentage,
			UpdatedAt:          m.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"in_progress_count":    count,
		"would_update":         len(due),
		"milestones":           due,
		"recommended_interval": schedule.Interval,
		"schedule":             schedule,
	})
}

// Run handles POST /scheduler/run, optional body {"limit": n}
func (h *SchedulerHandler) Run(c *gin.Context) {
	var req struct {
		Limit int `json:"limit"`
	}
	if raw, err := io.ReadAll(c.Request.Body); err == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			req.Limit = 0
		}
	}

	report := h.runner.RunOnce(c.Request.Context(), "api", req.Limit)
	c.JSON(http.StatusOK, NewReportResponse(report))
}
