package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"milestone-reconciler/internal/model"
	"milestone-reconciler/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Reconciler is the batch coordinator as seen by the HTTP layer.
type Reconciler interface {
	ByMilestone(ctx context.Context, milestoneID string) model.ReconciliationReport
	ByTask(ctx context.Context, taskID string) model.ReconciliationReport
	ByProject(ctx context.Context, projectID string) model.ReconciliationReport
	Sweep(ctx context.Context, limit int) model.ReconciliationReport
}

// RecomputeRequest selects the target. An empty request sweeps.
type RecomputeRequest struct {
	MilestoneID string `json:"milestone_id"`
	TaskID      string `json:"task_id"`
	ProjectID   string `json:"project_id"`
	Limit       int    `json:"limit"`
}

type ReportResponse struct {
	model.ReconciliationReport
	UpdatedCount int `json:"updated_count"`
	ErrorCount   int `json:"error_count"`
}

func NewReportResponse(r model.ReconciliationReport) ReportResponse {
	return ReportResponse{
		ReconciliationReport: r,
		UpdatedCount:         len(r.UpdatedMilestones),
		ErrorCount:           len(r.Errors),
	}
}

type RecomputeHandler struct {
	reconciler Reconciler
	logger     *zap.Logger
}

func NewRecomputeHandler(reconciler Reconciler, logger *zap.Logger) *RecomputeHandler {
	return &RecomputeHandler{reconciler: reconciler, logger: logger}
}

// Recompute handles POST /milestones/recompute
// 业务失败也返回 200，调用方需检查 success / errors
func (h *RecomputeHandler) Recompute(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger)

	req := parseRecomputeRequest(c.Request.Body, log)

	var report model.ReconciliationReport
	switch {
	case req.MilestoneID != "":
		log.Info("Recompute requested", zap.String("milestone_id", req.MilestoneID))
		report = h.reconciler.ByMilestone(ctx, req.MilestoneID)
	case req.TaskID != "":
		log.Info("Recompute requested", zap.String("task_id", req.TaskID))
		report = h.reconciler.ByTask(ctx, req.TaskID)
	case req.ProjectID != "":
		log.Info("Recompute requested", zap.String("project_id", req.ProjectID))
		report = h.reconciler.ByProject(ctx, req.ProjectID)
	default:
		log.Info("Sweep requested", zap.Int("limit", req.Limit))
		report = h.reconciler.Sweep(ctx, req.Limit)
	}

	c.JSON(http.StatusOK, NewReportResponse(report))
}

func parseRecomputeRequest(body io.Reader, log *zap.Logger) RecomputeRequest {
	var req RecomputeRequest
	if body == nil {
		return req
	}
	raw, err := io.ReadAll(body)
	if err != nil || len(raw) == 0 {
		return req
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Warn("Unparseable recompute body, sweeping", zap.Error(err))
		return RecomputeRequest{}
	}
	return req
}
