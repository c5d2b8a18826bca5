package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"milestone-reconciler/pkg/logger"
	"milestone-reconciler/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"

	tasksTable = "tasks"
)

// Dispatcher queues a recompute without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, milestoneID string) error
}

// TaskRecord is the row image carried by a task change event.
type TaskRecord struct {
	ID          string  `json:"id"`
	Title       string  `json:"title,omitempty"`
	ProjectID   string  `json:"project_id,omitempty"`
	MilestoneID *string `json:"milestone_id"`
	StageID     *string `json:"stage_id"`
}

// TaskEvent 数据库变更事件：{type, table, record, old_record}
type TaskEvent struct {
	Type      string      `json:"type"`
	Table     string      `json:"table"`
	Record    *TaskRecord `json:"record"`
	OldRecord *TaskRecord `json:"old_record"`
}

// image returns the row the event is about. A DELETE may only carry the old row.
func (e TaskEvent) image() *TaskRecord {
	if e.Record == nil && e.Type == EventDelete {
		return e.OldRecord
	}
	return e.Record
}

// Relevant reports whether the event can move a milestone's progress, and
// which milestone.
func (e TaskEvent) Relevant() (string, bool) {
	rec := e.image()
	if rec == nil || rec.MilestoneID == nil || *rec.MilestoneID == "" {
		return "", false
	}
	switch e.Type {
	case EventInsert, EventDelete:
		return *rec.MilestoneID, true
	case EventUpdate:
		if e.OldRecord == nil || !sameStage(rec.StageID, e.OldRecord.StageID) {
			return *rec.MilestoneID, true
		}
	}
	return "", false
}

func sameStage(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type webhookResponse struct {
	Success                  bool   `json:"success"`
	Processed                bool   `json:"processed"`
	MilestoneUpdateTriggered bool   `json:"milestone_update_triggered"`
	TaskID                   string `json:"task_id"`
}

type WebhookHandler struct {
	dispatcher Dispatcher
	authed     bool
	logger     *zap.Logger
}

// NewWebhookHandler; authRequired is only echoed by Describe.
func NewWebhookHandler(dispatcher Dispatcher, authRequired bool, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, authed: authRequired, logger: logger}
}

// HandleTaskEvent handles POST /webhooks/tasks
func (h *WebhookHandler) HandleTaskEvent(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger)

	event := parseTaskEvent(c.Request.Body, log)

	if event.Table != tasksTable {
		metrics.IncrementWebhookEvent(event.Type, "invalid_table")
		log.Warn("Webhook event for unexpected table", zap.String("table", event.Table))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid table"})
		return
	}

	var taskID string
	if rec := event.image(); rec != nil {
		taskID = rec.ID
	}
	log = log.With(zap.String("event_type", event.Type), zap.String("task_id", taskID))

	milestoneID, relevant := event.Relevant()
	if !relevant {
		metrics.IncrementWebhookEvent(event.Type, "ignored")
		log.Debug("Task event ignored")
		c.JSON(http.StatusOK, webhookResponse{Success: true, Processed: true, TaskID: taskID})
		return
	}

	if err := h.dispatcher.Dispatch(ctx, milestoneID); err != nil {
		// 补偿交给定时 sweep，不向事件源暴露
		log.Error("Failed to dispatch milestone recompute",
			zap.String("milestone_id", milestoneID),
			zap.Error(err),
		)
	} else {
		log.Info("Milestone recompute dispatched", zap.String("milestone_id", milestoneID))
	}
	metrics.IncrementWebhookEvent(event.Type, "triggered")

	c.JSON(http.StatusOK, webhookResponse{
		Success:                  true,
		Processed:                true,
		MilestoneUpdateTriggered: true,
		TaskID:                   taskID,
	})
}

// Describe handles GET /webhooks/tasks
func (h *WebhookHandler) Describe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"endpoint":         "/webhooks/tasks",
		"method":           http.MethodPost,
		"table":            tasksTable,
		"supported_events": []string{EventInsert, EventUpdate, EventDelete},
		"auth_required":    h.authed,
		"auth_header":      "Authorization: Bearer <webhook secret>",
		"triggers":         "milestone_id set and (INSERT, DELETE, or UPDATE with a changed stage_id)",
	})
}

// parseTaskEvent never fails: an unreadable body becomes an empty event.
func parseTaskEvent(body io.Reader, log *zap.Logger) TaskEvent {
	var event TaskEvent
	if body == nil {
		return event
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		log.Warn("Failed to read webhook body", zap.Error(err))
		return TaskEvent{}
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		log.Warn("Failed to parse webhook body", zap.Error(err))
		return TaskEvent{}
	}
	return event
}
