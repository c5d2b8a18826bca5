package mqhandler

import (
	"context"
	"encoding/json"
	"errors"

	"milestone-reconciler/internal/dispatch"
	"milestone-reconciler/internal/model"
	"milestone-reconciler/pkg/logger"

	"go.uber.org/zap"
)

var errMissingMilestoneID = errors.New("milestone.recompute payload has no milestone_id")

type milestoneReconciler interface {
	ByMilestone(ctx context.Context, milestoneID string) model.ReconciliationReport
}

// MilestoneRecomputeHandler consumes milestone.recompute messages queued by the webhook.
type MilestoneRecomputeHandler struct {
	coordinator milestoneReconciler
	logger      *zap.Logger
}

func NewMilestoneRecomputeHandler(coordinator milestoneReconciler, logger *zap.Logger) *MilestoneRecomputeHandler {
	return &MilestoneRecomputeHandler{coordinator: coordinator, logger: logger}
}

func (h *MilestoneRecomputeHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var msg dispatch.RecomputeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Error("Failed to unmarshal RecomputeMessage", zap.Error(err))
		return err // 交给 Consumer 转入 DLQ
	}
	if msg.MilestoneID == "" {
		log.Error("Invalid milestone.recompute message", zap.ByteString("body", raw))
		return errMissingMilestoneID
	}

	log.Info("Handling milestone.recompute event",
		zap.String("milestone_id", msg.MilestoneID),
		zap.String("source", msg.Source),
		zap.Time("requested_at", msg.RequestedAt),
	)

	report := h.coordinator.ByMilestone(ctx, msg.MilestoneID)
	if !report.Success {
		// 尽力而为：失败只记录日志，周期性 sweep 会补偿
		log.Error("Queued milestone recompute failed",
			zap.String("milestone_id", msg.MilestoneID),
			zap.Strings("errors", report.Errors),
		)
		return nil
	}

	log.Info("Queued milestone recompute finished",
		zap.String("milestone_id", msg.MilestoneID),
		zap.Int("total_processed", report.TotalProcessed),
		zap.Int("updated", len(report.UpdatedMilestones)),
	)
	return nil
}
