package repository

import (
	"context"
	"errors"
	"fmt"

	"milestone-reconciler/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type TaskRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTaskRepository(db *pgxpool.Pool, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// FindMilestoneID returns the milestone a task is linked to, or nil when unlinked.
func (r *TaskRepository) FindMilestoneID(ctx context.Context, taskID string) (*string, error) {
	var milestoneID *string
	err := r.db.QueryRow(ctx, `SELECT milestone_id FROM tasks WHERE id = $1`, taskID).Scan(&milestoneID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrTaskNotFound, taskID)
	}
	if err != nil {
		r.logger.Error("Failed to load task", zap.String("task_id", taskID), zap.Error(err))
		return nil, err
	}
	return milestoneID, nil
}

// ListStagesByMilestone returns the stage of every task linked to the milestone.
// Tasks without a stage are returned with empty stage fields and count as open.
func (r *TaskRepository) ListStagesByMilestone(ctx context.Context, milestoneID string) ([]model.TaskStage, error) {
	query := `
        SELECT t.id, COALESCE(s.id::text, ''), COALESCE(s.name, ''), COALESCE(s.is_terminal, false)
        FROM tasks t
        LEFT JOIN stages s ON s.id = t.stage_id
        WHERE t.milestone_id = $1
        ORDER BY t.id
    `
	rows, err := r.db.Query(ctx, query, milestoneID)
	if err != nil {
		r.logger.Error("Failed to list milestone tasks", zap.String("milestone_id", milestoneID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	stages := []model.TaskStage{}
	for rows.Next() {
		var ts model.TaskStage
		if err := rows.Scan(&ts.TaskID, &ts.StageID, &ts.StageName, &ts.IsTerminal); err != nil {
			return nil, err
		}
		stages = append(stages, ts)
	}
	return stages, rows.Err()
}
