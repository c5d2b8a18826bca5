package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"milestone-reconciler/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const milestoneColumns = `id, project_id, name, status, progress_percentage, due_date, priority, color, created_at, updated_at`

type MilestoneRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewMilestoneRepository(db *pgxpool.Pool, logger *zap.Logger) *MilestoneRepository {
	return &MilestoneRepository{
		db:     db,
		logger: logger,
	}
}

func (r *MilestoneRepository) FindByID(ctx context.Context, id string) (*model.Milestone, error) {
	query := `SELECT ` + milestoneColumns + ` FROM milestones WHERE id = $1`

	m, err := scanMilestone(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrMilestoneNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to load milestone", zap.String("milestone_id", id), zap.Error(err))
		return nil, err
	}
	return m, nil
}

// ListByProject returns the project's milestones in creation order.
func (r *MilestoneRepository) ListByProject(ctx context.Context, projectID string) ([]model.Milestone, error) {
	query := `
        SELECT ` + milestoneColumns + `
        FROM milestones
        WHERE project_id = $1
        ORDER BY created_at ASC, id ASC
    `
	return r.list(ctx, query, projectID)
}

// ListByStatus returns up to limit milestones in the given status, least recently updated first.
func (r *MilestoneRepository) ListByStatus(ctx context.Context, status string, limit int) ([]model.Milestone, error) {
	query := `
        SELECT ` + milestoneColumns + `
        FROM milestones
        WHERE status = $1
        ORDER BY updated_at ASC, id ASC
        LIMIT $2
    `
	return r.list(ctx, query, status, limit)
}

func (r *MilestoneRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM milestones WHERE status = $1`, status).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count milestones", zap.String("status", status), zap.Error(err))
		return 0, err
	}
	return count, nil
}

func (r *MilestoneRepository) UpdateProgress(ctx context.Context, id string, progress int, status string, updatedAt time.Time) error {
	query := `
        UPDATE milestones
        SET progress_percentage = $2, status = $3, updated_at = $4
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query, id, progress, status, updatedAt)
	if err != nil {
		r.logger.Error("Failed to update milestone progress",
			zap.String("milestone_id", id),
			zap.Error(err),
		)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrMilestoneNotFound, id)
	}

	r.logger.Debug("Milestone progress updated",
		zap.String("milestone_id", id),
		zap.Int("progress", progress),
		zap.String("status", status),
	)
	return nil
}

func (r *MilestoneRepository) list(ctx context.Context, query string, args ...any) ([]model.Milestone, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query milestones", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	milestones := []model.Milestone{}
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			r.logger.Error("Failed to scan milestone", zap.Error(err))
			return nil, err
		}
		milestones = append(milestones, *m)
	}
	return milestones, rows.Err()
}

func scanMilestone(row pgx.Row) (*model.Milestone, error) {
	var m model.Milestone
	var priority, color *string
	if err := row.Scan(
		&m.ID,
		&m.ProjectID,
		&m.Name,
		&m.Status,
		&m.ProgressPercentage,
		&m.DueDate,
		&priority,
		&color,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if priority != nil {
		m.Priority = *priority
	}
	if color != nil {
		m.Color = *color
	}
	return &m, nil
}
