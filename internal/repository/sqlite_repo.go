package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"milestone-reconciler/internal/model"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// sortable fixed-width UTC layout so ORDER BY on the text column follows time order
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a single-file store for local runs and the CLI. It holds the
// same tables the PostgreSQL repositories read.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping lets /readyz check the file is still usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS stages (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL,
		is_terminal INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS milestones (
		id                  TEXT PRIMARY KEY,
		project_id          TEXT NOT NULL,
		name                TEXT NOT NULL,
		status              TEXT NOT NULL DEFAULT 'not_started',
		progress_percentage INTEGER NOT NULL DEFAULT 0,
		due_date            TEXT,
		priority            TEXT NOT NULL DEFAULT '',
		color               TEXT NOT NULL DEFAULT '',
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_milestones_status_updated ON milestones(status, updated_at);

	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL DEFAULT '',
		project_id   TEXT NOT NULL DEFAULT '',
		milestone_id TEXT REFERENCES milestones(id),
		stage_id     TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_milestone ON tasks(milestone_id);
	`)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, v)
}

// UpsertMilestone writes the full milestone row.
func (s *SQLiteStore) UpsertMilestone(ctx context.Context, m model.Milestone) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	var due *string
	if m.DueDate != nil {
		v := formatTime(*m.DueDate)
		due = &v
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO milestones (id, project_id, name, status, progress_percentage, due_date, priority, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, name = excluded.name, status = excluded.status,
			progress_percentage = excluded.progress_percentage, due_date = excluded.due_date,
			priority = excluded.priority, color = excluded.color,
			created_at = excluded.created_at, updated_at = excluded.updated_at`,
		m.ID, m.ProjectID, m.Name, m.Status, m.ProgressPercentage, due, m.Priority, m.Color,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	return err
}

func (s *SQLiteStore) UpsertStage(ctx context.Context, st model.Stage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stages (id, project_id, name, is_terminal) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, name = excluded.name, is_terminal = excluded.is_terminal`,
		st.ID, st.ProjectID, st.Name, st.IsTerminal,
	)
	return err
}

func (s *SQLiteStore) UpsertTask(ctx context.Context, t model.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, project_id, milestone_id, stage_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, project_id = excluded.project_id,
			milestone_id = excluded.milestone_id, stage_id = excluded.stage_id`,
		t.ID, t.Title, t.ProjectID, t.MilestoneID, t.StageID,
	)
	return err
}

const sqliteMilestoneColumns = `id, project_id, name, status, progress_percentage, due_date, priority, color, created_at, updated_at`

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*model.Milestone, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteMilestoneColumns+` FROM milestones WHERE id = ?`, id)
	m, err := scanSQLiteMilestone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrMilestoneNotFound, id)
	}
	if err != nil {
		s.logger.Error("Failed to load milestone", zap.String("milestone_id", id), zap.Error(err))
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) ListByProject(ctx context.Context, projectID string) ([]model.Milestone, error) {
	return s.list(ctx, `SELECT `+sqliteMilestoneColumns+` FROM milestones WHERE project_id = ? ORDER BY created_at, id`, projectID)
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status string, limit int) ([]model.Milestone, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	return s.list(ctx, `SELECT `+sqliteMilestoneColumns+` FROM milestones WHERE status = ? ORDER BY updated_at, id LIMIT ?`, status, limit)
}

func (s *SQLiteStore) CountByStatus(ctx context.Context, status string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM milestones WHERE status = ?`, status).Scan(&n)
	return n, err
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, id string, progress int, status string, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE milestones SET progress_percentage = ?, status = ?, updated_at = ? WHERE id = ?`,
		progress, status, formatTime(updatedAt), id,
	)
	if err != nil {
		s.logger.Error("Failed to update milestone progress", zap.String("milestone_id", id), zap.Error(err))
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", model.ErrMilestoneNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) FindMilestoneID(ctx context.Context, taskID string) (*string, error) {
	var milestoneID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT milestone_id FROM tasks WHERE id = ?`, taskID).Scan(&milestoneID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, err
	}
	if !milestoneID.Valid {
		return nil, nil
	}
	return &milestoneID.String, nil
}

func (s *SQLiteStore) ListStagesByMilestone(ctx context.Context, milestoneID string) ([]model.TaskStage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, COALESCE(st.id, ''), COALESCE(st.name, ''), COALESCE(st.is_terminal, 0)
		FROM tasks t
		LEFT JOIN stages st ON st.id = t.stage_id
		WHERE t.milestone_id = ?
		ORDER BY t.id`, milestoneID)
	if err != nil {
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

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]model.Milestone, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Milestone{}
	for rows.Next() {
		m, err := scanSQLiteMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMilestone(row rowScanner) (*model.Milestone, error) {
	var (
		m                model.Milestone
		due              sql.NullString
		created, updated string
	)
	if err := row.Scan(&m.ID, &m.ProjectID, &m.Name, &m.Status, &m.ProgressPercentage, &due,
		&m.Priority, &m.Color, &created, &updated); err != nil {
		return nil, err
	}

	var err error
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("milestone %s created_at: %w", m.ID, err)
	}
	if m.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("milestone %s updated_at: %w", m.ID, err)
	}
	if due.Valid {
		d, err := parseTime(due.String)
		if err != nil {
			return nil, fmt.Errorf("milestone %s due_date: %w", m.ID, err)
		}
		m.DueDate = &d
	}
	return &m, nil
}
