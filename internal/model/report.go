package model

import "time"

type MilestoneChange struct {
	MilestoneID    string    `json:"milestone_id"`
	OldProgress    int       `json:"old_progress"`
	NewProgress    int       `json:"new_progress"`
	TaskCount      int       `json:"task_count"`
	CompletedTasks int       `json:"completed_tasks"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Changed reports whether the recompute moved the percentage.
func (c MilestoneChange) Changed() bool {
	return c.OldProgress != c.NewProgress
}

// ReconciliationReport is returned by every trigger.
type ReconciliationReport struct {
	Success           bool              `json:"success"`
	UpdatedMilestones []MilestoneChange `json:"updated_milestones"`
	Errors            []string          `json:"errors"`
	TotalProcessed    int               `json:"total_processed"`
}

// NewReport returns an empty successful report with non-nil slices so that
// it always serialises as [] rather than null.
func NewReport() ReconciliationReport {
	return ReconciliationReport{
		Success:           true,
		UpdatedMilestones: []MilestoneChange{},
		Errors:            []string{},
	}
}

// Merge folds a sub-report into r.
func (r *ReconciliationReport) Merge(sub ReconciliationReport) {
	r.TotalProcessed += sub.TotalProcessed
	r.UpdatedMilestones = append(r.UpdatedMilestones, sub.UpdatedMilestones...)
	r.Errors = append(r.Errors, sub.Errors...)
	r.Success = len(r.Errors) == 0
}

// AddError records a failure and marks the report unsuccessful.
func (r *ReconciliationReport) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Success = false
}
