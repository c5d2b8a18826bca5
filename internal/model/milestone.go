package model

import (
	"errors"
	"time"
)

// Milestone statuses
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusOnHold     = "on_hold"
)

var (
	ErrMilestoneNotFound = errors.New("milestone not found")
	ErrTaskNotFound      = errors.New("task not found")
)

type Milestone struct {
	ID                 string     `json:"id"`
	ProjectID          string     `json:"project_id"`
	Name               string     `json:"name"`
	Status             string     `json:"status"` // not_started / in_progress / completed / on_hold
	ProgressPercentage int        `json:"progress_percentage"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	Priority           string     `json:"priority"`
	Color              string     `json:"color"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ProgressSnapshot is computed on demand and never persisted.
type ProgressSnapshot struct {
	MilestoneID        string    `json:"milestone_id"`
	TotalTasks         int       `json:"total_tasks"`
	CompletedTasks     int       `json:"completed_tasks"`
	ProgressPercentage int       `json:"progress_percentage"`
	ComputedAt         time.Time `json:"computed_at"`
}
