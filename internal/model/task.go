package model

type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	ProjectID   string  `json:"project_id"`
	MilestoneID *string `json:"milestone_id"`
	StageID     string  `json:"stage_id"`
}

type Stage struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	IsTerminal bool   `json:"is_terminal"`
}

// TaskStage is the projection of a linked task used for progress counting.
type TaskStage struct {
	TaskID     string
	StageID    string
	StageName  string
	IsTerminal bool
}
