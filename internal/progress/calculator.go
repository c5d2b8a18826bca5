// Package progress derives a milestone's completion from the stages of its tasks.
package progress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"milestone-reconciler/internal/model"
)

// DefaultTerminalStageNames is used when no names are configured.
var DefaultTerminalStageNames = []string{
	"done", "completed", "concluded", "finished",
	"concluído", "concluido", "finalizado", "feito",
}

// TerminalPolicy decides whether a task's stage counts as done.
// The stage's is_terminal flag always wins; names are a configurable fallback
// for workflows that have not set the flag.
type TerminalPolicy struct {
	names map[string]struct{}
}

func NewTerminalPolicy(names []string) TerminalPolicy {
	p := TerminalPolicy{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = normalize(n)
		if n != "" {
			p.names[n] = struct{}{}
		}
	}
	return p
}

func (p TerminalPolicy) IsTerminal(ts model.TaskStage) bool {
	if ts.IsTerminal {
		return true
	}
	_, ok := p.names[normalize(ts.StageName)]
	return ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Percentage rounds half up in integer arithmetic, so exact halves such as
// 23/40 (57.5%) always go up; zero tasks is 0%.
func Percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return (completed*200 + total) / (2 * total)
}

// Calculate counts the terminal tasks in stages.
func Calculate(milestoneID string, stages []model.TaskStage, policy TerminalPolicy, now time.Time) model.ProgressSnapshot {
	completed := 0
	for _, ts := range stages {
		if policy.IsTerminal(ts) {
			completed++
		}
	}
	return model.ProgressSnapshot{
		MilestoneID:        milestoneID,
		TotalTasks:         len(stages),
		CompletedTasks:     completed,
		ProgressPercentage: Percentage(completed, len(stages)),
		ComputedAt:         now,
	}
}

// TaskStageSource is the single aggregate read the calculator needs.
type TaskStageSource interface {
	ListStagesByMilestone(ctx context.Context, milestoneID string) ([]model.TaskStage, error)
}

type Calculator struct {
	tasks  TaskStageSource
	policy TerminalPolicy
	now    func() time.Time
}

func NewCalculator(tasks TaskStageSource, policy TerminalPolicy) *Calculator {
	return &Calculator{tasks: tasks, policy: policy, now: time.Now}
}

func (c *Calculator) Calculate(ctx context.Context, milestoneID string) (model.ProgressSnapshot, error) {
	stages, err := c.tasks.ListStagesByMilestone(ctx, milestoneID)
	if err != nil {
		return model.ProgressSnapshot{}, fmt.Errorf("failed to load tasks for milestone %s: %w", milestoneID, err)
	}
	return Calculate(milestoneID, stages, c.policy, c.now()), nil
}
