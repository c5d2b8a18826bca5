package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"milestone-reconciler/internal/model"
)

// MemoryStore is an in-process milestone/task store used by the "memory" store
// driver and by tests. It satisfies the same contracts as the PostgreSQL repositories.
type MemoryStore struct {
	mu         sync.RWMutex
	milestones map[string]model.Milestone
	tasks      map[string]model.Task
	stages     map[string]model.Stage

	// failures injects an error for a given milestone id on read.
	failures map[string]error

	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		milestones: map[string]model.Milestone{},
		tasks:      map[string]model.Task{},
		stages:     map[string]model.Stage{},
		failures:   map[string]error{},
	}
}

func (s *MemoryStore) PutMilestone(m model.Milestone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	s.milestones[m.ID] = m
}

func (s *MemoryStore) PutStage(st model.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[st.ID] = st
}

func (s *MemoryStore) PutTask(t model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// FailMilestone makes every read of the milestone return err.
func (s *MemoryStore) FailMilestone(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id] = err
}

// Milestone returns the stored milestone for assertions.
func (s *MemoryStore) Milestone(id string) (model.Milestone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.milestones[id]
	return m, ok
}

// Writes returns how many milestone updates have been applied.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*model.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[id]; err != nil {
		return nil, err
	}
	m, ok := s.milestones[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrMilestoneNotFound, id)
	}
	return &m, nil
}

func (s *MemoryStore) ListByProject(ctx context.Context, projectID string) ([]model.Milestone, error) {
	return s.filter(func(m model.Milestone) bool { return m.ProjectID == projectID }, func(a, b model.Milestone) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	}, 0), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status string, limit int) ([]model.Milestone, error) {
	return s.filter(func(m model.Milestone) bool { return m.Status == status }, func(a, b model.Milestone) bool {
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ID < b.ID
	}, limit), nil
}

func (s *MemoryStore) CountByStatus(ctx context.Context, status string) (int, error) {
	return len(s.filter(func(m model.Milestone) bool { return m.Status == status }, nil, 0)), nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, progress int, status string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.milestones[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrMilestoneNotFound, id)
	}
	m.ProgressPercentage = progress
	m.Status = status
	m.UpdatedAt = updatedAt
	s.milestones[id] = m
	s.writes++
	return nil
}

func (s *MemoryStore) FindMilestoneID(ctx context.Context, taskID string) (*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrTaskNotFound, taskID)
	}
	return t.MilestoneID, nil
}

func (s *MemoryStore) ListStagesByMilestone(ctx context.Context, milestoneID string) ([]model.TaskStage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.TaskStage{}
	for _, t := range s.tasks {
		if t.MilestoneID == nil || *t.MilestoneID != milestoneID {
			continue
		}
		ts := model.TaskStage{TaskID: t.ID, StageID: t.StageID}
		if st, ok := s.stages[t.StageID]; ok {
			ts.StageName = st.Name
			ts.IsTerminal = st.IsTerminal
		}
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (s *MemoryStore) filter(keep func(model.Milestone) bool, less func(a, b model.Milestone) bool, limit int) []model.Milestone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Milestone{}
	for _, m := range s.milestones {
		if keep(m) {
			out = append(out, m)
		}
	}
	if less != nil {
		sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
