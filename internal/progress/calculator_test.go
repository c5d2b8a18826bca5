package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"milestone-reconciler/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentage(t *testing.T) {
	cases := []struct {
		completed, total, want int
	}{
		{0, 0, 0},
		{0, 4, 0},
		{3, 4, 75},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{4, 4, 100},
		{1, 200, 1},
		{23, 40, 58},
		{29, 200, 15},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Percentage(tc.completed, tc.total), "%d/%d", tc.completed, tc.total)
	}
}

func TestPercentageRoundsHalfUp(t *testing.T) {
	// p is round-half-up of 100*c/n iff 2pn <= 200c+n < 2(p+1)n
	for n := 1; n <= 1000; n++ {
		for c := 0; c <= n; c++ {
			p := Percentage(c, n)
			x := 200*c + n
			if 2*p*n > x || x >= 2*(p+1)*n {
				t.Fatalf("Percentage(%d, %d) = %d", c, n, p)
			}
		}
	}
}

func TestTerminalPolicy(t *testing.T) {
	p := NewTerminalPolicy(DefaultTerminalStageNames)

	assert.True(t, p.IsTerminal(model.TaskStage{StageName: "Done"}))
	assert.True(t, p.IsTerminal(model.TaskStage{StageName: "  CONCLUÍDO "}))
	assert.True(t, p.IsTerminal(model.TaskStage{StageName: "Shipped", IsTerminal: true}))
	assert.False(t, p.IsTerminal(model.TaskStage{StageName: "In review"}))
	assert.False(t, p.IsTerminal(model.TaskStage{}))
}

func TestTerminalPolicyWithoutNamesUsesOnlyFlag(t *testing.T) {
	p := NewTerminalPolicy(nil)
	assert.False(t, p.IsTerminal(model.TaskStage{StageName: "done"}))
	assert.True(t, p.IsTerminal(model.TaskStage{StageName: "released", IsTerminal: true}))
}

func TestCalculateZeroTasks(t *testing.T) {
	snap := Calculate("m1", nil, NewTerminalPolicy(nil), time.Now())
	assert.Equal(t, 0, snap.TotalTasks)
	assert.Equal(t, 0, snap.CompletedTasks)
	assert.Equal(t, 0, snap.ProgressPercentage)
}

type stubSource struct {
	stages []model.TaskStage
	err    error
}

func (s stubSource) ListStagesByMilestone(context.Context, string) ([]model.TaskStage, error) {
	return s.stages, s.err
}

func TestCalculatorThreeOfFour(t *testing.T) {
	src := stubSource{stages: []model.TaskStage{
		{TaskID: "1", StageName: "done"},
		{TaskID: "2", StageName: "Finished"},
		{TaskID: "3", StageName: "Deployed", IsTerminal: true},
		{TaskID: "4", StageName: "Doing"},
	}}
	calc := NewCalculator(src, NewTerminalPolicy(DefaultTerminalStageNames))

	snap, err := calc.Calculate(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", snap.MilestoneID)
	assert.Equal(t, 4, snap.TotalTasks)
	assert.Equal(t, 3, snap.CompletedTasks)
	assert.Equal(t, 75, snap.ProgressPercentage)
	assert.False(t, snap.ComputedAt.IsZero())
}

func TestCalculatorPropagatesStoreError(t *testing.T) {
	calc := NewCalculator(stubSource{err: errors.New("db down")}, NewTerminalPolicy(nil))
	_, err := calc.Calculate(context.Background(), "m1")
	assert.ErrorContains(t, err, "db down")
}
