package selection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"pages", "RANGE", " size "} {
		_, err := ParseStrategy(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseStrategy("halves")
	assert.ErrorIs(t, err, ErrInvalidSelection)
	_, err = ParseStrategy("")
	assert.ErrorIs(t, err, ErrInvalidSelection)
}

func TestNewSplitPlanChunks(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		tokens   []string
		perFile  int
		total    int
		sizes    []int
	}{
		{name: "per page", strategy: StrategyPages, total: 4, sizes: []int{1, 1, 1, 1}},
		{name: "size chunks", strategy: StrategySize, perFile: 3, total: 10, sizes: []int{3, 3, 3, 1}},
		{name: "size larger than document", strategy: StrategySize, perFile: 20, total: 7, sizes: []int{7}},
		{name: "ranges", strategy: StrategyRange, tokens: []string{"1-2", "5"}, total: 6, sizes: []int{2, 1}},
		{name: "overlapping ranges", strategy: StrategyRange, tokens: []string{"3-6", "1-4"}, total: 6, sizes: []int{4, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewSplitPlan(tt.strategy, tt.tokens, tt.perFile, tt.total)
			require.NoError(t, err)

			chunks, err := plan.Chunks(tt.total)
			require.NoError(t, err)

			var sizes []int
			for _, c := range chunks {
				sizes = append(sizes, c.Pages())
			}
			assert.Equal(t, tt.sizes, sizes)
		})
	}
}

func TestNewSplitPlanRejects(t *testing.T) {
	_, err := NewSplitPlan(StrategyRange, []string{"2-1"}, 0, 6)
	var rangeErr *InvalidPageRangeError
	assert.True(t, errors.As(err, &rangeErr))

	_, err = NewSplitPlan(StrategySize, nil, 0, 6)
	var optErr *InvalidSplitOptionError
	assert.True(t, errors.As(err, &optErr))

	_, err = NewSplitPlan(Strategy("thirds"), nil, 0, 6)
	assert.ErrorIs(t, err, ErrInvalidSelection)
}

func TestSplitPlanChunksRevalidatesRanges(t *testing.T) {
	plan, err := NewSplitPlan(StrategyRange, []string{"4-6"}, 0, 6)
	require.NoError(t, err)

	// document shrank between submission and execution
	_, err = plan.Chunks(5)
	var rangeErr *InvalidPageRangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, "4-6", rangeErr.Token)
}

func TestPlanVariants(t *testing.T) {
	plans := []Plan{MergePlan{Order: []int{1, 0}}, SplitPlan{Strategy: StrategyPages}}
	var merges, splits int
	for _, p := range plans {
		switch p.(type) {
		case MergePlan:
			merges++
		case SplitPlan:
			splits++
		}
	}
	assert.Equal(t, 1, merges)
	assert.Equal(t, 1, splits)
}
