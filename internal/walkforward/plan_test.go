package walkforward

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

var day0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func TestBuildPlan(t *testing.T) {
	plan := BuildPlan(day0, day0.Add(7*24*time.Hour), 12*time.Hour)

	require.True(t, plan.HasValidation())
	assert.False(t, plan.Collapsed)
	assert.Equal(t, day0.Add(12*time.Hour), plan.Train.Start)
	assert.Equal(t, day0.Add(84*time.Hour), plan.Train.End)
	assert.Equal(t, plan.Train.End, plan.Validation.Start)
	assert.Equal(t, day0.Add(7*24*time.Hour), plan.Validation.End)
}

func TestBuildPlan_ShortDataCollapses(t *testing.T) {
	end := day0.Add(20 * time.Hour)
	plan := BuildPlan(day0, end, 12*time.Hour)

	assert.False(t, plan.HasValidation())
	assert.True(t, plan.Collapsed)
	assert.Equal(t, domain.Window{Start: day0, End: end}, plan.Train)
}

func TestSweepWindows(t *testing.T) {
	train := domain.Window{Start: day0, End: day0.Add(3*24*time.Hour + 12*time.Hour)}

	got := SweepWindows(train, SweepOptions{Window: Days(1), Step: Days(1), IncludeTail: true})
	require.Len(t, got, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, day0.Add(time.Duration(i)*24*time.Hour), got[i].Start)
		assert.Equal(t, Days(1), got[i].Duration())
	}
	assert.Equal(t, train.End, got[3].End)
	assert.Equal(t, train.End.Add(-Days(1)), got[3].Start)

	noTail := SweepWindows(train, SweepOptions{Window: Days(1), Step: Days(1)})
	assert.Len(t, noTail, 3)
}

func TestSweepWindows_Overlapping(t *testing.T) {
	train := domain.Window{Start: day0, End: day0.Add(2 * 24 * time.Hour)}

	got := SweepWindows(train, SweepOptions{Window: Days(1), Step: Days(0.5), IncludeTail: true})
	require.Len(t, got, 3)
	assert.Equal(t, day0.Add(12*time.Hour), got[1].Start)
	// stride lands exactly on train end: no tail added
	assert.Equal(t, train.End, got[2].End)
}

func TestSweepWindows_Degenerate(t *testing.T) {
	train := domain.Window{Start: day0, End: day0.Add(12 * time.Hour)}

	assert.Equal(t, []domain.Window{train}, SweepWindows(train, SweepOptions{Window: 0}))
	assert.Equal(t, []domain.Window{train}, SweepWindows(train, SweepOptions{Window: Days(1)}))

	empty := domain.Window{Start: day0, End: day0}
	assert.Equal(t, []domain.Window{empty}, SweepWindows(empty, SweepOptions{Window: time.Hour}))

	// non-positive step defaults to the window length
	got := SweepWindows(train, SweepOptions{Window: 4 * time.Hour, Step: -1})
	assert.Len(t, got, 3)
}
