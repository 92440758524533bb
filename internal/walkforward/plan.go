// Package walkforward splits a dataset horizon into train, validation and
// sweep windows.
package walkforward

import (
	"time"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// Plan is a train window plus an optional validation window.
type Plan struct {
	Train      domain.Window
	Validation *domain.Window // nil when the data is too short to hold one out

	// Collapsed is true when the dataset was shorter than the warmup and the
	// whole range became the train window.
	Collapsed bool
}

// HasValidation reports whether a held-out window exists.
func (p Plan) HasValidation() bool {
	return p.Validation != nil
}

// BuildPlan trains on [start+warmup, mid] and validates on [mid, end].
// If warmup leaves no train time, the plan trains on [start, end] without validation.
func BuildPlan(dataStart, dataEnd time.Time, warmup time.Duration) Plan {
	mid := dataStart.Add(dataEnd.Sub(dataStart) / 2)
	trainStart := dataStart.Add(warmup)

	if !trainStart.Before(mid) {
		return Plan{
			Train:     domain.Window{Start: dataStart, End: dataEnd},
			Collapsed: true,
		}
	}
	return Plan{
		Train:      domain.Window{Start: trainStart, End: mid},
		Validation: &domain.Window{Start: mid, End: dataEnd},
	}
}

// SweepOptions configures sliding sweep windows.
type SweepOptions struct {
	Window      time.Duration // ≤ 0 disables subdivision
	Step        time.Duration // ≤ 0 → Window
	IncludeTail bool
}

// SweepWindows subdivides train into fixed-length sliding windows. When the
// stride stops short of train.End and IncludeTail is set, a final window
// ending exactly at train.End is appended.
func SweepWindows(train domain.Window, opts SweepOptions) []domain.Window {
	total := train.End.Sub(train.Start)
	if opts.Window <= 0 || total <= 0 || total < opts.Window {
		return []domain.Window{train}
	}
	step := opts.Step
	if step <= 0 {
		step = opts.Window
	}

	var windows []domain.Window
	for cursor := train.Start; !cursor.Add(opts.Window).After(train.End); cursor = cursor.Add(step) {
		windows = append(windows, domain.Window{Start: cursor, End: cursor.Add(opts.Window)})
	}

	if opts.IncludeTail && len(windows) > 0 {
		if last := windows[len(windows)-1]; last.End.Before(train.End) {
			tailStart := train.End.Add(-opts.Window)
			if tailStart.Before(train.Start) {
				tailStart = train.Start
			}
			tail := domain.Window{Start: tailStart, End: train.End}
			if !containsWindow(windows, tail) {
				windows = append(windows, tail)
			}
		}
	}
	if len(windows) == 0 {
		windows = append(windows, train)
	}
	return windows
}

// Days converts a fractional day count into a Duration.
func Days(d float64) time.Duration {
	return time.Duration(d * float64(24*time.Hour))
}

func containsWindow(windows []domain.Window, w domain.Window) bool {
	for _, x := range windows {
		if x.Start.Equal(w.Start) && x.End.Equal(w.End) {
			return true
		}
	}
	return false
}
