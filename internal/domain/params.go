package domain

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParameterSet maps strategy parameter names to their values.
// Values are kept as strings so categorical and numeric parameters share one shape.
// A set must not be mutated once it has been dispatched to a run.
type ParameterSet map[string]string

// Key returns a canonical encoding of the set (sorted by name) for dedupe.
func (p ParameterSet) Key() string {
	names := p.Names()
	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(p[name])
	}
	return sb.String()
}

// Names returns the parameter names in sorted order.
func (p ParameterSet) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (p ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Float parses a parameter as float64. ok is false if missing or not numeric.
func (p ParameterSet) Float(name string) (float64, bool) {
	raw, exists := p[name]
	if !exists {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// InvalidScore is the sentinel score of a failed, timed out or rejected run.
var InvalidScore = math.Inf(-1)

// EvaluationResult is a scored parameter set.
type EvaluationResult struct {
	Params ParameterSet
	Score  float64 // InvalidScore when the run failed or violated a hard constraint
}

// IsValid reports whether the score is finite.
func (r EvaluationResult) IsValid() bool {
	return !math.IsInf(r.Score, 0) && !math.IsNaN(r.Score)
}

// Window is a [Start, End) time bound used for accounting and search.
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Days returns the window length in days, or 0 for empty windows.
func (w Window) Days() float64 {
	d := w.Duration()
	if d <= 0 {
		return 0
	}
	return d.Hours() / 24
}
