// Package decision gates config updates: every candidate parameter set is
// checked against a short checklist and either applied or skipped.
package decision

import "github.com/shigeo-nakamura/pairtrade/internal/domain"

// Action is the outcome of a gate.
type Action string

const (
	ActionApply Action = domain.DecisionApply
	ActionSkip  Action = domain.DecisionSkip
)

// Update modes, matching the config package.
const (
	ModePerPair = "per_pair"
	ModeCommon  = "common"
	ModeOverall = "overall"
)

// Input describes one proposed config update.
type Input struct {
	Mode   string
	Pair   string // empty for updates that cover every pair
	Target string // config file path; empty when no config matched the pair

	Params domain.ParameterSet
	Score  float64 // validation score when validation ran, else train score

	ValidationRan   bool
	ValidationScore float64

	// Common mode only.
	CommonWorst    float64
	CommonMinScore float64
}

// CriterionResult represents pass/fail for one checklist item.
type CriterionResult struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// Result contains the action with its checklist.
type Result struct {
	Input    Input
	Action   Action
	Criteria []CriterionResult
}

// Reasons returns the names of the failed criteria.
func (r *Result) Reasons() []string {
	var reasons []string
	for _, c := range r.Criteria {
		if !c.Pass {
			reasons = append(reasons, c.Name)
		}
	}
	return reasons
}

// Applied reports whether the update should be written.
func (r *Result) Applied() bool {
	return r.Action == ActionApply
}

// WriteFailed returns a copy of r for target that records a failed config
// write. The copy is always a SKIP.
func (r *Result) WriteFailed(target string, err error) *Result {
	out := &Result{Input: r.Input, Action: ActionSkip}
	out.Input.Target = target
	out.Criteria = append(out.Criteria, r.Criteria...)
	actual := "unchanged"
	if err != nil {
		actual = err.Error()
	}
	out.Criteria = append(out.Criteria, CriterionResult{
		Name:      CriterionWrite,
		Threshold: "written",
		Actual:    actual,
		Pass:      false,
	})
	return out
}

// ForTarget returns a copy of r addressed to another config file.
func (r *Result) ForTarget(target string) *Result {
	out := *r
	out.Input.Target = target
	return &out
}
