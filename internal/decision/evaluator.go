package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/metrics"
)

// Criterion names, also stored as skip reasons.
const (
	CriterionParams     = "Parameters present"
	CriterionTarget     = "Config target found"
	CriterionScore      = "Score finite"
	CriterionValidation = "Validation score"
	CriterionCommon     = "Common worst score"
	CriterionWrite      = "Config written"
)

// Evaluator evaluates config update criteria.
type Evaluator struct {
	// MinValidationScore is the lowest validation score that may be applied.
	MinValidationScore float64
}

// NewEvaluator creates an evaluator that rejects negative validation scores.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate produces a Result. APPLY only if every criterion passes.
func (e *Evaluator) Evaluate(in Input) *Result {
	criteria := []CriterionResult{
		{
			Name:      CriterionParams,
			Threshold: "> 0 params",
			Actual:    fmt.Sprintf("%d params", len(in.Params)),
			Pass:      len(in.Params) > 0,
		},
		{
			Name:      CriterionTarget,
			Threshold: "config exists",
			Actual:    orNone(in.Target),
			Pass:      in.Target != "",
		},
		{
			Name:      CriterionScore,
			Threshold: "finite",
			Actual:    metrics.FormatScore(in.Score),
			Pass:      isFinite(in.Score),
		},
	}

	if in.ValidationRan {
		criteria = append(criteria, CriterionResult{
			Name:      CriterionValidation,
			Threshold: fmt.Sprintf(">= %s", metrics.FormatScore(e.MinValidationScore)),
			Actual:    metrics.FormatScore(in.ValidationScore),
			Pass:      isFinite(in.ValidationScore) && in.ValidationScore >= e.MinValidationScore,
		})
	}

	if in.Mode == ModeCommon {
		criteria = append(criteria, CriterionResult{
			Name:      CriterionCommon,
			Threshold: fmt.Sprintf(">= %s", metrics.FormatScore(in.CommonMinScore)),
			Actual:    metrics.FormatScore(in.CommonWorst),
			Pass:      isFinite(in.CommonWorst) && in.CommonWorst >= in.CommonMinScore,
		})
	}

	action := ActionApply
	for _, c := range criteria {
		if !c.Pass {
			action = ActionSkip
			break
		}
	}
	return &Result{Input: in, Action: action, Criteria: criteria}
}

// Record converts a result into its persisted form.
func Record(runID string, r *Result, paramsJSON string, now time.Time) *domain.ConfigDecision {
	return &domain.ConfigDecision{
		RunID:      runID,
		Pair:       r.Input.Pair,
		Target:     r.Input.Target,
		Mode:       r.Input.Mode,
		Action:     string(r.Action),
		Score:      r.Input.Score,
		ParamsJSON: paramsJSON,
		Reasons:    r.Reasons(),
		CreatedAt:  now.UnixMilli(),
	}
}

func isFinite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
