// Package reporting builds the post-run optimization report from the stores.
package reporting

import (
	"time"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// Report represents one optimization run.
type Report struct {
	GeneratedAt time.Time

	Run     RunSummary
	Windows []WindowRow

	// Pairs sorted by pair id.
	Pairs []PairRow

	Stages    []StageCountRow
	Decisions []*domain.ConfigDecision

	// TopEvaluations sorted by score DESC, evaluation_id ASC.
	TopEvaluations []EvaluationRow
}

// RunSummary describes the run itself.
type RunSummary struct {
	RunID      string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	BestPair   string
	BestScore  float64 // sentinel when no best was recorded
	BestParams string
	Error      string
}

// Duration returns the wall time of a finished run, else zero.
func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// WindowRow is one walk-forward window.
type WindowRow struct {
	Name  string
	Start time.Time
	End   time.Time
}

// PairRow summarizes one pair's train and validation results.
type PairRow struct {
	Pair string

	TrainRuns   int
	TrainValid  int
	TrainScore  float64
	TrainParams string

	ValidationRuns   int
	ValidationScore  float64 // sentinel when validation did not run or nothing scored
	ValidationParams string
}

// SelectedParams returns the validation params when present, else the train params.
func (p PairRow) SelectedParams() string {
	if p.ValidationParams != "" {
		return p.ValidationParams
	}
	return p.TrainParams
}

// StageCountRow counts evaluations per stage.
type StageCountRow struct {
	Stage string
	Total int
	Valid int
}

// EvaluationRow is one stored evaluation.
type EvaluationRow struct {
	Pair   string
	Stage  string
	Score  float64
	Params string
}
