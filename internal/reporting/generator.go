package reporting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

const defaultTopN = 20

var stageOrder = []string{
	domain.StageSearch,
	domain.StageRefine,
	domain.StageSweep,
	domain.StageValidation,
	domain.StageCommon,
}

// Generator produces reports from stored data.
type Generator struct {
	runStore        storage.RunStore
	evaluationStore storage.EvaluationStore
	decisionStore   storage.DecisionStore
	topN            int
	now             func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(
	runStore storage.RunStore,
	evaluationStore storage.EvaluationStore,
	decisionStore storage.DecisionStore,
) *Generator {
	return &Generator{
		runStore:        runStore,
		evaluationStore: evaluationStore,
		decisionStore:   decisionStore,
		topN:            defaultTopN,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithTopN sets how many top evaluations are listed.
func (g *Generator) WithTopN(n int) *Generator {
	g.topN = n
	return g
}

// Generate produces the report of runID.
func (g *Generator) Generate(ctx context.Context, runID string) (*Report, error) {
	run, err := g.runStore.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	evals, err := g.evaluationStore.GetByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load evaluations: %w", err)
	}

	top, err := g.evaluationStore.TopByRun(ctx, runID, "", g.topN)
	if err != nil {
		return nil, fmt.Errorf("load top evaluations: %w", err)
	}

	decisions, err := g.decisionStore.GetByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}

	return &Report{
		GeneratedAt:    g.now(),
		Run:            summarize(run),
		Windows:        windows(run),
		Pairs:          pairRows(evals),
		Stages:         stageCounts(evals),
		Decisions:      decisions,
		TopEvaluations: evaluationRows(top),
	}, nil
}

func summarize(run *domain.OptimizationRun) RunSummary {
	s := RunSummary{
		RunID:      run.RunID,
		Status:     run.Status,
		StartedAt:  time.UnixMilli(run.StartedAt).UTC(),
		BestPair:   run.BestPair,
		BestScore:  domain.InvalidScore,
		BestParams: run.BestParamsJSON,
		Error:      run.Error,
	}
	if run.FinishedAt != nil {
		s.FinishedAt = time.UnixMilli(*run.FinishedAt).UTC()
	}
	if run.BestScore != nil {
		s.BestScore = *run.BestScore
	}
	return s
}

func windows(run *domain.OptimizationRun) []WindowRow {
	rows := []WindowRow{{
		Name:  "train",
		Start: time.UnixMilli(run.TrainStart).UTC(),
		End:   time.UnixMilli(run.TrainEnd).UTC(),
	}}
	if run.ValidationStart != nil && run.ValidationEnd != nil {
		rows = append(rows, WindowRow{
			Name:  "validation",
			Start: time.UnixMilli(*run.ValidationStart).UTC(),
			End:   time.UnixMilli(*run.ValidationEnd).UTC(),
		})
	}
	return rows
}

func isTrainStage(stage string) bool {
	return stage == domain.StageSearch || stage == domain.StageRefine || stage == domain.StageSweep
}

// pairRows keeps the first-seen best per pair, since evals arrive in
// creation order.
func pairRows(evals []*domain.EvaluationRecord) []PairRow {
	byPair := make(map[string]*PairRow)
	for _, e := range evals {
		if e.Stage == domain.StageCommon {
			continue
		}
		row, ok := byPair[e.Pair]
		if !ok {
			row = &PairRow{Pair: e.Pair, TrainScore: domain.InvalidScore, ValidationScore: domain.InvalidScore}
			byPair[e.Pair] = row
		}
		valid := isFinite(e.Score)
		switch {
		case isTrainStage(e.Stage):
			row.TrainRuns++
			if valid {
				row.TrainValid++
				if e.Score > row.TrainScore {
					row.TrainScore, row.TrainParams = e.Score, e.ParamsJSON
				}
			}
		case e.Stage == domain.StageValidation:
			row.ValidationRuns++
			if valid && e.Score > row.ValidationScore {
				row.ValidationScore, row.ValidationParams = e.Score, e.ParamsJSON
			}
		}
	}

	rows := make([]PairRow, 0, len(byPair))
	for _, row := range byPair {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Pair < rows[j].Pair })
	return rows
}

func stageCounts(evals []*domain.EvaluationRecord) []StageCountRow {
	counts := make(map[string]*StageCountRow)
	for _, e := range evals {
		c, ok := counts[e.Stage]
		if !ok {
			c = &StageCountRow{Stage: e.Stage}
			counts[e.Stage] = c
		}
		c.Total++
		if isFinite(e.Score) {
			c.Valid++
		}
	}

	var rows []StageCountRow
	for _, stage := range stageOrder {
		if c, ok := counts[stage]; ok {
			rows = append(rows, *c)
			delete(counts, stage)
		}
	}
	var rest []string
	for stage := range counts {
		rest = append(rest, stage)
	}
	sort.Strings(rest)
	for _, stage := range rest {
		rows = append(rows, *counts[stage])
	}
	return rows
}

func evaluationRows(evals []*domain.EvaluationRecord) []EvaluationRow {
	rows := make([]EvaluationRow, 0, len(evals))
	for _, e := range evals {
		rows = append(rows, EvaluationRow{Pair: e.Pair, Stage: e.Stage, Score: e.Score, Params: e.ParamsJSON})
	}
	return rows
}

func isFinite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
