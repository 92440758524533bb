package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// ValidationOptions configures EvaluateCandidates.
type ValidationOptions struct {
	Workers    int // 0 → NumCPU
	RunTimeout time.Duration
	Stage      string // defaults to domain.StageValidation
	Observer   Observer
	Logger     *zap.Logger
}

// Validation is the result of scoring candidates on a held-out window.
type Validation struct {
	Results []domain.EvaluationResult // input order
	Best    domain.EvaluationResult   // Params nil when every candidate scored the sentinel
}

// Found reports whether a best candidate exists.
func (v *Validation) Found() bool {
	return v != nil && v.Best.Params != nil
}

// EvaluateCandidates runs every candidate over window in a bounded pool.
// Ties go to the earliest candidate.
func EvaluateCandidates(ctx context.Context, runner Runner, pair string, candidates []domain.ParameterSet, window domain.Window, opts ValidationOptions) (*Validation, error) {
	if len(candidates) == 0 {
		return &Validation{}, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	stage := opts.Stage
	if stage == "" {
		stage = domain.StageValidation
	}
	log := logger.Named("validation").With(zap.String("pair", pair))

	workers := ResolveWorkers(opts.Workers, 0, len(candidates))
	if workers > 1 {
		log.Info("parallelizing validation candidates", zap.Int("workers", workers))
	}

	results, err := runPool(ctx, runner, obs, log, job{
		pair:    pair,
		stage:   stage,
		window:  window,
		label:   "val",
		sets:    candidates,
		workers: workers,
		timeout: opts.RunTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", pair, err)
	}

	v := &Validation{Results: results}
	if i := bestOf(results); i >= 0 {
		v.Best = results[i]
	}
	return v, nil
}
