package search

import (
	"context"
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// ResolveWorkers picks a pool size: configured if positive, else NumCPU minus
// reserve (at least 1), never more than pending.
func ResolveWorkers(configured, reserve, pending int) int {
	workers := configured
	if workers <= 0 {
		workers = max(1, runtime.NumCPU()-reserve)
	}
	if pending > 0 && workers > pending {
		workers = pending
	}
	return workers
}

type job struct {
	pair    string
	stage   string
	window  domain.Window
	label   string
	sets    []domain.ParameterSet
	workers int
	timeout time.Duration
}

// runPool runs every set of the job through runner and returns results in
// dispatch order. A fatal dependency error cancels in-flight runs and is returned.
func runPool(ctx context.Context, runner Runner, obs Observer, log *zap.Logger, j job) ([]domain.EvaluationResult, error) {
	results := make([]domain.EvaluationResult, len(j.sets))
	if len(j.sets) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ResolveWorkers(j.workers, 1, len(j.sets)))

	for i, params := range j.sets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			started := time.Now()
			score, err := runOne(gctx, runner, j.timeout, RunRequest{
				Pair:   j.pair,
				Params: params,
				Window: j.window,
				Label:  j.label,
			})
			if err != nil {
				if errors.Is(err, ErrFatalDependency) {
					log.Error("fatal backtest error",
						zap.String("pair", j.pair),
						zap.String("stage", j.stage),
						zap.Error(err))
					return err
				}
				if gctx.Err() != nil {
					// cancelled by a sibling failure or by the caller, not a run failure
					return nil
				}
				log.Warn("backtest failed",
					zap.String("pair", j.pair),
					zap.String("stage", j.stage),
					zap.String("params", params.Key()),
					zap.Error(err))
				score = domain.InvalidScore
			}

			results[i] = domain.EvaluationResult{Params: params, Score: score}
			obs.RunFinished(gctx, RunEvent{
				Pair:     j.pair,
				Stage:    j.stage,
				Window:   j.window,
				Index:    i,
				Total:    len(j.sets),
				Result:   results[i],
				Err:      err,
				Duration: time.Since(started),
			})
			log.Debug("backtest completed",
				zap.String("pair", j.pair),
				zap.String("stage", j.stage),
				zap.Int("index", i+1),
				zap.Int("total", len(j.sets)),
				zap.Float64("score", score))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func runOne(ctx context.Context, runner Runner, timeout time.Duration, req RunRequest) (float64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return runner.Run(ctx, req)
}

// bestOf returns the index of the highest score, first index on ties.
// Returns -1 when every score is the invalid sentinel.
func bestOf(results []domain.EvaluationResult) int {
	best := -1
	bestScore := domain.InvalidScore
	for i, r := range results {
		if r.Params == nil {
			continue
		}
		if r.Score > bestScore {
			best = i
			bestScore = r.Score
		}
	}
	return best
}
