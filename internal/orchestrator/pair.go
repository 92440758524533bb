package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shigeo-nakamura/pairtrade/internal/config"
	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/paramfile"
	"github.com/shigeo-nakamura/pairtrade/internal/sampler"
	"github.com/shigeo-nakamura/pairtrade/internal/search"
	"github.com/shigeo-nakamura/pairtrade/internal/selection"
	"github.com/shigeo-nakamura/pairtrade/internal/walkforward"
)

// controller builds a search controller for the train window (sweep=false)
// or for sweep windows.
func (o *Orchestrator) controller(st *runState, sweep bool) *search.Controller {
	s := o.cfg.Search
	opts := search.Options{
		Workers:          s.Workers,
		MaxCombos:        s.MaxCombos,
		Strategy:         s.Strategy,
		Seed:             s.Seed,
		RunTimeout:       s.RunTimeout,
		EnableRefinement: s.EnableRefinement,
		Refine:           s.Refine,
		Observer:         st.obs,
		Logger:           o.log,
	}
	if sweep {
		opts.MaxCombos = o.cfg.Sweep.MaxCombos
		opts.EnableRefinement = o.cfg.Sweep.Refinement
	}
	return search.NewController(st.runner, opts)
}

// pairGrid seeds the grid from the pair's own config in per-pair mode.
func (o *Orchestrator) pairGrid(st *runState, pair string) *sampler.Grid {
	if !o.cfg.Search.SeedFromConfig || o.cfg.Common.Mode == config.ModeCommon {
		return st.grid
	}
	configs := st.byPair[pair]
	if len(configs) == 0 {
		return st.grid
	}
	doc, err := paramfile.Load(configs[0])
	if err != nil {
		o.log.Warn("load pair config", zap.String("pair", pair), zap.String("path", configs[0]), zap.Error(err))
		return st.grid
	}
	o.log.Info("seeded grid from pair config", zap.String("pair", pair), zap.String("path", configs[0]))
	return paramfile.SeedGrid(o.grid, doc)
}

// trainPair runs the train search for one pair. The returned error is
// non-nil only for a fatal dependency failure or cancellation.
func (o *Orchestrator) trainPair(ctx context.Context, st *runState, pair string) (*PairResult, error) {
	o.metrics.PairStarted()
	defer o.metrics.PairFinished()

	train := st.res.Plan.Train
	grid := o.pairGrid(st, pair)
	pr := &PairResult{Pair: pair}

	var out *search.Outcome
	var err error
	if o.cfg.Sweep.Enable {
		out, err = o.sweepPair(ctx, st, pair, grid)
	} else {
		st.obs.stage(domain.StageSearch, pair, "", train)
		out, err = o.controller(st, false).Optimize(ctx, pair, train, grid)
	}
	if err != nil {
		return nil, err
	}

	pr.Train = out.Best
	pr.Candidates = out.CandidateResults()
	if !out.Found() {
		pr.Train.Score = domain.InvalidScore
		o.log.Warn("no successful runs", zap.String("pair", pair))
	}
	return pr, nil
}

// sweepPair searches every sweep window, merges the selected candidates and
// re-scores them on the full train window. Without any candidate it falls
// back to a full train search.
func (o *Orchestrator) sweepPair(ctx context.Context, st *runState, pair string, grid *sampler.Grid) (*search.Outcome, error) {
	sw := o.cfg.Sweep
	train := st.res.Plan.Train
	windows := walkforward.SweepWindows(train, walkforward.SweepOptions{
		Window:      sw.Window,
		Step:        sw.Step,
		IncludeTail: sw.IncludeTail,
	})
	log := o.log.With(zap.String("pair", pair))
	log.Info("sweep mode enabled",
		zap.Int("windows", len(windows)),
		zap.Duration("window", sw.Window),
		zap.Duration("step", sw.Step),
		zap.Int("max_combos", sw.MaxCombos),
		zap.Int("top_k", sw.Criteria.TopK),
		zap.Int("diverse_k", sw.Criteria.DiverseK),
		zap.Float64("min_score", sw.Criteria.MinScore),
		zap.Int("final_max", sw.FinalMax))

	ctrl := o.controller(st, true)
	lists := make([][]domain.EvaluationResult, 0, len(windows))
	for i, w := range windows {
		st.obs.stage(domain.StageSweep, pair, fmt.Sprintf("window %d/%d", i+1, len(windows)), w)
		out, err := ctrl.Optimize(ctx, pair, w, grid)
		if err != nil {
			return nil, fmt.Errorf("sweep window %d/%d: %w", i+1, len(windows), err)
		}
		picked := selection.SelectSweep(out.CandidateResults(), sw.Criteria)
		if err := o.sweepLog.Record(pair, w, picked); err != nil {
			log.Warn("write sweep log", zap.Error(err))
		}
		lists = append(lists, picked)
	}

	merged := selection.MergeSweepCandidates(lists, sw.FinalMax)
	if len(merged) == 0 {
		log.Warn("sweep produced no candidates; falling back to full-grid optimization")
		st.obs.stage(domain.StageSearch, pair, "sweep fallback", train)
		return o.controller(st, false).Optimize(ctx, pair, train, grid)
	}

	log.Info("re-evaluating sweep candidates on the train window", zap.Int("candidates", len(merged)))
	st.obs.stage(domain.StageSweep, pair, fmt.Sprintf("%d candidates on train window", len(merged)), train)
	return ctrl.Evaluate(ctx, pair, domain.StageSweep, train, selection.Params(merged))
}

// validate scores the selected candidates of every pair on the validation
// window, several pairs at a time. A fatal dependency failure or cancellation
// aborts the phase; any other failure gives that pair the sentinel score.
func (o *Orchestrator) validate(ctx context.Context, st *runState) error {
	vc := o.cfg.Validation
	window := *st.res.Plan.Validation

	var pending []*PairResult
	for _, pr := range st.res.Pairs {
		pr.ValidationCandidates = selection.SelectValidation(pr.Candidates, vc.TopK, vc.DiverseK, vc.DiversityKeys)
		if len(pr.ValidationCandidates) > 0 {
			pending = append(pending, pr)
		}
	}
	if len(pending) == 0 {
		o.log.Info("no validation candidates")
		return nil
	}

	workers := o.cfg.ValidationPairWorkers(len(pending))
	o.log.Info("running validation backtests", zap.Int("pairs", len(pending)), zap.Int("workers", workers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, pr := range pending {
		g.Go(func() error {
			st.obs.stage(domain.StageValidation, pr.Pair, fmt.Sprintf("%d candidates", len(pr.ValidationCandidates)), window)
			v, err := search.EvaluateCandidates(gctx, st.runner, pr.Pair, pr.ValidationCandidates, window, search.ValidationOptions{
				Workers:    o.cfg.ValidationCandidateWorkers(len(pr.ValidationCandidates)),
				RunTimeout: o.cfg.Search.RunTimeout,
				Observer:   st.obs,
				Logger:     o.log,
			})
			pr.Validated = true
			switch {
			case errors.Is(err, search.ErrFatalDependency) || gctx.Err() != nil:
				return err
			case err != nil:
				o.log.Warn("validation failed", zap.String("pair", pr.Pair), zap.Error(err))
				pr.Validation = domain.EvaluationResult{Score: domain.InvalidScore}
				return nil
			}
			pr.ValidationResults = v.Results
			pr.Validation = v.Best
			if !v.Found() {
				pr.Validation.Score = domain.InvalidScore
				return nil
			}
			st.obs.NewBest(gctx, pr.Pair, domain.StageValidation, v.Best)
			return nil
		})
	}
	return g.Wait()
}
