package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/sampler"
)

// Options configures a Controller.
type Options struct {
	Workers    int           // run pool size; 0 → NumCPU-1
	MaxCombos  int           // stage-1 sample budget; 0 → full grid
	Strategy   sampler.Strategy
	Seed       *int64        // nil → time-derived seed
	RunTimeout time.Duration // per-run wall clock bound; 0 → none

	EnableRefinement bool
	Refine           RefineOptions

	Observer Observer
	Logger   *zap.Logger
}

// Outcome is the result of one Optimize pass.
type Outcome struct {
	Pair   string
	Window domain.Window
	Total  int // valid combinations in the grid
	Seed   int64

	Stage1 []domain.EvaluationResult // dispatch order
	Stage2 []domain.EvaluationResult // dispatch order

	Best domain.EvaluationResult // Params nil when no run scored above the sentinel
}

// Found reports whether any run produced a usable best.
func (o *Outcome) Found() bool {
	return o != nil && o.Best.Params != nil
}

// CandidateResults returns the stage-2 results if refinement ran, else stage 1.
func (o *Outcome) CandidateResults() []domain.EvaluationResult {
	if len(o.Stage2) > 0 {
		return o.Stage2
	}
	return o.Stage1
}

// AllResults returns stage 1 followed by stage 2.
func (o *Outcome) AllResults() []domain.EvaluationResult {
	out := make([]domain.EvaluationResult, 0, len(o.Stage1)+len(o.Stage2))
	out = append(out, o.Stage1...)
	return append(out, o.Stage2...)
}

// Controller runs sampled parameter sets for one pair and window.
type Controller struct {
	runner Runner
	opts   Options
	obs    Observer
	log    *zap.Logger
}

// NewController creates a Controller around runner.
func NewController(runner Runner, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Controller{runner: runner, opts: opts, obs: obs, log: logger.Named("search")}
}

// Optimize samples the grid, runs stage 1, then optionally refines around the
// best results. The returned error is non-nil only for a fatal dependency
// failure or cancellation.
func (c *Controller) Optimize(ctx context.Context, pair string, window domain.Window, grid *sampler.Grid) (*Outcome, error) {
	rng, seed := sampler.NewRand(c.opts.Seed)
	sets, total := sampler.Sample(grid, c.opts.MaxCombos, c.opts.Strategy, rng)

	log := c.log.With(zap.String("pair", pair))
	if c.opts.MaxCombos > 0 && total > c.opts.MaxCombos {
		log.Info("grid combos capped",
			zap.Int("sampled", len(sets)),
			zap.Int("total", total),
			zap.Int64("seed", seed),
			zap.String("strategy", string(c.opts.Strategy)))
	}
	log.Info("optimizing pair",
		zap.Int("runs", len(sets)),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End))

	out := &Outcome{Pair: pair, Window: window, Total: total, Seed: seed}

	stage1, err := runPool(ctx, c.runner, c.obs, log, job{
		pair:    pair,
		stage:   domain.StageSearch,
		window:  window,
		sets:    sets,
		workers: c.opts.Workers,
		timeout: c.opts.RunTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("stage 1 for %s: %w", pair, err)
	}
	out.Stage1 = stage1
	if i := bestOf(stage1); i >= 0 {
		out.Best = stage1[i]
		c.obs.NewBest(ctx, pair, domain.StageSearch, out.Best)
		log.Info("stage 1 best", zap.Float64("score", out.Best.Score), zap.String("params", out.Best.Params.Key()))
	}

	if !c.opts.EnableRefinement || len(stage1) == 0 {
		return out, nil
	}

	refine := c.opts.Refine
	if refine.MaxRuns <= 0 {
		refine.MaxRuns = max(1, len(sets)/3)
	}
	refined := RefinedParamSets(stage1, grid, refine)
	if len(refined) == 0 {
		return out, nil
	}
	log.Info("refining candidates", zap.Int("runs", len(refined)))

	stage2, err := runPool(ctx, c.runner, c.obs, log, job{
		pair:    pair,
		stage:   domain.StageRefine,
		window:  window,
		sets:    refined,
		workers: c.opts.Workers,
		timeout: c.opts.RunTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("stage 2 for %s: %w", pair, err)
	}
	out.Stage2 = stage2

	if i := bestOf(stage2); i >= 0 && stage2[i].Score > out.Best.Score {
		out.Best = stage2[i]
		c.obs.NewBest(ctx, pair, domain.StageRefine, out.Best)
		log.Info("stage 2 improved best", zap.Float64("score", out.Best.Score), zap.String("params", out.Best.Params.Key()))
	}
	return out, nil
}

// Evaluate scores explicit parameter sets over window in the run pool and
// returns an Outcome without refinement. Used to re-score merged sweep candidates.
func (c *Controller) Evaluate(ctx context.Context, pair, stage string, window domain.Window, sets []domain.ParameterSet) (*Outcome, error) {
	log := c.log.With(zap.String("pair", pair))
	results, err := runPool(ctx, c.runner, c.obs, log, job{
		pair:    pair,
		stage:   stage,
		window:  window,
		sets:    sets,
		workers: c.opts.Workers,
		timeout: c.opts.RunTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%s runs for %s: %w", stage, pair, err)
	}
	out := &Outcome{Pair: pair, Window: window, Total: len(sets), Stage1: results}
	if i := bestOf(results); i >= 0 {
		out.Best = results[i]
		c.obs.NewBest(ctx, pair, stage, out.Best)
	}
	return out, nil
}
