// Package orchestrator runs one end-to-end optimization.
// It coordinates: train search (optionally swept) → walk-forward validation →
// parameter selection → config updates. Every run is persisted, counted and
// streamed to progress clients as it finishes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shigeo-nakamura/pairtrade/internal/config"
	"github.com/shigeo-nakamura/pairtrade/internal/dataset"
	"github.com/shigeo-nakamura/pairtrade/internal/decision"
	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/observability"
	"github.com/shigeo-nakamura/pairtrade/internal/paramfile"
	"github.com/shigeo-nakamura/pairtrade/internal/progress"
	"github.com/shigeo-nakamura/pairtrade/internal/sampler"
	"github.com/shigeo-nakamura/pairtrade/internal/search"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
	"github.com/shigeo-nakamura/pairtrade/internal/storage/memory"
	"github.com/shigeo-nakamura/pairtrade/internal/sweeplog"
	"github.com/shigeo-nakamura/pairtrade/internal/walkforward"
)

// ErrNoTargetPairs is returned when neither the environment nor the pair
// config names a pair to optimize.
var ErrNoTargetPairs = errors.New("no target pairs found")

// CommonPair is the best-pair label of a run whose result is a common set.
const CommonPair = "common-params"

// Orchestrator coordinates one optimization run.
type Orchestrator struct {
	cfg    *config.Config
	runner search.Runner
	grid   *sampler.Grid

	runs      storage.RunStore
	evals     storage.EvaluationStore
	decisions storage.DecisionStore

	metrics  *observability.Metrics
	hub      *progress.Hub
	sweepLog *sweeplog.Writer
	gate     *decision.Evaluator

	now func() time.Time
	log *zap.Logger
}

// Options for creating Orchestrator.
type Options struct {
	Config *config.Config

	// Runner executes backtests. Nil runs the configured executable over a
	// snapshot of the data file.
	Runner search.Runner
	// Grid is the base search space. Nil means sampler.DefaultGrid().
	Grid *sampler.Grid

	// Stores. Nil stores are replaced by in-memory ones.
	Runs        storage.RunStore
	Evaluations storage.EvaluationStore
	Decisions   storage.DecisionStore

	// Optional sinks
	Metrics  *observability.Metrics
	Hub      *progress.Hub
	SweepLog *sweeplog.Writer

	Logger *zap.Logger
	Now    func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:       opts.Config,
		runner:    opts.Runner,
		grid:      opts.Grid,
		runs:      opts.Runs,
		evals:     opts.Evaluations,
		decisions: opts.Decisions,
		metrics:   opts.Metrics,
		hub:       opts.Hub,
		sweepLog:  opts.SweepLog,
		gate:      decision.NewEvaluator(),
		now:       opts.Now,
		log:       opts.Logger,
	}
	if o.grid == nil {
		o.grid = sampler.DefaultGrid()
	}
	if o.runs == nil {
		o.runs = memory.NewRunStore()
	}
	if o.evals == nil {
		o.evals = memory.NewEvaluationStore()
	}
	if o.decisions == nil {
		o.decisions = memory.NewDecisionStore()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	o.log = o.log.Named("orchestrator")
	return o
}

// PairResult is the train and validation outcome of one pair.
type PairResult struct {
	Pair string

	Train      domain.EvaluationResult   // Params nil when no run scored
	Candidates []domain.EvaluationResult // results validation candidates are picked from

	ValidationCandidates []domain.ParameterSet
	Validated            bool
	Validation           domain.EvaluationResult // Params nil when every candidate failed
	ValidationResults    []domain.EvaluationResult
}

// Selected returns the parameters and score a config update would use: the
// validation outcome when a validation window exists, else the train best.
// With a validation window, a pair that was never validated scores the sentinel.
func (p *PairResult) Selected(hasValidation bool) (domain.ParameterSet, float64) {
	if !hasValidation {
		return p.Train.Params, p.Train.Score
	}
	params := p.Train.Params
	if p.Validation.Params != nil {
		params = p.Validation.Params
	}
	if !p.Validated {
		return params, domain.InvalidScore
	}
	return params, p.Validation.Score
}

// CommonSelection is the parameter set chosen for every pair at once.
type CommonSelection struct {
	Params     domain.ParameterSet
	Average    float64
	Worst      float64
	Candidates int
}

// Result contains results from orchestrator execution.
type Result struct {
	RunID string
	Plan  walkforward.Plan
	Pairs []*PairResult

	Common    *CommonSelection // nil unless common params were selected
	BestPair  string
	Best      domain.EvaluationResult
	Decisions []*domain.ConfigDecision
	Updated   bool
}

// runState is what the phases of one run share.
type runState struct {
	res    *Result
	run    *domain.OptimizationRun
	runner search.Runner
	obs    *runObserver
	pairs  []string
	grid   *sampler.Grid       // base grid, seeded from the main config when enabled
	byPair map[string][]string // per-pair config files, for per-pair seeding
}

// Run executes the full optimization.
// Phases:
//  1. Load the pair config, seed the grid, snapshot the data and plan windows
//  2. Train search per pair (sweep mode re-scores merged window candidates)
//  3. Validate diverse candidates per pair on the held-out window
//  4. Select parameters and update configs through the decision gate
//
// Setup failures return before a run is recorded. Once the run exists, it is
// always finished, and the Result is returned together with any error.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	cfg := o.cfg
	started := o.now()

	o.log.Info("phase 1: setup", zap.String("config", cfg.Paths.ConfigPath))
	doc, err := paramfile.Load(cfg.Paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (load config) failed: %w", err)
	}

	grid := o.grid
	if cfg.Search.SeedFromConfig {
		grid = paramfile.SeedGrid(o.grid, doc)
		o.log.Info("seeded grid from config", zap.Int("combinations", grid.Size()))
	}

	pairs := cfg.Search.TargetPairs
	if len(pairs) == 0 {
		pairs = doc.TargetPairs()
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("phase 1 failed: %w; set universe_pairs or universe_symbols in %s", ErrNoTargetPairs, cfg.Paths.ConfigPath)
	}

	var byPair map[string][]string
	if cfg.Common.Mode != config.ModeCommon {
		byPair, _ = paramfile.MapByPair(paramfile.UpdateTargets(cfg.Paths.ConfigPath))
	}

	if n, err := search.CleanupRestartCounters(cfg.Paths.LogDir); err != nil {
		o.log.Warn("cleanup restart counters", zap.Error(err))
	} else if n > 0 {
		o.log.Info("removed restart counters", zap.Int("count", n))
	}

	snapshot, err := dataset.Snapshot(cfg.Paths.DataFile, cfg.Paths.SnapshotDir)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (snapshot data) failed: %w", err)
	}
	defer func() {
		if err := os.Remove(snapshot); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.log.Warn("remove data snapshot", zap.String("path", snapshot), zap.Error(err))
		}
	}()
	o.log.Info("using data snapshot", zap.String("snapshot", snapshot), zap.String("source", cfg.Paths.DataFile))

	bounds, err := dataset.TimeBounds(snapshot)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (data bounds) failed: %w", err)
	}
	plan := walkforward.BuildPlan(bounds.Start, bounds.End, cfg.Search.Warmup)
	fields := []zap.Field{zap.Time("train_start", plan.Train.Start), zap.Time("train_end", plan.Train.End)}
	if plan.HasValidation() {
		fields = append(fields, zap.Time("validation_start", plan.Validation.Start), zap.Time("validation_end", plan.Validation.End))
	}
	if plan.Collapsed {
		o.log.Warn("dataset shorter than warmup; training on the full range without validation", fields...)
	} else {
		o.log.Info("walk-forward plan", fields...)
	}

	runner := o.runner
	if runner == nil {
		runner = o.execRunner(snapshot, bounds)
	}

	run := newRun(uuid.NewString(), started, plan)
	if err := o.runs.Insert(ctx, run); err != nil {
		o.metrics.RecordStorageError("insert_run")
		return nil, fmt.Errorf("phase 1 (insert run) failed: %w", err)
	}

	st := &runState{
		res:    &Result{RunID: run.RunID, Plan: plan},
		run:    run,
		runner: runner,
		pairs:  pairs,
		grid:   grid,
		byPair: byPair,
		obs: &runObserver{
			runID:   run.RunID,
			evals:   o.evals,
			metrics: o.metrics,
			hub:     o.hub,
			now:     o.now,
			log:     o.log,
		},
	}
	o.log.Info("optimization started", zap.String("run_id", run.RunID), zap.Strings("pairs", pairs))

	runErr := o.execute(ctx, st)
	o.finish(ctx, st, started, runErr)
	return st.res, runErr
}

func (o *Orchestrator) execute(ctx context.Context, st *runState) error {
	o.log.Info("phase 2: train search", zap.Int("pairs", len(st.pairs)))
	for _, pair := range st.pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		pr, err := o.trainPair(ctx, st, pair)
		if err != nil {
			return fmt.Errorf("phase 2 (train %s) failed: %w", pair, err)
		}
		st.res.Pairs = append(st.res.Pairs, pr)
	}

	if st.res.Plan.HasValidation() {
		o.log.Info("phase 3: validation")
		if err := o.validate(ctx, st); err != nil {
			return fmt.Errorf("phase 3 (validation) failed: %w", err)
		}
	} else {
		o.log.Info("phase 3: skipped, no validation window")
	}
	o.logSummary(st.res)

	o.log.Info("phase 4: config updates", zap.String("mode", o.cfg.Common.Mode))
	if err := o.update(ctx, st); err != nil {
		return fmt.Errorf("phase 4 (config updates) failed: %w", err)
	}
	return nil
}

// finish records the terminal state of the run. Storage failures here are
// logged and counted but do not change the run's outcome.
func (o *Orchestrator) finish(ctx context.Context, st *runState, started time.Time, runErr error) {
	res, run := st.res, st.run
	if res.BestPair == "" {
		res.BestPair, res.Best = bestOverall(res.Pairs, res.Plan.HasValidation())
	}

	finished := o.now()
	finishedAt := finished.UnixMilli()
	run.FinishedAt = &finishedAt
	run.Status = domain.RunStatusSuccess
	if runErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = runErr.Error()
	}
	if res.Best.Params != nil {
		run.BestPair = res.BestPair
		if res.Best.IsValid() {
			score := res.Best.Score
			run.BestScore = &score
		}
		if paramsJSON, err := storage.EncodeParams(res.Best.Params); err == nil {
			run.BestParamsJSON = paramsJSON
		}
	}

	if err := o.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
		o.metrics.RecordStorageError("finish_run")
		o.log.Error("record run finish", zap.String("run_id", run.RunID), zap.Error(err))
	}
	o.metrics.RecordOptimization(run.Status, finished.Sub(started), finished)
	st.obs.stage("done", "", run.Status, domain.Window{})

	fields := []zap.Field{
		zap.String("run_id", run.RunID),
		zap.String("status", run.Status),
		zap.Duration("duration", finished.Sub(started)),
		zap.Int("decisions", len(res.Decisions)),
		zap.Bool("updated", res.Updated),
	}
	if runErr != nil {
		o.log.Error("optimization finished", append(fields, zap.Error(runErr))...)
		return
	}
	o.log.Info("optimization finished", fields...)
}

func (o *Orchestrator) execRunner(snapshot string, bounds domain.Window) search.Runner {
	cfg := o.cfg
	return search.NewExecRunner(search.ExecOptions{
		Executable:   cfg.Paths.Executable,
		DataFile:     snapshot,
		LogDir:       cfg.Paths.LogDir,
		KeepLogs:     cfg.Paths.KeepLogs,
		Env:          map[string]string{"PAIRTRADE_CONFIG_PATH": cfg.Paths.ConfigPath},
		DataStart:    bounds.Start,
		Warmup:       cfg.Search.Warmup,
		ExpectedBars: dataset.EstimateBars(bounds, cfg.Search.TradingPeriod),
		Accounting:   cfg.AccountingOptions(time.Time{}, time.Time{}),
		Score:        cfg.Score,
		Logger:       o.log,
	})
}

func (o *Orchestrator) logSummary(res *Result) {
	for _, pr := range res.Pairs {
		if pr.Train.Params == nil {
			o.log.Info("pair result: no successful runs", zap.String("pair", pr.Pair))
			continue
		}
		fields := []zap.Field{
			zap.String("pair", pr.Pair),
			zap.Float64("train_score", pr.Train.Score),
			zap.String("train_params", pr.Train.Params.Key()),
		}
		if pr.Validated {
			fields = append(fields, zap.Float64("validation_score", pr.Validation.Score))
			if pr.Validation.Params != nil {
				fields = append(fields, zap.String("validation_params", pr.Validation.Params.Key()))
			}
		}
		o.log.Info("pair result", fields...)
	}
}

func newRun(runID string, started time.Time, plan walkforward.Plan) *domain.OptimizationRun {
	run := &domain.OptimizationRun{
		RunID:      runID,
		StartedAt:  started.UnixMilli(),
		Status:     domain.RunStatusRunning,
		TrainStart: plan.Train.Start.UnixMilli(),
		TrainEnd:   plan.Train.End.UnixMilli(),
	}
	if plan.HasValidation() {
		start, end := plan.Validation.Start.UnixMilli(), plan.Validation.End.UnixMilli()
		run.ValidationStart = &start
		run.ValidationEnd = &end
	}
	return run
}

// bestOverall picks the pair with the highest selected score. Pairs without
// parameters or with the sentinel score are never picked.
func bestOverall(pairs []*PairResult, hasValidation bool) (string, domain.EvaluationResult) {
	var bestPair string
	best := domain.EvaluationResult{Score: domain.InvalidScore}
	for _, pr := range pairs {
		params, score := pr.Train.Params, pr.Train.Score
		if hasValidation && pr.Validated {
			params, score = pr.Validation.Params, pr.Validation.Score
		}
		if params == nil {
			continue
		}
		if score > best.Score {
			bestPair = pr.Pair
			best = domain.EvaluationResult{Params: params, Score: score}
		}
	}
	return bestPair, best
}
