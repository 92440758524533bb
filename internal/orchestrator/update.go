package orchestrator

import (
	"context"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shigeo-nakamura/pairtrade/internal/config"
	"github.com/shigeo-nakamura/pairtrade/internal/decision"
	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/paramfile"
	"github.com/shigeo-nakamura/pairtrade/internal/sampler"
	"github.com/shigeo-nakamura/pairtrade/internal/search"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

// update picks what to write and where:
//   - per_pair mode: each pair's own selection into its own configs
//   - common mode with validation: one set shared by every pair, falling
//     back to per-pair updates when no candidate qualifies
//   - common mode without validation: the best pair's set into every config
func (o *Orchestrator) update(ctx context.Context, st *runState) error {
	res := st.res
	switch {
	case o.cfg.Common.Mode != config.ModeCommon:
		res.Updated = o.updatePerPair(ctx, st)

	case res.Plan.HasValidation():
		sel, err := o.selectCommon(ctx, st)
		if err != nil {
			return err
		}
		if sel == nil {
			o.log.Warn("no common params qualified; falling back to per-pair updates",
				zap.Float64("min_score", o.cfg.Common.MinValScore))
			res.Updated = o.updatePerPair(ctx, st)
			return nil
		}
		res.Common = sel
		res.BestPair = CommonPair
		res.Best = domain.EvaluationResult{Params: sel.Params, Score: sel.Average}
		o.log.Info("selected common params",
			zap.Float64("avg", sel.Average),
			zap.Float64("worst", sel.Worst),
			zap.String("params", sel.Params.Key()))
		res.Updated = o.apply(ctx, st, decision.Input{
			Mode:            decision.ModeCommon,
			Params:          sel.Params,
			Score:           sel.Average,
			ValidationRan:   true,
			ValidationScore: sel.Average,
			CommonWorst:     sel.Worst,
			CommonMinScore:  o.cfg.Common.MinValScore,
		}, paramfile.UpdateTargets(o.cfg.Paths.ConfigPath))

	default:
		res.BestPair, res.Best = bestOverall(res.Pairs, false)
		if res.Best.Params == nil {
			o.log.Warn("no usable result; configs left unchanged")
			return nil
		}
		res.Updated = o.apply(ctx, st, decision.Input{
			Mode:   decision.ModeOverall,
			Pair:   res.BestPair,
			Params: res.Best.Params,
			Score:  res.Best.Score,
		}, paramfile.UpdateTargets(o.cfg.Paths.ConfigPath))
	}
	return nil
}

// updatePerPair writes every pair's selection into the configs that trade
// only that pair. Nothing is written when any config trades several pairs.
func (o *Orchestrator) updatePerPair(ctx context.Context, st *runState) bool {
	hasValidation := st.res.Plan.HasValidation()
	byPair, multi := paramfile.MapByPair(paramfile.UpdateTargets(o.cfg.Paths.ConfigPath))
	if len(multi) > 0 {
		o.log.Warn("skipping per-pair updates: multi-pair configs found", zap.Strings("configs", multi))
		return false
	}

	updated := false
	for _, pr := range st.res.Pairs {
		params, score := pr.Selected(hasValidation)
		in := decision.Input{
			Mode:            decision.ModePerPair,
			Pair:            pr.Pair,
			Params:          params,
			Score:           score,
			ValidationRan:   hasValidation,
			ValidationScore: score,
		}
		if o.apply(ctx, st, in, byPair[pr.Pair]) {
			updated = true
		}
	}
	return updated
}

// commonCandidates lists the sets tried for common mode: the full grid, or
// each pair's validated (else train) best, deduplicated in pair order.
func (o *Orchestrator) commonCandidates(st *runState) []domain.ParameterSet {
	if o.cfg.Common.Candidates == config.CandidatesGrid {
		return sampler.All(st.grid)
	}
	seen := make(map[string]bool)
	var out []domain.ParameterSet
	for _, pr := range st.res.Pairs {
		params := pr.Validation.Params
		if params == nil {
			params = pr.Train.Params
		}
		if len(params) == 0 || seen[params.Key()] {
			continue
		}
		seen[params.Key()] = true
		out = append(out, params)
	}
	return out
}

// selectCommon evaluates every candidate on every target pair over the
// validation window and returns the one with the highest average score whose
// worst pair still reaches the configured minimum. Nil means none qualified.
func (o *Orchestrator) selectCommon(ctx context.Context, st *runState) (*CommonSelection, error) {
	candidates := o.commonCandidates(st)
	if len(candidates) == 0 {
		o.log.Warn("no common-params candidates found")
		return nil, nil
	}
	window := *st.res.Plan.Validation
	o.log.Info("evaluating common parameters across all pairs",
		zap.Int("candidates", len(candidates)),
		zap.String("source", o.cfg.Common.Candidates))
	st.obs.stage(domain.StageCommon, "", "", window)

	scores := make([][]float64, len(st.pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ValidationPairWorkers(len(st.pairs)))
	for i, pair := range st.pairs {
		g.Go(func() error {
			v, err := search.EvaluateCandidates(gctx, st.runner, pair, candidates, window, search.ValidationOptions{
				Workers:    o.cfg.ValidationCandidateWorkers(len(candidates)),
				RunTimeout: o.cfg.Search.RunTimeout,
				Stage:      domain.StageCommon,
				Observer:   st.obs,
				Logger:     o.log,
			})
			if err != nil {
				return err
			}
			row := make([]float64, len(candidates))
			for j, r := range v.Results {
				row[j] = r.Score
			}
			scores[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var best *CommonSelection
	for j, params := range candidates {
		sum, worst := 0.0, math.Inf(1)
		for i := range st.pairs {
			s := scores[i][j]
			sum += s
			worst = math.Min(worst, s)
		}
		avg := sum / float64(len(st.pairs))
		log := o.log.With(zap.Int("candidate", j+1), zap.Float64("avg", avg), zap.Float64("worst", worst))
		if math.IsInf(worst, 0) || math.IsNaN(worst) {
			log.Debug("common candidate rejected: a pair failed")
			continue
		}
		if worst < o.cfg.Common.MinValScore {
			log.Debug("common candidate rejected: worst score below minimum")
			continue
		}
		log.Debug("common candidate accepted")
		if best == nil || avg > best.Average {
			best = &CommonSelection{Params: params, Average: avg, Worst: worst}
		}
	}
	if best != nil {
		best.Candidates = len(candidates)
	}
	return best, nil
}

// apply runs the decision gate and, on APPLY, writes params into every
// target. One decision is recorded per target, or one without a target when
// nothing matched. It reports whether any config was written.
func (o *Orchestrator) apply(ctx context.Context, st *runState, in decision.Input, targets []string) bool {
	if len(targets) > 0 {
		in.Target = targets[0]
	}
	r := o.gate.Evaluate(in)
	o.log.Debug("decision checklist", zap.String("target", in.Target), zap.String("checklist", decision.RenderMarkdown(r)))
	paramsJSON, err := storage.EncodeParams(in.Params)
	if err != nil {
		paramsJSON = "{}"
	}

	if !r.Applied() {
		o.log.Info("config update skipped",
			zap.String("mode", in.Mode),
			zap.String("pair", in.Pair),
			zap.Strings("reasons", r.Reasons()))
		if len(targets) == 0 {
			o.recordDecision(ctx, st, r, paramsJSON)
		}
		for _, target := range targets {
			o.recordDecision(ctx, st, r.ForTarget(target), paramsJSON)
		}
		return false
	}

	var written []string
	for _, target := range targets {
		ok, err := paramfile.UpdateParams(target, in.Params)
		if err != nil || !ok {
			o.log.Warn("config update failed", zap.String("path", target), zap.Error(err))
			o.recordDecision(ctx, st, r.WriteFailed(target, err), paramsJSON)
			continue
		}
		written = append(written, target)
		o.recordDecision(ctx, st, r.ForTarget(target), paramsJSON)
	}
	if len(written) == 0 {
		return false
	}
	o.log.Info("updated configs",
		zap.String("configs", paramfile.DescribeGroup(written)),
		zap.String("mode", in.Mode),
		zap.String("pair", in.Pair),
		zap.Float64("score", in.Score))
	return true
}

func (o *Orchestrator) recordDecision(ctx context.Context, st *runState, r *decision.Result, paramsJSON string) {
	d := decision.Record(st.res.RunID, r, paramsJSON, o.now())
	st.res.Decisions = append(st.res.Decisions, d)
	o.metrics.RecordConfigDecision(d.Mode, d.Action)
	if err := o.decisions.Insert(context.WithoutCancel(ctx), d); err != nil {
		o.metrics.RecordStorageError("insert_decision")
		o.log.Warn("persist config decision", zap.String("target", d.Target), zap.Error(err))
	}
}
