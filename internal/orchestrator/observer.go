package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/observability"
	"github.com/shigeo-nakamura/pairtrade/internal/progress"
	"github.com/shigeo-nakamura/pairtrade/internal/search"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

// runObserver persists every finished run of one optimization, feeds the
// metrics and streams progress. Pool workers call it concurrently; every
// collaborator it touches is safe for that.
type runObserver struct {
	runID   string
	evals   storage.EvaluationStore
	metrics *observability.Metrics
	hub     *progress.Hub
	now     func() time.Time
	log     *zap.Logger
}

var _ search.Observer = (*runObserver)(nil)

// RunFinished implements search.Observer.
func (o *runObserver) RunFinished(ctx context.Context, ev search.RunEvent) {
	o.metrics.RecordRun(ev.Stage, ev.Result.Score, ev.Err, ev.Duration)
	if o.hub != nil {
		o.hub.Broadcast(progress.NewResultMessage(ev.Pair, ev.Stage, ev.Index, ev.Total, ev.Result, ev.Err, ev.Duration))
	}
	if o.evals == nil {
		return
	}

	rec, err := storage.NewEvaluationRecord(o.runID, ev.Pair, ev.Stage, ev.Window, ev.Result, o.now())
	if err != nil {
		o.log.Warn("encode evaluation", zap.String("pair", ev.Pair), zap.Error(err))
		return
	}
	// Runs are never interrupted by a storage failure; the in-memory results
	// still drive selection.
	if err := o.evals.Insert(context.WithoutCancel(ctx), rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return
		}
		o.metrics.RecordStorageError("insert_evaluation")
		o.log.Warn("persist evaluation",
			zap.String("pair", ev.Pair),
			zap.String("stage", ev.Stage),
			zap.String("evaluation_id", rec.EvaluationID),
			zap.Error(err))
	}
}

// NewBest implements search.Observer.
func (o *runObserver) NewBest(_ context.Context, pair, stage string, best domain.EvaluationResult) {
	o.metrics.RecordBest(pair, stage, best.Score)
	if o.hub != nil {
		o.hub.Broadcast(progress.NewBestMessage(pair, stage, best))
	}
}

// stage broadcasts a pipeline milestone.
func (o *runObserver) stage(stage, pair, detail string, w domain.Window) {
	if o.hub != nil {
		o.hub.Broadcast(progress.NewStageMessage(stage, pair, detail, w))
	}
}
