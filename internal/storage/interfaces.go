package storage

import (
	"context"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// EvaluationStore provides access to evaluations storage.
type EvaluationStore interface {
	// Insert adds a new evaluation. Returns ErrDuplicateKey if evaluation_id exists.
	Insert(ctx context.Context, e *domain.EvaluationRecord) error

	// InsertBulk adds multiple evaluations atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, evals []*domain.EvaluationRecord) error

	// GetByID retrieves an evaluation by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, evaluationID string) (*domain.EvaluationRecord, error)

	// GetByRun retrieves all evaluations of a run, ordered by created_at, evaluation_id ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.EvaluationRecord, error)

	// GetByRunPair retrieves the evaluations of one pair within a run, same order as GetByRun.
	GetByRunPair(ctx context.Context, runID, pair string) ([]*domain.EvaluationRecord, error)

	// TopByRun returns up to limit evaluations of a run and stage ordered by
	// score DESC, evaluation_id ASC. An empty stage matches every stage.
	TopByRun(ctx context.Context, runID, stage string, limit int) ([]*domain.EvaluationRecord, error)
}

// RunStore provides access to optimization_runs storage.
type RunStore interface {
	// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.OptimizationRun) error

	// Finish records the terminal state of a run. Returns ErrNotFound if the
	// run does not exist.
	Finish(ctx context.Context, r *domain.OptimizationRun) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.OptimizationRun, error)

	// GetRecent retrieves up to limit runs, newest first.
	GetRecent(ctx context.Context, limit int) ([]*domain.OptimizationRun, error)
}

// DecisionStore provides access to config_decisions storage.
type DecisionStore interface {
	// Insert appends a decision.
	Insert(ctx context.Context, d *domain.ConfigDecision) error

	// GetByRun retrieves the decisions of a run in insertion order.
	GetByRun(ctx context.Context, runID string) ([]*domain.ConfigDecision, error)
}
