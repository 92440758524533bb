package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

// EvaluationStore implements storage.EvaluationStore using PostgreSQL.
type EvaluationStore struct {
	pool *Pool
}

// NewEvaluationStore creates a new EvaluationStore.
func NewEvaluationStore(pool *Pool) *EvaluationStore {
	return &EvaluationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EvaluationStore = (*EvaluationStore)(nil)

const insertEvaluationSQL = `
	INSERT INTO evaluations (
		evaluation_id, run_id, pair, stage,
		window_start, window_end,
		params_key, params_json, score, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const selectEvaluationSQL = `
	SELECT
		evaluation_id, run_id, pair, stage,
		window_start, window_end,
		params_key, params_json, score, created_at
	FROM evaluations
`

func evaluationArgs(e *domain.EvaluationRecord) []any {
	return []any{
		e.EvaluationID, e.RunID, e.Pair, e.Stage,
		e.WindowStart, e.WindowEnd,
		e.ParamsKey, e.ParamsJSON, e.Score, e.CreatedAt,
	}
}

// Insert adds a new evaluation. Returns ErrDuplicateKey if evaluation_id exists.
func (s *EvaluationStore) Insert(ctx context.Context, e *domain.EvaluationRecord) error {
	if err := storage.Validate(e); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertEvaluationSQL, evaluationArgs(e)...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// InsertBulk adds multiple evaluations atomically. Fails entire batch on any duplicate.
func (s *EvaluationStore) InsertBulk(ctx context.Context, evals []*domain.EvaluationRecord) error {
	if len(evals) == 0 {
		return nil
	}
	for _, e := range evals {
		if err := storage.Validate(e); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range evals {
		if _, err := tx.Exec(ctx, insertEvaluationSQL, evaluationArgs(e)...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert evaluation in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves an evaluation by its ID. Returns ErrNotFound if not exists.
func (s *EvaluationStore) GetByID(ctx context.Context, evaluationID string) (*domain.EvaluationRecord, error) {
	row := s.pool.QueryRow(ctx, selectEvaluationSQL+` WHERE evaluation_id = $1`, evaluationID)
	e, err := scanEvaluation(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get evaluation by id: %w", err)
	}
	return e, nil
}

// GetByRun retrieves all evaluations of a run.
func (s *EvaluationStore) GetByRun(ctx context.Context, runID string) ([]*domain.EvaluationRecord, error) {
	rows, err := s.pool.Query(ctx, selectEvaluationSQL+`
		WHERE run_id = $1
		ORDER BY created_at ASC, evaluation_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get evaluations by run: %w", err)
	}
	defer rows.Close()

	return scanEvaluations(rows)
}

// GetByRunPair retrieves the evaluations of one pair within a run.
func (s *EvaluationStore) GetByRunPair(ctx context.Context, runID, pair string) ([]*domain.EvaluationRecord, error) {
	rows, err := s.pool.Query(ctx, selectEvaluationSQL+`
		WHERE run_id = $1 AND pair = $2
		ORDER BY created_at ASC, evaluation_id ASC
	`, runID, pair)
	if err != nil {
		return nil, fmt.Errorf("get evaluations by run/pair: %w", err)
	}
	defer rows.Close()

	return scanEvaluations(rows)
}

// TopByRun returns the best evaluations of a run and stage.
func (s *EvaluationStore) TopByRun(ctx context.Context, runID, stage string, limit int) ([]*domain.EvaluationRecord, error) {
	query := selectEvaluationSQL + `
		WHERE run_id = $1 AND ($2 = '' OR stage = $2)
		ORDER BY score DESC, evaluation_id ASC
	`
	args := []any{runID, stage}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get top evaluations: %w", err)
	}
	defer rows.Close()

	return scanEvaluations(rows)
}

func scanEvaluation(row pgx.Row) (*domain.EvaluationRecord, error) {
	var e domain.EvaluationRecord
	err := row.Scan(
		&e.EvaluationID, &e.RunID, &e.Pair, &e.Stage,
		&e.WindowStart, &e.WindowEnd,
		&e.ParamsKey, &e.ParamsJSON, &e.Score, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEvaluations(rows pgx.Rows) ([]*domain.EvaluationRecord, error) {
	var evals []*domain.EvaluationRecord
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation row: %w", err)
		}
		evals = append(evals, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluation rows: %w", err)
	}
	return evals, nil
}
