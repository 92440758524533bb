package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

const selectRunSQL = `
	SELECT
		run_id, started_at, finished_at, status,
		train_start, train_end, validation_start, validation_end,
		best_pair, best_score, best_params_json, error
	FROM optimization_runs
`

// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.OptimizationRun) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO optimization_runs (
			run_id, started_at, finished_at, status,
			train_start, train_end, validation_start, validation_end,
			best_pair, best_score, best_params_json, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.pool.Exec(ctx, query,
		r.RunID, r.StartedAt, r.FinishedAt, r.Status,
		r.TrainStart, r.TrainEnd, r.ValidationStart, r.ValidationEnd,
		r.BestPair, r.BestScore, r.BestParamsJSON, r.Error,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert optimization run: %w", err)
	}
	return nil
}

// Finish records the terminal state of a run.
func (s *RunStore) Finish(ctx context.Context, r *domain.OptimizationRun) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE optimization_runs SET
			finished_at = $2, status = $3,
			best_pair = $4, best_score = $5, best_params_json = $6, error = $7
		WHERE run_id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		r.RunID, r.FinishedAt, r.Status,
		r.BestPair, r.BestScore, r.BestParamsJSON, r.Error,
	)
	if err != nil {
		return fmt.Errorf("finish optimization run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.OptimizationRun, error) {
	row := s.pool.QueryRow(ctx, selectRunSQL+` WHERE run_id = $1`, runID)
	r, err := scanRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get optimization run: %w", err)
	}
	return r, nil
}

// GetRecent retrieves up to limit runs, newest first.
func (s *RunStore) GetRecent(ctx context.Context, limit int) ([]*domain.OptimizationRun, error) {
	query := selectRunSQL + ` ORDER BY started_at DESC, run_id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get recent optimization runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.OptimizationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan optimization run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate optimization run rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*domain.OptimizationRun, error) {
	var r domain.OptimizationRun
	err := row.Scan(
		&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Status,
		&r.TrainStart, &r.TrainEnd, &r.ValidationStart, &r.ValidationEnd,
		&r.BestPair, &r.BestScore, &r.BestParamsJSON, &r.Error,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
