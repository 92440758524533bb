package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

// EvaluationStore implements storage.EvaluationStore using ClickHouse.
type EvaluationStore struct {
	conn *Conn
}

// NewEvaluationStore creates a new EvaluationStore.
func NewEvaluationStore(conn *Conn) *EvaluationStore {
	return &EvaluationStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EvaluationStore = (*EvaluationStore)(nil)

const insertEvaluationSQL = `
	INSERT INTO evaluations (
		evaluation_id, run_id, pair, stage,
		window_start, window_end,
		params_key, params_json, score, created_at
	)
`

const selectEvaluationSQL = `
	SELECT
		evaluation_id, run_id, pair, stage,
		window_start, window_end,
		params_key, params_json, score, created_at
	FROM evaluations FINAL
`

// Insert adds a new evaluation. Returns ErrDuplicateKey if evaluation_id exists.
func (s *EvaluationStore) Insert(ctx context.Context, e *domain.EvaluationRecord) error {
	if err := storage.Validate(e); err != nil {
		return err
	}

	// ReplacingMergeTree would silently replace; keep append-only semantics.
	exists, err := s.exists(ctx, e.EvaluationID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	err = s.conn.Exec(ctx, insertEvaluationSQL+` VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EvaluationID, e.RunID, e.Pair, e.Stage,
		e.WindowStart, e.WindowEnd,
		e.ParamsKey, e.ParamsJSON, e.Score, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// InsertBulk adds multiple evaluations in one batch. Fails entire batch on any duplicate.
func (s *EvaluationStore) InsertBulk(ctx context.Context, evals []*domain.EvaluationRecord) error {
	if len(evals) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(evals))
	for _, e := range evals {
		if err := storage.Validate(e); err != nil {
			return err
		}
		if _, dup := seen[e.EvaluationID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[e.EvaluationID] = struct{}{}
	}

	for _, e := range evals {
		exists, err := s.exists(ctx, e.EvaluationID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, insertEvaluationSQL)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range evals {
		err = batch.Append(
			e.EvaluationID, e.RunID, e.Pair, e.Stage,
			e.WindowStart, e.WindowEnd,
			e.ParamsKey, e.ParamsJSON, e.Score, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByID retrieves an evaluation by its ID. Returns ErrNotFound if not exists.
func (s *EvaluationStore) GetByID(ctx context.Context, evaluationID string) (*domain.EvaluationRecord, error) {
	row := s.conn.QueryRow(ctx, selectEvaluationSQL+` WHERE evaluation_id = ? LIMIT 1`, evaluationID)

	var e domain.EvaluationRecord
	err := row.Scan(
		&e.EvaluationID, &e.RunID, &e.Pair, &e.Stage,
		&e.WindowStart, &e.WindowEnd,
		&e.ParamsKey, &e.ParamsJSON, &e.Score, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get evaluation by id: %w", err)
	}
	return &e, nil
}

// GetByRun retrieves all evaluations of a run.
func (s *EvaluationStore) GetByRun(ctx context.Context, runID string) ([]*domain.EvaluationRecord, error) {
	rows, err := s.conn.Query(ctx, selectEvaluationSQL+`
		WHERE run_id = ?
		ORDER BY created_at ASC, evaluation_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query by run: %w", err)
	}
	defer rows.Close()

	return scanEvaluations(rows)
}

// GetByRunPair retrieves the evaluations of one pair within a run.
func (s *EvaluationStore) GetByRunPair(ctx context.Context, runID, pair string) ([]*domain.EvaluationRecord, error) {
	rows, err := s.conn.Query(ctx, selectEvaluationSQL+`
		WHERE run_id = ? AND pair = ?
		ORDER BY created_at ASC, evaluation_id ASC
	`, runID, pair)
	if err != nil {
		return nil, fmt.Errorf("query by run/pair: %w", err)
	}
	defer rows.Close()

	return scanEvaluations(rows)
}

// TopByRun returns the best evaluations of a run and stage.
func (s *EvaluationStore) TopByRun(ctx context.Context, runID, stage string, limit int) ([]*domain.EvaluationRecord, error) {
	query := selectEvaluationSQL + `
		WHERE run_id = ? AND (? = '' OR stage = ?)
		ORDER BY score DESC, evaluation_id ASC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.conn.Query(ctx, query, runID, stage, stage)
	if err != nil {
		return nil, fmt.Errorf("query top by run: %w", err)
	}
	defer rows.Close()

	return scanEvaluations(rows)
}

func (s *EvaluationStore) exists(ctx context.Context, evaluationID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM evaluations FINAL WHERE evaluation_id = ?`, evaluationID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvaluations(rows chRows) ([]*domain.EvaluationRecord, error) {
	var evals []*domain.EvaluationRecord
	for rows.Next() {
		var e domain.EvaluationRecord
		err := rows.Scan(
			&e.EvaluationID, &e.RunID, &e.Pair, &e.Stage,
			&e.WindowStart, &e.WindowEnd,
			&e.ParamsKey, &e.ParamsJSON, &e.Score, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation row: %w", err)
		}
		evals = append(evals, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluation rows: %w", err)
	}
	return evals, nil
}
