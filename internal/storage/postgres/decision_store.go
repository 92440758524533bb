package postgres

import (
	"context"
	"fmt"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

// DecisionStore implements storage.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *Pool
}

// NewDecisionStore creates a new DecisionStore.
func NewDecisionStore(pool *Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DecisionStore = (*DecisionStore)(nil)

// Insert appends a decision.
func (s *DecisionStore) Insert(ctx context.Context, d *domain.ConfigDecision) error {
	if d == nil || d.RunID == "" || d.Action == "" {
		return storage.ErrInvalidInput
	}
	reasons := d.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	query := `
		INSERT INTO config_decisions (
			run_id, pair, target, mode, action, score, params_json, reasons, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		d.RunID, d.Pair, d.Target, d.Mode, d.Action, d.Score, d.ParamsJSON, reasons, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert config decision: %w", err)
	}
	return nil
}

// GetByRun retrieves the decisions of a run in insertion order.
func (s *DecisionStore) GetByRun(ctx context.Context, runID string) ([]*domain.ConfigDecision, error) {
	query := `
		SELECT run_id, pair, target, mode, action, score, params_json, reasons, created_at
		FROM config_decisions
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get config decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*domain.ConfigDecision
	for rows.Next() {
		var d domain.ConfigDecision
		if err := rows.Scan(
			&d.RunID, &d.Pair, &d.Target, &d.Mode, &d.Action, &d.Score, &d.ParamsJSON, &d.Reasons, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan config decision row: %w", err)
		}
		if len(d.Reasons) == 0 {
			d.Reasons = nil
		}
		decisions = append(decisions, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config decision rows: %w", err)
	}
	return decisions, nil
}
