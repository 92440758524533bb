package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// MirroredEvaluations writes every evaluation to a primary store and then to
// each mirror. Reads go to the primary only. A mirror failure is returned but
// does not undo the primary write.
type MirroredEvaluations struct {
	primary EvaluationStore
	mirrors []EvaluationStore
}

// NewMirroredEvaluations creates a MirroredEvaluations.
func NewMirroredEvaluations(primary EvaluationStore, mirrors ...EvaluationStore) *MirroredEvaluations {
	return &MirroredEvaluations{primary: primary, mirrors: mirrors}
}

var _ EvaluationStore = (*MirroredEvaluations)(nil)

// Insert implements EvaluationStore.
func (m *MirroredEvaluations) Insert(ctx context.Context, e *domain.EvaluationRecord) error {
	if err := m.primary.Insert(ctx, e); err != nil {
		return err
	}
	var errs []error
	for _, mirror := range m.mirrors {
		if err := mirror.Insert(ctx, e); err != nil && !errors.Is(err, ErrDuplicateKey) {
			errs = append(errs, fmt.Errorf("mirror insert: %w", err))
		}
	}
	return errors.Join(errs...)
}

// InsertBulk implements EvaluationStore.
func (m *MirroredEvaluations) InsertBulk(ctx context.Context, evals []*domain.EvaluationRecord) error {
	if err := m.primary.InsertBulk(ctx, evals); err != nil {
		return err
	}
	var errs []error
	for _, mirror := range m.mirrors {
		if err := mirror.InsertBulk(ctx, evals); err != nil && !errors.Is(err, ErrDuplicateKey) {
			errs = append(errs, fmt.Errorf("mirror insert bulk: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GetByID implements EvaluationStore.
func (m *MirroredEvaluations) GetByID(ctx context.Context, id string) (*domain.EvaluationRecord, error) {
	return m.primary.GetByID(ctx, id)
}

// GetByRun implements EvaluationStore.
func (m *MirroredEvaluations) GetByRun(ctx context.Context, runID string) ([]*domain.EvaluationRecord, error) {
	return m.primary.GetByRun(ctx, runID)
}

// GetByRunPair implements EvaluationStore.
func (m *MirroredEvaluations) GetByRunPair(ctx context.Context, runID, pair string) ([]*domain.EvaluationRecord, error) {
	return m.primary.GetByRunPair(ctx, runID, pair)
}

// TopByRun implements EvaluationStore.
func (m *MirroredEvaluations) TopByRun(ctx context.Context, runID, stage string, limit int) ([]*domain.EvaluationRecord, error) {
	return m.primary.TopByRun(ctx, runID, stage, limit)
}
