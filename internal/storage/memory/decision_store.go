package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

// DecisionStore is an in-memory implementation of storage.DecisionStore.
type DecisionStore struct {
	mu   sync.RWMutex
	data []*domain.ConfigDecision
}

// NewDecisionStore creates a new in-memory decision store.
func NewDecisionStore() *DecisionStore {
	return &DecisionStore{}
}

// Insert appends a decision.
func (s *DecisionStore) Insert(_ context.Context, d *domain.ConfigDecision) error {
	if d == nil || d.RunID == "" || d.Action == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *d
	copy.Reasons = slices.Clone(d.Reasons)
	s.data = append(s.data, &copy)
	return nil
}

// GetByRun retrieves the decisions of a run in insertion order.
func (s *DecisionStore) GetByRun(_ context.Context, runID string) ([]*domain.ConfigDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ConfigDecision
	for _, d := range s.data {
		if d.RunID == runID {
			copy := *d
			copy.Reasons = slices.Clone(d.Reasons)
			result = append(result, &copy)
		}
	}
	return result, nil
}

var _ storage.DecisionStore = (*DecisionStore)(nil)
