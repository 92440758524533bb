package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.OptimizationRun // keyed by run_id
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{data: make(map[string]*domain.OptimizationRun)}
}

// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(_ context.Context, r *domain.OptimizationRun) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[r.RunID] = cloneRun(r)
	return nil
}

// Finish replaces the stored run with its terminal state.
func (s *RunStore) Finish(_ context.Context, r *domain.OptimizationRun) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; !exists {
		return storage.ErrNotFound
	}
	s.data[r.RunID] = cloneRun(r)
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(_ context.Context, runID string) (*domain.OptimizationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneRun(r), nil
}

// GetRecent retrieves up to limit runs, newest first.
func (s *RunStore) GetRecent(_ context.Context, limit int) ([]*domain.OptimizationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.OptimizationRun, 0, len(s.data))
	for _, r := range s.data {
		result = append(result, cloneRun(r))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt != result[j].StartedAt {
			return result[i].StartedAt > result[j].StartedAt
		}
		return result[i].RunID < result[j].RunID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// cloneRun copies a run including its nullable fields.
func cloneRun(r *domain.OptimizationRun) *domain.OptimizationRun {
	copy := *r
	copy.FinishedAt = clonePtr(r.FinishedAt)
	copy.ValidationStart = clonePtr(r.ValidationStart)
	copy.ValidationEnd = clonePtr(r.ValidationEnd)
	copy.BestScore = clonePtr(r.BestScore)
	return &copy
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var _ storage.RunStore = (*RunStore)(nil)
