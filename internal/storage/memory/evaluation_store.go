package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

// EvaluationStore is an in-memory implementation of storage.EvaluationStore.
type EvaluationStore struct {
	mu   sync.RWMutex
	data map[string]*domain.EvaluationRecord // keyed by evaluation_id
}

// NewEvaluationStore creates a new in-memory evaluation store.
func NewEvaluationStore() *EvaluationStore {
	return &EvaluationStore{
		data: make(map[string]*domain.EvaluationRecord),
	}
}

// Insert adds a new evaluation. Returns ErrDuplicateKey if evaluation_id exists.
func (s *EvaluationStore) Insert(_ context.Context, e *domain.EvaluationRecord) error {
	if err := storage.Validate(e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EvaluationID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.data[e.EvaluationID] = &copy
	return nil
}

// InsertBulk adds multiple evaluations atomically. Fails entire batch on any duplicate.
func (s *EvaluationStore) InsertBulk(_ context.Context, evals []*domain.EvaluationRecord) error {
	if len(evals) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(evals))
	for _, e := range evals {
		if err := storage.Validate(e); err != nil {
			return err
		}
		if _, exists := s.data[e.EvaluationID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[e.EvaluationID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.EvaluationID] = struct{}{}
	}

	for _, e := range evals {
		copy := *e
		s.data[e.EvaluationID] = &copy
	}
	return nil
}

// GetByID retrieves an evaluation by its ID. Returns ErrNotFound if not exists.
func (s *EvaluationStore) GetByID(_ context.Context, evaluationID string) (*domain.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[evaluationID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *e
	return &copy, nil
}

// GetByRun retrieves all evaluations of a run.
func (s *EvaluationStore) GetByRun(_ context.Context, runID string) ([]*domain.EvaluationRecord, error) {
	return s.filter(func(e *domain.EvaluationRecord) bool { return e.RunID == runID }, byCreation), nil
}

// GetByRunPair retrieves the evaluations of one pair within a run.
func (s *EvaluationStore) GetByRunPair(_ context.Context, runID, pair string) ([]*domain.EvaluationRecord, error) {
	return s.filter(func(e *domain.EvaluationRecord) bool {
		return e.RunID == runID && e.Pair == pair
	}, byCreation), nil
}

// TopByRun returns the best evaluations of a run and stage.
func (s *EvaluationStore) TopByRun(_ context.Context, runID, stage string, limit int) ([]*domain.EvaluationRecord, error) {
	result := s.filter(func(e *domain.EvaluationRecord) bool {
		return e.RunID == runID && (stage == "" || e.Stage == stage)
	}, byScore)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *EvaluationStore) filter(keep func(*domain.EvaluationRecord) bool, less func(a, b *domain.EvaluationRecord) bool) []*domain.EvaluationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EvaluationRecord
	for _, e := range s.data {
		if keep(e) {
			copy := *e
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result
}

func byCreation(a, b *domain.EvaluationRecord) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.EvaluationID < b.EvaluationID
}

func byScore(a, b *domain.EvaluationRecord) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.EvaluationID < b.EvaluationID
}

var _ storage.EvaluationStore = (*EvaluationStore)(nil)
