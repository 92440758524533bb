package postgres

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

func newEvaluation(id, runID, pair, stage string, score float64, createdAt int64) *domain.EvaluationRecord {
	return &domain.EvaluationRecord{
		EvaluationID: id,
		RunID:        runID,
		Pair:         pair,
		Stage:        stage,
		WindowStart:  1_700_000_000_000,
		WindowEnd:    1_700_086_400_000,
		ParamsKey:    "EXIT_Z_SCORE=0.8",
		ParamsJSON:   `{"EXIT_Z_SCORE":"0.8"}`,
		Score:        score,
		CreatedAt:    createdAt,
	}
}

func TestEvaluationStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	insertRun(t, pool, "run-1", 1000)
	store := NewEvaluationStore(pool)

	e := newEvaluation("e1", "run-1", "BTC/ETH", domain.StageSearch, 12.5, 2000)
	require.NoError(t, store.Insert(ctx, e))

	got, err := store.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, e, got)

	err = store.Insert(ctx, e)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, store.Insert(ctx, &domain.EvaluationRecord{}), storage.ErrInvalidInput)
}

func TestEvaluationStore_StoresInvalidScore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	insertRun(t, pool, "run-1", 1000)
	store := NewEvaluationStore(pool)

	require.NoError(t, store.Insert(ctx, newEvaluation("e1", "run-1", "BTC/ETH", domain.StageSearch, math.Inf(-1), 2000)))

	got, err := store.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, math.IsInf(got.Score, -1))
}

func TestEvaluationStore_InsertBulkIsAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	insertRun(t, pool, "run-1", 1000)
	store := NewEvaluationStore(pool)

	require.NoError(t, store.Insert(ctx, newEvaluation("e2", "run-1", "BTC/ETH", domain.StageSearch, 1, 2000)))

	err := store.InsertBulk(ctx, []*domain.EvaluationRecord{
		newEvaluation("e1", "run-1", "BTC/ETH", domain.StageSearch, 1, 2000),
		newEvaluation("e2", "run-1", "BTC/ETH", domain.StageSearch, 1, 2000),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "e1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "failed batch must not leave partial rows")

	require.NoError(t, store.InsertBulk(ctx, nil))
}

func TestEvaluationStore_Queries(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	insertRun(t, pool, "run-1", 1000)
	insertRun(t, pool, "run-2", 1001)
	store := NewEvaluationStore(pool)

	require.NoError(t, store.InsertBulk(ctx, []*domain.EvaluationRecord{
		newEvaluation("d", "run-1", "SOL/ETH", domain.StageSearch, 5, 4000),
		newEvaluation("a", "run-1", "BTC/ETH", domain.StageSearch, math.Inf(-1), 1000),
		newEvaluation("c", "run-1", "SOL/ETH", domain.StageSearch, 9, 3000),
		newEvaluation("b", "run-1", "SOL/ETH", domain.StageValidation, 9, 2000),
		newEvaluation("x", "run-2", "SOL/ETH", domain.StageSearch, 100, 1000),
	}))

	ids := func(evals []*domain.EvaluationRecord) []string {
		out := make([]string, len(evals))
		for i, e := range evals {
			out[i] = e.EvaluationID
		}
		return out
	}

	all, err := store.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(all))

	pair, err := store.GetByRunPair(ctx, "run-1", "SOL/ETH")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, ids(pair))

	top, err := store.TopByRun(ctx, "run-1", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids(top))

	top, err = store.TopByRun(ctx, "run-1", domain.StageSearch, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, ids(top))

	none, err := store.GetByRun(ctx, "run-3")
	require.NoError(t, err)
	assert.Empty(t, none)
}
