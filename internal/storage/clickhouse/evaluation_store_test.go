package clickhouse

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

func newEvaluation(id, pair, stage string, score float64, createdAt int64) *domain.EvaluationRecord {
	return &domain.EvaluationRecord{
		EvaluationID: id,
		RunID:        "run-1",
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
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewEvaluationStore(conn)

	e := newEvaluation("e1", "BTC/ETH", domain.StageSearch, math.Inf(-1), 1000)
	require.NoError(t, store.Insert(ctx, e))

	got, err := store.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "BTC/ETH", got.Pair)
	assert.True(t, math.IsInf(got.Score, -1))

	assert.ErrorIs(t, store.Insert(ctx, e), storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEvaluationStore_InsertBulk(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewEvaluationStore(conn)

	err := store.InsertBulk(ctx, []*domain.EvaluationRecord{
		newEvaluation("a", "BTC/ETH", domain.StageSearch, 1, 1000),
		newEvaluation("a", "BTC/ETH", domain.StageSearch, 1, 1000),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	require.NoError(t, store.InsertBulk(ctx, []*domain.EvaluationRecord{
		newEvaluation("d", "SOL/ETH", domain.StageSearch, 5, 4000),
		newEvaluation("a", "BTC/ETH", domain.StageSearch, 1, 1000),
		newEvaluation("c", "SOL/ETH", domain.StageSearch, 9, 3000),
		newEvaluation("b", "SOL/ETH", domain.StageValidation, 9, 2000),
	}))

	err = store.InsertBulk(ctx, []*domain.EvaluationRecord{newEvaluation("c", "SOL/ETH", domain.StageSearch, 9, 3000)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

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

	top, err := store.TopByRun(ctx, "run-1", domain.StageSearch, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, ids(top))
}
