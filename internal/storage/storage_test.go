package storage_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
	"github.com/shigeo-nakamura/pairtrade/internal/storage/memory"
)

var (
	trainWindow = domain.Window{
		Start: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
	}
	created = time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
)

func record(t *testing.T, runID string, params domain.ParameterSet, score float64) *domain.EvaluationRecord {
	t.Helper()
	rec, err := storage.NewEvaluationRecord(runID, "BTC", domain.StageSearch, trainWindow,
		domain.EvaluationResult{Params: params, Score: score}, created)
	require.NoError(t, err)
	return rec
}

func TestNewEvaluationRecord(t *testing.T) {
	params := domain.ParameterSet{"STOP_LOSS_Z_SCORE": "3.5", "EXIT_Z_SCORE": "0.5"}
	rec := record(t, "run-1", params, 12.5)

	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "BTC", rec.Pair)
	assert.Equal(t, domain.StageSearch, rec.Stage)
	assert.Equal(t, trainWindow.Start.UnixMilli(), rec.WindowStart)
	assert.Equal(t, trainWindow.End.UnixMilli(), rec.WindowEnd)
	assert.Equal(t, params.Key(), rec.ParamsKey)
	assert.Equal(t, `{"EXIT_Z_SCORE":"0.5","STOP_LOSS_Z_SCORE":"3.5"}`, rec.ParamsJSON)
	assert.Equal(t, 12.5, rec.Score)
	assert.Equal(t, created.UnixMilli(), rec.CreatedAt)
	assert.Len(t, rec.EvaluationID, 64)
	require.NoError(t, storage.Validate(rec))
}

func TestNewEvaluationRecord_DeterministicID(t *testing.T) {
	a := record(t, "run-1", domain.ParameterSet{"A": "1", "B": "2"}, 1)
	b := record(t, "run-1", domain.ParameterSet{"B": "2", "A": "1"}, 99)
	c := record(t, "run-2", domain.ParameterSet{"A": "1", "B": "2"}, 1)

	assert.Equal(t, a.EvaluationID, b.EvaluationID, "score and key order do not change the id")
	assert.NotEqual(t, a.EvaluationID, c.EvaluationID)
}

func TestResult_RoundTrip(t *testing.T) {
	params := domain.ParameterSet{"EXIT_Z_SCORE": "0.8"}
	rec := record(t, "run-1", params, math.Inf(-1))

	r, err := storage.Result(rec)
	require.NoError(t, err)
	assert.Equal(t, params, r.Params)
	assert.True(t, math.IsInf(r.Score, -1))
}

func TestEncodeDecodeParams_Edges(t *testing.T) {
	s, err := storage.EncodeParams(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", s)

	p, err := storage.DecodeParams("")
	require.NoError(t, err)
	assert.Empty(t, p)

	_, err = storage.DecodeParams("{not json")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, storage.Validate(nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, storage.Validate(&domain.EvaluationRecord{RunID: "r"}), storage.ErrInvalidInput)
	assert.ErrorIs(t, storage.Validate(&domain.EvaluationRecord{EvaluationID: "e"}), storage.ErrInvalidInput)
}

// failingStore rejects every write with err.
type failingStore struct {
	*memory.EvaluationStore
	err error
}

func (f *failingStore) Insert(context.Context, *domain.EvaluationRecord) error { return f.err }

func (f *failingStore) InsertBulk(context.Context, []*domain.EvaluationRecord) error { return f.err }

func TestMirroredEvaluations_WritesEverywhere(t *testing.T) {
	ctx := context.Background()
	primary, mirror := memory.NewEvaluationStore(), memory.NewEvaluationStore()
	m := storage.NewMirroredEvaluations(primary, mirror)

	rec := record(t, "run-1", domain.ParameterSet{"A": "1"}, 3)
	require.NoError(t, m.Insert(ctx, rec))
	require.NoError(t, m.InsertBulk(ctx, []*domain.EvaluationRecord{
		record(t, "run-1", domain.ParameterSet{"A": "2"}, 5),
		record(t, "run-1", domain.ParameterSet{"A": "3"}, 4),
	}))

	for _, s := range []storage.EvaluationStore{primary, mirror, m} {
		got, err := s.GetByRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Len(t, got, 3)
	}

	got, err := m.GetByID(ctx, rec.EvaluationID)
	require.NoError(t, err)
	assert.Equal(t, rec.ParamsKey, got.ParamsKey)

	top, err := m.TopByRun(ctx, "run-1", domain.StageSearch, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 5.0, top[0].Score)
}

func TestMirroredEvaluations_PrimaryErrorStops(t *testing.T) {
	ctx := context.Background()
	mirror := memory.NewEvaluationStore()
	primaryErr := errors.New("primary down")
	m := storage.NewMirroredEvaluations(&failingStore{memory.NewEvaluationStore(), primaryErr}, mirror)

	err := m.Insert(ctx, record(t, "run-1", domain.ParameterSet{"A": "1"}, 1))
	assert.ErrorIs(t, err, primaryErr)

	got, err := mirror.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMirroredEvaluations_MirrorErrors(t *testing.T) {
	ctx := context.Background()
	primary := memory.NewEvaluationStore()
	mirrorErr := errors.New("clickhouse down")
	m := storage.NewMirroredEvaluations(primary,
		&failingStore{memory.NewEvaluationStore(), storage.ErrDuplicateKey},
		&failingStore{memory.NewEvaluationStore(), mirrorErr},
	)

	err := m.Insert(ctx, record(t, "run-1", domain.ParameterSet{"A": "1"}, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, mirrorErr)
	assert.NotErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := primary.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got, 1, "primary write is kept")
}
