package observability

import (
	"errors"
	"fmt"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/search"
)

func TestRunStatus(t *testing.T) {
	assert.Equal(t, RunStatusOK, RunStatus(1.5, nil))
	assert.Equal(t, RunStatusInvalid, RunStatus(math.Inf(-1), nil))
	assert.Equal(t, RunStatusError, RunStatus(math.Inf(-1), errors.New("timeout")))
	assert.Equal(t, RunStatusFatal, RunStatus(math.Inf(-1), fmt.Errorf("run: %w", search.ErrFatalDependency)))
}

func TestMetrics_RecordRun(t *testing.T) {
	m := NewMetrics("test")

	m.RecordRun(domain.StageSearch, 3, nil, time.Second)
	m.RecordRun(domain.StageSearch, math.Inf(-1), nil, time.Second)
	m.RecordRun(domain.StageSearch, math.Inf(-1), search.ErrFatalDependency, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BacktestRunsTotal.WithLabelValues(domain.StageSearch, RunStatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BacktestRunsTotal.WithLabelValues(domain.StageSearch, RunStatusInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FatalErrorsTotal))
}

func TestMetrics_RecordBestIgnoresSentinel(t *testing.T) {
	m := NewMetrics("test")

	m.RecordBest("BTC/ETH", domain.StageSearch, 7)
	m.RecordBest("BTC/ETH", domain.StageSearch, math.Inf(-1))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BestScore.WithLabelValues("BTC/ETH", domain.StageSearch)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRun(domain.StageSearch, 1, nil, time.Second)
	m.RecordBest("p", "s", 1)
	m.PairStarted()
	m.PairFinished()
	m.RecordOptimization(domain.RunStatusSuccess, time.Minute, time.Now())
	m.RecordConfigDecision("per_pair", domain.DecisionApply)
	m.RecordStorageError("insert")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a := NewMetrics("")
	b := NewMetrics("")
	a.RecordConfigDecision("per_pair", domain.DecisionApply)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ConfigUpdatesTotal.WithLabelValues("per_pair", domain.DecisionApply)))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("")
	finished := time.Unix(1_700_000_000, 0)
	m.RecordOptimization(domain.RunStatusSuccess, 2*time.Minute, finished)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `pairtrade_optimizer_optimization_runs_total{status="SUCCESS"} 1`), body)
	assert.True(t, strings.Contains(body, "pairtrade_optimizer_health_last_successful_optimization_timestamp 1.7e+09"), body)
}
