// Package observability provides Prometheus metrics for the optimizer.
package observability

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/search"
)

// Backtest run statuses.
const (
	RunStatusOK      = "ok"      // finite score
	RunStatusInvalid = "invalid" // sentinel score without error (hard constraint)
	RunStatusError   = "error"   // timeout, non-zero exit, bad log
	RunStatusFatal   = "fatal"   // missing dependency
)

// Metrics holds all Prometheus metrics for the optimizer.
type Metrics struct {
	registry *prometheus.Registry

	// Backtest run metrics
	BacktestRunsTotal *prometheus.CounterVec
	BacktestDuration  *prometheus.HistogramVec
	FatalErrorsTotal  prometheus.Counter

	// Search metrics
	BestScore   *prometheus.GaugeVec
	PairsActive prometheus.Gauge

	// Optimization metrics
	OptimizationsTotal   *prometheus.CounterVec
	OptimizationDuration prometheus.Histogram
	ConfigUpdatesTotal   *prometheus.CounterVec

	// Storage metrics
	StorageErrorsTotal *prometheus.CounterVec

	// Health metrics
	LastSuccessfulOptimization prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on its own registry,
// together with the Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pairtrade_optimizer"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BacktestRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by stage and status",
		}, []string{"stage", "status"}),
		BacktestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "duration_seconds",
			Help:      "Backtest run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"stage"}),
		FatalErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "fatal_errors_total",
			Help:      "Total number of runs aborted by a fatal dependency failure",
		}),

		BestScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "best_score",
			Help:      "Best finite score seen per pair and stage",
		}, []string{"pair", "stage"}),
		PairsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "pairs_active",
			Help:      "Number of pairs currently being optimized or validated",
		}),

		OptimizationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimization",
			Name:      "runs_total",
			Help:      "Total number of optimization runs by final status",
		}, []string{"status"}),
		OptimizationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimization",
			Name:      "duration_seconds",
			Help:      "Optimization run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 10),
		}),
		ConfigUpdatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimization",
			Name:      "config_updates_total",
			Help:      "Total number of config update decisions by mode and action",
		}, []string{"mode", "action"}),

		StorageErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total number of failed storage writes by operation",
		}, []string{"operation"}),

		LastSuccessfulOptimization: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_optimization_timestamp",
			Help:      "Unix timestamp of the last successful optimization run",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunStatus classifies a finished backtest run.
func RunStatus(score float64, err error) string {
	switch {
	case errors.Is(err, search.ErrFatalDependency):
		return RunStatusFatal
	case err != nil:
		return RunStatusError
	case math.IsInf(score, 0) || math.IsNaN(score):
		return RunStatusInvalid
	default:
		return RunStatusOK
	}
}

// RecordRun records one finished backtest run.
func (m *Metrics) RecordRun(stage string, score float64, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := RunStatus(score, err)
	m.BacktestRunsTotal.WithLabelValues(stage, status).Inc()
	m.BacktestDuration.WithLabelValues(stage).Observe(d.Seconds())
	if status == RunStatusFatal {
		m.FatalErrorsTotal.Inc()
	}
}

// RecordBest sets the best-score gauge for a pair and stage. Non-finite
// scores are ignored.
func (m *Metrics) RecordBest(pair, stage string, score float64) {
	if m == nil || math.IsInf(score, 0) || math.IsNaN(score) {
		return
	}
	m.BestScore.WithLabelValues(pair, stage).Set(score)
}

// PairStarted marks a pair in flight.
func (m *Metrics) PairStarted() {
	if m != nil {
		m.PairsActive.Inc()
	}
}

// PairFinished undoes PairStarted.
func (m *Metrics) PairFinished() {
	if m != nil {
		m.PairsActive.Dec()
	}
}

// RecordOptimization records a finished optimization run.
func (m *Metrics) RecordOptimization(status string, d time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.OptimizationsTotal.WithLabelValues(status).Inc()
	m.OptimizationDuration.Observe(d.Seconds())
	if status == domain.RunStatusSuccess {
		m.LastSuccessfulOptimization.Set(float64(finishedAt.Unix()))
	}
}

// RecordConfigDecision records an APPLY/SKIP config decision.
func (m *Metrics) RecordConfigDecision(mode, action string) {
	if m != nil {
		m.ConfigUpdatesTotal.WithLabelValues(mode, action).Inc()
	}
}

// RecordStorageError records a failed storage write.
func (m *Metrics) RecordStorageError(operation string) {
	if m != nil {
		m.StorageErrorsTotal.WithLabelValues(operation).Inc()
	}
}
