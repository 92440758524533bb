// Package main runs one parameter optimization end to end:
// - Train search per pair (optionally swept), walk-forward validation
// - Config updates through the decision gate
// - OPTIMIZATION_<run>.md and _PAIRS.csv reports
//
// While it runs, a status server exposes /health, /metrics, /ws and /status.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shigeo-nakamura/pairtrade/internal/config"
	"github.com/shigeo-nakamura/pairtrade/internal/logging"
	"github.com/shigeo-nakamura/pairtrade/internal/observability"
	"github.com/shigeo-nakamura/pairtrade/internal/orchestrator"
	"github.com/shigeo-nakamura/pairtrade/internal/progress"
	"github.com/shigeo-nakamura/pairtrade/internal/reporting"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
	chstore "github.com/shigeo-nakamura/pairtrade/internal/storage/clickhouse"
	"github.com/shigeo-nakamura/pairtrade/internal/storage/memory"
	"github.com/shigeo-nakamura/pairtrade/internal/storage/migrations"
	pgstore "github.com/shigeo-nakamura/pairtrade/internal/storage/postgres"
	"github.com/shigeo-nakamura/pairtrade/internal/sweeplog"
)

// allStores holds the stores of one optimizer process.
type allStores struct {
	runs      storage.RunStore
	evals     storage.EvaluationStore
	decisions storage.DecisionStore
}

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if exists
	loadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "optimizer: %v\n", err)
		return 2
	}

	// Flags override a few environment settings
	configPath := flag.String("config", cfg.Paths.ConfigPath, "Pair config YAML (universe_pairs, current params)")
	postgresDSN := flag.String("postgres-dsn", cfg.Storage.PostgresDSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.Storage.ClickHouseDSN, "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", cfg.Storage.UseMemory, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	metricsAddr := flag.String("metrics-addr", cfg.Server.Addr, "Status server address (/health, /metrics, /ws, /status); empty disables")
	outputDir := flag.String("output-dir", cfg.Paths.ReportDir, "Output directory for reports")
	flag.Parse()

	if abs, err := filepath.Abs(*configPath); err == nil {
		cfg.Paths.ConfigPath = abs
	}
	cfg.Storage.PostgresDSN = *postgresDSN
	cfg.Storage.ClickHouseDSN = *clickhouseDSN
	cfg.Storage.UseMemory = *useMemory
	cfg.Server.Addr = *metricsAddr
	cfg.Paths.ReportDir = *outputDir

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "optimizer: %v\n", err)
		return 2
	}
	defer logger.Sync()
	logger = logger.Named("optimizer")

	if !cfg.Storage.UseMemory && (cfg.Storage.PostgresDSN == "") != (cfg.Storage.ClickHouseDSN == "") {
		logger.Error("--postgres-dsn and --clickhouse-dsn must be set together (use --use-memory for in-memory storage)")
		return 2
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to create stores", zap.Error(err))
		return 1
	}
	defer cleanup()

	m := observability.NewMetrics("")
	hub := progress.NewHub(cfg.Server.AllowedOrigins, logger)
	go hub.Run()
	defer hub.Stop()

	started := time.Now()
	srv := newStatusServer(cfg.Server.Addr, stores.runs, m, hub, started, logger)
	srv.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	// Channel to signal completion
	done := make(chan struct{})
	defer close(done)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		var sig os.Signal
		select {
		case sig = <-sigCh:
		case <-done:
			return
		}
		logger.Warn("received signal, cancelling optimization", zap.String("signal", sig.String()))
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	orch := orchestrator.New(orchestrator.Options{
		Config:      cfg,
		Runs:        stores.runs,
		Evaluations: stores.evals,
		Decisions:   stores.decisions,
		Metrics:     m,
		Hub:         hub,
		SweepLog:    sweepLogWriter(cfg),
		Logger:      logger,
	})

	res, runErr := orch.Run(ctx)
	srv.SetLastRun(res)
	if res != nil {
		writeReport(stores, cfg.Paths.ReportDir, res.RunID, logger)
	}

	switch {
	case runErr == nil:
		logger.Info("shutdown complete")
		return 0
	case errors.Is(runErr, context.Canceled):
		logger.Warn("optimization cancelled", zap.Error(runErr))
		return 130
	default:
		logger.Error("optimization failed", zap.Error(runErr))
		return 1
	}
}

// createStores creates the run, evaluation and decision stores. Evaluations
// go to PostgreSQL and are mirrored into ClickHouse for analytics.
func createStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*allStores, func(), error) {
	if !cfg.UsesPersistentStorage() {
		logger.Info("using in-memory storage")
		return &allStores{
			runs:      memory.NewRunStore(),
			evals:     memory.NewEvaluationStore(),
			decisions: memory.NewDecisionStore(),
		}, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	// ClickHouse
	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	logger.Info("connected to postgres and clickhouse")

	stores := &allStores{
		runs:      pgstore.NewRunStore(pool),
		decisions: pgstore.NewDecisionStore(pool),
		evals: storage.NewMirroredEvaluations(
			pgstore.NewEvaluationStore(pool),
			chstore.NewEvaluationStore(chConn),
		),
	}
	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// sweepLogWriter returns nil when sweep mode is off.
func sweepLogWriter(cfg *config.Config) *sweeplog.Writer {
	if !cfg.Sweep.Enable || (cfg.Paths.SweepLogPath == "" && cfg.Paths.SweepCSVPath == "") {
		return nil
	}
	return sweeplog.NewWriter(cfg.Paths.SweepLogPath, cfg.Paths.SweepCSVPath, cfg.Sweep.Criteria.TopK)
}

// writeReport renders the run report from the stores. Failures are logged only.
func writeReport(stores *allStores, dir, runID string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := reporting.NewGenerator(stores.runs, stores.evals, stores.decisions).Generate(ctx, runID)
	if err != nil {
		logger.Error("generate report", zap.String("run_id", runID), zap.Error(err))
		return
	}
	mdPath, csvPath, err := reporting.WriteFiles(dir, report)
	if err != nil {
		logger.Error("write report", zap.String("dir", dir), zap.Error(err))
		return
	}
	logger.Info("report written", zap.String("markdown", mdPath), zap.String("csv", csvPath))
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
