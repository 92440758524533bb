package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shigeo-nakamura/pairtrade/internal/accounting"
	"github.com/shigeo-nakamura/pairtrade/internal/metrics"
	"github.com/shigeo-nakamura/pairtrade/internal/sampler"
	"github.com/shigeo-nakamura/pairtrade/internal/selection"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 384, cfg.Search.MaxCombos)
	assert.Equal(t, sampler.StrategyBalanced, cfg.Search.Strategy)
	assert.Nil(t, cfg.Search.Seed)
	assert.Equal(t, time.Hour, cfg.Search.RunTimeout)
	assert.Equal(t, 12*time.Hour, cfg.Search.Warmup)
	assert.True(t, cfg.Search.EnableRefinement)
	assert.Equal(t, 3, cfg.Search.Refine.ParamCount)
	assert.Equal(t, 5, cfg.Search.Refine.SeedCount)
	assert.Equal(t, 128, cfg.Search.Refine.MaxRuns)

	assert.Equal(t, 2, cfg.Validation.TopK)
	assert.Equal(t, 1, cfg.Validation.DiverseK)
	assert.Equal(t, selection.DefaultDiversityKeys, cfg.Validation.DiversityKeys)

	assert.False(t, cfg.Sweep.Enable)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.Window)
	assert.Equal(t, 50, cfg.Sweep.FinalMax)
	assert.Equal(t, -10.0, cfg.Sweep.Criteria.Floor)
	assert.Empty(t, cfg.Sweep.Criteria.PriorityKeys)

	assert.Equal(t, ModePerPair, cfg.Common.Mode)
	assert.Equal(t, CandidatesBestPerPair, cfg.Common.Candidates)
	assert.Equal(t, accounting.DuplicateEntryForceClose, cfg.Costs.DuplicateEntry)
	assert.False(t, cfg.Paths.KeepLogs, "run logs are removed unless CLEAN_BACKTEST_LOG=0")
	assert.True(t, filepath.IsAbs(cfg.Paths.ConfigPath))
	assert.Equal(t, "debot00.yaml", filepath.Base(cfg.Paths.ConfigPath))

	s := cfg.Score
	assert.Equal(t, metrics.ScoreModeReturn, s.Mode)
	assert.Equal(t, 8, s.MinTrades)
	require.NotNil(t, s.MaxDrawdown)
	assert.Equal(t, 1000.0, *s.MaxDrawdown)
	require.NotNil(t, s.MinSharpe)
	assert.Equal(t, 0.0, *s.MinSharpe)
	assert.Equal(t, 30.0, s.MaxSingleLoss)
	assert.Equal(t, 0.05, s.TradeFreqBonus)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("OPTIMIZER_MAX_COMBOS", "64")
	t.Setenv("OPTIMIZER_SAMPLING_STRATEGY", "random")
	t.Setenv("OPTIMIZER_COMBO_SAMPLE_SEED", "42")
	t.Setenv("OPTIMIZER_ENABLE_REFINEMENT", "0")
	t.Setenv("OPTIMIZER_SWEEP_ENABLE", "1")
	t.Setenv("OPTIMIZER_SWEEP_WINDOW_DAYS", "0.5")
	t.Setenv("OPTIMIZER_SWEEP_DIVERSITY_WEIGHTS", "EXIT_Z_SCORE:3")
	t.Setenv("OPTIMIZER_SCORE_MODE", "pnl")
	t.Setenv("OPTIMIZER_MAX_DRAWDOWN", "-1")
	t.Setenv("OPTIMIZER_TARGET_PAIRS", "BTC/ETH, SOL/ETH")
	t.Setenv("COMMON_PARAM_MODE", " Common ")
	t.Setenv("CLEAN_BACKTEST_LOG", "0")
	t.Setenv("DEX_NAME", "extended")
	t.Setenv("OPTIMIZER_WORKERS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Search.MaxCombos)
	assert.Equal(t, sampler.StrategyUniform, cfg.Search.Strategy)
	require.NotNil(t, cfg.Search.Seed)
	assert.Equal(t, int64(42), *cfg.Search.Seed)
	assert.False(t, cfg.Search.EnableRefinement)
	assert.True(t, cfg.Sweep.Enable)
	assert.Equal(t, 12*time.Hour, cfg.Sweep.Window)
	assert.Equal(t, map[string]float64{"EXIT_Z_SCORE": 3}, cfg.Sweep.Criteria.Weights)
	assert.Equal(t, metrics.ScoreModePnL, cfg.Score.Mode)
	assert.Equal(t, -1.0, *cfg.Score.MaxDrawdown)
	assert.Equal(t, []string{"BTC/ETH", "SOL/ETH"}, cfg.Search.TargetPairs)
	assert.Equal(t, ModeCommon, cfg.Common.Mode)
	assert.True(t, cfg.Paths.KeepLogs)
	assert.Equal(t, "debot_extended_main.yaml", filepath.Base(cfg.Paths.ConfigPath))
	assert.Equal(t, 0, cfg.Search.Workers, "malformed value keeps the default")
}

func TestLoad_ConfigPathPrecedence(t *testing.T) {
	t.Setenv("PAIRTRADE_CONFIG_PATH", "/etc/pairtrade/c.yaml")
	t.Setenv("OPTIMIZER_CONFIG_PATH", "/opt/a.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/opt/a.yaml", cfg.Paths.ConfigPath)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"negative workers", "OPTIMIZER_WORKERS", "-2"},
		{"negative combos", "OPTIMIZER_MAX_COMBOS", "-1"},
		{"zero timeout", "OPTIMIZER_RUN_TIMEOUT_SECS", "0"},
		{"bad mode", "COMMON_PARAM_MODE", "both"},
		{"bad candidates", "COMMON_PARAM_CANDIDATES", "all"},
		{"bad duplicate policy", "DUPLICATE_ENTRY_POLICY", "merge"},
		{"lone dsn", "POSTGRES_DSN", "postgres://localhost/db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestConfig_Workers(t *testing.T) {
	cfg := &Config{Search: SearchConfig{Workers: 4}, Validation: ValidationConfig{Workers: 2, CandidateWorkers: 8}}

	assert.Equal(t, 4, cfg.OptimizerWorkers(100))
	assert.Equal(t, 3, cfg.OptimizerWorkers(3))
	assert.Equal(t, 1, cfg.ValidationPairWorkers(1))
	assert.Equal(t, 3, cfg.ValidationCandidateWorkers(3))
}

func TestConfig_AccountingOptions(t *testing.T) {
	cfg := &Config{Costs: CostsConfig{FeeBps: 5, SlippageBps: 2, DuplicateEntry: accounting.DuplicateEntryIgnore}}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	opts := cfg.AccountingOptions(start, start.Add(time.Hour))
	assert.Equal(t, start, opts.Start)
	assert.Equal(t, 5.0, opts.FeeBps)
	assert.Equal(t, 2.0, opts.SlippageBps)
	assert.Equal(t, accounting.DuplicateEntryIgnore, opts.DuplicateEntry)
}
