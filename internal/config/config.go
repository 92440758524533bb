// Package config builds the optimizer's immutable configuration from the
// environment. It is loaded once at startup and passed down; nothing else
// reads the environment mid-run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shigeo-nakamura/pairtrade/internal/accounting"
	"github.com/shigeo-nakamura/pairtrade/internal/metrics"
	"github.com/shigeo-nakamura/pairtrade/internal/sampler"
	"github.com/shigeo-nakamura/pairtrade/internal/search"
	"github.com/shigeo-nakamura/pairtrade/internal/selection"
	"github.com/shigeo-nakamura/pairtrade/internal/walkforward"
)

// Param update modes.
const (
	ModePerPair = "per_pair"
	ModeCommon  = "common"
)

// Common-params candidate sources.
const (
	CandidatesBestPerPair = "best_per_pair"
	CandidatesGrid        = "grid"
)

// Config holds the whole optimizer configuration.
type Config struct {
	Paths      PathsConfig
	Search     SearchConfig
	Validation ValidationConfig
	Sweep      SweepConfig
	Common     CommonConfig
	Costs      CostsConfig
	Score      metrics.ScoreConfig
	Storage    StorageConfig
	Server     ServerConfig
	Logging    LoggingConfig
}

// PathsConfig - files and directories.
type PathsConfig struct {
	ConfigPath   string // pair YAML config
	DataFile     string // market data JSONL
	SnapshotDir  string // where the data snapshot is copied; empty → os.TempDir()
	Executable   string // backtest entry point
	LogDir       string // temp and latest backtest logs
	KeepLogs     bool
	SweepLogPath string // JSONL per sweep window; empty disables
	SweepCSVPath string // CSV rows per sweep candidate; empty disables
	ReportDir    string
}

// SearchConfig - train search.
type SearchConfig struct {
	TargetPairs    []string // empty → read from the pair config
	Workers        int      // 0 → NumCPU-1
	MaxCombos      int
	Strategy       sampler.Strategy
	Seed           *int64
	RunTimeout     time.Duration
	Warmup         time.Duration
	TradingPeriod  time.Duration
	SeedFromConfig bool // widen the grid around the values already in the config

	EnableRefinement bool
	Refine           search.RefineOptions
}

// ValidationConfig - held-out evaluation.
type ValidationConfig struct {
	Workers          int // pairs validated in parallel; 0 → NumCPU-1
	CandidateWorkers int // candidates per pair in parallel; 0 → NumCPU
	TopK             int
	DiverseK         int
	DiversityKeys    []string
}

// SweepConfig - sliding-window search.
type SweepConfig struct {
	Enable      bool
	Window      time.Duration
	Step        time.Duration
	IncludeTail bool
	MaxCombos   int
	Refinement  bool
	FinalMax    int
	Criteria    selection.SweepCriteria
}

// CommonConfig - shared parameters across pairs.
type CommonConfig struct {
	Mode        string // ModePerPair or ModeCommon
	Candidates  string // CandidatesBestPerPair or CandidatesGrid
	MinValScore float64
}

// CostsConfig - transaction cost model.
type CostsConfig struct {
	FeeBps         float64
	SlippageBps    float64
	DuplicateEntry accounting.DuplicateEntryPolicy
}

// StorageConfig - result persistence.
type StorageConfig struct {
	UseMemory     bool
	PostgresDSN   string
	ClickHouseDSN string
}

// ServerConfig - status HTTP server.
type ServerConfig struct {
	Addr           string // empty disables the server
	AllowedOrigins []string
}

// LoggingConfig - zap logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load builds the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Paths: PathsConfig{
			ConfigPath:   resolveConfigPath(),
			DataFile:     absPath(getEnv("DATA_DUMP_FILE", "market_data_7d.jsonl")),
			SnapshotDir:  getEnv("DATA_SNAPSHOT_DIR", ""),
			Executable:   getEnv("BOT_EXECUTABLE", "scripts/run_pairtrade.sh"),
			LogDir:       getEnv("BACKTEST_LOG_DIR", "/tmp/debot_backtests"),
			KeepLogs:     getEnv("CLEAN_BACKTEST_LOG", "1") != "1",
			SweepLogPath: getEnv("OPTIMIZER_SWEEP_LOG_PATH", "/tmp/optimizer_sweep_windows.jsonl"),
			SweepCSVPath: getEnv("OPTIMIZER_SWEEP_CSV_PATH", "/tmp/optimizer_sweep_windows.csv"),
			ReportDir:    getEnv("OPTIMIZER_REPORT_DIR", "output"),
		},
		Search: SearchConfig{
			TargetPairs:    getEnvAsList("OPTIMIZER_TARGET_PAIRS"),
			Workers:        getEnvAsInt("OPTIMIZER_WORKERS", 0),
			MaxCombos:      getEnvAsInt("OPTIMIZER_MAX_COMBOS", 384),
			Strategy:       sampler.ParseStrategy(getEnv("OPTIMIZER_SAMPLING_STRATEGY", string(sampler.StrategyBalanced))),
			Seed:           sampler.ParseSeed(os.Getenv("OPTIMIZER_COMBO_SAMPLE_SEED")),
			RunTimeout:     getEnvAsSeconds("OPTIMIZER_RUN_TIMEOUT_SECS", time.Hour),
			Warmup:         getEnvAsSeconds("OPTIMIZER_WARMUP_SECS", 12*time.Hour),
			TradingPeriod:  getEnvAsSeconds("TRADING_PERIOD_SECS", time.Minute),
			SeedFromConfig: getEnvAsFlag("OPTIMIZER_SEED_FROM_ENV", true),

			EnableRefinement: getEnvAsFlag("OPTIMIZER_ENABLE_REFINEMENT", true),
			Refine: search.RefineOptions{
				ParamCount: getEnvAsInt("OPTIMIZER_REFINE_PARAM_COUNT", 3),
				SeedCount:  getEnvAsInt("OPTIMIZER_REFINE_SEED_COUNT", 5),
				MaxRuns:    getEnvAsInt("OPTIMIZER_REFINE_MAX_RUNS", 128),
			},
		},
		Validation: ValidationConfig{
			Workers:          getEnvAsInt("VALIDATION_WORKERS", 0),
			CandidateWorkers: getEnvAsInt("VALIDATION_CANDIDATE_WORKERS", 0),
			TopK:             getEnvAsInt("VALIDATION_CANDIDATE_TOP_K", 2),
			DiverseK:         getEnvAsInt("VALIDATION_CANDIDATE_DIVERSE_K", 1),
			DiversityKeys:    selection.ParseKeys(os.Getenv("VALIDATION_DIVERSITY_KEYS"), selection.DefaultDiversityKeys),
		},
		Sweep: SweepConfig{
			Enable:      getEnvAsFlag("OPTIMIZER_SWEEP_ENABLE", false),
			Window:      walkforward.Days(getEnvAsFloat("OPTIMIZER_SWEEP_WINDOW_DAYS", 1)),
			Step:        walkforward.Days(getEnvAsFloat("OPTIMIZER_SWEEP_STEP_DAYS", 1)),
			IncludeTail: getEnvAsFlag("OPTIMIZER_SWEEP_INCLUDE_TAIL", true),
			MaxCombos:   getEnvAsInt("OPTIMIZER_SWEEP_MAX_COMBOS", 512),
			Refinement:  getEnvAsFlag("OPTIMIZER_SWEEP_REFINEMENT", false),
			FinalMax:    getEnvAsInt("OPTIMIZER_SWEEP_FINAL_MAX", 50),
			Criteria: selection.SweepCriteria{
				TopK:         getEnvAsInt("OPTIMIZER_SWEEP_TOP_K", 10),
				DiverseK:     getEnvAsInt("OPTIMIZER_SWEEP_DIVERSE_K", 3),
				Keys:         selection.ParseKeys(os.Getenv("OPTIMIZER_SWEEP_DIVERSITY_KEYS"), selection.DefaultDiversityKeys),
				PriorityKeys: selection.ParseKeys(os.Getenv("OPTIMIZER_SWEEP_DIVERSITY_PRIORITY_KEYS"), nil),
				Weights:      selection.ParseKeyFloats(os.Getenv("OPTIMIZER_SWEEP_DIVERSITY_WEIGHTS")),
				Distance:     selection.ParseKeyFloats(os.Getenv("OPTIMIZER_SWEEP_DIVERSITY_DISTANCE")),
				MinScore:     getEnvAsFloat("OPTIMIZER_SWEEP_MIN_SCORE", 0),
				Step:         getEnvAsFloat("OPTIMIZER_SWEEP_MIN_SCORE_STEP", 1),
				Floor:        getEnvAsFloat("OPTIMIZER_SWEEP_MIN_SCORE_FLOOR", -10),
			},
		},
		Common: CommonConfig{
			Mode:        strings.ToLower(strings.TrimSpace(getEnv("COMMON_PARAM_MODE", ModePerPair))),
			Candidates:  strings.ToLower(strings.TrimSpace(getEnv("COMMON_PARAM_CANDIDATES", CandidatesBestPerPair))),
			MinValScore: getEnvAsFloat("COMMON_PARAM_MIN_VAL_SCORE", 0),
		},
		Costs: CostsConfig{
			FeeBps:         getEnvAsFloat("FEE_BPS", 0),
			SlippageBps:    getEnvAsFloat("SLIPPAGE_BPS", 0),
			DuplicateEntry: accounting.DuplicateEntryPolicy(getEnv("DUPLICATE_ENTRY_POLICY", string(accounting.DuplicateEntryForceClose))),
		},
		Score: loadScore(),
		Storage: StorageConfig{
			UseMemory:     getEnvAsFlag("OPTIMIZER_USE_MEMORY", false),
			PostgresDSN:   getEnv("POSTGRES_DSN", ""),
			ClickHouseDSN: getEnv("CLICKHOUSE_DSN", ""),
		},
		Server: ServerConfig{
			Addr:           getEnv("OPTIMIZER_STATUS_ADDR", ":9090"),
			AllowedOrigins: getEnvAsList("OPTIMIZER_ALLOWED_ORIGINS"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadScore reads the score thresholds. The defaults reject thin or
// unstable runs; a negative drawdown or hold limit disables it.
func loadScore() metrics.ScoreConfig {
	return metrics.ScoreConfig{
		Mode:            metrics.ParseScoreMode(getEnv("OPTIMIZER_SCORE_MODE", string(metrics.ScoreModeReturn))),
		ReturnScale:     getEnvAsFloat("OPTIMIZER_RETURN_SCALE", metrics.DefaultReturnScale),
		MinTrades:       getEnvAsInt("OPTIMIZER_MIN_TRADES", 8),
		MaxDrawdown:     getEnvAsFloatPtr("OPTIMIZER_MAX_DRAWDOWN", 1000),
		MinSharpe:       getEnvAsFloatPtr("OPTIMIZER_MIN_SHARPE", 0),
		MaxAvgHoldSecs:  getEnvAsFloatPtr("OPTIMIZER_MAX_AVG_HOLD_SECS", 7200),
		MaxSingleLoss:   getEnvAsFloat("OPTIMIZER_MAX_SINGLE_LOSS", 30),
		CVaRPct:         getEnvAsFloat("OPTIMIZER_CVAR_PCT", 0.05),
		DrawdownPenalty: getEnvAsFloat("OPTIMIZER_DRAWDOWN_PENALTY", 0.1),
		HoldPenalty:     getEnvAsFloat("OPTIMIZER_AVG_HOLD_PENALTY", 0.001),
		CVaRPenalty:     getEnvAsFloat("OPTIMIZER_CVAR_PENALTY", 1),
		SharpeBonus:     getEnvAsFloat("OPTIMIZER_SHARPE_BONUS", 5),
		TradeFreqBonus:  getEnvAsFloat("OPTIMIZER_TRADE_FREQ_BONUS", 0.05),
	}
}

// validateRanges checks numeric ranges and enumerations.
func (c *Config) validateRanges() error {
	if c.Search.Workers < 0 {
		return fmt.Errorf("OPTIMIZER_WORKERS cannot be negative, got %d", c.Search.Workers)
	}
	if c.Search.MaxCombos < 0 {
		return fmt.Errorf("OPTIMIZER_MAX_COMBOS cannot be negative, got %d", c.Search.MaxCombos)
	}
	if c.Search.RunTimeout <= 0 {
		return fmt.Errorf("OPTIMIZER_RUN_TIMEOUT_SECS must be positive, got %v", c.Search.RunTimeout)
	}
	if c.Search.Warmup < 0 {
		return fmt.Errorf("OPTIMIZER_WARMUP_SECS cannot be negative, got %v", c.Search.Warmup)
	}
	if c.Search.TradingPeriod <= 0 {
		return fmt.Errorf("TRADING_PERIOD_SECS must be positive, got %v", c.Search.TradingPeriod)
	}
	if c.Search.Refine.ParamCount < 0 || c.Search.Refine.SeedCount < 0 || c.Search.Refine.MaxRuns < 0 {
		return fmt.Errorf("OPTIMIZER_REFINE_* values cannot be negative")
	}
	if c.Validation.Workers < 0 || c.Validation.CandidateWorkers < 0 {
		return fmt.Errorf("VALIDATION_WORKERS and VALIDATION_CANDIDATE_WORKERS cannot be negative")
	}
	if c.Sweep.Enable && c.Sweep.Window <= 0 {
		return fmt.Errorf("OPTIMIZER_SWEEP_WINDOW_DAYS must be positive when sweep is enabled")
	}
	switch c.Common.Mode {
	case ModePerPair, ModeCommon:
	default:
		return fmt.Errorf("COMMON_PARAM_MODE must be %q or %q, got %q", ModePerPair, ModeCommon, c.Common.Mode)
	}
	switch c.Common.Candidates {
	case CandidatesBestPerPair, CandidatesGrid:
	default:
		return fmt.Errorf("COMMON_PARAM_CANDIDATES must be %q or %q, got %q", CandidatesBestPerPair, CandidatesGrid, c.Common.Candidates)
	}
	switch c.Costs.DuplicateEntry {
	case accounting.DuplicateEntryForceClose, accounting.DuplicateEntryIgnore:
	default:
		return fmt.Errorf("DUPLICATE_ENTRY_POLICY must be %q or %q, got %q",
			accounting.DuplicateEntryForceClose, accounting.DuplicateEntryIgnore, c.Costs.DuplicateEntry)
	}
	if !c.Storage.UseMemory && (c.Storage.PostgresDSN == "") != (c.Storage.ClickHouseDSN == "") {
		return fmt.Errorf("POSTGRES_DSN and CLICKHOUSE_DSN must be set together")
	}
	return nil
}

// OptimizerWorkers resolves the run pool size for a pass of pending runs.
func (c *Config) OptimizerWorkers(pending int) int {
	return search.ResolveWorkers(c.Search.Workers, 1, pending)
}

// ValidationPairWorkers resolves how many pairs are validated in parallel.
func (c *Config) ValidationPairWorkers(pairs int) int {
	return search.ResolveWorkers(c.Validation.Workers, 1, pairs)
}

// ValidationCandidateWorkers resolves per-pair candidate parallelism.
func (c *Config) ValidationCandidateWorkers(candidates int) int {
	return search.ResolveWorkers(c.Validation.CandidateWorkers, 0, candidates)
}

// AccountingOptions returns the accountant options for a window.
func (c *Config) AccountingOptions(start, end time.Time) accounting.Options {
	return accounting.Options{
		Start:          start,
		End:            end,
		FeeBps:         c.Costs.FeeBps,
		SlippageBps:    c.Costs.SlippageBps,
		DuplicateEntry: c.Costs.DuplicateEntry,
	}
}

// UsesPersistentStorage reports whether Postgres/ClickHouse are configured.
func (s StorageConfig) UsesPersistentStorage() bool {
	return !s.UseMemory && s.PostgresDSN != "" && s.ClickHouseDSN != ""
}

func resolveConfigPath() string {
	for _, key := range []string{"OPTIMIZER_CONFIG_PATH", "OPTIMIZER_ENV_PATH", "PAIRTRADE_CONFIG_PATH"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return absPath(v)
		}
	}
	name := "debot00.yaml"
	if strings.ToLower(strings.TrimSpace(os.Getenv("DEX_NAME"))) == "extended" {
		name = "debot_extended_main.yaml"
	}
	return absPath(filepath.Join("configs", "pairtrade", name))
}

// Helpers for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatPtr(key string, defaultValue float64) *float64 {
	v := getEnvAsFloat(key, defaultValue)
	return &v
}

// getEnvAsFlag accepts "1"/"0" as well as strconv.ParseBool forms.
func getEnvAsFlag(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	secs, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return time.Duration(secs * float64(time.Second))
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
