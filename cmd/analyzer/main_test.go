package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shigeo-nakamura/pairtrade/internal/accounting"
	"github.com/shigeo-nakamura/pairtrade/internal/metrics"
)

// rawPnLEnv scores raw pnl with every gate, penalty and bonus off.
func rawPnLEnv(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"OPTIMIZER_SCORE_MODE":        "pnl",
		"OPTIMIZER_MIN_TRADES":        "0",
		"OPTIMIZER_MAX_DRAWDOWN":      "-1",
		"OPTIMIZER_MIN_SHARPE":        "-1000",
		"OPTIMIZER_MAX_AVG_HOLD_SECS": "-1",
		"OPTIMIZER_MAX_SINGLE_LOSS":   "0",
		"OPTIMIZER_DRAWDOWN_PENALTY":  "0",
		"OPTIMIZER_AVG_HOLD_PENALTY":  "0",
		"OPTIMIZER_CVAR_PENALTY":      "0",
		"OPTIMIZER_SHARPE_BONUS":      "0",
		"OPTIMIZER_TRADE_FREQ_BONUS":  "0",
		"FEE_BPS":                     "0",
		"SLIPPAGE_BPS":                "0",
		"POSTGRES_DSN":                "",
		"CLICKHOUSE_DSN":              "",
		"LOG_LEVEL":                   "error",
	} {
		t.Setenv(k, v)
	}
}

func writeLog(t *testing.T) string {
	t.Helper()
	lines := []string{
		"2024-01-01T00:00:00+0000 [INFO] - [ENTRY] pair=X direction=LongSpread size_a=10 price_a=100 size_b=10 price_b=50",
		"2024-01-01T00:30:00+0000 [INFO] - heartbeat",
		"2024-01-01T01:00:00+0000 [INFO] - [EXIT] pair=X direction=LongSpread size_a=10 price_a=110 size_b=10 price_b=45",
	}
	path := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestRun_PrintsScore(t *testing.T) {
	rawPnLEnv(t)
	var stdout, stderr bytes.Buffer

	code := run([]string{writeLog(t)}, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "150.00000000\n", stdout.String())
}

func TestRun_FlagsAfterLogPath(t *testing.T) {
	rawPnLEnv(t)
	var stdout, stderr bytes.Buffer

	code := run([]string{writeLog(t), "--start-timestamp", "2024-01-01T02:00:00+0000"}, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "0.00000000\n", stdout.String())
}

func TestRun_MinTradesGate(t *testing.T) {
	rawPnLEnv(t)
	t.Setenv("OPTIMIZER_MIN_TRADES", "2")
	var stdout, stderr bytes.Buffer

	code := run([]string{writeLog(t)}, &stdout, &stderr)

	require.Equal(t, 0, code)
	assert.Equal(t, "-inf\n", stdout.String())
}

func TestRun_UsageErrors(t *testing.T) {
	rawPnLEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing log", nil},
		{"bad start", []string{"--start-timestamp", "yesterday", "run.log"}},
		{"bad end", []string{"run.log", "--end-timestamp", "2024-13-01"}},
		{"extra args", []string{"a.log", "b.log"}},
		{"unknown flag", []string{"--verbose", "run.log"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, 2, run(tt.args, &stdout, &stderr))
			assert.Empty(t, stdout.String())
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := parseTimestamp("2024-03-01T12:00:00+0900")
	require.NoError(t, err)
	assert.Equal(t, int64(1709262000), got.Unix())

	got, err = parseTimestamp("2024-03-01T03:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1709262000), got.Unix())

	got, err = parseTimestamp("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestLogAnalysis_IncludesTradeSummary(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := accounting.AnalyzeFile(writeLog(t), accounting.Options{})
	series := metrics.Series(a, metrics.ScoreModePnL, 0)
	b := metrics.Score(a, metrics.ScoreConfig{Mode: metrics.ScoreModePnL})

	logAnalysis(zap.New(core), "run.log", a, b, metrics.Summarize(series, a.HoldSeconds()))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "150.000000", fields["total_pnl"])
	assert.Equal(t, int64(1), fields["trades"])
	assert.Equal(t, 1.0, fields["win_rate"])
	assert.Equal(t, 150.0, fields["median"])
	assert.Equal(t, int64(0), fields["max_consecutive_losses"])
	assert.Equal(t, 3600.0, fields["avg_hold_secs"])
}

func TestRun_HelpDescribesWindow(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 2, run([]string{"-h"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "no entry cost")
	assert.Contains(t, stderr.String(), "force-closed")
	assert.NotContains(t, stderr.String(), "Only trades closed")
}
