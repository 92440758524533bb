// Package main scores one backtest event log and prints the score on stdout:
//
//	analyzer <log> [--start-timestamp T] [--end-timestamp T]
//
// Timestamps use 2006-01-02T15:04:05-0700 or RFC 3339. Cost and score
// settings come from the same environment variables as the optimizer.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/shigeo-nakamura/pairtrade/internal/accounting"
	"github.com/shigeo-nakamura/pairtrade/internal/config"
	"github.com/shigeo-nakamura/pairtrade/internal/logging"
	"github.com/shigeo-nakamura/pairtrade/internal/metrics"
)

const timestampLayout = "2006-01-02T15:04:05-0700"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("analyzer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	startFlag := fs.String("start-timestamp", "", "Window start: positions open here are re-based to the last earlier prices, with no entry cost")
	endFlag := fs.String("end-timestamp", "", "Window end: positions open here are force-closed at the last observed prices")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: analyzer <log> [--start-timestamp T] [--end-timestamp T]")
		fs.PrintDefaults()
	}

	logPath, err := parseArgs(fs, args)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "analyzer: %v\n", err)
		}
		return 2
	}
	start, err := parseTimestamp(*startFlag)
	if err != nil {
		fmt.Fprintf(stderr, "analyzer: invalid --start-timestamp: %v\n", err)
		return 2
	}
	end, err := parseTimestamp(*endFlag)
	if err != nil {
		fmt.Fprintf(stderr, "analyzer: invalid --end-timestamp: %v\n", err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "analyzer: %v\n", err)
		return 2
	}
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(stderr, "analyzer: %v\n", err)
		return 2
	}
	defer logger.Sync()
	logger = logger.Named("analyzer")

	opts := cfg.AccountingOptions(start, end)
	opts.Logger = logger
	analysis := accounting.AnalyzeFile(logPath, opts)
	b := metrics.Score(analysis, cfg.Score)
	summary := metrics.Summarize(metrics.Series(analysis, cfg.Score.Mode, cfg.Score.ReturnScale), analysis.HoldSeconds())
	logAnalysis(logger, logPath, analysis, b, summary)

	fmt.Fprintln(stdout, metrics.FormatScore(b.Score))
	return 0
}

func logAnalysis(logger *zap.Logger, logPath string, a *accounting.Analysis, b metrics.Breakdown, s metrics.Summary) {
	logger.Info("log analyzed",
		zap.String("log", logPath),
		zap.String("status", string(a.Status)),
		zap.String("total_pnl", a.TotalPnL.StringFixed(6)),
		zap.Int("trades", b.TradeCount),
		zap.Float64("win_rate", s.WinRate),
		zap.Float64("median", s.Median),
		zap.Float64("p10", s.P10),
		zap.Float64("p90", s.P90),
		zap.Int("max_consecutive_losses", s.MaxConsecutiveLosses),
		zap.Float64("max_drawdown", b.MaxDrawdown),
		zap.Float64("sharpe", b.Sharpe),
		zap.Float64("cvar", b.CVaR),
		zap.Float64("avg_hold_secs", b.AvgHoldSecs),
		zap.Strings("violations", b.Violations))
}

// parseArgs accepts flags before or after the log path.
func parseArgs(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return "", errors.New("missing log path")
	}
	logPath := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return "", err
	}
	if fs.NArg() > 0 {
		return "", fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return logPath, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
