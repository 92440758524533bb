package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shigeo-nakamura/pairtrade/internal/accounting"
	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/metrics"
)

const (
	signerMarker   = "libsigner.so"
	signerHeadSize = 16384
	progressTail   = 2 << 20

	restartCounterPrefix = "debot_restart_counter_optimizer_"
)

var (
	signerPhrases   = []string{"error while loading shared libraries", "cannot open shared object file"}
	progressPattern = regexp.MustCompile(`insufficient history .*?\(([^:]+):(\d+),`)
)

// ExecOptions configures ExecRunner.
type ExecOptions struct {
	Executable string // backtest entry point
	DataFile   string // market data snapshot passed as BACKTEST_FILE
	LogDir     string
	KeepLogs   bool
	Env        map[string]string // extra environment for every run

	// DataStart is used for the default accounting start (DataStart + Warmup)
	// when a request has no window start.
	DataStart    time.Time
	Warmup       time.Duration
	ExpectedBars int // for timeout progress estimates; 0 → unknown

	Accounting accounting.Options
	Score      metrics.ScoreConfig

	Logger *zap.Logger
}

// ExecRunner runs the backtest executable as an isolated OS process, then
// scores its event log in-process.
type ExecRunner struct {
	opts ExecOptions
	log  *zap.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(opts ExecOptions) *ExecRunner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{opts: opts, log: logger.Named("exec")}
}

var _ Runner = (*ExecRunner)(nil)

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, req RunRequest) (float64, error) {
	if err := os.MkdirAll(r.opts.LogDir, 0o755); err != nil {
		return domain.InvalidScore, fmt.Errorf("create log dir: %w", err)
	}

	safePair := SafePair(req.Pair)
	prefix := "debot_backtest_" + safePair + "_"
	if req.Label != "" {
		prefix += req.Label + "_"
	}
	tmp, err := os.CreateTemp(r.opts.LogDir, prefix+"*.log")
	if err != nil {
		return domain.InvalidScore, fmt.Errorf("create run log: %w", err)
	}
	logPath := tmp.Name()
	defer func() {
		if r.opts.KeepLogs {
			r.log.Info("kept backtest log", zap.String("path", logPath))
			return
		}
		_ = os.Remove(logPath)
	}()

	runErr := r.execute(ctx, req, tmp)
	_ = tmp.Close()

	if DetectMissingSigner(logPath) {
		return domain.InvalidScore, fmt.Errorf("%w: missing %s (log: %s)", ErrFatalDependency, signerMarker, logPath)
	}
	if err := copyFile(logPath, LatestLogPath(r.opts.LogDir, req.Pair, req.Label)); err != nil {
		r.log.Debug("latest log copy failed", zap.Error(err))
	}

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			fields := []zap.Field{zap.String("pair", req.Pair)}
			if progress := EstimateProgress(logPath, r.opts.ExpectedBars); progress != "" {
				fields = append(fields, zap.String("progress", progress))
			}
			r.log.Warn("backtest timed out", fields...)
			return domain.InvalidScore, fmt.Errorf("backtest timed out: %w", ctx.Err())
		}
		return domain.InvalidScore, fmt.Errorf("backtest run: %w", runErr)
	}

	return r.score(logPath, req.Window)
}

func (r *ExecRunner) execute(ctx context.Context, req RunRequest, out *os.File) error {
	cmd := exec.CommandContext(ctx, r.opts.Executable)
	cmd.Env = r.environ(req)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 5 * time.Second
	return cmd.Run()
}

func (r *ExecRunner) environ(req RunRequest) []string {
	env := os.Environ()
	set := func(k, v string) { env = append(env, k+"="+v) }
	for k, v := range r.opts.Env {
		set(k, v)
	}
	set("BACKTEST_MODE", "true")
	set("BACKTEST_FILE", r.opts.DataFile)
	set("DRY_RUN", "true")
	set("RUST_LOG", "info,debot=info")
	set("UNIVERSE_PAIRS", req.Pair)
	set("SKIP_BUILD", "1")
	set("RESTART_GUARD_DIR", r.opts.LogDir)
	set("RESTART_GUARD_KEY", "optimizer_"+SafePair(req.Pair)+"_"+strings.ReplaceAll(uuid.NewString(), "-", ""))
	for _, name := range req.Params.Names() {
		set(name, req.Params[name])
	}
	return env
}

func (r *ExecRunner) score(logPath string, window domain.Window) (float64, error) {
	start := window.Start
	if start.IsZero() {
		if r.opts.DataStart.IsZero() {
			return domain.InvalidScore, errors.New("cannot determine data time bounds")
		}
		start = r.opts.DataStart.Add(r.opts.Warmup)
	}

	opts := r.opts.Accounting
	opts.Start = start
	opts.End = window.End
	opts.Logger = r.log

	analysis := accounting.AnalyzeFile(logPath, opts)
	b := metrics.Score(analysis, r.opts.Score)
	r.log.Debug("run scored",
		zap.String("status", string(analysis.Status)),
		zap.Int("trades", b.TradeCount),
		zap.Float64("score", b.Score),
		zap.Strings("violations", b.Violations))
	return b.Score, nil
}

// SafePair makes a pair id usable in file names.
func SafePair(pair string) string {
	return strings.ReplaceAll(pair, "/", "_")
}

// LatestLogPath is the per-pair debug copy of the most recently finished run.
func LatestLogPath(dir, pair, suffix string) string {
	name := "debot_backtest_" + SafePair(pair)
	if suffix != "" {
		name += "_" + suffix
	}
	return filepath.Join(dir, name+".log")
}

// DetectMissingSigner reports whether a run log shows the signer library failed to load.
func DetectMissingSigner(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, signerHeadSize)
	n, _ := io.ReadFull(f, head)
	text := string(head[:n])
	if !strings.Contains(text, signerMarker) {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range signerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// EstimateProgress reads the tail of a run log and reports how far the
// backtest got, from the last "insufficient history" bar count. Returns "" if unknown.
func EstimateProgress(path string, expectedBars int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := max(0, info.Size()-progressTail)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return ""
	}
	tail, err := io.ReadAll(f)
	if err != nil {
		return ""
	}

	matches := progressPattern.FindAllSubmatch(tail, -1)
	if len(matches) == 0 {
		return ""
	}
	bars, err := strconv.Atoi(string(matches[len(matches)-1][2]))
	if err != nil {
		return ""
	}
	if expectedBars <= 0 {
		return fmt.Sprintf("bars_seen=%d", bars)
	}
	pct := min(100.0, float64(bars)/float64(expectedBars)*100)
	return fmt.Sprintf("%.1f%% (%d/%d bars)", pct, bars, expectedBars)
}

// CleanupRestartCounters removes restart guard counters left in dir by
// earlier optimizer runs. It returns how many files were removed.
func CleanupRestartCounters(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, restartCounterPrefix+"*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
