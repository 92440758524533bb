// Package search dispatches sampled parameter sets to a backtest runner and
// refines around the best results.
package search

import (
	"context"
	"errors"
	"time"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// ErrFatalDependency marks a failure every later run would repeat (a missing
// shared library, for instance). It aborts the whole search.
var ErrFatalDependency = errors.New("fatal backtest dependency failure")

// RunRequest is one backtest to execute and score.
type RunRequest struct {
	Pair   string
	Params domain.ParameterSet
	Window domain.Window // zero Start means "data start + warmup"
	Label  string        // log name suffix, e.g. "val"
}

// Runner executes one backtest and returns its score.
// A non-nil error degrades the run to the invalid score unless it wraps ErrFatalDependency.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (float64, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req RunRequest) (float64, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, req RunRequest) (float64, error) {
	return f(ctx, req)
}

// RunEvent describes one finished run.
type RunEvent struct {
	Pair     string
	Stage    string
	Window   domain.Window
	Index    int // dispatch index within the stage
	Total    int
	Result   domain.EvaluationResult
	Err      error
	Duration time.Duration
}

// Observer is notified of every finished run and every new best.
// Calls may arrive concurrently from pool workers.
type Observer interface {
	RunFinished(ctx context.Context, ev RunEvent)
	NewBest(ctx context.Context, pair, stage string, best domain.EvaluationResult)
}

type nopObserver struct{}

func (nopObserver) RunFinished(context.Context, RunEvent)                            {}
func (nopObserver) NewBest(context.Context, string, string, domain.EvaluationResult) {}
