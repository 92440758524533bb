package accounting

import (
	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// Status distinguishes a real result from the neutral fallback.
type Status string

const (
	// StatusOK means at least one trade was closed.
	StatusOK Status = "OK"
	// StatusNoActivity means the log was read but produced no closed trades.
	StatusNoActivity Status = "NO_ACTIVITY"
	// StatusFailed means the log could not be read; the analysis is the neutral zero result.
	StatusFailed Status = "FAILED"
)

// Analysis is the outcome of accounting over one event log.
type Analysis struct {
	Status   Status
	Err      error // cause when Status == StatusFailed
	TotalPnL decimal.Decimal
	Trades   []domain.ClosedTrade
}

// Failed returns the neutral zero analysis for a log that could not be read.
func Failed(err error) *Analysis {
	return &Analysis{Status: StatusFailed, Err: err, TotalPnL: decimal.Zero}
}

// PnLs returns per-trade pnl as float64 in close order.
func (a *Analysis) PnLs() []float64 {
	out := make([]float64, len(a.Trades))
	for i, t := range a.Trades {
		out[i] = t.PnL.InexactFloat64()
	}
	return out
}

// Returns returns per-trade returns in close order.
func (a *Analysis) Returns() []float64 {
	out := make([]float64, len(a.Trades))
	for i, t := range a.Trades {
		out[i] = t.Return
	}
	return out
}

// HoldSeconds returns per-trade holding durations in close order.
func (a *Analysis) HoldSeconds() []float64 {
	out := make([]float64, len(a.Trades))
	for i, t := range a.Trades {
		out[i] = t.HoldSeconds
	}
	return out
}
