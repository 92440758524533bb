package metrics

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shigeo-nakamura/pairtrade/internal/accounting"
	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// ScoreMode selects the series a score is built from.
type ScoreMode string

const (
	// ScoreModeReturn scores scaled per-trade returns (leverage neutral).
	ScoreModeReturn ScoreMode = "return"
	// ScoreModePnL scores raw per-trade pnl.
	ScoreModePnL ScoreMode = "pnl"
)

// DefaultReturnScale multiplies returns so they land in a pnl-like range.
const DefaultReturnScale = 1000.0

// ParseScoreMode maps a configured mode name onto a ScoreMode.
// Unknown names fall back to pnl.
func ParseScoreMode(s string) ScoreMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "return", "returns", "normalized", "leverage_neutral":
		return ScoreModeReturn
	default:
		return ScoreModePnL
	}
}

// ScoreConfig holds the score thresholds and weights.
// A nil pointer threshold disables that hard constraint.
type ScoreConfig struct {
	Mode        ScoreMode
	ReturnScale float64 // non-positive → DefaultReturnScale

	MinTrades      int      // 0 disables
	MaxDrawdown    *float64 // negative disables
	MinSharpe      *float64
	MaxAvgHoldSecs *float64 // negative disables
	MaxSingleLoss  float64  // non-positive disables

	CVaRPct         float64
	DrawdownPenalty float64
	HoldPenalty     float64
	CVaRPenalty     float64
	SharpeBonus     float64
	TradeFreqBonus  float64
}

// Hard constraint names reported in Breakdown.Violations.
const (
	ViolationMinTrades     = "min_trades"
	ViolationMaxDrawdown   = "max_drawdown"
	ViolationMinSharpe     = "min_sharpe"
	ViolationMaxAvgHold    = "max_avg_hold_secs"
	ViolationMaxSingleLoss = "max_single_loss"
)

// Breakdown is the score plus the statistics it was assembled from.
type Breakdown struct {
	Score       float64
	Base        float64
	TradeCount  int
	MaxDrawdown float64
	Sharpe      float64
	CVaR        float64
	AvgHoldSecs float64
	WorstTrade  float64
	Violations  []string
}

// Valid reports whether no hard constraint was violated.
func (b Breakdown) Valid() bool {
	return !math.IsInf(b.Score, 0) && !math.IsNaN(b.Score)
}

// Score assembles the gated, penalized score for one analysis.
func Score(a *accounting.Analysis, cfg ScoreConfig) Breakdown {
	series := Series(a, cfg.Mode, cfg.ReturnScale)
	var base float64
	if cfg.Mode == ScoreModeReturn {
		for _, v := range series {
			base += v
		}
	} else {
		base = a.TotalPnL.InexactFloat64()
	}
	return scoreSeries(series, base, a.HoldSeconds(), cfg)
}

// Series is the per-trade series a mode scores: scaled returns or raw pnl.
func Series(a *accounting.Analysis, mode ScoreMode, returnScale float64) []float64 {
	if mode != ScoreModeReturn {
		return a.PnLs()
	}
	if returnScale <= 0 {
		returnScale = DefaultReturnScale
	}
	series := a.Returns()
	for i := range series {
		series[i] *= returnScale
	}
	return series
}

func scoreSeries(series []float64, base float64, holds []float64, cfg ScoreConfig) Breakdown {
	b := Breakdown{
		Score:       base,
		Base:        base,
		TradeCount:  len(series),
		MaxDrawdown: MaxDrawdown(series),
		Sharpe:      Sharpe(series),
		CVaR:        CVaR(series, cfg.CVaRPct),
		AvgHoldSecs: averageHold(holds),
	}
	if len(series) > 0 {
		b.WorstTrade = series[0]
		for _, v := range series[1:] {
			b.WorstTrade = math.Min(b.WorstTrade, v)
		}
	}

	if cfg.MinTrades > 0 && b.TradeCount < cfg.MinTrades {
		b.Violations = append(b.Violations, ViolationMinTrades)
	}
	if cfg.MaxDrawdown != nil && *cfg.MaxDrawdown >= 0 && b.MaxDrawdown > *cfg.MaxDrawdown {
		b.Violations = append(b.Violations, ViolationMaxDrawdown)
	}
	if cfg.MinSharpe != nil && b.Sharpe < *cfg.MinSharpe {
		b.Violations = append(b.Violations, ViolationMinSharpe)
	}
	if cfg.MaxAvgHoldSecs != nil && *cfg.MaxAvgHoldSecs >= 0 && b.AvgHoldSecs > *cfg.MaxAvgHoldSecs {
		b.Violations = append(b.Violations, ViolationMaxAvgHold)
	}
	if cfg.MaxSingleLoss > 0 && len(series) > 0 && b.WorstTrade < -cfg.MaxSingleLoss {
		b.Violations = append(b.Violations, ViolationMaxSingleLoss)
	}

	if len(b.Violations) > 0 {
		b.Score = domain.InvalidScore
		return b
	}

	b.Score -= cfg.DrawdownPenalty * b.MaxDrawdown
	b.Score -= cfg.HoldPenalty * b.AvgHoldSecs
	if b.CVaR < 0 && cfg.CVaRPenalty > 0 {
		b.Score -= cfg.CVaRPenalty * math.Abs(b.CVaR)
	}
	b.Score += cfg.SharpeBonus * b.Sharpe
	b.Score += cfg.TradeFreqBonus * float64(b.TradeCount)
	return b
}

// FormatScore renders a score the way the analyzer prints it: %.8f, or inf/-inf/nan.
func FormatScore(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	default:
		return strconv.FormatFloat(v, 'f', 8, 64)
	}
}

// ParseScore parses analyzer output. nan maps to the invalid sentinel.
func ParseScore(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	case "nan":
		return domain.InvalidScore, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.InvalidScore, fmt.Errorf("parse score %q: %w", s, err)
	}
	if math.IsNaN(v) {
		return domain.InvalidScore, nil
	}
	return v, nil
}
