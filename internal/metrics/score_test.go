package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/accounting"
	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

func ptr(v float64) *float64 { return &v }

// makeAnalysis builds an analysis with the given per-trade pnl, returns pnl/100 and hold 60s.
func makeAnalysis(pnls ...float64) *accounting.Analysis {
	a := &accounting.Analysis{Status: accounting.StatusOK, TotalPnL: decimal.Zero}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, p := range pnls {
		d := decimal.NewFromFloat(p)
		a.TotalPnL = a.TotalPnL.Add(d)
		a.Trades = append(a.Trades, domain.ClosedTrade{
			Pair:        "X",
			EntryTime:   at,
			ExitTime:    at.Add(time.Minute),
			PnL:         d,
			Return:      p / 100,
			HoldSeconds: 60,
		})
		at = at.Add(time.Hour)
	}
	if len(a.Trades) == 0 {
		a.Status = accounting.StatusNoActivity
	}
	return a
}

func TestScore_PnLModeBase(t *testing.T) {
	b := Score(makeAnalysis(10, -5, -20, 30), ScoreConfig{Mode: ScoreModePnL})

	if b.Score != 15 || b.Base != 15 {
		t.Errorf("Score/Base = %f/%f, want 15/15", b.Score, b.Base)
	}
	if b.MaxDrawdown != 25 {
		t.Errorf("MaxDrawdown = %f, want 25", b.MaxDrawdown)
	}
	if b.WorstTrade != -20 {
		t.Errorf("WorstTrade = %f, want -20", b.WorstTrade)
	}
	if !b.Valid() {
		t.Error("expected valid breakdown")
	}
}

func TestScore_ReturnModeScales(t *testing.T) {
	a := makeAnalysis(1, 2)

	b := Score(a, ScoreConfig{Mode: ScoreModeReturn, ReturnScale: 1000})
	if math.Abs(b.Score-30) > 1e-9 {
		t.Errorf("Score = %f, want 30", b.Score)
	}

	// non-positive scale falls back to the default
	b = Score(a, ScoreConfig{Mode: ScoreModeReturn, ReturnScale: -1})
	if math.Abs(b.Score-30) > 1e-9 {
		t.Errorf("Score with default scale = %f, want 30", b.Score)
	}
}

func TestScore_MinTradesIsSentinel(t *testing.T) {
	// strong metrics everywhere else must not matter
	cfg := ScoreConfig{Mode: ScoreModePnL, MinTrades: 8, SharpeBonus: 100, TradeFreqBonus: 10}

	b := Score(makeAnalysis(50, 60, 70), cfg)
	if b.Score != domain.InvalidScore {
		t.Fatalf("expected invalid sentinel, got %f", b.Score)
	}
	if len(b.Violations) != 1 || b.Violations[0] != ViolationMinTrades {
		t.Errorf("Violations = %v, want [%s]", b.Violations, ViolationMinTrades)
	}
	if b.Valid() {
		t.Error("expected invalid breakdown")
	}
}

func TestScore_HardConstraints(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ScoreConfig
		pnls      []float64
		violation string
	}{
		{"max drawdown", ScoreConfig{MaxDrawdown: ptr(10)}, []float64{10, -5, -20, 30}, ViolationMaxDrawdown},
		{"min sharpe", ScoreConfig{MinSharpe: ptr(0)}, []float64{-1, -2, -3}, ViolationMinSharpe},
		{"max avg hold", ScoreConfig{MaxAvgHoldSecs: ptr(30)}, []float64{1, 2}, ViolationMaxAvgHold},
		{"max single loss", ScoreConfig{MaxSingleLoss: 15}, []float64{10, -20, 30}, ViolationMaxSingleLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Mode = ScoreModePnL
			b := Score(makeAnalysis(tt.pnls...), tt.cfg)
			if b.Score != domain.InvalidScore {
				t.Fatalf("expected invalid sentinel, got %f", b.Score)
			}
			if len(b.Violations) == 0 || b.Violations[0] != tt.violation {
				t.Errorf("Violations = %v, want %s first", b.Violations, tt.violation)
			}
		})
	}
}

func TestScore_DisabledConstraints(t *testing.T) {
	cfg := ScoreConfig{
		Mode:           ScoreModePnL,
		MaxDrawdown:    ptr(-1),
		MaxAvgHoldSecs: ptr(-1),
		MaxSingleLoss:  0,
	}
	b := Score(makeAnalysis(10, -50, 30), cfg)
	if !b.Valid() {
		t.Errorf("expected disabled constraints to pass, violations %v", b.Violations)
	}
}

func TestScore_SoftAdjustments(t *testing.T) {
	pnls := []float64{10, -5, -20, 30}
	cfg := ScoreConfig{
		Mode:            ScoreModePnL,
		CVaRPct:         0.25,
		DrawdownPenalty: 0.1,
		HoldPenalty:     0.001,
		CVaRPenalty:     1,
		SharpeBonus:     5,
		TradeFreqBonus:  0.05,
	}
	b := Score(makeAnalysis(pnls...), cfg)

	want := 15.0 - 0.1*25 - 0.001*60 - 1*20 + 5*Sharpe(pnls) + 0.05*4
	if math.Abs(b.Score-want) > 1e-9 {
		t.Errorf("Score = %f, want %f", b.Score, want)
	}
	if b.CVaR != -20 {
		t.Errorf("CVaR = %f, want -20", b.CVaR)
	}
}

func TestScore_EmptyAnalysis(t *testing.T) {
	b := Score(accounting.Failed(nil), ScoreConfig{Mode: ScoreModeReturn})
	if b.Score != 0 || b.TradeCount != 0 {
		t.Errorf("expected neutral zero score, got %+v", b)
	}
}

func TestParseScoreMode(t *testing.T) {
	for _, s := range []string{"return", "Returns", " normalized ", "leverage_neutral"} {
		if got := ParseScoreMode(s); got != ScoreModeReturn {
			t.Errorf("ParseScoreMode(%q) = %s, want return", s, got)
		}
	}
	for _, s := range []string{"pnl", "", "sharpe"} {
		if got := ParseScoreMode(s); got != ScoreModePnL {
			t.Errorf("ParseScoreMode(%q) = %s, want pnl", s, got)
		}
	}
}

func TestFormatParseScore(t *testing.T) {
	if got := FormatScore(12.5); got != "12.50000000" {
		t.Errorf("FormatScore(12.5) = %q", got)
	}
	if got := FormatScore(math.Inf(-1)); got != "-inf" {
		t.Errorf("FormatScore(-Inf) = %q", got)
	}
	if got := FormatScore(math.Inf(1)); got != "inf" {
		t.Errorf("FormatScore(+Inf) = %q", got)
	}

	for _, s := range []string{"-inf", "nan", "NaN"} {
		v, err := ParseScore(s)
		if err != nil || !math.IsInf(v, -1) {
			t.Errorf("ParseScore(%q) = %v, %v; want -Inf", s, v, err)
		}
	}
	if v, err := ParseScore(" 3.25000000\n"); err != nil || v != 3.25 {
		t.Errorf("ParseScore = %v, %v; want 3.25", v, err)
	}
	if v, err := ParseScore("inf"); err != nil || !math.IsInf(v, 1) {
		t.Errorf("ParseScore(inf) = %v, %v", v, err)
	}
	if _, err := ParseScore("garbage"); err == nil {
		t.Error("expected error for malformed score")
	}
}

func TestSeries(t *testing.T) {
	a := makeAnalysis(10, -5, -20, 30)

	pnl := Series(a, ScoreModePnL, 0)
	if len(pnl) != 4 || pnl[0] != 10 || pnl[3] != 30 {
		t.Errorf("pnl series = %v", pnl)
	}
	ret := Series(a, ScoreModeReturn, 0)
	if math.Abs(ret[0]-100) > 1e-9 || math.Abs(ret[2]+200) > 1e-9 {
		t.Errorf("return series with default scale = %v", ret)
	}
	if got := Series(a, ScoreModeReturn, 10); math.Abs(got[1]+0.5) > 1e-9 {
		t.Errorf("return series with scale 10 = %v", got)
	}

	s := Summarize(pnl, a.HoldSeconds())
	if s.MaxConsecutiveLosses != 2 || s.WinRate != 0.5 || s.AvgHoldSecs != 60 {
		t.Errorf("summary of pnl series = %+v", s)
	}
}
