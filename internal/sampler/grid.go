// Package sampler enumerates and samples parameter grids under a budget.
package sampler

import (
	"slices"
)

// Grid maps parameter names to ordered candidate values. Name order is
// insertion order and determines enumeration order.
type Grid struct {
	names  []string
	values map[string][]string
}

// NewGrid returns an empty grid.
func NewGrid() *Grid {
	return &Grid{values: make(map[string][]string)}
}

// Set replaces the values for name, dropping duplicates while keeping first-seen order.
// A new name is appended to the enumeration order.
func (g *Grid) Set(name string, values ...string) {
	if _, ok := g.values[name]; !ok {
		g.names = append(g.names, name)
	}
	uniq := make([]string, 0, len(values))
	for _, v := range values {
		if !slices.Contains(uniq, v) {
			uniq = append(uniq, v)
		}
	}
	g.values[name] = uniq
}

// Add appends values not already present for name.
func (g *Grid) Add(name string, values ...string) {
	g.Set(name, append(slices.Clone(g.values[name]), values...)...)
}

// Names returns parameter names in enumeration order.
func (g *Grid) Names() []string {
	return slices.Clone(g.names)
}

// Values returns the candidate values for name.
func (g *Grid) Values(name string) []string {
	return slices.Clone(g.values[name])
}

// Has reports whether name is part of the grid.
func (g *Grid) Has(name string) bool {
	_, ok := g.values[name]
	return ok
}

// Len returns the number of parameters.
func (g *Grid) Len() int {
	return len(g.names)
}

// Size returns the raw cartesian size before validity filtering.
func (g *Grid) Size() int {
	if len(g.names) == 0 {
		return 0
	}
	n := 1
	for _, name := range g.names {
		n *= len(g.values[name])
	}
	return n
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := NewGrid()
	for _, name := range g.names {
		c.Set(name, g.values[name]...)
	}
	return c
}

// DefaultGrid is the built-in search space for the pair-trading engine.
func DefaultGrid() *Grid {
	g := NewGrid()
	g.Set("ENTRY_Z_SCORE_BASE", "1.0", "1.3", "1.5")
	g.Set("ENTRY_Z_SCORE_MIN", "0.8", "1.0", "1.3")
	g.Set("ENTRY_Z_SCORE_MAX", "1.9")
	g.Set("EXIT_Z_SCORE", "0.5", "0.8", "1.0")
	g.Set("STOP_LOSS_Z_SCORE", "3.5", "5.0", "8.0")
	g.Set("MAX_LOSS_R_MULT", "1.5", "2.0", "3.0")
	g.Set("RISK_PCT_PER_TRADE", "0.005", "0.01", "0.02")
	g.Set("MAX_LEVERAGE", "5")
	g.Set("FORCE_CLOSE_TIME_SECS", "300", "600", "900", "1200", "1800")
	g.Set("PAIR_SELECTION_LOOKBACK_HOURS_SHORT", "1", "2", "4")
	g.Set("PAIR_SELECTION_LOOKBACK_HOURS_LONG", "6", "12")
	g.Set("ADF_P_THRESHOLD", "0.05", "0.1", "0.2", "0.3")
	g.Set("HALF_LIFE_MAX_HOURS", "0.75", "1.25", "2.0")
	g.Set("REEVAL_JUMP_Z_MULT", "1.1")
	g.Set("SPREAD_VELOCITY_MAX_SIGMA_PER_MIN", "0.08", "0.12", "0.15")
	g.Set("ENTRY_VOL_LOOKBACK_HOURS", "6")
	g.Set("WARM_START_MODE", "strict")
	g.Set("WARM_START_MIN_BARS", "60", "120")
	g.Set("SPREAD_TREND_MAX_SLOPE_SIGMA", "0.3", "0.5", "0.8", "1.0")
	g.Set("BETA_DIVERGENCE_MAX", "0.10", "0.15", "0.20", "0.30")
	g.Set("CIRCUIT_BREAKER_CONSECUTIVE_LOSSES", "3", "5")
	g.Set("CIRCUIT_BREAKER_COOLDOWN_SECS", "600", "1200", "1800")
	return g
}

var intParams = map[string]bool{
	"INTERVAL_SECS":                       true,
	"TRADING_PERIOD_SECS":                 true,
	"METRICS_WINDOW_LENGTH":               true,
	"FORCE_CLOSE_TIME_SECS":               true,
	"COOLDOWN_SECS":                       true,
	"PAIR_SELECTION_LOOKBACK_HOURS_SHORT": true,
	"PAIR_SELECTION_LOOKBACK_HOURS_LONG":  true,
	"ENTRY_VOL_LOOKBACK_HOURS":            true,
	"SLIPPAGE_BPS":                        true,
	"MAX_ACTIVE_PAIRS":                    true,
	"MAX_LEVERAGE":                        true,
	"WARM_START_MIN_BARS":                 true,
	"ORDER_TIMEOUT_SECS":                  true,
	"ENTRY_PARTIAL_FILL_MAX_RETRIES":      true,
	"STARTUP_FORCE_CLOSE_ATTEMPTS":        true,
	"STARTUP_FORCE_CLOSE_WAIT_SECS":       true,
	"CIRCUIT_BREAKER_CONSECUTIVE_LOSSES":  true,
	"CIRCUIT_BREAKER_COOLDOWN_SECS":       true,
}

var stringParams = map[string]bool{
	"WARM_START_MODE": true,
}

// IsIntParam reports whether the engine reads name as an integer.
func IsIntParam(name string) bool { return intParams[name] }

// IsStringParam reports whether name is categorical.
func IsStringParam(name string) bool { return stringParams[name] }
