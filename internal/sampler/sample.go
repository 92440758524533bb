package sampler

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// Strategy selects how combinations are drawn when the grid exceeds the budget.
type Strategy string

const (
	// StrategyUniform is single-pass reservoir sampling.
	StrategyUniform Strategy = "uniform"
	// StrategyBalanced spreads picks evenly over each parameter's values.
	StrategyBalanced Strategy = "balanced"
)

// ParseStrategy maps a configured name onto a Strategy. "random" is an alias for
// uniform; unknown names fall back to uniform.
func ParseStrategy(s string) Strategy {
	if strings.ToLower(strings.TrimSpace(s)) == string(StrategyBalanced) {
		return StrategyBalanced
	}
	return StrategyUniform
}

// NewRand returns an explicitly owned generator. A nil seed draws one from the
// clock; the seed actually used is returned so callers can log it.
func NewRand(seed *int64) (*rand.Rand, int64) {
	s := time.Now().UnixNano()
	if seed != nil {
		s = *seed
	}
	return rand.New(rand.NewSource(s)), s
}

// Valid reports whether a combination is internally consistent:
// short lookback below long lookback, and entry thresholds ordered min ≤ base ≤ max.
// A missing or non-numeric value leaves its constraint unchecked.
func Valid(p domain.ParameterSet) bool {
	short, okShort := p.Float("PAIR_SELECTION_LOOKBACK_HOURS_SHORT")
	long, okLong := p.Float("PAIR_SELECTION_LOOKBACK_HOURS_LONG")
	if okShort && okLong && short >= long {
		return false
	}

	base, okBase := p.Float("ENTRY_Z_SCORE_BASE")
	lo, okMin := p.Float("ENTRY_Z_SCORE_MIN")
	hi, okMax := p.Float("ENTRY_Z_SCORE_MAX")
	if okMin && okMax && lo > hi {
		return false
	}
	if okBase {
		if okMin && base < lo {
			return false
		}
		if okMax && base > hi {
			return false
		}
	}
	return true
}

// Each enumerates valid combinations in cartesian order, last name varying fastest.
// With a non-nil shuffle generator each value list is shuffled first.
// Enumeration stops when fn returns false.
func Each(g *Grid, shuffle *rand.Rand, fn func(domain.ParameterSet) bool) {
	names := g.Names()
	if len(names) == 0 {
		return
	}
	lists := make([][]string, len(names))
	for i, name := range names {
		lists[i] = g.Values(name)
		if len(lists[i]) == 0 {
			return
		}
		if shuffle != nil {
			vals := lists[i]
			shuffle.Shuffle(len(vals), func(a, b int) { vals[a], vals[b] = vals[b], vals[a] })
		}
	}

	idx := make([]int, len(names))
	for {
		p := make(domain.ParameterSet, len(names))
		for i, name := range names {
			p[name] = lists[i][idx[i]]
		}
		if Valid(p) && !fn(p) {
			return
		}

		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(lists[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return
		}
	}
}

// All returns every valid combination.
func All(g *Grid) []domain.ParameterSet {
	var out []domain.ParameterSet
	Each(g, nil, func(p domain.ParameterSet) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Sample draws up to budget valid combinations and reports how many valid
// combinations exist. A non-positive budget returns all of them.
// Identical (grid, rng seed, strategy) reproduce identical output.
func Sample(g *Grid, budget int, strategy Strategy, rng *rand.Rand) ([]domain.ParameterSet, int) {
	if budget <= 0 {
		all := All(g)
		return all, len(all)
	}
	if strategy == StrategyBalanced {
		return sampleBalanced(g, budget, rng)
	}
	return sampleUniform(g, budget, rng)
}

func sampleUniform(g *Grid, budget int, rng *rand.Rand) ([]domain.ParameterSet, int) {
	total := 0
	selected := make([]domain.ParameterSet, 0, budget)
	Each(g, nil, func(p domain.ParameterSet) bool {
		total++
		if len(selected) < budget {
			selected = append(selected, p)
			return true
		}
		if j := rng.Intn(total); j < budget {
			selected[j] = p
		}
		return true
	})
	return selected, total
}

func sampleBalanced(g *Grid, budget int, rng *rand.Rand) ([]domain.ParameterSet, int) {
	names := g.Names()
	target := make(map[string]float64, len(names))
	counts := make(map[string]map[string]int, len(names))
	for _, name := range names {
		vals := g.Values(name)
		target[name] = float64(budget) / float64(max(1, len(vals)))
		counts[name] = make(map[string]int, len(vals))
	}

	total := 0
	selected := make([]domain.ParameterSet, 0, budget)
	selectedKeys := make(map[string]bool, budget)
	fallback := make([]domain.ParameterSet, 0, budget)

	Each(g, rng, func(p domain.ParameterSet) bool {
		total++
		key := p.Key()

		if len(fallback) < budget {
			fallback = append(fallback, p)
		} else if j := rng.Intn(total); j < budget {
			fallback[j] = p
		}

		if selectedKeys[key] || len(selected) >= budget {
			return true
		}
		take := false
		for _, name := range names {
			if float64(counts[name][p[name]]) < target[name] {
				take = true
				break
			}
		}
		if !take {
			return true
		}
		selected = append(selected, p)
		selectedKeys[key] = true
		for _, name := range names {
			counts[name][p[name]]++
		}
		return true
	})

	for _, p := range fallback {
		if len(selected) >= budget {
			break
		}
		if key := p.Key(); !selectedKeys[key] {
			selected = append(selected, p)
			selectedKeys[key] = true
		}
	}
	return selected, total
}

// ParseSeed parses an optional seed string; empty or malformed yields nil.
func ParseSeed(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
