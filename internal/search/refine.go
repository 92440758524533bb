package search

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/sampler"
)

// ForceCloseMaxSecs caps refined FORCE_CLOSE_TIME_SECS values.
const ForceCloseMaxSecs = 1800

// RefineOptions bounds stage-2 refinement.
type RefineOptions struct {
	ParamCount int // most important parameters to perturb
	SeedCount  int // top stage-1 results to refine around
	MaxRuns    int // 0 → max(1, stage1/3)
}

// Importance is how much a parameter moves the average score.
type Importance struct {
	Name      string
	Range     float64 // best average minus worst average across observed values
	BestValue string
}

// ScoreImportance ranks parameters by score spread across their values.
// Invalid results are skipped, as are parameters observed with a single value.
// Ties keep grid order.
func ScoreImportance(results []domain.EvaluationResult, grid *sampler.Grid) []Importance {
	type acc struct {
		sum   float64
		count int
	}
	byName := make(map[string]map[string]*acc)
	order := make(map[string][]string)
	for _, r := range results {
		if !r.IsValid() {
			continue
		}
		for name, value := range r.Params {
			vals, ok := byName[name]
			if !ok {
				vals = make(map[string]*acc)
				byName[name] = vals
			}
			a, ok := vals[value]
			if !ok {
				a = &acc{}
				vals[value] = a
				order[name] = append(order[name], value)
			}
			a.sum += r.Score
			a.count++
		}
	}

	var out []Importance
	for _, name := range grid.Names() {
		vals := byName[name]
		if len(vals) < 2 {
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		best := ""
		for _, value := range order[name] {
			avg := vals[value].sum / float64(vals[value].count)
			lo = math.Min(lo, avg)
			if avg > hi {
				hi = avg
				best = value
			}
		}
		out = append(out, Importance{Name: name, Range: hi - lo, BestValue: best})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Range > out[j].Range })
	return out
}

// RefinedParamSets builds stage-2 candidates: for each top seed, the product of
// neighbourhood values of the most important parameters, with every other
// parameter held at the seed's value. Sets already in results and sets that
// fail sampler.Valid are skipped.
func RefinedParamSets(results []domain.EvaluationResult, grid *sampler.Grid, opts RefineOptions) []domain.ParameterSet {
	importance := ScoreImportance(results, grid)
	if len(importance) == 0 {
		return nil
	}
	selected := make(map[string]bool)
	for i := 0; i < len(importance) && i < opts.ParamCount; i++ {
		selected[importance[i].Name] = true
	}

	seeds := make([]domain.EvaluationResult, len(results))
	copy(seeds, results)
	sort.SliceStable(seeds, func(i, j int) bool { return seeds[i].Score > seeds[j].Score })
	if len(seeds) > opts.SeedCount {
		seeds = seeds[:max(0, opts.SeedCount)]
	}

	seen := make(map[string]bool, len(results))
	for _, r := range results {
		seen[r.Params.Key()] = true
	}

	names := grid.Names()
	var out []domain.ParameterSet
	for _, seed := range seeds {
		lists := make([][]string, len(names))
		for i, name := range names {
			base := seed.Params[name]
			if selected[name] {
				lists[i] = RefinedValues(name, base, grid.Values(name))
			} else {
				lists[i] = []string{base}
			}
		}

		done := product(names, lists, func(p domain.ParameterSet) bool {
			if !sampler.Valid(p) {
				return true
			}
			key := p.Key()
			if seen[key] {
				return true
			}
			seen[key] = true
			out = append(out, p)
			return opts.MaxRuns <= 0 || len(out) < opts.MaxRuns
		})
		if !done {
			break
		}
	}
	return out
}

// product walks the cartesian product, last list fastest. Returns false if fn stopped it.
func product(names []string, lists [][]string, fn func(domain.ParameterSet) bool) bool {
	for _, l := range lists {
		if len(l) == 0 {
			return true
		}
	}
	idx := make([]int, len(lists))
	for {
		p := make(domain.ParameterSet, len(names))
		for i, name := range names {
			p[name] = lists[i][idx[i]]
		}
		if !fn(p) {
			return false
		}
		pos := len(idx) - 1
		for ; pos >= 0; pos-- {
			idx[pos]++
			if idx[pos] < len(lists[pos]) {
				break
			}
			idx[pos] = 0
		}
		if pos < 0 {
			return true
		}
	}
}

// RefinedValues returns base and its grid neighbours: ±step for integer
// parameters and ±step/2 otherwise, where step is the smallest gap in the
// numeric grid. Values must be positive and within the parameter's cap.
// Output is sorted numerically and deduplicated.
func RefinedValues(name, base string, gridValues []string) []string {
	isInt := sampler.IsIntParam(name)
	maxVal := math.Inf(1)
	hasMax := false
	if name == "FORCE_CLOSE_TIME_SECS" {
		maxVal = ForceCloseMaxSecs
		hasMax = true
	}

	normalize := func(v float64) float64 {
		if isInt {
			return roundHalfUp(v)
		}
		return v
	}
	format := func(v float64) string {
		if isInt {
			return strconv.FormatInt(int64(v), 10)
		}
		return FormatNumber(v)
	}
	inBounds := func(v float64) bool {
		return v > 0 && v <= maxVal
	}
	baseOnly := func() []string {
		if !isInt && !hasMax {
			return []string{base}
		}
		v, err := parseFloat(base)
		if err != nil {
			return nil
		}
		v = normalize(v)
		if !inBounds(v) {
			return nil
		}
		return []string{format(v)}
	}

	var numeric []float64
	for _, raw := range gridValues {
		v, err := parseFloat(raw)
		if err != nil {
			continue
		}
		v = normalize(v)
		if inBounds(v) {
			numeric = append(numeric, v)
		}
	}
	sort.Float64s(numeric)
	numeric = dedupeSorted(numeric)
	if len(numeric) < 2 {
		return baseOnly()
	}

	step := math.Inf(1)
	for i := 1; i < len(numeric); i++ {
		step = math.Min(step, numeric[i]-numeric[i-1])
	}

	b, err := parseFloat(base)
	if err != nil {
		return baseOnly()
	}
	b = normalize(b)
	if !inBounds(b) {
		return baseOnly()
	}

	delta := step / 2
	if isInt {
		delta = step
	}
	seen := make(map[string]bool, 3)
	type candidate struct {
		text string
		val  float64
	}
	var refined []candidate
	for _, v := range []float64{b - delta, b, b + delta} {
		if !inBounds(v) {
			continue
		}
		text := format(v)
		if seen[text] {
			continue
		}
		seen[text] = true
		parsed, _ := parseFloat(text)
		refined = append(refined, candidate{text: text, val: parsed})
	}
	sort.SliceStable(refined, func(i, j int) bool { return refined[i].val < refined[j].val })

	out := make([]string, len(refined))
	for i, c := range refined {
		out[i] = c.text
	}
	return out
}

// FormatNumber prints integral values without a decimal point and everything
// else with at most three decimals, trailing zeros trimmed.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && !math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	text := strconv.FormatFloat(v, 'f', 3, 64)
	text = strings.TrimRight(text, "0")
	return strings.TrimRight(text, ".")
}

func roundHalfUp(v float64) float64 {
	if v >= 0 {
		return math.Floor(v + 0.5)
	}
	return math.Ceil(v - 0.5)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func dedupeSorted(vals []float64) []float64 {
	if len(vals) == 0 {
		return vals
	}
	out := vals[:1]
	for _, v := range vals[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
