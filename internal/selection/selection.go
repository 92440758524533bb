// Package selection picks which scored parameter sets move on to the next
// stage: validation candidates after a train search, and per-window candidates
// in sweep mode.
package selection

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// DefaultDiversityKeys are the parameters compared when looking for diverse candidates.
var DefaultDiversityKeys = []string{
	"ENTRY_Z_SCORE_BASE",
	"EXIT_Z_SCORE",
	"STOP_LOSS_Z_SCORE",
	"FORCE_CLOSE_TIME_SECS",
	"HALF_LIFE_MAX_HOURS",
	"ADF_P_THRESHOLD",
}

// SelectValidation returns up to topK distinct best sets followed by up to
// diverseK sets whose diversity signature differs from every selected one.
// Falls back to the single best result when nothing was selected.
func SelectValidation(results []domain.EvaluationResult, topK, diverseK int, keys []string) []domain.ParameterSet {
	if len(results) == 0 {
		return nil
	}
	topK = max(0, topK)
	diverseK = max(0, diverseK)
	sorted := sortByScore(results)

	var selected []domain.ParameterSet
	selectedKeys := make(map[string]bool)
	signatures := make(map[string]bool)

	for _, r := range sorted {
		if len(selected) >= topK {
			break
		}
		k := r.Params.Key()
		if selectedKeys[k] {
			continue
		}
		selected = append(selected, r.Params)
		selectedKeys[k] = true
		signatures[signature(r.Params, keys, nil)] = true
	}

	if diverseK > 0 {
		for _, r := range sorted {
			if len(selected) >= topK+diverseK {
				break
			}
			k := r.Params.Key()
			if selectedKeys[k] {
				continue
			}
			sig := signature(r.Params, keys, nil)
			if signatures[sig] {
				continue
			}
			selected = append(selected, r.Params)
			selectedKeys[k] = true
			signatures[sig] = true
		}
	}

	if len(selected) == 0 {
		selected = append(selected, sorted[0].Params)
	}
	return selected
}

// SweepCriteria configures per-window candidate selection in sweep mode.
type SweepCriteria struct {
	TopK     int
	DiverseK int
	Keys     []string

	// PriorityKeys weigh 2 in the diversity score unless Weights overrides them.
	PriorityKeys []string
	Weights      map[string]float64

	// Distance buckets numeric values: two values in the same multiple of
	// Distance[key] count as equal.
	Distance map[string]float64

	MinScore float64
	Step     float64 // ≤ 0 drops straight to Floor
	Floor    float64
}

// SelectSweep selects a window's candidates. Only finite scores at or above
// the current floor qualify; the floor relaxes by Step down to Floor while
// nothing qualifies. The result carries the train score of each candidate.
func SelectSweep(results []domain.EvaluationResult, c SweepCriteria) []domain.EvaluationResult {
	if len(results) == 0 {
		return nil
	}
	topK := max(0, c.TopK)
	diverseK := max(0, c.DiverseK)

	filtered := clearing(results, c)
	if len(filtered) == 0 {
		// floor exhausted
		best, ok := bestFinite(results)
		if !ok {
			return nil
		}
		return []domain.EvaluationResult{best}
	}
	filtered = sortByScore(filtered)

	var selected []domain.EvaluationResult
	selectedKeys := make(map[string]bool)
	signatures := make(map[string]bool)
	seen := make(map[string]map[string]bool, len(c.Keys))
	for _, k := range c.Keys {
		seen[k] = make(map[string]bool)
	}

	take := func(r domain.EvaluationResult) {
		selected = append(selected, r)
		selectedKeys[r.Params.Key()] = true
		signatures[signature(r.Params, c.Keys, c.Distance)] = true
		for _, k := range c.Keys {
			seen[k][bucket(r.Params, k, c.Distance)] = true
		}
	}

	for _, r := range filtered {
		if len(selected) >= topK {
			break
		}
		if selectedKeys[r.Params.Key()] {
			continue
		}
		take(r)
	}

	if diverseK > 0 {
		type scored struct {
			diversity float64
			result    domain.EvaluationResult
		}
		var pool []scored
		for _, r := range filtered {
			if selectedKeys[r.Params.Key()] || signatures[signature(r.Params, c.Keys, c.Distance)] {
				continue
			}
			var d float64
			for _, k := range c.Keys {
				if seen[k][bucket(r.Params, k, c.Distance)] {
					continue
				}
				d += c.weight(k)
			}
			pool = append(pool, scored{diversity: d, result: r})
		}
		sort.SliceStable(pool, func(i, j int) bool {
			if pool[i].diversity != pool[j].diversity {
				return pool[i].diversity > pool[j].diversity
			}
			return pool[i].result.Score > pool[j].result.Score
		})
		for _, s := range pool {
			if len(selected) >= topK+diverseK {
				break
			}
			if selectedKeys[s.result.Params.Key()] {
				continue
			}
			take(s.result)
		}
	}

	if len(selected) == 0 {
		selected = append(selected, filtered[0])
	}
	return selected
}

// MergeSweepCandidates combines per-window candidates, keeping each distinct
// set once with its highest score, sorted by score descending and capped at
// finalMax (≤ 0 means no cap).
func MergeSweepCandidates(lists [][]domain.EvaluationResult, finalMax int) []domain.EvaluationResult {
	index := make(map[string]int)
	var merged []domain.EvaluationResult
	for _, list := range lists {
		for _, r := range list {
			k := r.Params.Key()
			if i, ok := index[k]; ok {
				if r.Score > merged[i].Score {
					merged[i] = r
				}
				continue
			}
			index[k] = len(merged)
			merged = append(merged, r)
		}
	}
	merged = sortByScore(merged)
	if finalMax > 0 && len(merged) > finalMax {
		merged = merged[:finalMax]
	}
	return merged
}

// Params strips scores off a result list.
func Params(results []domain.EvaluationResult) []domain.ParameterSet {
	out := make([]domain.ParameterSet, len(results))
	for i, r := range results {
		out[i] = r.Params
	}
	return out
}

// ParseKeys splits a comma separated key list; empty input yields def.
func ParseKeys(raw string, def []string) []string {
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	if len(keys) == 0 {
		return append([]string(nil), def...)
	}
	return keys
}

// ParseKeyFloats parses "KEY:1.5,OTHER:2". Malformed entries are skipped.
func ParseKeyFloats(raw string) map[string]float64 {
	out := make(map[string]float64)
	for _, part := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		out[name] = f
	}
	return out
}

func (c SweepCriteria) weight(key string) float64 {
	if w, ok := c.Weights[key]; ok {
		return w
	}
	for _, p := range c.PriorityKeys {
		if p == key {
			return 2
		}
	}
	return 1
}

func clearing(results []domain.EvaluationResult, c SweepCriteria) []domain.EvaluationResult {
	current := c.MinScore
	for {
		var out []domain.EvaluationResult
		for _, r := range results {
			if r.IsValid() && r.Score >= current {
				out = append(out, r)
			}
		}
		if len(out) > 0 || current <= c.Floor {
			return out
		}
		if c.Step > 0 {
			current -= c.Step
		} else {
			current = c.Floor
		}
		if current < c.Floor {
			current = c.Floor
		}
	}
}

func bestFinite(results []domain.EvaluationResult) (domain.EvaluationResult, bool) {
	best := -1
	for i, r := range results {
		if r.IsValid() && (best < 0 || r.Score > results[best].Score) {
			best = i
		}
	}
	if best < 0 {
		return domain.EvaluationResult{}, false
	}
	return results[best], true
}

// sortByScore returns a copy sorted by score descending, stable on ties.
// NaN sorts last.
func sortByScore(results []domain.EvaluationResult) []domain.EvaluationResult {
	out := append([]domain.EvaluationResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Score, out[j].Score
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		return a > b
	})
	return out
}

func signature(p domain.ParameterSet, keys []string, distance map[string]float64) string {
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(bucket(p, k, distance))
	}
	return sb.String()
}

// bucket maps a value onto its distance bucket; missing values map to a
// marker distinct from any real value.
func bucket(p domain.ParameterSet, key string, distance map[string]float64) string {
	raw, ok := p[key]
	if !ok {
		return "\x00"
	}
	d := distance[key]
	if d <= 0 {
		return raw
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	return strconv.FormatFloat(math.Floor(v/d)*d, 'g', -1, 64)
}
