package metrics

import (
	"math"
	"sort"
)

// Summary holds diagnostic statistics for one ordered trade series.
type Summary struct {
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64

	Mean   float64
	Median float64
	P10    float64
	P90    float64
	Min    float64
	Max    float64
	Stddev float64

	MaxDrawdown          float64
	MaxConsecutiveLosses int
	Sharpe               float64
	AvgHoldSecs          float64
}

// Summarize computes diagnostics for a series in close order.
// holds may be shorter than series; missing holds count as zero.
func Summarize(series, holds []float64) Summary {
	n := len(series)
	if n == 0 {
		return Summary{}
	}

	wins := 0
	for _, v := range series {
		if v > 0 {
			wins++
		}
	}

	sorted := make([]float64, n)
	copy(sorted, series)
	sort.Float64s(sorted)

	mean := computeMean(series)
	return Summary{
		TotalTrades: n,
		Wins:        wins,
		Losses:      n - wins,
		WinRate:     computeWinRate(wins, n),

		Mean:   mean,
		Median: computePercentile(sorted, 0.50),
		P10:    computePercentile(sorted, 0.10),
		P90:    computePercentile(sorted, 0.90),
		Min:    sorted[0],
		Max:    sorted[n-1],
		Stddev: computeStddev(series, mean),

		MaxDrawdown:          MaxDrawdown(series),
		MaxConsecutiveLosses: computeMaxConsecutiveLosses(series),
		Sharpe:               Sharpe(series),
		AvgHoldSecs:          averageHold(holds),
	}
}

// MaxDrawdown is the worst peak-to-trough drop of the cumulative sum.
// The peak starts at 0, so an initial loss counts as drawdown.
// Series must be in chronological order.
func MaxDrawdown(series []float64) float64 {
	cumulative := 0.0
	peak := 0.0
	maxDrawdown := 0.0

	for _, v := range series {
		cumulative += v
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// Sharpe returns mean/stddev·√n using the sample stddev.
// Returns 0 when n < 2 or the variance is not positive.
func Sharpe(series []float64) float64 {
	n := len(series)
	if n < 2 {
		return 0
	}
	mean := computeMean(series)
	stddev := computeStddev(series, mean)
	if stddev <= 0 || math.IsNaN(stddev) {
		return 0
	}
	return mean / stddev * math.Sqrt(float64(n))
}

// CVaR returns the mean of the worst max(1, ⌈n·p⌉) values, clamped to ≤ 0.
// A positive tail mean means there is no downside tail and reports 0.
func CVaR(series []float64, p float64) float64 {
	n := len(series)
	if n == 0 || p <= 0 {
		return 0
	}
	k := int(math.Ceil(float64(n) * p))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	sorted := make([]float64, n)
	copy(sorted, series)
	sort.Float64s(sorted)

	tail := computeMean(sorted[:k])
	if tail > 0 {
		return 0
	}
	return tail
}

func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile uses linear interpolation. sorted must be ascending.
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeMaxConsecutiveLosses finds the longest streak of values <= 0.
func computeMaxConsecutiveLosses(series []float64) int {
	maxStreak := 0
	currentStreak := 0

	for _, v := range series {
		if v <= 0 {
			currentStreak++
			if currentStreak > maxStreak {
				maxStreak = currentStreak
			}
		} else {
			currentStreak = 0
		}
	}
	return maxStreak
}

func averageHold(holds []float64) float64 {
	return computeMean(holds)
}
