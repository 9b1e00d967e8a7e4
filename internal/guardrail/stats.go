package guardrail

import (
	"math"
	"sort"
)

// Percentiles holds interpolated percentile values of the score list.
type Percentiles struct {
	P25 float64
	P50 float64
	P75 float64
	P90 float64
}

// ScoreStats summarizes the final ranked list's score distribution.
type ScoreStats struct {
	Mean        float64
	Max         float64
	Min         float64
	StdDev      float64
	Count       int
	Percentiles Percentiles
}

// computeScoreStats derives ScoreStats from a list of scores. Percentiles
// use linear interpolation over the sorted-ascending list.
func computeScoreStats(scores []float64) ScoreStats {
	if len(scores) == 0 {
		return ScoreStats{}
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	var sum float64
	max := sorted[len(sorted)-1]
	min := sorted[0]
	for _, s := range sorted {
		sum += s
	}
	mean := sum / float64(len(sorted))

	var variance float64
	for _, s := range sorted {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(sorted))
	stdDev := math.Sqrt(variance)

	return ScoreStats{
		Mean:   mean,
		Max:    max,
		Min:    min,
		StdDev: stdDev,
		Count:  len(sorted),
		Percentiles: Percentiles{
			P25: percentile(sorted, 0.25),
			P50: percentile(sorted, 0.50),
			P75: percentile(sorted, 0.75),
			P90: percentile(sorted, 0.90),
		},
	}
}

// percentile computes the p-th percentile (0<=p<=1) of a sorted-ascending
// slice by linear interpolation between the two nearest ranks.
func percentile(sortedAsc []float64, p float64) float64 {
	n := len(sortedAsc)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sortedAsc[0]
	}

	rank := p * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sortedAsc[lo]
	}
	frac := rank - float64(lo)
	return sortedAsc[lo] + frac*(sortedAsc[hi]-sortedAsc[lo])
}
