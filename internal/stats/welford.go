package stats

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// minStdDev is the floor below which zScore treats the distribution as
// degenerate and returns 0 rather than dividing by a near-zero spread.
const minStdDev = 1e-4

// stableSampleCount is the minimum observation count for RunningStats
// to be considered stable.
const stableSampleCount = 30

// RunningStats maintains Welford's online mean/variance accumulator.
type RunningStats struct {
	Count int64
	Mean  float64
	M2    float64
}

// Update folds a new observation into the running statistics.
func (r *RunningStats) Update(x float64) {
	r.Count++
	delta := x - r.Mean
	r.Mean += delta / float64(r.Count)
	r.M2 += delta * (x - r.Mean)
}

// Variance returns the population variance (M2/count), or 0 if no
// observations have been made.
func (r *RunningStats) Variance() float64 {
	if r.Count == 0 {
		return 0
	}
	return r.M2 / float64(r.Count)
}

// StdDev returns the population standard deviation.
func (r *RunningStats) StdDev() float64 {
	return math.Sqrt(r.Variance())
}

// ZScore returns (x-mean)/stdDev, or 0 when stdDev is too small to be
// meaningful (below minStdDev).
func (r *RunningStats) ZScore(x float64) float64 {
	sd := r.StdDev()
	if sd < minStdDev {
		return 0
	}
	return (x - r.Mean) / sd
}

// IsStable reports whether enough samples have accumulated for the
// mean/variance to be trustworthy (count >= 30).
func (r *RunningStats) IsStable() bool {
	return r.Count >= stableSampleCount
}

// Serialize renders the accumulator as "count,mean,m2".
func (r *RunningStats) Serialize() string {
	return fmt.Sprintf("%d,%s,%s",
		r.Count,
		strconv.FormatFloat(r.Mean, 'g', -1, 64),
		strconv.FormatFloat(r.M2, 'g', -1, 64))
}

// DeserializeRunningStats parses the output of Serialize.
func DeserializeRunningStats(s string) (*RunningStats, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("stats: bad RunningStats encoding %q", s)
	}
	count, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}
	mean, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, err
	}
	m2, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return nil, err
	}
	return &RunningStats{Count: count, Mean: mean, M2: m2}, nil
}
