package stats

import (
	"fmt"
	"strconv"
	"strings"
)

// hoursPerDay is the bucket count of HourlyHistogram.
const hoursPerDay = 24

// minHistogramSamples is the minimum total observation count below
// which UnusualScore refuses to judge an hour as unusual.
const minHistogramSamples = 10

// HourlyHistogram counts observations into 24 hour-of-day buckets,
// used by the app profile store to learn when an app is normally
// active and flag activity at an hour it has rarely or never used.
type HourlyHistogram struct {
	Counts [hoursPerDay]uint64
	Total  uint64
}

// NewHourlyHistogram creates an empty histogram.
func NewHourlyHistogram() *HourlyHistogram {
	return &HourlyHistogram{}
}

// Record adds one observation to the bucket for hour (0..23, taken
// mod 24 to tolerate out-of-range callers).
func (h *HourlyHistogram) Record(hour int) {
	hour = ((hour % hoursPerDay) + hoursPerDay) % hoursPerDay
	h.Counts[hour]++
	h.Total++
}

// UnusualScore rates how unusual activity at hour is relative to the
// app's learned daily rhythm, on a 0..1 scale. It returns 0 until at
// least minHistogramSamples observations have accumulated in total.
func (h *HourlyHistogram) UnusualScore(hour int) float64 {
	if h.Total < minHistogramSamples {
		return 0
	}
	hour = ((hour % hoursPerDay) + hoursPerDay) % hoursPerDay
	count := h.Counts[hour]
	avg := float64(h.Total) / float64(hoursPerDay)

	switch {
	case count == 0:
		return 1.0
	case float64(count) >= avg:
		return 0
	case float64(count) >= avg/2:
		return 0.3
	case float64(count) >= avg/4:
		return 0.6
	default:
		return 0.8
	}
}

// Serialize renders the histogram as "total|c0,c1,...,c23".
func (h *HourlyHistogram) Serialize() string {
	parts := make([]string, hoursPerDay)
	for i, c := range h.Counts {
		parts[i] = strconv.FormatUint(c, 10)
	}
	return fmt.Sprintf("%d|%s", h.Total, strings.Join(parts, ","))
}

// DeserializeHourlyHistogram parses the output of Serialize.
func DeserializeHourlyHistogram(s string) (*HourlyHistogram, error) {
	halves := strings.SplitN(s, "|", 2)
	if len(halves) != 2 {
		return nil, fmt.Errorf("stats: bad HourlyHistogram encoding %q", s)
	}
	total, err := strconv.ParseUint(halves[0], 10, 64)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(halves[1], ",")
	if len(parts) != hoursPerDay {
		return nil, fmt.Errorf("stats: expected %d buckets, got %d", hoursPerDay, len(parts))
	}
	h := &HourlyHistogram{Total: total}
	for i, p := range parts {
		c, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, err
		}
		h.Counts[i] = c
	}
	return h, nil
}
