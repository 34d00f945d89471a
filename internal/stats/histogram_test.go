package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHourlyHistogram_BelowMinSamplesIsZero(t *testing.T) {
	h := NewHourlyHistogram()
	h.Record(3)
	require.Equal(t, 0.0, h.UnusualScore(3))
	require.Equal(t, 0.0, h.UnusualScore(14))
}

func TestHourlyHistogram_NeverSeenHourIsMaximallyUnusual(t *testing.T) {
	h := NewHourlyHistogram()
	for i := 0; i < 20; i++ {
		h.Record(9)
	}
	require.Equal(t, 1.0, h.UnusualScore(3))
}

func TestHourlyHistogram_AtOrAboveAverageIsNotUnusual(t *testing.T) {
	h := NewHourlyHistogram()
	for hour := 0; hour < 24; hour++ {
		for i := 0; i < 10; i++ {
			h.Record(hour)
		}
	}
	require.Equal(t, 0.0, h.UnusualScore(5))
}

func TestHourlyHistogram_EmptyHourAmongSkewedCounts(t *testing.T) {
	h := NewHourlyHistogram()
	for i := 0; i < 100; i++ {
		h.Record(9)
	}
	for i := 0; i < 40; i++ {
		h.Record(10) // still above the per-hour average of 140/24
	}

	score := h.UnusualScore(23)
	require.Equal(t, 1.0, score)
}

func TestHourlyHistogram_SerializeRoundTrip(t *testing.T) {
	h := NewHourlyHistogram()
	for i := 0; i < 5; i++ {
		h.Record(i)
	}
	s := h.Serialize()
	h2, err := DeserializeHourlyHistogram(s)
	require.NoError(t, err)
	require.Equal(t, h.Total, h2.Total)
	require.Equal(t, h.Counts, h2.Counts)
}

func TestHourlyHistogram_RecordNormalizesOutOfRangeHour(t *testing.T) {
	h := NewHourlyHistogram()
	h.Record(-1)
	require.Equal(t, uint64(1), h.Counts[23])
	h.Record(25)
	require.Equal(t, uint64(1), h.Counts[1])
}
