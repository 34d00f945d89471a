package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netsentry/internal/profile"
)

func TestVolumeScorer_NoBaselineYieldsZero(t *testing.T) {
	now := time.Now()
	p := profile.New(1, "com.example.app", now)
	f := newTestFlow(now)
	f.BytesIn = 50
	f.BytesOut = 20

	s := VolumeScorer{}
	res := s.Score(f, p)
	require.Equal(t, 0.0, res.Score)
}

func TestVolumeScorer_LargeVolumeSpikeFlagged(t *testing.T) {
	now := time.Now()
	p := profile.New(1, "com.example.app", now)
	p.BytesInEMA.Update(500)
	p.BytesOutEMA.Update(500)

	f := newTestFlow(now)
	f.BytesIn = 15000
	f.BytesOut = 15000
	f.LastUpdated = now.Add(time.Second)

	s := VolumeScorer{}
	res := s.Score(f, p)
	require.Greater(t, res.Score, 0.8)
	require.Contains(t, res.Reasons, "total byte volume far exceeds baseline")
}

func TestVolumeScorer_UploadShiftFlagged(t *testing.T) {
	now := time.Now()
	p := profile.New(1, "com.example.app", now)
	p.BytesInEMA.Update(9000)
	p.BytesOutEMA.Update(1000)

	f := newTestFlow(now)
	f.BytesIn = 1000
	f.BytesOut = 20000
	f.LastUpdated = now.Add(time.Second)

	s := VolumeScorer{}
	res := s.Score(f, p)
	require.Contains(t, res.Reasons, "upload ratio shifted sharply above baseline")
}

func TestVolumeScorer_SmallPacketFlood(t *testing.T) {
	now := time.Now()
	p := profile.New(1, "com.example.app", now)
	p.BytesInEMA.Update(5000)
	p.BytesOutEMA.Update(5000)

	f := newTestFlow(now)
	f.Packets = 100
	f.Bytes = 4000
	f.BytesIn = 2000
	f.BytesOut = 2000
	f.LastUpdated = now.Add(time.Second)

	s := VolumeScorer{}
	res := s.Score(f, p)
	require.Contains(t, res.Reasons, "small-packet flood pattern")
}

func TestVolumeScorer_UnremarkableFlowScoresLow(t *testing.T) {
	now := time.Now()
	p := profile.New(1, "com.example.app", now)
	p.BytesInEMA.Update(1000)
	p.BytesOutEMA.Update(1000)
	for i := 0; i < 20; i++ {
		p.DurationStats.Update(500)
	}

	f := newTestFlow(now)
	f.BytesIn = 1000
	f.BytesOut = 1000
	f.LastUpdated = now.Add(500 * time.Millisecond)

	s := VolumeScorer{}
	res := s.Score(f, p)
	require.Equal(t, 0.0, res.Score)
}
