package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netsentry/internal/codec"
	"netsentry/internal/flowtable"
	"netsentry/internal/profile"
)

func newTestFlow(start time.Time) *flowtable.Flow {
	key := flowtable.FlowKey{
		Protocol: codec.ProtoTCP,
		SrcIP:    [4]byte{10, 0, 0, 2},
		SrcPort:  51000,
		DstIP:    [4]byte{93, 184, 216, 34},
		DstPort:  443,
	}
	f := flowtable.NewFlow(key, start)
	f.StartTime = start
	f.LastUpdated = start
	return f
}

func TestTemporalScorer_NoSignalWhenNothingUnusual(t *testing.T) {
	now := time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC)
	p := profile.New(100, "com.example.app", now)
	for i := 0; i < 60; i++ {
		p.HourHistogram.Record(14)
	}
	p.ActiveDaysOfWeek = 1 << uint8(now.Weekday())

	s := TemporalScorer{}
	f := newTestFlow(now)
	res := s.Score(f, p)
	require.Less(t, res.Score, 0.3)
}

func TestTemporalScorer_UnusualHourFlagged(t *testing.T) {
	now := time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC)
	p := profile.New(100, "com.example.app", now)
	for h := 0; h < 24; h++ {
		if h == 3 {
			continue
		}
		for i := 0; i < 10; i++ {
			p.HourHistogram.Record(h)
		}
	}

	s := TemporalScorer{}
	f := newTestFlow(now)
	res := s.Score(f, p)
	require.Greater(t, res.Score, 0.5)
}

func TestTemporalScorer_UnseenDayOfWeekWithHistory(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	p := profile.New(100, "com.example.app", now)
	p.FlowCount = 1000
	p.ActiveDaysOfWeek = 0 // never active on any day

	s := TemporalScorer{}
	f := newTestFlow(now)
	res := s.Score(f, p)
	require.Contains(t, res.Reasons, "first activity observed on this day of week")
}

func TestTemporalScorer_RegularBeaconingFlagged(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	p := profile.New(100, "com.example.app", now)
	for i := 0; i < 30; i++ {
		p.InterFlowInterval.Update(5000)
	}

	s := TemporalScorer{}
	f := newTestFlow(now)
	res := s.Score(f, p)
	require.Contains(t, res.Reasons, "regular beaconing interval")
}
