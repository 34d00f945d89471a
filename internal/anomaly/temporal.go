package anomaly

import (
	"fmt"

	"netsentry/internal/flowtable"
	"netsentry/internal/profile"
)

// beaconingMinSamples / beaconingMinMeanMs gate when the temporal
// scorer considers inter-flow timing regular enough to judge.
const (
	beaconingMinSamples = 20
	beaconingMinMeanMs  = 1000.0
)

const dayOfWeekFlowCountThreshold = 50

// TemporalScorer flags activity at an unusual hour, on a day the app
// has never been active, or with suspiciously regular beaconing
// intervals.
type TemporalScorer struct{}

// Score implements Scorer.
func (TemporalScorer) Score(f *flowtable.Flow, p *profile.AppProfile) Result {
	snap := p.Snapshot()
	var factors []float64
	var reasons []string

	hour := f.StartTime.Hour()
	if unusual := p.HourHistogram.UnusualScore(hour); true {
		factors = append(factors, unusual)
		if unusual > 0.5 {
			reasons = append(reasons, fmt.Sprintf("unusual hour-of-day activity (score %.2f)", unusual))
		}
	}

	dow := uint8(f.StartTime.Weekday())
	if snap.ActiveDaysOfWeek&(1<<dow) == 0 && snap.FlowCount > dayOfWeekFlowCountThreshold {
		factors = append(factors, 0.6)
		reasons = append(reasons, "first activity observed on this day of week")
	}

	if p.InterFlowInterval.Count > beaconingMinSamples && p.InterFlowInterval.Mean > beaconingMinMeanMs {
		stdDev := p.InterFlowInterval.StdDev()
		cv := stdDev / p.InterFlowInterval.Mean
		var beacon float64
		switch {
		case cv < 0.05:
			beacon = 0.9
		case cv < 0.10:
			beacon = 0.6
		}
		if beacon > 0 {
			factors = append(factors, beacon)
			reasons = append(reasons, "regular beaconing interval")
		}
	}

	if len(factors) == 0 {
		return Result{Confidence: p.Confidence()}
	}

	var sum float64
	for _, v := range factors {
		sum += v
	}
	return Result{
		Score:      clip01(sum / float64(len(factors))),
		Confidence: p.Confidence(),
		Reasons:    reasons,
	}
}
