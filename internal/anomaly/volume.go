package anomaly

import (
	"math"

	"netsentry/internal/flowtable"
	"netsentry/internal/profile"
)

// minVolumeBaseline is the minimum typicalIn+typicalOut for the
// volume scorer to have anything meaningful to compare against.
const minVolumeBaseline = 100.0

const smallPacketFloodMinPackets = 50
const smallPacketFloodMaxAvgSize = 100.0

const uploadShiftMinBytesOut = 10 * 1024

// VolumeScorer flags flows whose byte volume, upload/download balance,
// duration, or packet-size profile deviates sharply from the app's
// learned baseline.
type VolumeScorer struct{}

// Score implements Scorer.
func (VolumeScorer) Score(f *flowtable.Flow, p *profile.AppProfile) Result {
	typicalIn := p.BytesInEMA.Value
	typicalOut := p.BytesOutEMA.Value
	typical := typicalIn + typicalOut
	if typical <= minVolumeBaseline {
		return Result{Confidence: p.Confidence()}
	}

	var factors []float64
	var reasons []string

	total := float64(f.BytesIn + f.BytesOut)
	r := total / typical
	var volumeFactor float64
	switch {
	case r > 20:
		volumeFactor = 1.0
	case r > 10:
		volumeFactor = 0.8
	case r > 5:
		volumeFactor = 0.5
	}
	factors = append(factors, volumeFactor)
	if volumeFactor > 0 {
		reasons = append(reasons, "total byte volume far exceeds baseline")
	}

	if total > 0 {
		uploadRatio := float64(f.BytesOut) / total
		typicalRatio := 0.0
		if typical > 0 {
			typicalRatio = typicalOut / typical
		}
		diff := uploadRatio - typicalRatio
		switch {
		case diff > 0.4 && f.BytesOut > uploadShiftMinBytesOut:
			factors = append(factors, 0.7)
			reasons = append(reasons, "upload ratio shifted sharply above baseline")
		case diff > 0.2:
			factors = append(factors, 0.3)
			reasons = append(reasons, "upload ratio shifted above baseline")
		}
	}

	if p.DurationStats.IsStable() {
		z := p.DurationStats.ZScore(float64(f.DurationMs()))
		az := math.Abs(z)
		switch {
		case az > 4:
			factors = append(factors, 0.6)
			reasons = append(reasons, "flow duration far outside baseline")
		case az > 3:
			factors = append(factors, 0.3)
			reasons = append(reasons, "flow duration outside baseline")
		}
	}

	if f.Packets > smallPacketFloodMinPackets {
		avgSize := float64(f.Bytes) / float64(f.Packets)
		if avgSize < smallPacketFloodMaxAvgSize {
			factors = append(factors, 0.5)
			reasons = append(reasons, "small-packet flood pattern")
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
