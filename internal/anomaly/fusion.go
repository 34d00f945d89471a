package anomaly

import (
	"netsentry/internal/feedback"
	"netsentry/internal/flowtable"
	"netsentry/internal/profile"
)

// defaultWeights are the base scorer weights before confidence
// weighting is applied. They need not sum to exactly 1; the fusion
// step renormalizes against the effective weight actually available.
var defaultWeights = Weights{Temporal: 0.25, Volume: 0.35, Destination: 0.40}

// minEffectiveWeight is the floor below which the ensemble has too
// little mature signal to judge a flow at all.
const minEffectiveWeight = 0.1

// Weights controls how much each scorer contributes to the fused
// score, before per-scorer confidence weighting.
type Weights struct {
	Temporal    float64
	Volume      float64
	Destination float64
}

// Verdict is the ensemble's fused judgment on one flow.
type Verdict struct {
	Score    float64
	Severity Severity
	Reasons  []string
	Ready    bool
}

// Ensemble fuses the temporal, volume and destination scorers into a
// single confidence-weighted severity judgment, then applies the
// per-app feedback multiplier learned from user verdicts.
type Ensemble struct {
	temporal    Scorer
	volume      Scorer
	destination Scorer
	weights     Weights
	thresholds  Thresholds
	feedback    *feedback.Ledger
}

// NewEnsemble builds an ensemble with the default scorers, weights and
// severity thresholds.
func NewEnsemble(ledger *feedback.Ledger) *Ensemble {
	return &Ensemble{
		temporal:    TemporalScorer{},
		volume:      VolumeScorer{},
		destination: DestinationScorer{},
		weights:     defaultWeights,
		thresholds:  DefaultThresholds,
		feedback:    ledger,
	}
}

// WithWeights overrides the default scorer weights.
func (e *Ensemble) WithWeights(w Weights) *Ensemble {
	e.weights = w
	return e
}

// WithThresholds overrides the default severity thresholds.
func (e *Ensemble) WithThresholds(t Thresholds) *Ensemble {
	e.thresholds = t
	return e
}

// Evaluate scores f against p's learned baseline and fuses the three
// scorers' verdicts, weighted by each scorer's own confidence and
// adjusted by appUID's feedback multiplier.
func (e *Ensemble) Evaluate(f *flowtable.Flow, p *profile.AppProfile, appUID int32) Verdict {
	tr := e.temporal.Score(f, p)
	vr := e.volume.Score(f, p)
	dr := e.destination.Score(f, p)

	type weighted struct {
		result Result
		weight float64
	}
	entries := []weighted{
		{tr, e.weights.Temporal},
		{vr, e.weights.Volume},
		{dr, e.weights.Destination},
	}

	var effectiveSum, weightedScoreSum float64
	var reasons []string
	for _, w := range entries {
		eff := w.weight * w.result.Confidence
		effectiveSum += eff
		weightedScoreSum += eff * w.result.Score
		reasons = append(reasons, w.result.Reasons...)
	}

	if effectiveSum < minEffectiveWeight {
		return Verdict{Severity: SeverityNone, Ready: false}
	}

	score := clip01(weightedScoreSum / effectiveSum)
	if e.feedback != nil {
		score = clip01(score * e.feedback.Multiplier(appUID))
	}

	return Verdict{
		Score:    score,
		Severity: severityFor(score, e.thresholds),
		Reasons:  reasons,
		Ready:    true,
	}
}
