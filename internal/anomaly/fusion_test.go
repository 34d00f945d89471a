package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netsentry/internal/feedback"
	"netsentry/internal/flowtable"
	"netsentry/internal/profile"
)

type fixedScorer struct {
	result Result
}

func (f fixedScorer) Score(*flowtable.Flow, *profile.AppProfile) Result { return f.result }

func TestEnsemble_NotReadyWhenConfidenceTooLow(t *testing.T) {
	e := &Ensemble{
		temporal:    fixedScorer{Result{Score: 1, Confidence: 0}},
		volume:      fixedScorer{Result{Score: 1, Confidence: 0}},
		destination: fixedScorer{Result{Score: 1, Confidence: 0}},
		weights:     defaultWeights,
		thresholds:  DefaultThresholds,
	}
	now := time.Now()
	p := profile.New(1, "com.example.app", now)
	f := newTestFlow(now)
	v := e.Evaluate(f, p, 1)
	require.False(t, v.Ready)
	require.Equal(t, SeverityNone, v.Severity)
}

func TestEnsemble_WeightedMeanFusesScores(t *testing.T) {
	e := &Ensemble{
		temporal:    fixedScorer{Result{Score: 0.2, Confidence: 1.0}},
		volume:      fixedScorer{Result{Score: 0.8, Confidence: 1.0}},
		destination: fixedScorer{Result{Score: 0.8, Confidence: 1.0}},
		weights:     defaultWeights,
		thresholds:  DefaultThresholds,
	}
	now := time.Now()
	p := profile.New(1, "com.example.app", now)
	f := newTestFlow(now)
	v := e.Evaluate(f, p, 1)
	require.True(t, v.Ready)
	require.InDelta(t, 0.65, v.Score, 0.01)
	require.Equal(t, SeverityMedium, v.Severity)
}

func TestEnsemble_FeedbackMultiplierRaisesScore(t *testing.T) {
	ledger := feedback.NewLedger(nil)
	ledger.Record(context.Background(), 7, "app", feedback.Record{Verdict: feedback.VerdictSuspicious, Timestamp: time.Now()})

	e := &Ensemble{
		temporal:    fixedScorer{Result{Score: 0.5, Confidence: 1.0}},
		volume:      fixedScorer{Result{Score: 0.5, Confidence: 1.0}},
		destination: fixedScorer{Result{Score: 0.5, Confidence: 1.0}},
		weights:     defaultWeights,
		thresholds:  DefaultThresholds,
		feedback:    ledger,
	}
	now := time.Now()
	p := profile.New(7, "com.example.app", now)
	f := newTestFlow(now)
	v := e.Evaluate(f, p, 7)
	require.InDelta(t, 0.6, v.Score, 0.01)
}

func TestEnsemble_FusedScoreClippedToOne(t *testing.T) {
	ledger := feedback.NewLedger(nil)
	for i := 0; i < 20; i++ {
		ledger.Record(context.Background(), 3, "app", feedback.Record{Verdict: feedback.VerdictSuspicious, Timestamp: time.Now()})
	}

	e := &Ensemble{
		temporal:    fixedScorer{Result{Score: 0.9, Confidence: 1.0}},
		volume:      fixedScorer{Result{Score: 0.9, Confidence: 1.0}},
		destination: fixedScorer{Result{Score: 0.9, Confidence: 1.0}},
		weights:     defaultWeights,
		thresholds:  DefaultThresholds,
		feedback:    ledger,
	}
	now := time.Now()
	p := profile.New(3, "com.example.app", now)
	f := newTestFlow(now)
	v := e.Evaluate(f, p, 3)
	require.Equal(t, 1.0, v.Score)
}
