// Package feedback implements the append-only user-feedback ledger
// and the per-app suspicion multiplier it drives in the anomaly
// ensemble's fusion step.
package feedback

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"netsentry/internal/ports"
)

// Verdict is the user's judgment on a flagged flow.
type Verdict string

const (
	VerdictNormal     Verdict = "normal"
	VerdictSuspicious Verdict = "suspicious"
)

const (
	suspiciousWeight = 0.20
	normalWeight     = -0.05

	minMultiplier = 0.3
	maxMultiplier = 3.0
)

// Record is one append-only feedback entry.
type Record struct {
	AppUID        int32
	Verdict       Verdict
	OriginalScore float64
	Destination   string
	Reasons       string
	Timestamp     time.Time
}

// Ledger accumulates per-app feedback and derives a suspicion
// multiplier from it. The ledger itself is never pruned; only the
// running multiplier per app is kept in memory.
type Ledger struct {
	mu         sync.Mutex
	multiplier map[int32]float64
	sink       ports.PersistenceSink
	log        *log.Entry
}

// NewLedger creates an empty feedback ledger backed by sink.
func NewLedger(sink ports.PersistenceSink) *Ledger {
	return &Ledger{
		multiplier: make(map[int32]float64),
		sink:       sink,
		log:        log.WithField("component", "feedback"),
	}
}

// Record appends a feedback entry for appName/appUID, updates that
// app's suspicion multiplier, and persists the entry.
func (l *Ledger) Record(ctx context.Context, appUID int32, appName string, r Record) {
	l.mu.Lock()
	weight := normalWeight
	if r.Verdict == VerdictSuspicious {
		weight = suspiciousWeight
	}
	m, ok := l.multiplier[appUID]
	if !ok {
		m = 1.0
	}
	m = clamp(m+weight, minMultiplier, maxMultiplier)
	l.multiplier[appUID] = m
	l.mu.Unlock()

	if l.sink == nil {
		return
	}
	row := ports.FeedbackRecord{
		AppUID:        appUID,
		AppName:       appName,
		Verdict:       string(r.Verdict),
		OriginalScore: r.OriginalScore,
		Destination:   r.Destination,
		Reasons:       r.Reasons,
		Timestamp:     r.Timestamp,
	}
	if err := l.sink.WriteFeedback(ctx, row); err != nil {
		l.log.WithError(err).WithField("app_uid", appUID).Warn("feedback persistence failed")
	}
}

// Multiplier returns the current suspicion multiplier for appUID,
// defaulting to 1.0 (neutral) for apps with no feedback history.
func (l *Ledger) Multiplier(appUID int32) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.multiplier[appUID]; ok {
		return m
	}
	return 1.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
