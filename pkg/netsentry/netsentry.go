// Package netsentry provides a small public surface for reusing this
// repository as a library. The implementation lives in internal/ and
// may change without notice.
package netsentry

import (
	"netsentry/internal/anomaly"
	"netsentry/internal/blocklist"
	"netsentry/internal/config"
	"netsentry/internal/feedback"
	"netsentry/internal/flowtable"
	"netsentry/internal/ports"
	"netsentry/internal/profile"
	"netsentry/internal/vpn"
)

// --- Config ---

type Config = config.Config

// LoadConfig loads the YAML daemon configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// --- Flow Table ---

type FlowTable = flowtable.Table

// NewFlowTable builds an empty Flow Table wired to the given owner
// resolver, app-name resolver and persistence sink.
func NewFlowTable(owner ports.OwnerResolver, names ports.AppNameResolver, sink ports.PersistenceSink) *FlowTable {
	return flowtable.NewTable(owner, names, sink)
}

// --- Anomaly Ensemble ---

type Ensemble = anomaly.Ensemble
type Verdict = anomaly.Verdict
type Severity = anomaly.Severity
type Weights = anomaly.Weights
type Thresholds = anomaly.Thresholds

// NewEnsemble builds the Confidence-Weighted Anomaly Ensemble with the
// default scorers, weights and thresholds.
func NewEnsemble(ledger *FeedbackLedger) *Ensemble {
	return anomaly.NewEnsemble(ledger)
}

// --- Blocklist ---

type Blocklist = blocklist.Blocklist

// NewBlocklist builds a Blocklist backed by store.
func NewBlocklist(store blocklist.Store) *Blocklist {
	return blocklist.New(store)
}

// --- App Profile Store ---

type ProfileStore = profile.Store
type AppProfile = profile.AppProfile

// NewProfileStore builds an App Profile Store backed by sink.
func NewProfileStore(sink ports.PersistenceSink) *ProfileStore {
	return profile.NewStore(sink)
}

// --- Feedback Ledger ---

type FeedbackLedger = feedback.Ledger

// NewFeedbackLedger builds a Feedback Ledger backed by sink.
func NewFeedbackLedger(sink ports.PersistenceSink) *FeedbackLedger {
	return feedback.NewLedger(sink)
}

// --- VPN Orchestrator ---

type VPNConfig = vpn.Config
type Orchestrator = vpn.Orchestrator
type SnapshotPublisher = vpn.SnapshotPublisher

// NewOrchestrator builds the VPN Orchestrator composing every pipeline
// stage: TUN I/O, the Flow Table, the Proxy Reactor, the Blocklist,
// the App Profile Store, the Anomaly Ensemble and the Feedback Ledger.
func NewOrchestrator(cfg VPNConfig, flows *FlowTable, block *Blocklist, profiles *ProfileStore, ensemble *Ensemble, ledger *FeedbackLedger, alertSink ports.AlertSink, snapshot SnapshotPublisher) *Orchestrator {
	return vpn.New(cfg, flows, block, profiles, ensemble, ledger, alertSink, snapshot)
}
