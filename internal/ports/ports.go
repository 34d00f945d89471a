// Package ports defines the typed boundaries between the core pipeline
// and its external collaborators: TUN I/O, OS-level ownership lookup,
// app-name resolution, durable persistence and alert delivery. The
// core depends only on these interfaces; concrete adapters (a real TUN
// fd, a package manager query, a SQL sink) live outside this package.
package ports

import (
	"context"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// TunDevice is the minimal surface the VPN Orchestrator needs from a
// TUN file descriptor: a blocking byte stream of raw IP datagrams in
// both directions.
type TunDevice interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OwnerResolver maps a transport-layer 4-tuple to the local UID that
// owns the socket, per the platform's connection table. -1 means the
// owner is not yet resolvable (e.g. the kernel hasn't published the
// socket entry yet); the Flow Table retries up to 5 packets before
// giving up.
type OwnerResolver interface {
	UIDFor(proto uint8, local, remote netip.AddrPort) int32
}

// AppNameResolver maps a resolved UID to a human-readable application
// identity, when one can be determined.
type AppNameResolver interface {
	PackageName(uid int32) (string, bool)
}

// FlowRecord is one row of flow history, emitted in batches by the
// Flow Table on eviction or final flush.
type FlowRecord struct {
	ID              uuid.UUID
	StartTimestamp  time.Time
	AppUID          int32
	AppName         string
	RemoteIP        netip.Addr
	RemotePort      uint16
	Protocol        uint8
	Bytes           uint64
	Packets         uint64
	DurationMs      int64
	SNI             string
	PayloadHex      string
	PayloadText     string
}

// ProfileRecord is one row of the per-app behavioral profile store.
type ProfileRecord struct {
	AppUID            int32
	AppName           string
	FlowCount         uint64
	FirstSeen         time.Time
	LastUpdated       time.Time
	Maturity          string
	SerializedStats   map[string]string
}

// FeedbackRecord is one row of the append-only user-feedback ledger.
type FeedbackRecord struct {
	AppUID        int32
	AppName       string
	Verdict       string
	OriginalScore float64
	Destination   string
	Reasons       string
	Timestamp     time.Time
}

// PersistenceSink is the durable-storage boundary. Every method may
// block; callers must invoke it off the Proxy Reactor's hot path.
type PersistenceSink interface {
	WriteFlows(ctx context.Context, rows []FlowRecord) error
	WriteProfile(ctx context.Context, row ProfileRecord) error
	WriteFeedback(ctx context.Context, row FeedbackRecord) error
}

// Alert is the payload delivered to an AlertSink for every anomaly
// result that clears the NONE severity bucket.
type Alert struct {
	Severity  string
	AppName   string
	Reasons   []string
	Score     float64
	FlowKey   string
	Timestamp time.Time
}

// AlertSink delivers one alert per analyzed flow that scores above
// NONE. Implementations own their own rate-limiting; the core makes
// no attempt to deduplicate or throttle calls.
type AlertSink interface {
	Alert(ctx context.Context, a Alert)
}
