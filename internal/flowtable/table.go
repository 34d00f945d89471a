package flowtable

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"netsentry/internal/codec"
	"netsentry/internal/ports"
	"netsentry/internal/telemetry"
	"netsentry/internal/tlssni"
)

// DefaultIdleThreshold is the default staleness window past which an
// otherwise-open flow is evicted.
const DefaultIdleThreshold = 30 * time.Second

// DefaultEvictBatchSize bounds how many evicted flows are handed to the
// persistence sink in one WriteFlows call.
const DefaultEvictBatchSize = 50

// Table is the concurrent FlowKey -> Flow map. Creation is atomic
// across concurrent callers; once created, a Flow is mutated only by
// whichever single task calls Process for it (the TUN read loop and
// the Proxy Reactor, both serialized upstream of this package).
type Table struct {
	mu    sync.Mutex
	flows map[FlowKey]*Flow

	owner    ports.OwnerResolver
	names    ports.AppNameResolver
	sink     ports.PersistenceSink
	idleFor  time.Duration
	batch    int
	log      *log.Entry

	onEvict func(*Flow)
	metrics *telemetry.Metrics
}

// SetMetrics wires m into the table's creation/eviction counters. Safe
// to call once before any Process call; nil leaves telemetry disabled.
func (t *Table) SetMetrics(m *telemetry.Metrics) {
	t.metrics = m
}

// NewTable creates an empty Flow Table wired to the given OS ownership
// resolver, app-name resolver and persistence sink.
func NewTable(owner ports.OwnerResolver, names ports.AppNameResolver, sink ports.PersistenceSink) *Table {
	return &Table{
		flows:   make(map[FlowKey]*Flow),
		owner:   owner,
		names:   names,
		sink:    sink,
		idleFor: DefaultIdleThreshold,
		batch:   DefaultEvictBatchSize,
		log:     log.WithField("component", "flowtable"),
	}
}

// getOrCreate returns the Flow for key, creating and registering one
// if absent. created reports whether this call performed the creation.
func (t *Table) getOrCreate(key FlowKey, now time.Time) (flow *Flow, created bool) {
	t.mu.Lock()
	f, ok := t.flows[key]
	if !ok {
		f = NewFlow(key, now)
		t.flows[key] = f
	}
	t.mu.Unlock()

	if !ok {
		t.resolveOwner(f)
		if t.metrics != nil {
			t.metrics.FlowsCreated.Inc()
		}
	}
	return f, !ok
}

func (t *Table) resolveOwner(f *Flow) {
	if t.owner == nil {
		return
	}
	uid := t.owner.UIDFor(f.Key.Protocol, f.Key.LocalAddrPort(), f.Key.RemoteAddrPort())
	f.recordOwnerAttempt(uid)
	if uid >= 0 && t.names != nil {
		if name, ok := t.names.PackageName(uid); ok {
			f.AppName = name
		}
	}
}

// Process folds one packet into its flow's accounting, creating the
// flow if this is the first packet on the key. inbound marks a
// guest-originated packet (bytesIn); outbound marks a constructed
// response packet about to be written back to the guest (bytesOut).
// SNI extraction is retried on every packet until a hostname is set,
// and payload bytes are captured up to the per-flow cap.
func (t *Table) Process(pkt *codec.Packet, inbound bool, now time.Time) *Flow {
	key := KeyFor(pkt)
	f, created := t.getOrCreate(key, now)

	f.observe(now, pkt.TotalLen, inbound)
	f.capturePayload(pkt.Payload())

	if f.SNI == "" && pkt.Protocol == codec.ProtoTCP {
		if host, ok := tlssni.Extract(pkt.Payload()); ok {
			f.SNI = host
		}
	}

	if !created && f.OwnerUnresolved() {
		t.resolveOwner(f)
	}

	return f
}

// SetIdleThreshold overrides the default staleness window used by
// CleanupStale, per spec.md §6's "Flow eviction idle threshold" knob.
func (t *Table) SetIdleThreshold(d time.Duration) {
	t.idleFor = d
}

// OnEvict registers fn to run once per flow, right before it is handed
// to the persistence sink, for every eviction from CleanupStale or
// FlushAll. Wired by the VPN Orchestrator to the App Profile Store
// update and the Anomaly Ensemble, per "Flow Table eviction ->
// persistence sink + App Profile Store update -> Anomaly Ensemble ->
// alert sink".
func (t *Table) OnEvict(fn func(*Flow)) {
	t.onEvict = fn
}

// MarkClosed flags key's flow (if present) as closed, making it
// eligible for the next cleanupStale sweep regardless of idle time.
func (t *Table) MarkClosed(key FlowKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.flows[key]; ok {
		f.Closed = true
	}
}

// CleanupStale evicts every flow that is closed or has been idle
// longer than the configured threshold, handing evictions to the
// persistence sink in batches of t.batch.
func (t *Table) CleanupStale(ctx context.Context, now time.Time) {
	var stale []*Flow
	t.mu.Lock()
	for key, f := range t.flows {
		if f.Closed || now.Sub(f.LastUpdated) > t.idleFor {
			stale = append(stale, f)
			delete(t.flows, key)
		}
	}
	t.mu.Unlock()

	if len(stale) == 0 {
		return
	}
	t.flushBatches(ctx, stale)
}

// FlushAll atomically removes every live flow, attempts one final
// owner-name resolution per flow, and hands the full set to the
// persistence sink. Called exactly once, on shutdown, and the caller
// must wait for it to complete before tearing down the process.
func (t *Table) FlushAll(ctx context.Context) {
	t.mu.Lock()
	all := make([]*Flow, 0, len(t.flows))
	for key, f := range t.flows {
		all = append(all, f)
		delete(t.flows, key)
	}
	t.mu.Unlock()

	for _, f := range all {
		if f.AppName == "" && f.AppUID >= 0 && t.names != nil {
			if name, ok := t.names.PackageName(f.AppUID); ok {
				f.AppName = name
			}
		}
	}
	t.flushBatches(ctx, all)
}

func (t *Table) flushBatches(ctx context.Context, flows []*Flow) {
	if t.onEvict != nil {
		for _, f := range flows {
			t.onEvict(f)
		}
	}
	if t.metrics != nil {
		t.metrics.FlowsEvicted.Add(float64(len(flows)))
	}

	for start := 0; start < len(flows); start += t.batch {
		end := start + t.batch
		if end > len(flows) {
			end = len(flows)
		}
		rows := make([]ports.FlowRecord, 0, end-start)
		for _, f := range flows[start:end] {
			rows = append(rows, toRecord(f))
		}
		if t.sink == nil {
			continue
		}
		if err := t.sink.WriteFlows(ctx, rows); err != nil {
			t.log.WithError(err).Warn("flow batch persistence failed")
		}
	}
}

func toRecord(f *Flow) ports.FlowRecord {
	return ports.FlowRecord{
		ID:             f.ID,
		StartTimestamp: f.StartTime,
		AppUID:         f.AppUID,
		AppName:        f.AppName,
		RemoteIP:       netip.AddrFrom4(f.Key.DstIP),
		RemotePort:     f.Key.DstPort,
		Protocol:       f.Key.Protocol,
		Bytes:          f.Bytes,
		Packets:        f.Packets,
		DurationMs:     f.DurationMs(),
		SNI:            f.SNI,
		PayloadHex:     f.PayloadHex,
		PayloadText:    f.PayloadText,
	}
}

// Snapshot returns an immutable, point-in-time copy of every live
// flow sorted by LastUpdated descending, for the UI boundary's 500ms
// publisher.
func (t *Table) Snapshot() []Flow {
	t.mu.Lock()
	out := make([]Flow, 0, len(t.flows))
	for _, f := range t.flows {
		out = append(out, *f)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out
}

// AccountOutbound folds a constructed response packet's size into the
// bytesOut counter of key's existing flow, if any. Used by the Proxy
// Reactor for backend-to-guest traffic, which is never re-run through
// getOrCreate since the flow must already exist (created by the
// guest-originated packet that started the session).
func (t *Table) AccountOutbound(key FlowKey, totalLen int, now time.Time) {
	t.mu.Lock()
	f, ok := t.flows[key]
	t.mu.Unlock()
	if !ok {
		return
	}
	f.observe(now, totalLen, false)
}

// Lookup returns the live Flow for key without creating one, for
// read-only consultation (e.g. the Proxy Reactor's blocklist check by
// owner UID).
func (t *Table) Lookup(key FlowKey) (*Flow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.flows[key]
	return f, ok
}

// Len reports the current number of live flows.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}
