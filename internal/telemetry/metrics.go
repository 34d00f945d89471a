// Package telemetry exposes the Prometheus metrics tracked across the
// pipeline: packets processed, buffer pool hit/miss/direct-alloc
// counts, flows created/evicted, TCP/UDP sessions by state, reactor
// loop iteration latency, anomaly scores emitted by severity, and
// blocklist hits.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the daemon registers.
type Metrics struct {
	PacketsProcessed prometheus.Counter

	BufferPoolHits    prometheus.Counter
	BufferPoolMisses  prometheus.Counter
	BufferPoolDirects prometheus.Counter

	FlowsCreated prometheus.Counter
	FlowsEvicted prometheus.Counter

	TCPSessionsByState *prometheus.GaugeVec
	UDPSessionsActive  prometheus.Gauge

	ReactorLoopLatency prometheus.Histogram

	AnomalyScoresBySeverity *prometheus.CounterVec

	BlocklistHits prometheus.Counter
}

// New builds an unregistered Metrics instance.
func New() *Metrics {
	return &Metrics{
		PacketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netsentry_packets_processed_total",
			Help: "Total number of TCP/UDP packets dispatched by the Proxy Reactor.",
		}),
		BufferPoolHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netsentry_bufferpool_hits_total",
			Help: "Buffer Pool acquisitions satisfied from the free list.",
		}),
		BufferPoolMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netsentry_bufferpool_misses_total",
			Help: "Buffer Pool acquisitions that allocated a new buffer.",
		}),
		BufferPoolDirects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netsentry_bufferpool_direct_allocs_total",
			Help: "Buffer Pool acquisitions that bypassed the pool entirely (oversized request).",
		}),
		FlowsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netsentry_flows_created_total",
			Help: "Total number of Flow Table entries created.",
		}),
		FlowsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netsentry_flows_evicted_total",
			Help: "Total number of Flow Table entries evicted (closed or idle).",
		}),
		TCPSessionsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netsentry_tcp_sessions",
			Help: "Current number of TCP sessions, by state.",
		}, []string{"state"}),
		UDPSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netsentry_udp_sessions_active",
			Help: "Current number of active UDP sessions.",
		}),
		ReactorLoopLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netsentry_reactor_loop_seconds",
			Help:    "Wall-clock duration of one Proxy Reactor poll iteration.",
			Buckets: prometheus.DefBuckets,
		}),
		AnomalyScoresBySeverity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netsentry_anomaly_scores_total",
			Help: "Total number of anomaly ensemble verdicts, by severity.",
		}, []string{"severity"}),
		BlocklistHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netsentry_blocklist_hits_total",
			Help: "Total number of packets dropped because their flow's owner is blocklisted.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.PacketsProcessed.Describe(ch)
	m.BufferPoolHits.Describe(ch)
	m.BufferPoolMisses.Describe(ch)
	m.BufferPoolDirects.Describe(ch)
	m.FlowsCreated.Describe(ch)
	m.FlowsEvicted.Describe(ch)
	m.TCPSessionsByState.Describe(ch)
	m.UDPSessionsActive.Describe(ch)
	m.ReactorLoopLatency.Describe(ch)
	m.AnomalyScoresBySeverity.Describe(ch)
	m.BlocklistHits.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.PacketsProcessed.Collect(ch)
	m.BufferPoolHits.Collect(ch)
	m.BufferPoolMisses.Collect(ch)
	m.BufferPoolDirects.Collect(ch)
	m.FlowsCreated.Collect(ch)
	m.FlowsEvicted.Collect(ch)
	m.TCPSessionsByState.Collect(ch)
	m.UDPSessionsActive.Collect(ch)
	m.ReactorLoopLatency.Collect(ch)
	m.AnomalyScoresBySeverity.Collect(ch)
	m.BlocklistHits.Collect(ch)
}

// Register registers m with the default Prometheus registry.
func (m *Metrics) Register() {
	prometheus.MustRegister(m)
}

// RecordBufferPoolStats folds a bufpool.Stats snapshot into the
// buffer-pool counters. Counters are monotonic; callers must pass the
// delta since the last call, not the cumulative snapshot.
func (m *Metrics) RecordBufferPoolStats(hitsDelta, missesDelta, directsDelta uint64) {
	m.BufferPoolHits.Add(float64(hitsDelta))
	m.BufferPoolMisses.Add(float64(missesDelta))
	m.BufferPoolDirects.Add(float64(directsDelta))
}
