// Package profile implements the per-app behavioral profile: a
// streaming summary of an app's historical traffic shape, built from
// the Streaming Statistics Kit, that the anomaly ensemble scores new
// flows against.
package profile

import (
	"fmt"
	"math"
	"net/netip"
	"sync"
	"time"

	"netsentry/internal/codec"
	"netsentry/internal/flowtable"
	"netsentry/internal/stats"
)

// Maturity gates how much confidence the anomaly ensemble places in a
// profile's scorers.
type Maturity string

const (
	MaturityInfant   Maturity = "INFANT"
	MaturityLearning Maturity = "LEARNING"
	MaturityMature   Maturity = "MATURE"
)

const (
	learningFlowThreshold = 30
	matureFlowThreshold   = 200
)

// maxTrackedPorts bounds the destination-port frequency map; beyond
// this the least-frequent port is evicted to make room.
const maxTrackedPorts = 20

// destinationBloomCapacity / sniBloomCapacity size the two Bloom
// filters each profile tracks, per spec's named caps.
const (
	destinationBloomCapacity = 500
	sniBloomCapacity         = 200
	bloomFalsePositiveRate   = 0.01
)

// emaAlpha is the smoothing factor for bytesIn/bytesOut EMAs.
const emaAlpha = 0.1

// AppProfile is the streaming behavioral summary for one app UID,
// mutated once per analyzed flow under its own exclusive lock.
type AppProfile struct {
	mu sync.Mutex

	AppUID   int32
	AppName  string

	FlowCount   uint64
	FirstSeen   time.Time
	LastUpdated time.Time
	Maturity    Maturity

	HourHistogram     *stats.HourlyHistogram
	InterFlowInterval *stats.RunningStats
	ActiveDaysOfWeek  uint8 // bit 0 = Sunday

	BytesInEMA    *stats.EMA
	BytesOutEMA   *stats.EMA
	DurationStats *stats.RunningStats

	destinations           *stats.CountingBloom
	UniqueDestinationCount uint64
	sniBloom               *stats.CountingBloom

	PortFrequency map[uint16]uint64

	TCPFlowCount uint64
	UDPFlowCount uint64
	UsesTCP      bool
	UsesUDP      bool

	lastFlowStart time.Time
	Dirty         bool
}

// New creates an empty profile for uid/name, starting at INFANT
// maturity.
func New(uid int32, name string, now time.Time) *AppProfile {
	return &AppProfile{
		AppUID:            uid,
		AppName:           name,
		FirstSeen:         now,
		LastUpdated:       now,
		Maturity:          MaturityInfant,
		HourHistogram:     stats.NewHourlyHistogram(),
		InterFlowInterval: &stats.RunningStats{},
		BytesInEMA:        stats.NewEMA(emaAlpha),
		BytesOutEMA:       stats.NewEMA(emaAlpha),
		DurationStats:     &stats.RunningStats{},
		destinations:      stats.NewCountingBloom(destinationBloomCapacity, bloomFalsePositiveRate),
		sniBloom:          stats.NewCountingBloom(sniBloomCapacity, bloomFalsePositiveRate),
		PortFrequency:     make(map[uint16]uint64),
	}
}

// Update folds one analyzed flow into the profile. Must be called
// after the flow has been scored by the anomaly ensemble, never
// before, so the flow can't be used to justify its own score.
func (p *AppProfile) Update(f *flowtable.Flow, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := f.StartTime
	hour := start.Hour()
	dow := int(start.Weekday()) // time.Sunday == 0, matching bit 0 = Sunday

	p.HourHistogram.Record(hour)
	if !p.lastFlowStart.IsZero() {
		intervalMs := start.Sub(p.lastFlowStart).Seconds() * 1000
		p.InterFlowInterval.Update(intervalMs)
	}
	p.lastFlowStart = start

	p.BytesInEMA.Update(float64(f.BytesIn))
	p.BytesOutEMA.Update(float64(f.BytesOut))
	p.DurationStats.Update(float64(f.DurationMs()))

	destKey := destinationKey(f.Key.DstIP, f.Key.DstPort)
	if p.destinations.AddAndCheckNew([]byte(destKey)) {
		p.UniqueDestinationCount++
	}
	if f.SNI != "" {
		p.sniBloom.Add([]byte(f.SNI))
	}

	p.bumpPort(f.Key.DstPort)

	switch f.Key.Protocol {
	case codec.ProtoTCP:
		p.TCPFlowCount++
		p.UsesTCP = true
	case codec.ProtoUDP:
		p.UDPFlowCount++
		p.UsesUDP = true
	}

	p.FlowCount++
	p.recomputeMaturity()
	p.ActiveDaysOfWeek |= 1 << uint(dow)
	p.LastUpdated = now
	p.Dirty = true
}

func destinationKey(ip [4]byte, port uint16) string {
	return fmt.Sprintf("%s:%d", netip.AddrFrom4(ip), port)
}

func (p *AppProfile) bumpPort(port uint16) {
	p.PortFrequency[port]++
	if len(p.PortFrequency) <= maxTrackedPorts {
		return
	}
	var evictPort uint16
	minCount := uint64(math.MaxUint64)
	for pt, count := range p.PortFrequency {
		if count < minCount {
			minCount = count
			evictPort = pt
		}
	}
	delete(p.PortFrequency, evictPort)
}

func (p *AppProfile) recomputeMaturity() {
	switch {
	case p.FlowCount < learningFlowThreshold:
		p.Maturity = MaturityInfant
	case p.FlowCount < matureFlowThreshold:
		p.Maturity = MaturityLearning
	default:
		p.Maturity = MaturityMature
	}
}

// HasSeenDestination reports whether (ip,port) was previously observed
// (per the destinations Bloom filter, admitting false positives).
func (p *AppProfile) HasSeenDestination(ip [4]byte, port uint16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destinations.Test([]byte(destinationKey(ip, port)))
}

// HasSeenSNI reports whether sni was previously observed.
func (p *AppProfile) HasSeenSNI(sni string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sniBloom.Test([]byte(sni))
}

// TopPortCount returns the tracked count for port, and whether it is
// present in the bounded top-20 map at all.
func (p *AppProfile) TopPortCount(port uint16) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.PortFrequency[port]
	return c, ok
}

// Confidence maps the profile's maturity to the anomaly ensemble's
// confidence scale: 0 for INFANT, 0.5 for LEARNING, 1.0 for MATURE.
func (p *AppProfile) Confidence() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.Maturity {
	case MaturityLearning:
		return 0.5
	case MaturityMature:
		return 1.0
	default:
		return 0
	}
}

// Snapshot is a read-only, point-in-time view of a profile's scalar
// fields, safe to read without holding the profile's lock.
type Snapshot struct {
	AppUID                 int32
	AppName                string
	FlowCount              uint64
	FirstSeen              time.Time
	LastUpdated            time.Time
	Maturity               Maturity
	ActiveDaysOfWeek       uint8
	UniqueDestinationCount uint64
	TCPFlowCount           uint64
	UDPFlowCount           uint64
	UsesTCP                bool
	UsesUDP                bool
	Dirty                  bool
}

// Snapshot copies the profile's scalar fields under its lock.
func (p *AppProfile) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		AppUID:                 p.AppUID,
		AppName:                p.AppName,
		FlowCount:              p.FlowCount,
		FirstSeen:              p.FirstSeen,
		LastUpdated:            p.LastUpdated,
		Maturity:               p.Maturity,
		ActiveDaysOfWeek:       p.ActiveDaysOfWeek,
		UniqueDestinationCount: p.UniqueDestinationCount,
		TCPFlowCount:           p.TCPFlowCount,
		UDPFlowCount:           p.UDPFlowCount,
		UsesTCP:                p.UsesTCP,
		UsesUDP:                p.UsesUDP,
		Dirty:                  p.Dirty,
	}
}
