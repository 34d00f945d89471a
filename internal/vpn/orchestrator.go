// Package vpn implements the VPN Orchestrator: it owns the TUN file
// descriptor, configures the interface, and pumps datagrams between
// the TUN device and the Proxy Reactor, exactly as spec.md's data flow
// describes: "TUN device -> Orchestrator reader -> Packet Codec ->
// Flow Table update + Proxy Reactor ingress queue. Proxy Reactor ->
// outbound socket; inbound socket data -> Packet Codec builder ->
// Orchestrator writer -> TUN device."
package vpn

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/songgao/water"

	"netsentry/internal/anomaly"
	"netsentry/internal/blocklist"
	"netsentry/internal/bufpool"
	"netsentry/internal/codec"
	"netsentry/internal/feedback"
	"netsentry/internal/flowtable"
	"netsentry/internal/ports"
	"netsentry/internal/profile"
	"netsentry/internal/reactor"
	"netsentry/internal/telemetry"
)

// sweepInterval is how often idle/closed flows are evicted from the
// Flow Table.
const sweepInterval = 10 * time.Second

// snapshotInterval is how often the live Flow Table is published, per
// spec.md's 500ms UI-refresh cadence.
const snapshotInterval = 500 * time.Millisecond

// tunReadBufferSize is the per-read buffer size requested from the
// Buffer Pool for TUN reads; IPv4 datagrams never exceed this on a
// standard-MTU interface.
const tunReadBufferSize = 8192

// Config holds everything the Orchestrator needs to configure and own
// a TUN interface.
type Config struct {
	Device   string // TUN interface name, e.g. "tun0"
	Address  string // CIDR to assign the interface, e.g. "10.0.0.2/32"
	MTU      int
	OutIface string // physical interface default routes should continue to use
	Mark     uint32 // fwmark applied to backend sockets and excluded from the TUN route
}

// SnapshotPublisher receives a point-in-time copy of the live Flow
// Table on every snapshot tick, for a UI or monitoring boundary.
type SnapshotPublisher interface {
	Publish(flows []flowtable.Flow)
}

// Orchestrator owns the TUN fd and the Proxy Reactor built on top of
// it, and wires Flow Table eviction into the App Profile Store update
// and Anomaly Ensemble evaluation, per spec.md's data-flow diagram.
type Orchestrator struct {
	cfg Config

	tun   ports.TunDevice
	flows *flowtable.Table
	rx    *reactor.Reactor

	profiles  *profile.Store
	ensemble  *anomaly.Ensemble
	feedback  *feedback.Ledger
	alertSink ports.AlertSink
	snapshot  SnapshotPublisher

	pool          *bufpool.Pool
	metrics       *telemetry.Metrics
	lastPoolStats bufpool.Stats

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	log *log.Entry
}

// New builds an Orchestrator. flows, block, profiles and ensemble are
// constructed by the caller (cmd/netsentryd) and shared with nothing
// else; alertSink and snapshot may be nil.
func New(cfg Config, flows *flowtable.Table, block *blocklist.Blocklist, profiles *profile.Store, ensemble *anomaly.Ensemble, ledger *feedback.Ledger, alertSink ports.AlertSink, snapshot SnapshotPublisher) *Orchestrator {
	if cfg.MTU <= 0 {
		cfg.MTU = 1500
	}
	o := &Orchestrator{
		cfg:       cfg,
		flows:     flows,
		rx:        reactor.New(flows, block, cfg.Mark),
		profiles:  profiles,
		ensemble:  ensemble,
		feedback:  ledger,
		alertSink: alertSink,
		snapshot:  snapshot,
		pool:      bufpool.New(tunReadBufferSize, bufpool.DefaultCapacity),
		log:       log.WithField("component", "vpn"),
	}
	flows.OnEvict(o.onFlowEvicted)
	return o
}

// SetMetrics wires m into the orchestrator, the Flow Table and the
// Proxy Reactor. Call before Start; nil leaves telemetry disabled.
func (o *Orchestrator) SetMetrics(m *telemetry.Metrics) {
	o.metrics = m
	o.flows.SetMetrics(m)
	o.rx.SetMetrics(m)
}

// Start opens the TUN device, configures the interface, and spawns the
// reader/writer pumps, the Proxy Reactor, the stale-flow sweeper and
// the snapshot publisher. It returns once the interface is up; the
// pumps keep running until Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("vpn: already running")
	}

	waterCfg := water.Config{DeviceType: water.TUN}
	waterCfg.Name = o.cfg.Device
	ifce, err := water.New(waterCfg)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("vpn: open tun: %w", err)
	}
	o.cfg.Device = ifce.Name()
	o.tun = ifce

	if err := o.configureInterface(); err != nil {
		_ = ifce.Close()
		o.mu.Unlock()
		return fmt.Errorf("vpn: configure interface %q: %w", o.cfg.Device, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.mu.Unlock()

	o.log.WithFields(log.Fields{"device": o.cfg.Device, "address": o.cfg.Address, "mtu": o.cfg.MTU}).Info("tun interface ready")

	o.wg.Add(4)
	go func() { defer o.wg.Done(); o.rx.Run(runCtx) }()
	go func() { defer o.wg.Done(); o.tunReadLoop(runCtx) }()
	go func() { defer o.wg.Done(); o.tunWriteLoop(runCtx) }()
	go func() { defer o.wg.Done(); o.maintenanceLoop(runCtx) }()

	return nil
}

// Stop cancels the pumps, waits for them to exit, synchronously
// flushes every live flow and every dirty profile to their
// persistence sinks, and closes the TUN fd.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	o.wg.Wait()

	o.flows.FlushAll(ctx)
	if o.profiles != nil {
		o.profiles.PersistDirty(ctx)
	}

	if o.tun != nil {
		_ = o.tun.Close()
	}
	o.log.Info("vpn orchestrator stopped")
}

// tunReadLoop is the "TUN device -> Orchestrator reader -> Packet
// Codec -> Flow Table update + Proxy Reactor ingress queue" half of
// the data-flow diagram.
func (o *Orchestrator) tunReadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		buf := o.pool.Acquire(tunReadBufferSize)
		n, err := o.tun.Read(buf)
		if err != nil {
			o.pool.Release(buf)
			if ctx.Err() != nil {
				return
			}
			o.log.WithError(err).Warn("tun read failed")
			continue
		}

		data := append([]byte(nil), buf[:n]...)
		o.pool.Release(buf)

		pkt := codec.Parse(data)
		if pkt.Protocol != codec.ProtoTCP && pkt.Protocol != codec.ProtoUDP {
			o.log.Debug("dropping non-TCP/UDP or malformed datagram")
			continue
		}

		o.flows.Process(&pkt, true, time.Now())
		o.rx.Enqueue(pkt)
	}
}

// tunWriteLoop is the "Proxy Reactor -> ... -> Orchestrator writer ->
// TUN device" half of the data-flow diagram.
func (o *Orchestrator) tunWriteLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-o.rx.ToGuest():
			if !ok {
				return
			}
			if _, err := o.tun.Write(pkt); err != nil {
				o.log.WithError(err).Warn("tun write failed")
			}
		}
	}
}

// maintenanceLoop sweeps stale flows every sweepInterval and publishes
// a Flow Table snapshot every snapshotInterval.
func (o *Orchestrator) maintenanceLoop(ctx context.Context) {
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	snap := time.NewTicker(snapshotInterval)
	defer snap.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-sweep.C:
			o.flows.CleanupStale(ctx, now)
			o.reportPoolStats()
		case <-snap.C:
			if o.snapshot != nil {
				o.snapshot.Publish(o.flows.Snapshot())
			}
		}
	}
}

// reportPoolStats folds the buffer pool's cumulative counters into the
// telemetry deltas since the last sweep.
func (o *Orchestrator) reportPoolStats() {
	if o.metrics == nil {
		return
	}
	s := o.pool.Stats()
	hitsDelta := s.Hits - o.lastPoolStats.Hits
	missesDelta := s.Misses - o.lastPoolStats.Misses
	directsDelta := s.Directs - o.lastPoolStats.Directs
	o.lastPoolStats = s
	o.metrics.RecordBufferPoolStats(hitsDelta, missesDelta, directsDelta)
}

// onFlowEvicted implements "Flow Table eviction -> persistence sink +
// App Profile Store update -> Anomaly Ensemble -> alert sink": it runs
// once per evicted flow, before the Flow Table's own persistence call.
func (o *Orchestrator) onFlowEvicted(f *flowtable.Flow) {
	if o.profiles == nil || f.AppUID < 0 {
		return
	}
	now := time.Now()
	p := o.profiles.GetOrCreate(f.AppUID, f.AppName, now)

	var verdict anomaly.Verdict
	if o.ensemble != nil {
		verdict = o.ensemble.Evaluate(f, p, f.AppUID)
	}
	p.Update(f, now)

	if o.ensemble == nil || !verdict.Ready {
		return
	}
	if o.metrics != nil {
		o.metrics.AnomalyScoresBySeverity.WithLabelValues(string(verdict.Severity)).Inc()
	}
	if verdict.Severity == anomaly.SeverityNone || o.alertSink == nil {
		return
	}
	o.alertSink.Alert(context.Background(), ports.Alert{
		Severity:  string(verdict.Severity),
		AppName:   f.AppName,
		Reasons:   verdict.Reasons,
		Score:     verdict.Score,
		FlowKey:   f.Key.String(),
		Timestamp: now,
	})
}

// configureInterface brings the freshly opened TUN device up with its
// assigned address and MTU, via the same external "ip" invocations the
// teacher's connection manager shells out to for local proxy setup.
func (o *Orchestrator) configureInterface() error {
	steps := [][]string{
		{"ip", "addr", "add", o.cfg.Address, "dev", o.cfg.Device},
		{"ip", "link", "set", "dev", o.cfg.Device, "mtu", fmt.Sprintf("%d", o.cfg.MTU)},
		{"ip", "link", "set", "dev", o.cfg.Device, "up"},
		{"ip", "route", "add", "default", "dev", o.cfg.Device},
	}
	for _, args := range steps {
		cmd := exec.Command(args[0], args[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%v: %w (%s)", args, err, out)
		}
	}
	return o.excludeHostTraffic()
}

// excludeHostTraffic installs a routing-policy rule so that traffic
// marked with cfg.Mark (the Proxy Reactor's own backend sockets) skips
// the TUN default route instead of being re-captured in a loop, per
// "exclude the host application from being tunneled".
func (o *Orchestrator) excludeHostTraffic() error {
	if o.cfg.Mark == 0 {
		return nil
	}
	cmd := exec.Command("ip", "rule", "add", "fwmark", fmt.Sprintf("%d", o.cfg.Mark), "lookup", "main", "priority", "100")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ip rule add fwmark: %w (%s)", err, out)
	}
	return nil
}
