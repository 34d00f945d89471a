// Package reactor implements the single-threaded, poll-driven Proxy
// Reactor: the cooperative event loop that owns every backend socket,
// drives the TCP and UDP session state machines, and is the only
// place session state is ever mutated.
package reactor

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"netsentry/internal/blocklist"
	"netsentry/internal/codec"
	"netsentry/internal/flowtable"
	"netsentry/internal/tcpengine"
	"netsentry/internal/telemetry"
	"netsentry/internal/udpengine"
)

// sweepInterval is how often idle TCP (and UDP) sessions are swept,
// per spec's "if 60s have elapsed since the last sweep".
const sweepInterval = 60 * time.Second

// pollTimeoutMs bounds how long a single poll() call blocks when the
// ingress queue is empty.
const pollTimeoutMs = 1000

// readChunk is the per-event read size for backend sockets.
const readChunk = 4096

// ingressQueueDepth bounds the TUN-reader-to-reactor packet queue.
const ingressQueueDepth = 2048

// toGuestQueueDepth bounds the reactor-to-TUN-writer packet queue.
const toGuestQueueDepth = 2048

type fdBinding struct {
	key        flowtable.FlowKey
	isTCP      bool
	connecting bool
}

// Reactor is the Proxy Reactor. All session state is mutated only on
// the goroutine running Run; Enqueue and ToGuest are the only
// cross-goroutine surfaces, and both are channel-based.
type Reactor struct {
	flows *flowtable.Table
	block *blocklist.Blocklist
	mark  uint32

	ingress chan codec.Packet
	toGuest chan []byte

	tcpSessions map[flowtable.FlowKey]*tcpengine.Session
	udpSessions map[flowtable.FlowKey]*udpengine.Session
	fdBindings  map[int]fdBinding

	lastSweep time.Time
	log       *log.Entry

	metrics *telemetry.Metrics
}

// SetMetrics wires m into the reactor's hot path. Safe to call once
// before Run; nil leaves telemetry disabled.
func (r *Reactor) SetMetrics(m *telemetry.Metrics) {
	r.metrics = m
}

// New creates a Reactor wired to flows (for accounting/blocklist
// lookups) and block (the Blocklist consulted on every ingress
// packet). mark is applied to every backend socket via SO_MARK.
func New(flows *flowtable.Table, block *blocklist.Blocklist, mark uint32) *Reactor {
	return &Reactor{
		flows:       flows,
		block:       block,
		mark:        mark,
		ingress:     make(chan codec.Packet, ingressQueueDepth),
		toGuest:     make(chan []byte, toGuestQueueDepth),
		tcpSessions: make(map[flowtable.FlowKey]*tcpengine.Session),
		udpSessions: make(map[flowtable.FlowKey]*udpengine.Session),
		fdBindings:  make(map[int]fdBinding),
		log:         log.WithField("component", "reactor"),
	}
}

// Enqueue hands a parsed guest packet to the reactor's ingress queue.
// Called by the VPN Orchestrator's TUN read loop.
func (r *Reactor) Enqueue(pkt codec.Packet) {
	r.ingress <- pkt
}

// ToGuest is the channel of constructed response packets the VPN
// Orchestrator's TUN writer drains and writes to the device.
func (r *Reactor) ToGuest() <-chan []byte {
	return r.toGuest
}

// Run drives the event loop until ctx is cancelled. Each iteration
// drains the ingress queue, polls registered backend sockets with a
// 1s timeout, and sweeps idle sessions every 60s.
func (r *Reactor) Run(ctx context.Context) {
	r.lastSweep = time.Now()
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		default:
		}

		loopStart := time.Now()
		r.drainIngress()
		r.pollOnce()
		if r.metrics != nil {
			r.metrics.ReactorLoopLatency.Observe(time.Since(loopStart).Seconds())
		}

		if now := time.Now(); now.Sub(r.lastSweep) >= sweepInterval {
			r.sweepIdle(now)
			r.lastSweep = now
		}
	}
}

func (r *Reactor) drainIngress() {
	for {
		select {
		case pkt := <-r.ingress:
			r.dispatch(pkt)
		default:
			return
		}
	}
}

func (r *Reactor) dispatch(pkt codec.Packet) {
	key := flowtable.KeyFor(&pkt)

	if r.metrics != nil {
		r.metrics.PacketsProcessed.Inc()
	}

	if flow, ok := r.flows.Lookup(key); ok && r.block != nil && r.block.Contains(flow.AppUID) {
		if r.metrics != nil {
			r.metrics.BlocklistHits.Inc()
		}
		return
	}

	switch pkt.Protocol {
	case codec.ProtoTCP:
		r.handleTCP(pkt, key)
	case codec.ProtoUDP:
		r.handleUDP(pkt, key)
	}
}

func (r *Reactor) sendToGuest(key flowtable.FlowKey, pkt []byte) {
	select {
	case r.toGuest <- pkt:
	default:
		r.log.Warn("to-guest queue full, dropping response packet")
	}
	if r.flows != nil {
		r.flows.AccountOutbound(key, len(pkt), time.Now())
	}
}

func (r *Reactor) writeBackend(fd int, data []byte, key flowtable.FlowKey) bool {
	if _, err := unix.Write(fd, data); err != nil {
		r.log.WithError(err).WithField("flow", key.String()).Debug("backend write failed")
		return false
	}
	return true
}

func (r *Reactor) handleTCP(pkt codec.Packet, key flowtable.FlowKey) {
	now := time.Now()
	sess, exists := r.tcpSessions[key]

	if !exists {
		if pkt.TCPFlags&codec.FlagSYN == 0 {
			return // segment on a dead 5-tuple without SYN is dropped silently
		}
		sess, synAck := tcpengine.NewSession(key, pkt.SeqNum, now)
		fd, err := dialNonBlocking(unix.SOCK_STREAM, key.RemoteAddrPort(), r.mark)
		if err != nil {
			r.log.WithError(err).WithField("flow", key.String()).Warn("backend dial failed")
			return
		}
		sess.Fd = fd
		r.tcpSessions[key] = sess
		r.fdBindings[fd] = fdBinding{key: key, isTCP: true, connecting: true}
		r.sendToGuest(key, synAck)
		return
	}

	switch {
	case pkt.TCPFlags&codec.FlagRST != 0:
		sess.OnGuestRST()
		r.closeTCP(key, sess)
	case pkt.TCPFlags&codec.FlagFIN != 0:
		ackPkt := sess.OnGuestFIN(pkt.SeqNum, now)
		r.sendToGuest(key, ackPkt)
		r.closeTCP(key, sess)
	case len(pkt.Payload()) > 0:
		ackPkt, toBackend, queued := sess.OnGuestSegment(pkt.Payload(), now)
		r.sendToGuest(key, ackPkt)
		if !queued && toBackend != nil {
			if !r.writeBackend(sess.Fd, toBackend, key) {
				r.closeTCP(key, sess)
			}
		}
	case pkt.TCPFlags&codec.FlagACK != 0:
		sess.OnGuestAckNoPayload(now)
	}
}

func (r *Reactor) handleUDP(pkt codec.Packet, key flowtable.FlowKey) {
	sess, exists := r.udpSessions[key]
	if !exists {
		fd, err := dialNonBlocking(unix.SOCK_DGRAM, key.RemoteAddrPort(), r.mark)
		if err != nil {
			r.log.WithError(err).WithField("flow", key.String()).Warn("backend dial failed")
			return
		}
		sess = udpengine.NewSession(key, time.Now())
		sess.Fd = fd
		r.udpSessions[key] = sess
		r.fdBindings[fd] = fdBinding{key: key, isTCP: false}
	}

	if !r.writeBackend(sess.Fd, pkt.Payload(), key) {
		r.closeUDP(key, sess)
		return
	}
	sess.Touch(time.Now())
}

func (r *Reactor) pollOnce() {
	if len(r.fdBindings) == 0 {
		time.Sleep(time.Millisecond) // avoid a busy spin with nothing registered
		return
	}

	fds := make([]unix.PollFd, 0, len(r.fdBindings))
	order := make([]int, 0, len(r.fdBindings))
	for fd, binding := range r.fdBindings {
		events := int16(unix.POLLIN)
		if binding.connecting {
			events = unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		order = append(order, fd)
	}

	n, err := unix.Poll(fds, pollTimeoutMs)
	if err != nil {
		r.log.WithError(err).Debug("poll failed")
		return
	}
	if n <= 0 {
		return
	}

	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		r.handleReady(order[i], pfd.Revents)
	}
}

func (r *Reactor) handleReady(fd int, revents int16) {
	binding, ok := r.fdBindings[fd]
	if !ok {
		return
	}

	if binding.isTCP {
		r.handleTCPReady(fd, binding, revents)
		return
	}
	r.handleUDPReady(fd, binding)
}

func (r *Reactor) handleTCPReady(fd int, binding fdBinding, revents int16) {
	sess, ok := r.tcpSessions[binding.key]
	if !ok {
		return
	}
	now := time.Now()

	if binding.connecting {
		if err := connectError(fd); err != nil {
			r.closeTCP(binding.key, sess)
			return
		}
		binding.connecting = false
		r.fdBindings[fd] = binding
		for _, queued := range sess.OnBackendConnected(now) {
			if !r.writeBackend(fd, queued, binding.key) {
				r.closeTCP(binding.key, sess)
				return
			}
		}
		return
	}

	if revents&(unix.POLLIN|unix.POLLHUP) == 0 {
		return
	}
	buf := make([]byte, readChunk)
	n, err := unix.Read(fd, buf)
	if err != nil || n == 0 {
		pkt := sess.OnBackendEOF(now)
		r.sendToGuest(binding.key, pkt)
		r.closeTCP(binding.key, sess)
		return
	}
	r.sendToGuest(binding.key, sess.OnBackendReadable(buf[:n], now))
}

func (r *Reactor) handleUDPReady(fd int, binding fdBinding) {
	sess, ok := r.udpSessions[binding.key]
	if !ok {
		return
	}
	buf := make([]byte, readChunk)
	n, err := unix.Read(fd, buf)
	if err != nil {
		r.closeUDP(binding.key, sess)
		return
	}
	r.sendToGuest(binding.key, sess.OnBackendReadable(buf[:n], time.Now()))
}

func (r *Reactor) sweepIdle(now time.Time) {
	for key, sess := range r.tcpSessions {
		if sess.IsIdle(now) {
			r.closeTCP(key, sess)
		}
	}
	for key, sess := range r.udpSessions {
		if sess.IsIdle(now) {
			r.closeUDP(key, sess)
		}
	}
	r.reportSessionGauges()
}

func (r *Reactor) reportSessionGauges() {
	if r.metrics == nil {
		return
	}
	byState := make(map[tcpengine.State]int, 5)
	for _, sess := range r.tcpSessions {
		byState[sess.State]++
	}
	for _, state := range []tcpengine.State{
		tcpengine.StateClosed, tcpengine.StateSynReceived, tcpengine.StateEstablished,
		tcpengine.StateFinWait, tcpengine.StateCloseWait,
	} {
		r.metrics.TCPSessionsByState.WithLabelValues(state.String()).Set(float64(byState[state]))
	}
	r.metrics.UDPSessionsActive.Set(float64(len(r.udpSessions)))
}

func (r *Reactor) closeTCP(key flowtable.FlowKey, sess *tcpengine.Session) {
	if sess.Fd >= 0 {
		_ = unix.Close(sess.Fd)
		delete(r.fdBindings, sess.Fd)
		sess.Fd = -1
	}
	delete(r.tcpSessions, key)
	if r.flows != nil {
		r.flows.MarkClosed(key)
	}
}

func (r *Reactor) closeUDP(key flowtable.FlowKey, sess *udpengine.Session) {
	if sess.Fd >= 0 {
		_ = unix.Close(sess.Fd)
		delete(r.fdBindings, sess.Fd)
		sess.Fd = -1
	}
	delete(r.udpSessions, key)
	if r.flows != nil {
		r.flows.MarkClosed(key)
	}
}

func (r *Reactor) shutdown() {
	for key, sess := range r.tcpSessions {
		r.closeTCP(key, sess)
	}
	for key, sess := range r.udpSessions {
		r.closeUDP(key, sess)
	}
	close(r.toGuest)
}
