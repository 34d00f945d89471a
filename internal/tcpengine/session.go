// Package tcpengine implements the per-flow TCP state machine owned by
// the Proxy Reactor. It is pure state/packet-building logic: sessions
// track sequence/ack counters and a pending-write queue, but the raw
// backend socket and the poll loop that drives readiness belong to the
// reactor package, which calls into a Session's methods as events fire.
package tcpengine

import (
	"time"

	"github.com/google/uuid"

	"netsentry/internal/codec"
	"netsentry/internal/flowtable"
)

// State is a TCP session's position in the spec's state machine.
type State int

const (
	StateClosed State = iota
	StateSynReceived
	StateEstablished
	StateFinWait
	StateCloseWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait:
		return "FIN_WAIT"
	case StateCloseWait:
		return "CLOSE_WAIT"
	default:
		return "UNKNOWN"
	}
}

// initialMySeq is a deliberately fixed ISN. The spec does not require
// randomization: the TUN peer is a single local kernel, and sequence
// uniqueness only needs to hold per (5-tuple, session lifetime).
const initialMySeq = 1000

// IdleTimeout closes a session that has seen no activity in either
// direction for this long. A package-level var rather than a const so
// cmd/netsentryd can override it from config.TimeoutConfig.TCPSessionIdle
// at startup, before any session is created.
var IdleTimeout = 120 * time.Second

// backendReadChunk bounds how much is read from the backend per
// readable event, matching the spec's 4 KiB ceiling.
const backendReadChunk = 4096

// Session is one TCP flow's state as seen by the Proxy Reactor. Fd is
// the raw backend socket descriptor, -1 once closed.
type Session struct {
	ID  uuid.UUID
	Key flowtable.FlowKey

	Fd    int
	State State

	mySeq uint64
	myAck uint64

	isConnectedToBackend bool
	pendingWrite         [][]byte

	lastActiveTime time.Time
}

// NewSession creates a session for a guest SYN, computing the SYN-ACK
// to send back to the guest immediately. The caller is responsible for
// opening the (non-blocking) backend socket and assigning Fd.
func NewSession(key flowtable.FlowKey, guestSeq uint32, now time.Time) (*Session, []byte) {
	s := &Session{
		ID:             uuid.New(),
		Key:            key,
		Fd:             -1,
		State:          StateSynReceived,
		mySeq:          initialMySeq,
		myAck:          uint64(guestSeq) + 1,
		lastActiveTime: now,
	}
	synAck := s.buildToGuest(codec.FlagSYN|codec.FlagACK, nil)
	s.mySeq++
	return s, synAck
}

// buildToGuest constructs a packet from the backend's (key's
// destination) address back to the guest, with the session's current
// sequence/ack counters truncated to 32 bits for the wire.
func (s *Session) buildToGuest(flags uint8, payload []byte) []byte {
	return codec.BuildTCP(
		s.Key.DstIP, s.Key.SrcIP,
		s.Key.DstPort, s.Key.SrcPort,
		uint32(s.mySeq), uint32(s.myAck),
		flags, payload,
	)
}

// OnBackendConnected marks the backend socket connected and returns
// the queue of payload slices the guest sent before the connect
// finished, in order, for the caller to write to the backend fd.
func (s *Session) OnBackendConnected(now time.Time) [][]byte {
	s.isConnectedToBackend = true
	s.lastActiveTime = now
	flushed := s.pendingWrite
	s.pendingWrite = nil
	return flushed
}

// OnGuestAckNoPayload advances SYN_RECEIVED to ESTABLISHED on the
// guest's ACK of our SYN-ACK, once the backend connect has completed.
func (s *Session) OnGuestAckNoPayload(now time.Time) {
	s.lastActiveTime = now
	if s.State == StateSynReceived && s.isConnectedToBackend {
		s.State = StateEstablished
	}
}

// OnGuestSegment handles an ESTABLISHED guest segment carrying
// payload: it advances myAck, returns the bare-ACK packet to send to
// the guest, and reports either the bytes to write to the backend now
// (if connected) or nil with queued=true, in which case the session has
// already appended a copy of them to its pendingWrite queue.
func (s *Session) OnGuestSegment(payload []byte, now time.Time) (ackPkt []byte, toBackend []byte, queued bool) {
	s.lastActiveTime = now
	s.myAck += uint64(len(payload))
	ackPkt = s.buildToGuest(codec.FlagACK, nil)

	if s.isConnectedToBackend {
		return ackPkt, payload, false
	}
	cp := append([]byte(nil), payload...)
	s.pendingWrite = append(s.pendingWrite, cp)
	return ackPkt, nil, true
}

// OnBackendReadable reports up to backendReadChunk bytes read from the
// backend and returns the PSH|ACK packet carrying them to the guest,
// advancing mySeq by the byte count sent.
func (s *Session) OnBackendReadable(data []byte, now time.Time) []byte {
	s.lastActiveTime = now
	if len(data) > backendReadChunk {
		data = data[:backendReadChunk]
	}
	pkt := s.buildToGuest(codec.FlagPSH|codec.FlagACK, data)
	s.mySeq += uint64(len(data))
	return pkt
}

// OnBackendEOF transitions through FIN_WAIT to CLOSED, returning the
// FIN|ACK packet to send to the guest. The caller closes the backend
// fd and discards the session once this has run.
func (s *Session) OnBackendEOF(now time.Time) []byte {
	s.lastActiveTime = now
	s.State = StateFinWait
	pkt := s.buildToGuest(codec.FlagFIN|codec.FlagACK, nil)
	s.mySeq++
	s.State = StateClosed
	return pkt
}

// OnGuestFIN acknowledges the guest's FIN and moves through
// CLOSE_WAIT to CLOSED, returning the ACK packet to send to the guest.
// The caller closes the backend fd.
func (s *Session) OnGuestFIN(guestSeq uint32, now time.Time) []byte {
	s.lastActiveTime = now
	s.myAck = uint64(guestSeq) + 1
	s.State = StateCloseWait
	pkt := s.buildToGuest(codec.FlagACK, nil)
	s.State = StateClosed
	return pkt
}

// OnGuestRST closes the session silently, with no packet to the guest.
func (s *Session) OnGuestRST() {
	s.State = StateClosed
}

// IsIdle reports whether the session has exceeded IdleTimeout since
// its last activity in either direction.
func (s *Session) IsIdle(now time.Time) bool {
	return now.Sub(s.lastActiveTime) > IdleTimeout
}

// Terminal reports whether the session has reached CLOSED and should
// be removed from the reactor's session map.
func (s *Session) Terminal() bool {
	return s.State == StateClosed
}
