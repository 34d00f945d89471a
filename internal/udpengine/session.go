// Package udpengine implements the UDP session engine: a connected
// datagram socket per FlowKey, with no state machine beyond a single
// idle timeout. As with tcpengine, the raw socket and poll
// registration belong to the reactor; this package builds response
// packets and tracks activity.
package udpengine

import (
	"time"

	"github.com/google/uuid"

	"netsentry/internal/codec"
	"netsentry/internal/flowtable"
)

// IdleTimeout closes a UDP session that has seen no traffic for this
// long in either direction. A package-level var rather than a const so
// cmd/netsentryd can override it from config.TimeoutConfig.UDPSessionIdle
// at startup, before any session is created.
var IdleTimeout = 60 * time.Second

// backendReadChunk bounds how much is read from the backend per
// readable event, matching the spec's 4 KiB datagram ceiling.
const backendReadChunk = 4096

// Session is one UDP flow's state as seen by the Proxy Reactor. Fd is
// the raw connected datagram socket descriptor, -1 once closed.
type Session struct {
	ID  uuid.UUID
	Key flowtable.FlowKey

	Fd             int
	lastActiveTime time.Time
}

// NewSession creates a session for the first guest datagram on a new
// key. The caller opens the connected, non-blocking datagram socket
// and assigns Fd.
func NewSession(key flowtable.FlowKey, now time.Time) *Session {
	return &Session{
		ID:             uuid.New(),
		Key:            key,
		Fd:             -1,
		lastActiveTime: now,
	}
}

// Touch records guest-to-backend activity (a successful write).
func (s *Session) Touch(now time.Time) {
	s.lastActiveTime = now
}

// OnBackendReadable builds the IPv4+UDP response packet, with the
// 5-tuple swapped back toward the guest, carrying up to
// backendReadChunk bytes of datagram read from the backend.
func (s *Session) OnBackendReadable(data []byte, now time.Time) []byte {
	s.lastActiveTime = now
	if len(data) > backendReadChunk {
		data = data[:backendReadChunk]
	}
	return codec.BuildUDP(s.Key.DstIP, s.Key.SrcIP, s.Key.DstPort, s.Key.SrcPort, data)
}

// IsIdle reports whether the session has exceeded IdleTimeout since
// its last activity.
func (s *Session) IsIdle(now time.Time) bool {
	return now.Sub(s.lastActiveTime) > IdleTimeout
}
