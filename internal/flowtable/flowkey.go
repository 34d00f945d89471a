// Package flowtable maintains the concurrent FlowKey -> Flow mapping
// that accounts for every live connection passing through the tunnel:
// packet/byte counters, SNI detection, a capped payload capture, and
// staleness eviction feeding the persistence sink.
package flowtable

import (
	"fmt"
	"net/netip"

	"netsentry/internal/codec"
)

// FlowKey is the stable 5-tuple identity of a flow. Field order is
// fixed as (protocol, srcIP, srcPort, dstIP, dstPort); this ordering
// is an implementation detail with no externally observable effect.
type FlowKey struct {
	Protocol uint8
	SrcIP    [4]byte
	SrcPort  uint16
	DstIP    [4]byte
	DstPort  uint16
}

// KeyFor derives the FlowKey for a parsed packet.
func KeyFor(p *codec.Packet) FlowKey {
	return FlowKey{
		Protocol: p.Protocol,
		SrcIP:    p.SrcIP,
		SrcPort:  p.SrcPort,
		DstIP:    p.DstIP,
		DstPort:  p.DstPort,
	}
}

// Swapped returns the reverse-direction key, used when building a
// response packet back toward the guest.
func (k FlowKey) Swapped() FlowKey {
	return FlowKey{
		Protocol: k.Protocol,
		SrcIP:    k.DstIP,
		SrcPort:  k.DstPort,
		DstIP:    k.SrcIP,
		DstPort:  k.SrcPort,
	}
}

// RemoteAddrPort reports the key's destination as a netip.AddrPort,
// for use against the OwnerResolver and AlertSink boundaries.
func (k FlowKey) RemoteAddrPort() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4(k.DstIP), k.DstPort)
}

// LocalAddrPort reports the key's source as a netip.AddrPort.
func (k FlowKey) LocalAddrPort() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4(k.SrcIP), k.SrcPort)
}

// String renders the key as "proto srcIP:srcPort->dstIP:dstPort" for
// logging and alert payloads.
func (k FlowKey) String() string {
	proto := "?"
	switch k.Protocol {
	case codec.ProtoTCP:
		proto = "tcp"
	case codec.ProtoUDP:
		proto = "udp"
	}
	return fmt.Sprintf("%s %s->%s", proto, k.LocalAddrPort(), k.RemoteAddrPort())
}
