// Package codec parses and builds IPv4 datagrams carrying TCP or UDP
// segments. It is deliberately narrow: IPv4 only, no options, no
// fragmentation. Parsing is tolerant of malformed input — callers get
// back whatever fields could be decoded rather than an error.
package codec

import (
	"encoding/binary"
)

// Protocol numbers this package understands.
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

const (
	minIPHeaderLen  = 20
	minTCPHeaderLen = 20
	minUDPHeaderLen = 8
)

// Packet is a read-only, zero-copy view over a buffer holding one IPv4
// datagram. It borrows the buffer it was parsed from; callers that need
// to retain the data past the buffer's lifetime must copy it.
type Packet struct {
	Version    uint8
	IHL        int // IP header length, bytes
	Protocol   uint8
	TotalLen   int
	SrcIP      [4]byte
	DstIP      [4]byte
	SrcPort    uint16
	DstPort    uint16
	TCPFlags   uint8
	SeqNum     uint32
	AckNum     uint32
	tcpHdrLen  int
	payloadOff int
	buf        []byte
}

// TCP flag bits, as laid out in byte 13 of the TCP header.
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
	FlagURG uint8 = 1 << 5
)

// Payload returns the transport payload slice, positioned lazily after
// the transport header. Empty when the packet couldn't be fully parsed.
func (p *Packet) Payload() []byte {
	if p.buf == nil || p.payloadOff > len(p.buf) {
		return nil
	}
	end := p.TotalLen
	if end > len(p.buf) {
		end = len(p.buf)
	}
	if p.payloadOff > end {
		return nil
	}
	return p.buf[p.payloadOff:end]
}

// Parse decodes an IPv4 datagram from raw. Non-IPv4 or truncated input
// yields a Packet with only the fields that could be decoded and an
// empty payload; Parse never returns an error because malformed
// datagrams are expected on the wire and must be dropped silently by
// the caller, not propagated as a failure.
func Parse(raw []byte) Packet {
	var p Packet
	if len(raw) < minIPHeaderLen {
		return p
	}
	verIHL := raw[0]
	p.Version = verIHL >> 4
	if p.Version != 4 {
		return p
	}
	p.IHL = int(verIHL&0x0F) * 4
	if p.IHL < minIPHeaderLen || len(raw) < p.IHL {
		return p
	}
	p.TotalLen = int(binary.BigEndian.Uint16(raw[2:4]))
	if p.TotalLen < p.IHL {
		p.TotalLen = len(raw)
	}
	p.Protocol = raw[9]
	copy(p.SrcIP[:], raw[12:16])
	copy(p.DstIP[:], raw[16:20])

	transport := raw[p.IHL:]
	switch p.Protocol {
	case ProtoTCP:
		if len(transport) < minTCPHeaderLen {
			return p
		}
		p.SrcPort = binary.BigEndian.Uint16(transport[0:2])
		p.DstPort = binary.BigEndian.Uint16(transport[2:4])
		p.SeqNum = binary.BigEndian.Uint32(transport[4:8])
		p.AckNum = binary.BigEndian.Uint32(transport[8:12])
		dataOffset := int(transport[12]>>4) * 4
		p.TCPFlags = transport[13]
		if dataOffset < minTCPHeaderLen {
			dataOffset = minTCPHeaderLen
		}
		p.tcpHdrLen = dataOffset
		p.payloadOff = p.IHL + dataOffset
	case ProtoUDP:
		if len(transport) < minUDPHeaderLen {
			return p
		}
		p.SrcPort = binary.BigEndian.Uint16(transport[0:2])
		p.DstPort = binary.BigEndian.Uint16(transport[2:4])
		p.payloadOff = p.IHL + minUDPHeaderLen
	default:
		return p
	}

	p.buf = raw
	return p
}
