package codec

import "encoding/binary"

const (
	ipFlagsDontFragment = 0x4000
	defaultTTL          = 64
	tcpWindowSize       = 65535
)

// BuildTCP assembles an IPv4+TCP datagram with no options (data offset
// 5), the given flags/sequence numbers, and payload. seq and ack are
// truncated to 32 bits by the caller's choice of representation (the
// session layer tracks them as 64-bit monotone counters and passes the
// wire-truncated value in here).
func BuildTCP(srcIP, dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32, flags uint8, payload []byte) []byte {
	const tcpHdrLen = 20
	totalLen := minIPHeaderLen + tcpHdrLen + len(payload)
	buf := make([]byte, totalLen)

	writeIPHeader(buf, srcIP, dstIP, ProtoTCP, totalLen)

	tcp := buf[minIPHeaderLen:]
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], ack)
	tcp[12] = 5 << 4 // data offset, no options
	tcp[13] = flags
	binary.BigEndian.PutUint16(tcp[14:16], tcpWindowSize)
	binary.BigEndian.PutUint16(tcp[16:18], 0) // checksum, filled below
	binary.BigEndian.PutUint16(tcp[18:20], 0) // urgent pointer

	copy(tcp[tcpHdrLen:], payload)

	csum := transportChecksum(srcIP, dstIP, ProtoTCP, tcp[:tcpHdrLen], payload)
	binary.BigEndian.PutUint16(tcp[16:18], csum)

	return buf
}

// BuildUDP assembles an IPv4+UDP datagram. A resulting checksum of
// zero is rewritten to 0xFFFF per RFC 768 (zero means "no checksum").
func BuildUDP(srcIP, dstIP [4]byte, srcPort, dstPort uint16, payload []byte) []byte {
	const udpHdrLen = 8
	totalLen := minIPHeaderLen + udpHdrLen + len(payload)
	buf := make([]byte, totalLen)

	writeIPHeader(buf, srcIP, dstIP, ProtoUDP, totalLen)

	udp := buf[minIPHeaderLen:]
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpHdrLen+len(payload)))
	binary.BigEndian.PutUint16(udp[6:8], 0)

	copy(udp[udpHdrLen:], payload)

	csum := transportChecksum(srcIP, dstIP, ProtoUDP, udp[:udpHdrLen], payload)
	if csum == 0 {
		csum = 0xFFFF
	}
	binary.BigEndian.PutUint16(udp[6:8], csum)

	return buf
}

func writeIPHeader(buf []byte, srcIP, dstIP [4]byte, protocol uint8, totalLen int) {
	buf[0] = 0x45 // version 4, IHL 5
	buf[1] = 0    // TOS
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(buf[4:6], 0) // identification
	binary.BigEndian.PutUint16(buf[6:8], ipFlagsDontFragment)
	buf[8] = defaultTTL
	buf[9] = protocol
	binary.BigEndian.PutUint16(buf[10:12], 0) // checksum, filled below
	copy(buf[12:16], srcIP[:])
	copy(buf[16:20], dstIP[:])

	csum := ipChecksum(buf[:minIPHeaderLen])
	binary.BigEndian.PutUint16(buf[10:12], csum)
}
