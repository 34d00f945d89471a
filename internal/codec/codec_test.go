package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildUDP_ChecksumVerifies(t *testing.T) {
	src := [4]byte{10, 0, 0, 2}
	dst := [4]byte{8, 8, 8, 8}
	raw := BuildUDP(src, dst, 40000, 53, []byte("hello"))

	p := Parse(raw)
	require.Equal(t, uint8(4), p.Version)
	require.Equal(t, uint8(ProtoUDP), p.Protocol)
	require.Equal(t, uint16(40000), p.SrcPort)
	require.Equal(t, uint16(53), p.DstPort)
	require.Equal(t, []byte("hello"), p.Payload())

	// Summing the emitted IP header (checksum field in place) must fold
	// to the all-ones value.
	require.Equal(t, uint16(0xFFFF), verifySum(raw[:minIPHeaderLen]))
}

func verifySum(header []byte) uint16 {
	sum := sum16(header)
	for sum>>16 > 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return uint16(sum)
}

func TestIPChecksum_SelfVerifies(t *testing.T) {
	src := [4]byte{10, 0, 0, 2}
	dst := [4]byte{1, 1, 1, 1}
	raw := BuildTCP(src, dst, 40001, 443, 1000, 5001, FlagSYN|FlagACK, nil)
	require.Equal(t, uint16(0xFFFF), verifySum(raw[:minIPHeaderLen]))
}

func TestBuildTCP_RoundTrip(t *testing.T) {
	src := [4]byte{10, 0, 0, 2}
	dst := [4]byte{1, 1, 1, 1}
	payload := []byte("hello")
	raw := BuildTCP(src, dst, 40001, 443, 1001, 5006, FlagPSH|FlagACK, payload)

	p := Parse(raw)
	require.Equal(t, src, p.SrcIP)
	require.Equal(t, dst, p.DstIP)
	require.Equal(t, uint16(40001), p.SrcPort)
	require.Equal(t, uint16(443), p.DstPort)
	require.Equal(t, uint32(1001), p.SeqNum)
	require.Equal(t, uint32(5006), p.AckNum)
	require.Equal(t, FlagPSH|FlagACK, p.TCPFlags)
	require.Equal(t, payload, p.Payload())
}

func TestParse_MalformedDropsSilently(t *testing.T) {
	p := Parse([]byte{0x01, 0x02})
	require.Equal(t, uint8(0), p.Version)
	require.Nil(t, p.Payload())

	// Version nibble says 6 (IPv6).
	p = Parse([]byte{0x60, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	require.Equal(t, uint8(6), p.Version)
	require.Nil(t, p.Payload())

	// Truncated TCP header.
	hdr := make([]byte, 20)
	hdr[0] = 0x45
	hdr[9] = ProtoTCP
	p = Parse(append(hdr, 0x00, 0x50))
	require.Equal(t, uint8(4), p.Version)
	require.Nil(t, p.Payload())
}

func TestUDPChecksumZeroRewrittenToAllOnes(t *testing.T) {
	// Find a src/dst/port/payload combination producing a zero checksum
	// is nontrivial to construct directly; instead verify the rewrite
	// rule structurally: BuildUDP never emits an on-wire checksum of 0.
	for i := 0; i < 64; i++ {
		raw := BuildUDP([4]byte{10, 0, 0, 2}, [4]byte{8, 8, 8, 8}, uint16(1024+i), 53, []byte{byte(i)})
		udp := raw[minIPHeaderLen:]
		csum := uint16(udp[6])<<8 | uint16(udp[7])
		require.NotEqual(t, uint16(0), csum)
	}
}
