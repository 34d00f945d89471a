package udpengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netsentry/internal/codec"
	"netsentry/internal/flowtable"
)

func testKey() flowtable.FlowKey {
	return flowtable.FlowKey{
		Protocol: codec.ProtoUDP,
		SrcIP:    [4]byte{10, 0, 0, 2},
		SrcPort:  40000,
		DstIP:    [4]byte{8, 8, 8, 8},
		DstPort:  53,
	}
}

func TestSession_OnBackendReadableSwapsTuple(t *testing.T) {
	now := time.Now()
	s := NewSession(testKey(), now)

	pkt := s.OnBackendReadable([]byte("OK"), now)
	p := codec.Parse(pkt)

	require.Equal(t, [4]byte{8, 8, 8, 8}, p.SrcIP)
	require.Equal(t, [4]byte{10, 0, 0, 2}, p.DstIP)
	require.Equal(t, uint16(53), p.SrcPort)
	require.Equal(t, uint16(40000), p.DstPort)
}

func TestSession_IdleDetection(t *testing.T) {
	now := time.Now()
	s := NewSession(testKey(), now)
	require.False(t, s.IsIdle(now))
	require.True(t, s.IsIdle(now.Add(61*time.Second)))
}

func TestSession_TouchResetsIdleClock(t *testing.T) {
	now := time.Now()
	s := NewSession(testKey(), now)
	s.Touch(now.Add(30 * time.Second))
	require.False(t, s.IsIdle(now.Add(80*time.Second)))
}
