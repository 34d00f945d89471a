package tcpengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netsentry/internal/codec"
	"netsentry/internal/flowtable"
)

func testKey() flowtable.FlowKey {
	return flowtable.FlowKey{
		Protocol: codec.ProtoTCP,
		SrcIP:    [4]byte{10, 0, 0, 2},
		SrcPort:  40000,
		DstIP:    [4]byte{93, 184, 216, 34},
		DstPort:  443,
	}
}

func TestNewSession_SendsSynAckAndAdvancesSeq(t *testing.T) {
	now := time.Now()
	s, synAck := NewSession(testKey(), 500, now)

	require.Equal(t, StateSynReceived, s.State)
	require.Equal(t, uint64(initialMySeq+1), s.mySeq)
	require.Equal(t, uint64(501), s.myAck)

	p := codec.Parse(synAck)
	require.Equal(t, codec.FlagSYN|codec.FlagACK, p.TCPFlags)
	require.Equal(t, uint32(initialMySeq), p.SeqNum)
	require.Equal(t, uint32(501), p.AckNum)
}

func TestSession_SegmentBeforeConnectIsQueued(t *testing.T) {
	now := time.Now()
	s, _ := NewSession(testKey(), 500, now)

	ack, toBackend, queued := s.OnGuestSegment([]byte("hello"), now)
	require.True(t, queued)
	require.Nil(t, toBackend)
	require.NotNil(t, ack)
	require.Len(t, s.pendingWrite, 1)
}

func TestSession_ConnectFlushesPending(t *testing.T) {
	now := time.Now()
	s, _ := NewSession(testKey(), 500, now)
	s.OnGuestSegment([]byte("queued-data"), now)

	flushed := s.OnBackendConnected(now)
	require.Len(t, flushed, 1)
	require.Equal(t, "queued-data", string(flushed[0]))
	require.Empty(t, s.pendingWrite)
	require.True(t, s.isConnectedToBackend)
}

func TestSession_EstablishedAfterAckWhenConnected(t *testing.T) {
	now := time.Now()
	s, _ := NewSession(testKey(), 500, now)
	s.OnBackendConnected(now)
	s.OnGuestAckNoPayload(now)
	require.Equal(t, StateEstablished, s.State)
}

func TestSession_SegmentAfterConnectGoesDirectToBackend(t *testing.T) {
	now := time.Now()
	s, _ := NewSession(testKey(), 500, now)
	s.OnBackendConnected(now)

	_, toBackend, queued := s.OnGuestSegment([]byte("direct"), now)
	require.False(t, queued)
	require.Equal(t, "direct", string(toBackend))
}

func TestSession_BackendReadableBuildsPshAckAndAdvancesSeq(t *testing.T) {
	now := time.Now()
	s, _ := NewSession(testKey(), 500, now)
	startSeq := s.mySeq

	pkt := s.OnBackendReadable([]byte("response"), now)
	p := codec.Parse(pkt)
	require.Equal(t, codec.FlagPSH|codec.FlagACK, p.TCPFlags)
	require.Equal(t, uint64(startSeq)+uint64(len("response")), s.mySeq)
}

func TestSession_BackendEOFClosesSession(t *testing.T) {
	now := time.Now()
	s, _ := NewSession(testKey(), 500, now)
	pkt := s.OnBackendEOF(now)

	p := codec.Parse(pkt)
	require.Equal(t, codec.FlagFIN|codec.FlagACK, p.TCPFlags)
	require.True(t, s.Terminal())
}

func TestSession_GuestFINClosesSession(t *testing.T) {
	now := time.Now()
	s, _ := NewSession(testKey(), 500, now)
	pkt := s.OnGuestFIN(900, now)

	p := codec.Parse(pkt)
	require.Equal(t, codec.FlagACK, p.TCPFlags)
	require.Equal(t, uint32(901), p.AckNum)
	require.True(t, s.Terminal())
}

func TestSession_GuestRSTClosesSilently(t *testing.T) {
	now := time.Now()
	s, _ := NewSession(testKey(), 500, now)
	s.OnGuestRST()
	require.True(t, s.Terminal())
}

func TestSession_IdleDetection(t *testing.T) {
	now := time.Now()
	s, _ := NewSession(testKey(), 500, now)
	require.False(t, s.IsIdle(now))
	require.True(t, s.IsIdle(now.Add(121*time.Second)))
}
