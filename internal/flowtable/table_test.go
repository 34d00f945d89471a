package flowtable

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netsentry/internal/codec"
	"netsentry/internal/ports"
)

type fakeOwner struct {
	uid int32
}

func (f fakeOwner) UIDFor(proto uint8, local, remote netip.AddrPort) int32 {
	return f.uid
}

type fakeNames struct {
	name string
}

func (f fakeNames) PackageName(uid int32) (string, bool) {
	if uid < 0 {
		return "", false
	}
	return f.name, true
}

type fakeSink struct {
	flows []ports.FlowRecord
}

func (s *fakeSink) WriteFlows(ctx context.Context, rows []ports.FlowRecord) error {
	s.flows = append(s.flows, rows...)
	return nil
}
func (s *fakeSink) WriteProfile(ctx context.Context, row ports.ProfileRecord) error { return nil }
func (s *fakeSink) WriteFeedback(ctx context.Context, row ports.FeedbackRecord) error {
	return nil
}

func udpPacket() *codec.Packet {
	raw := codec.BuildUDP([4]byte{10, 0, 0, 2}, [4]byte{8, 8, 8, 8}, 40000, 53, []byte("hello"))
	p := codec.Parse(raw)
	return &p
}

func TestTable_GetOrCreateIsIdempotent(t *testing.T) {
	tbl := NewTable(fakeOwner{uid: 1000}, fakeNames{name: "com.example.app"}, &fakeSink{})
	pkt := udpPacket()
	now := time.Now()

	f1 := tbl.Process(pkt, true, now)
	f2 := tbl.Process(pkt, true, now.Add(time.Millisecond))

	require.Same(t, f1, f2)
	require.Equal(t, 1, tbl.Len())
	require.Equal(t, int32(1000), f1.AppUID)
	require.Equal(t, "com.example.app", f1.AppName)
}

func TestTable_ProcessAccumulatesBytesAndPackets(t *testing.T) {
	tbl := NewTable(fakeOwner{uid: -1}, fakeNames{}, &fakeSink{})
	pkt := udpPacket()
	now := time.Now()

	f := tbl.Process(pkt, true, now)
	tbl.Process(pkt, true, now.Add(time.Second))

	require.Equal(t, uint64(2), f.Packets)
	require.Equal(t, uint64(pkt.TotalLen)*2, f.Bytes)
	require.Equal(t, f.Bytes, f.BytesIn)
	require.Equal(t, uint64(0), f.BytesOut)
}

func TestTable_DirectionalBytesTracked(t *testing.T) {
	tbl := NewTable(fakeOwner{uid: -1}, fakeNames{}, &fakeSink{})
	pkt := udpPacket()
	now := time.Now()

	f := tbl.Process(pkt, true, now)
	tbl.Process(pkt, false, now.Add(time.Second))

	require.Equal(t, f.BytesIn+f.BytesOut, f.Bytes)
	require.Greater(t, f.BytesIn, uint64(0))
	require.Greater(t, f.BytesOut, uint64(0))
}

func TestTable_CleanupStaleEvictsIdleAndClosed(t *testing.T) {
	sink := &fakeSink{}
	tbl := NewTable(fakeOwner{uid: -1}, fakeNames{}, sink)
	pkt := udpPacket()
	past := time.Now().Add(-time.Hour)

	tbl.Process(pkt, true, past)
	require.Equal(t, 1, tbl.Len())

	tbl.CleanupStale(context.Background(), time.Now())
	require.Equal(t, 0, tbl.Len())
	require.Len(t, sink.flows, 1)
}

func TestTable_FlushAllDrainsEverything(t *testing.T) {
	sink := &fakeSink{}
	tbl := NewTable(fakeOwner{uid: -1}, fakeNames{name: "resolved.app"}, sink)
	pkt := udpPacket()
	tbl.Process(pkt, true, time.Now())

	tbl.FlushAll(context.Background())
	require.Equal(t, 0, tbl.Len())
	require.Len(t, sink.flows, 1)
}

func TestTable_SnapshotSortedByLastUpdatedDescending(t *testing.T) {
	tbl := NewTable(fakeOwner{uid: -1}, fakeNames{}, &fakeSink{})
	now := time.Now()

	older := codec.Parse(codec.BuildUDP([4]byte{10, 0, 0, 2}, [4]byte{1, 1, 1, 1}, 1, 2, []byte("x")))
	newer := codec.Parse(codec.BuildUDP([4]byte{10, 0, 0, 2}, [4]byte{2, 2, 2, 2}, 3, 4, []byte("y")))

	tbl.Process(&older, true, now.Add(-time.Minute))
	tbl.Process(&newer, true, now)

	snap := tbl.Snapshot()
	require.Len(t, snap, 2)
	require.True(t, snap[0].LastUpdated.After(snap[1].LastUpdated) || snap[0].LastUpdated.Equal(snap[1].LastUpdated))
}

func TestTable_OnEvictRunsBeforePersistence(t *testing.T) {
	sink := &fakeSink{}
	tbl := NewTable(fakeOwner{uid: -1}, fakeNames{}, sink)

	var evicted []FlowKey
	tbl.OnEvict(func(f *Flow) {
		evicted = append(evicted, f.Key)
	})

	pkt := udpPacket()
	tbl.Process(pkt, true, time.Now())
	tbl.FlushAll(context.Background())

	require.Len(t, evicted, 1)
	require.Len(t, sink.flows, 1)
}

func TestFlowKey_Swapped(t *testing.T) {
	k := FlowKey{Protocol: codec.ProtoUDP, SrcIP: [4]byte{1, 2, 3, 4}, SrcPort: 100, DstIP: [4]byte{5, 6, 7, 8}, DstPort: 200}
	s := k.Swapped()
	require.Equal(t, k.SrcIP, s.DstIP)
	require.Equal(t, k.DstPort, s.SrcPort)
}
