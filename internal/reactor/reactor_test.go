package reactor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netsentry/internal/codec"
	"netsentry/internal/flowtable"
)

func guestAddr() [4]byte { return [4]byte{10, 0, 0, 2} }

func TestReactor_TCPHandshakeDialsLoopbackListener(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	var dstIP [4]byte
	copy(dstIP[:], ln.Addr().(*net.TCPAddr).IP.To4())

	flows := flowtable.NewTable(nil, nil, nil)
	r := New(flows, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	synRaw := codec.BuildTCP(guestAddr(), dstIP, 40000, port, 500, 0, codec.FlagSYN, nil)
	r.Enqueue(codec.Parse(synRaw))

	select {
	case pkt := <-r.ToGuest():
		p := codec.Parse(pkt)
		require.Equal(t, codec.FlagSYN|codec.FlagACK, p.TCPFlags)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for SYN-ACK")
	}

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(3 * time.Second):
		t.Fatal("listener never accepted backend connection")
	}
}

func TestReactor_UDPEchoRoundTrip(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	go func() {
		buf := make([]byte, 1500)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		pc.WriteTo(buf[:n], addr)
	}()

	port := uint16(pc.LocalAddr().(*net.UDPAddr).Port)
	var dstIP [4]byte
	copy(dstIP[:], pc.LocalAddr().(*net.UDPAddr).IP.To4())

	flows := flowtable.NewTable(nil, nil, nil)
	r := New(flows, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	datagram := codec.BuildUDP(guestAddr(), dstIP, 40000, port, []byte("ping"))
	r.Enqueue(codec.Parse(datagram))

	select {
	case pkt := <-r.ToGuest():
		p := codec.Parse(pkt)
		require.Equal(t, "ping", string(p.Payload()))
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for UDP echo")
	}
}
