package tlssni

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildClientHello constructs a minimal synthetic TLS record containing
// a ClientHello with a server_name extension for hostname.
func buildClientHello(hostname string) []byte {
	var sni []byte
	sni = append(sni, serverNameTypeHostOk)
	nameLen := make([]byte, 2)
	binary.BigEndian.PutUint16(nameLen, uint16(len(hostname)))
	sni = append(sni, nameLen...)
	sni = append(sni, []byte(hostname)...)

	listLen := make([]byte, 2)
	binary.BigEndian.PutUint16(listLen, uint16(len(sni)))
	serverNameListBody := append(listLen, sni...)

	extType := []byte{0x00, 0x00}
	extLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extLen, uint16(len(serverNameListBody)))
	extension := append(append(extType, extLen...), serverNameListBody...)

	extTotalLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extTotalLen, uint16(len(extension)))

	var hello []byte
	hello = append(hello, make([]byte, 2)...) // client_version
	hello = append(hello, make([]byte, 32)...) // random
	hello = append(hello, 0x00)                 // session id len 0
	hello = append(hello, 0x00, 0x02, 0x00, 0x2f) // cipher suites len=2, one suite
	hello = append(hello, 0x01, 0x00)             // compression methods len=1, one method
	hello = append(hello, extTotalLen...)
	hello = append(hello, extension...)

	handshakeLen := make([]byte, 3)
	handshakeLen[0] = byte(len(hello) >> 16)
	handshakeLen[1] = byte(len(hello) >> 8)
	handshakeLen[2] = byte(len(hello))
	handshake := append([]byte{handshakeTypeClient}, handshakeLen...)
	handshake = append(handshake, hello...)

	record := []byte{recordTypeHandshake, 0x03, 0x03}
	recLen := make([]byte, 2)
	binary.BigEndian.PutUint16(recLen, uint16(len(handshake)))
	record = append(record, recLen...)
	record = append(record, handshake...)
	return record
}

func TestExtract_Found(t *testing.T) {
	rec := buildClientHello("example.com")
	host, ok := Extract(rec)
	require.True(t, ok)
	require.Equal(t, "example.com", host)
}

func TestExtract_TruncatedReturnsNoHostname(t *testing.T) {
	host, ok := Extract(make([]byte, 12))
	require.False(t, ok)
	require.Empty(t, host)
}

func TestExtract_NotClientHello(t *testing.T) {
	rec := buildClientHello("example.com")
	rec[5] = 0x02 // ServerHello, not ClientHello
	host, ok := Extract(rec)
	require.False(t, ok)
	require.Empty(t, host)
}

func TestExtract_NotHandshakeRecord(t *testing.T) {
	rec := buildClientHello("example.com")
	rec[0] = 0x17 // application data
	host, ok := Extract(rec)
	require.False(t, ok)
	require.Empty(t, host)
}

func TestExtract_EmptyPayload(t *testing.T) {
	host, ok := Extract(nil)
	require.False(t, ok)
	require.Empty(t, host)
}
