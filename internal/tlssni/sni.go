// Package tlssni extracts the server_name (SNI) extension from a TLS
// ClientHello record, without terminating or validating the handshake.
package tlssni

const (
	recordTypeHandshake  = 0x16
	handshakeTypeClient  = 0x01
	extensionServerName  = 0x0000
	serverNameTypeHostOk = 0x00
)

// Extract returns the first server_name hostname found in a ClientHello
// record contained in payload, and whether one was found. Any bounds
// violation or non-ClientHello payload returns ("", false) without
// raising an error — malformed or unrelated payloads are common and
// must never crash the caller.
func Extract(payload []byte) (string, bool) {
	limit := len(payload)
	if limit < 6 {
		return "", false
	}
	if payload[0] != recordTypeHandshake {
		return "", false
	}
	if payload[5] != handshakeTypeClient {
		return "", false
	}

	r := &cursor{buf: payload, pos: 5, limit: limit}

	// Handshake header: type(1) + length(3).
	if !r.skip(4) {
		return "", false
	}
	// ClientHello: version(2) + random(32).
	if !r.skip(2 + 32) {
		return "", false
	}
	// Session ID: length-prefixed (1-byte length).
	if !r.skipLenPrefixed(1) {
		return "", false
	}
	// Cipher suites: length-prefixed (2-byte length).
	if !r.skipLenPrefixed(2) {
		return "", false
	}
	// Compression methods: length-prefixed (1-byte length).
	if !r.skipLenPrefixed(1) {
		return "", false
	}
	if r.pos >= r.limit {
		return "", false
	}

	// Extensions: 2-byte total length, then a sequence of
	// type(2) length(2) data(length).
	extTotal, ok := r.readUint(2)
	if !ok {
		return "", false
	}
	extEnd := r.pos + int(extTotal)
	if extEnd > r.limit {
		return "", false
	}

	for r.pos < extEnd {
		extType, ok := r.readUint(2)
		if !ok {
			return "", false
		}
		extLen, ok := r.readUint(2)
		if !ok {
			return "", false
		}
		extDataEnd := r.pos + int(extLen)
		if extDataEnd > extEnd {
			return "", false
		}

		if extType == extensionServerName {
			if host, ok := parseServerNameList(r.buf[r.pos:extDataEnd]); ok {
				return host, true
			}
		}
		r.pos = extDataEnd
	}

	return "", false
}

// parseServerNameList parses the ServerNameList structure: a 2-byte
// list length, then a sequence of type(1) name-length(2) name(N).
// Returns the first entry whose name-type is host_name (0).
func parseServerNameList(data []byte) (string, bool) {
	r := &cursor{buf: data, pos: 0, limit: len(data)}
	listLen, ok := r.readUint(2)
	if !ok {
		return "", false
	}
	end := r.pos + int(listLen)
	if end > r.limit {
		end = r.limit
	}
	for r.pos < end {
		if r.pos >= r.limit {
			return "", false
		}
		nameType := r.buf[r.pos]
		r.pos++
		nameLen, ok := r.readUint(2)
		if !ok {
			return "", false
		}
		nameEnd := r.pos + int(nameLen)
		if nameEnd > r.limit {
			return "", false
		}
		if nameType == serverNameTypeHostOk {
			return string(r.buf[r.pos:nameEnd]), true
		}
		r.pos = nameEnd
	}
	return "", false
}

// cursor is a minimal bounds-checked reader over a byte slice.
type cursor struct {
	buf   []byte
	pos   int
	limit int
}

func (c *cursor) skip(n int) bool {
	if c.pos+n > c.limit {
		return false
	}
	c.pos += n
	return true
}

func (c *cursor) readUint(width int) (uint32, bool) {
	if c.pos+width > c.limit {
		return 0, false
	}
	var v uint32
	for i := 0; i < width; i++ {
		v = v<<8 | uint32(c.buf[c.pos+i])
	}
	c.pos += width
	return v, true
}

// skipLenPrefixed skips a field whose length is encoded in the
// preceding lenWidth bytes (1 or 2).
func (c *cursor) skipLenPrefixed(lenWidth int) bool {
	n, ok := c.readUint(lenWidth)
	if !ok {
		return false
	}
	return c.skip(int(n))
}
