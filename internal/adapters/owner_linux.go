//go:build linux

// Package adapters holds the concrete OS/storage/alert implementations
// that cmd/netsentryd wires behind the ports interfaces; nothing in
// internal/ imports this package.
package adapters

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ProcOwnerResolver resolves a socket's owning UID by scanning
// /proc/net/{tcp,udp} for the matching local/remote address pair, the
// same source the "netstat"/"ss" tools read from.
type ProcOwnerResolver struct{}

// NewProcOwnerResolver builds a ports.OwnerResolver backed by procfs.
func NewProcOwnerResolver() *ProcOwnerResolver {
	return &ProcOwnerResolver{}
}

// UIDFor implements ports.OwnerResolver.
func (r *ProcOwnerResolver) UIDFor(proto uint8, local, remote netip.AddrPort) int32 {
	path := "/proc/net/tcp"
	if proto == 17 {
		path = "/proc/net/udp"
	}
	uid, ok := scanProcNet(path, local, remote)
	if !ok {
		return -1
	}
	return uid
}

func scanProcNet(path string, local, remote netip.AddrPort) (int32, bool) {
	f, err := os.Open(path)
	if err != nil {
		return -1, false
	}
	defer f.Close()

	wantLocal := encodeAddrPort(local)
	wantRemote := encodeAddrPort(remote)

	sc := bufio.NewScanner(f)
	sc.Scan() // header row
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 8 {
			continue
		}
		if fields[1] == wantLocal && fields[2] == wantRemote {
			uid, err := strconv.Atoi(fields[7])
			if err != nil {
				return -1, false
			}
			return int32(uid), true
		}
	}
	return -1, false
}

// encodeAddrPort renders ap the way /proc/net/tcp does: the IPv4 octets
// in reverse order (the kernel prints the address host-endian) as
// upper-case hex, a colon, then the port as four upper-case hex digits.
func encodeAddrPort(ap netip.AddrPort) string {
	a4 := ap.Addr().As4()
	ipHex := hex.EncodeToString([]byte{a4[3], a4[2], a4[1], a4[0]})
	return fmt.Sprintf("%s:%04X", strings.ToUpper(ipHex), ap.Port())
}

// PackageNameResolver maps a UID back to the owning process name by
// reading /proc/<pid>/status for every pid until one matches, caching
// hits since a UID's owning binary rarely changes mid-run.
type PackageNameResolver struct {
	mu    sync.Mutex
	cache map[int32]string
}

// NewPackageNameResolver builds a ports.AppNameResolver backed by procfs.
func NewPackageNameResolver() *PackageNameResolver {
	return &PackageNameResolver{cache: make(map[int32]string)}
}

// PackageName implements ports.AppNameResolver.
func (r *PackageNameResolver) PackageName(uid int32) (string, bool) {
	r.mu.Lock()
	if name, ok := r.cache[uid]; ok {
		r.mu.Unlock()
		return name, true
	}
	r.mu.Unlock()

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		name, ok := matchProcess(pid, uid)
		if !ok {
			continue
		}
		r.mu.Lock()
		r.cache[uid] = name
		r.mu.Unlock()
		return name, true
	}
	return "", false
}

func matchProcess(pid int, uid int32) (string, bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return "", false
	}
	var name string
	var matched bool
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "Name:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
		case strings.HasPrefix(line, "Uid:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if want, err := strconv.Atoi(fields[1]); err == nil && int32(want) == uid {
					matched = true
				}
			}
		}
	}
	if matched && name != "" {
		return name, true
	}
	return "", false
}
