package stats

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
)

const (
	minBloomHashes = 1
	maxBloomHashes = 16
	nibbleMax      = 15 // saturation ceiling for the 4-bit counting variant
)

// CountingBloom is a counting Bloom filter sized from an expected item
// count and target false-positive rate, using double hashing over two
// independent FNV variants to derive its k probe positions. Each slot
// is a 4-bit saturating counter, two packed per byte, which lets items
// be removed again without needing a second non-counting filter.
type CountingBloom struct {
	m        uint64
	k        uint64
	counters []byte
}

// NewCountingBloom sizes a filter for n expected items at false
// positive rate fp (0,1), per m = ceil(-n*ln(fp)/(ln 2)^2) and
// k = ceil(m/n * ln 2), with k clamped to [1,16].
func NewCountingBloom(n uint64, fp float64) *CountingBloom {
	if n == 0 {
		n = 1
	}
	if fp <= 0 || fp >= 1 {
		fp = 0.01
	}
	ln2 := math.Ln2
	m := uint64(math.Ceil(-float64(n) * math.Log(fp) / (ln2 * ln2)))
	if m == 0 {
		m = 1
	}
	k := uint64(math.Ceil(float64(m) / float64(n) * ln2))
	if k < minBloomHashes {
		k = minBloomHashes
	}
	if k > maxBloomHashes {
		k = maxBloomHashes
	}
	return &CountingBloom{
		m:        m,
		k:        k,
		counters: make([]byte, (m+1)/2),
	}
}

func hash1(data []byte) uint64 {
	h := fnv.New64()
	h.Write(data)
	return h.Sum64()
}

func hash2(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// slot returns the i-th (0-indexed) probe position for data via
// double hashing: h1(x) + i*h2(x) mod m.
func (b *CountingBloom) slot(data []byte, i uint64) uint64 {
	h1, h2 := hash1(data), hash2(data)
	return (h1 + i*h2) % b.m
}

func (b *CountingBloom) get(idx uint64) uint8 {
	byteVal := b.counters[idx/2]
	if idx%2 == 0 {
		return byteVal & 0x0F
	}
	return (byteVal >> 4) & 0x0F
}

func (b *CountingBloom) set(idx uint64, v uint8) {
	if v > nibbleMax {
		v = nibbleMax
	}
	byteIdx := idx / 2
	if idx%2 == 0 {
		b.counters[byteIdx] = (b.counters[byteIdx] & 0xF0) | v
	} else {
		b.counters[byteIdx] = (b.counters[byteIdx] & 0x0F) | (v << 4)
	}
}

// Add records one occurrence of item, saturating each probed counter
// at 15 rather than overflowing.
func (b *CountingBloom) Add(item []byte) {
	for i := uint64(0); i < b.k; i++ {
		idx := b.slot(item, i)
		if v := b.get(idx); v < nibbleMax {
			b.set(idx, v+1)
		}
	}
}

// Remove undoes one occurrence of item, flooring each probed counter
// at 0. Removing an item that was never added (or removing it more
// times than it was added) corrupts the filter's accounting for any
// other item sharing those slots; callers must track add/remove
// balance themselves.
func (b *CountingBloom) Remove(item []byte) {
	for i := uint64(0); i < b.k; i++ {
		idx := b.slot(item, i)
		if v := b.get(idx); v > 0 {
			b.set(idx, v-1)
		}
	}
}

// Test reports whether item is possibly present (true admits false
// positives; false is a firm guarantee of absence).
func (b *CountingBloom) Test(item []byte) bool {
	for i := uint64(0); i < b.k; i++ {
		if b.get(b.slot(item, i)) == 0 {
			return false
		}
	}
	return true
}

// AddAndCheckNew adds item and reports whether it was not already
// present (per Test) beforehand. Used by the app profile's
// seen-destination tracking to avoid double-counting
// a repeat observation as a new one.
func (b *CountingBloom) AddAndCheckNew(item []byte) bool {
	isNew := !b.Test(item)
	b.Add(item)
	return isNew
}

// Serialize renders the filter as "m,k|hexcounters".
func (b *CountingBloom) Serialize() string {
	return fmt.Sprintf("%d,%d|%s", b.m, b.k, hex.EncodeToString(b.counters))
}

// DeserializeCountingBloom parses the output of Serialize.
func DeserializeCountingBloom(s string) (*CountingBloom, error) {
	halves := strings.SplitN(s, "|", 2)
	if len(halves) != 2 {
		return nil, fmt.Errorf("stats: bad CountingBloom encoding %q", s)
	}
	header := strings.Split(halves[0], ",")
	if len(header) != 2 {
		return nil, fmt.Errorf("stats: bad CountingBloom header %q", halves[0])
	}
	m, err := strconv.ParseUint(header[0], 10, 64)
	if err != nil {
		return nil, err
	}
	k, err := strconv.ParseUint(header[1], 10, 64)
	if err != nil {
		return nil, err
	}
	counters, err := hex.DecodeString(halves[1])
	if err != nil {
		return nil, err
	}
	return &CountingBloom{m: m, k: k, counters: counters}, nil
}
