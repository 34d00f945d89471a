// Package bufpool implements a bounded FIFO pool of fixed-size byte
// buffers with bounded overflow to direct allocation, matching the
// spec's requirement for a thread-safe buffer pool shared across the
// TUN reader, the packet codec, and the proxy reactor.
package bufpool

import "sync"

const (
	// DefaultBufferSize is the size of pooled buffers.
	DefaultBufferSize = 32 * 1024
	// DefaultCapacity is the number of buffers held by the pool.
	DefaultCapacity = 64
	// maxPoolEligibleSize is the largest buffer the pool will ever
	// hand out or accept back; requests above it bypass the pool.
	maxPoolEligibleSize = 64 * 1024
	// maxPoolEntries bounds how many released buffers the pool keeps,
	// independent of the pool's configured steady-state Capacity.
	maxPoolEntries = 128
)

// Pool is a thread-safe bounded FIFO of reusable byte buffers. Acquire
// and Release have no ordering guarantee relative to each other; a
// buffer released by one goroutine may be handed to another before or
// after further releases land.
type Pool struct {
	mu        sync.Mutex
	free      [][]byte
	bufSize   int
	capacity  int
	hits      uint64
	misses    uint64
	directs   uint64
}

// New creates a Pool of buffers sized bufSize (rounded up to
// DefaultBufferSize if smaller), holding at most capacity entries.
func New(bufSize, capacity int) *Pool {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		free:     make([][]byte, 0, capacity),
		bufSize:  bufSize,
		capacity: capacity,
	}
}

// Acquire returns a zeroed buffer of at least min bytes, positioned at
// offset zero. Requests larger than 64KiB bypass the pool entirely.
func (p *Pool) Acquire(min int) []byte {
	if min > maxPoolEligibleSize {
		p.mu.Lock()
		p.directs++
		p.mu.Unlock()
		return make([]byte, min)
	}

	p.mu.Lock()
	n := len(p.free)
	if n > 0 {
		b := p.free[0]
		if cap(b) >= min {
			p.free = p.free[1:]
			p.hits++
			p.mu.Unlock()
			b = b[:cap(b)]
			clear(b)
			return b[:min]
		}
	}
	p.misses++
	p.mu.Unlock()

	size := p.bufSize
	if min > size {
		size = min
	}
	if size < DefaultBufferSize {
		size = DefaultBufferSize
	}
	return make([]byte, size)[:min]
}

// Release returns b to the pool, iff its capacity is pool-eligible and
// the pool has room. Otherwise it is left for the garbage collector.
func (p *Pool) Release(b []byte) {
	if cap(b) > maxPoolEligibleSize || cap(b) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= maxPoolEntries || len(p.free) >= p.capacity {
		return
	}
	p.free = append(p.free, b[:cap(b)])
}

// Stats reports cumulative acquire-path counters for observability.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Directs uint64
}

// Stats returns a snapshot of the pool's hit/miss/direct-allocation
// counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Hits: p.hits, Misses: p.misses, Directs: p.directs}
}
