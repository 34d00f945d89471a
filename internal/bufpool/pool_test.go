package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireRelease_Reuse(t *testing.T) {
	p := New(DefaultBufferSize, DefaultCapacity)
	b := p.Acquire(100)
	require.Len(t, b, 100)
	p.Release(b)

	b2 := p.Acquire(200)
	require.Len(t, b2, 200)
	require.Equal(t, uint64(1), p.Stats().Hits)
}

func TestAcquire_OversizeBypassesPool(t *testing.T) {
	p := New(DefaultBufferSize, DefaultCapacity)
	b := p.Acquire(70 * 1024)
	require.Len(t, b, 70*1024)
	require.Equal(t, uint64(1), p.Stats().Directs)

	p.Release(b)
	require.Equal(t, 0, len(p.free))
}

func TestAcquire_ZeroedOnReuse(t *testing.T) {
	p := New(DefaultBufferSize, DefaultCapacity)
	b := p.Acquire(16)
	for i := range b {
		b[i] = 0xFF
	}
	p.Release(b)

	b2 := p.Acquire(16)
	for _, v := range b2 {
		require.Equal(t, byte(0), v)
	}
}

func TestRelease_BoundedCapacity(t *testing.T) {
	p := New(DefaultBufferSize, 2)
	for i := 0; i < 5; i++ {
		p.Release(make([]byte, DefaultBufferSize))
	}
	require.LessOrEqual(t, len(p.free), 2)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	p := New(DefaultBufferSize, DefaultCapacity)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b := p.Acquire(128)
				p.Release(b)
			}
		}()
	}
	wg.Wait()
}
