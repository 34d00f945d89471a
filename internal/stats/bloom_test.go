package stats

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountingBloom_AddAndCheckNew(t *testing.T) {
	b := NewCountingBloom(1000, 0.01)
	require.True(t, b.AddAndCheckNew([]byte("example.com")))
	require.False(t, b.AddAndCheckNew([]byte("example.com")))
	require.True(t, b.Test([]byte("example.com")))
}

func TestCountingBloom_AbsentItemNotPresent(t *testing.T) {
	b := NewCountingBloom(1000, 0.01)
	b.Add([]byte("a.com"))
	require.False(t, b.Test([]byte("never-added.com")))
}

func TestCountingBloom_RemoveClearsMembership(t *testing.T) {
	b := NewCountingBloom(100, 0.01)
	b.Add([]byte("only-item"))
	require.True(t, b.Test([]byte("only-item")))
	b.Remove([]byte("only-item"))
	require.False(t, b.Test([]byte("only-item")))
}

func TestCountingBloom_LowFalsePositiveRate(t *testing.T) {
	b := NewCountingBloom(5000, 0.01)
	for i := 0; i < 5000; i++ {
		b.Add([]byte(fmt.Sprintf("member-%d", i)))
	}
	falsePositives := 0
	for i := 0; i < 2000; i++ {
		if b.Test([]byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}
	require.Less(t, falsePositives, 200) // well under 10%, sanity bound not a tight proof
}

func TestCountingBloom_KClampedToRange(t *testing.T) {
	b := NewCountingBloom(1, 0.0000001)
	require.GreaterOrEqual(t, b.k, uint64(minBloomHashes))
	require.LessOrEqual(t, b.k, uint64(maxBloomHashes))
}

func TestCountingBloom_SerializeRoundTrip(t *testing.T) {
	b := NewCountingBloom(500, 0.01)
	b.Add([]byte("persisted.example"))
	s := b.Serialize()

	b2, err := DeserializeCountingBloom(s)
	require.NoError(t, err)
	require.True(t, b2.Test([]byte("persisted.example")))
	require.False(t, b2.Test([]byte("not-persisted.example")))
}
