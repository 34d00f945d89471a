package blocklist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	saved []int32
}

func (m *memStore) Load(ctx context.Context) ([]int32, error) {
	return append([]int32(nil), m.saved...), nil
}

func (m *memStore) Save(ctx context.Context, uids []int32) error {
	m.saved = append([]int32(nil), uids...)
	return nil
}

func TestBlocklist_AddAndContains(t *testing.T) {
	b := New(nil)
	require.False(t, b.Contains(42))
	b.Add(context.Background(), 42)
	require.True(t, b.Contains(42))
}

func TestBlocklist_RemovePersists(t *testing.T) {
	store := &memStore{}
	b := New(store)
	b.Add(context.Background(), 7)
	b.Remove(context.Background(), 7)
	require.False(t, b.Contains(7))
	require.Empty(t, store.saved)
}

func TestBlocklist_LoadFromStore(t *testing.T) {
	store := &memStore{saved: []int32{1, 2, 3}}
	b := New(store)
	require.NoError(t, b.Load(context.Background()))
	require.True(t, b.Contains(2))
	require.False(t, b.Contains(99))
}
