// Package blocklist implements the persisted set of blocked app UIDs
// consulted by the Proxy Reactor on every ingress packet.
package blocklist

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Store is the write-through persistence boundary for the blocklist.
// Save is called with the full current set after every mutation.
type Store interface {
	Load(ctx context.Context) ([]int32, error)
	Save(ctx context.Context, uids []int32) error
}

// Blocklist is a concurrent set of blocked app UIDs. Contains is on
// the Proxy Reactor's hot path and must never block; mutations go
// through Store synchronously, on the caller's goroutine.
type Blocklist struct {
	mu      sync.RWMutex
	blocked map[int32]struct{}
	store   Store
	log     *log.Entry
}

// New creates an empty Blocklist backed by store (may be nil, in
// which case mutations are in-memory only).
func New(store Store) *Blocklist {
	return &Blocklist{
		blocked: make(map[int32]struct{}),
		store:   store,
		log:     log.WithField("component", "blocklist"),
	}
}

// Load populates the set from the store, replacing any in-memory
// state. Called once at startup.
func (b *Blocklist) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	uids, err := b.store.Load(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked = make(map[int32]struct{}, len(uids))
	for _, uid := range uids {
		b.blocked[uid] = struct{}{}
	}
	return nil
}

// Contains reports whether uid is blocked. Safe for concurrent use,
// including from the Proxy Reactor's hot path.
func (b *Blocklist) Contains(uid int32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, blocked := b.blocked[uid]
	return blocked
}

// Add blocks uid and persists the updated set.
func (b *Blocklist) Add(ctx context.Context, uid int32) {
	b.mu.Lock()
	b.blocked[uid] = struct{}{}
	snapshot := b.snapshotLocked()
	b.mu.Unlock()
	b.persist(ctx, snapshot)
}

// Remove unblocks uid and persists the updated set.
func (b *Blocklist) Remove(ctx context.Context, uid int32) {
	b.mu.Lock()
	delete(b.blocked, uid)
	snapshot := b.snapshotLocked()
	b.mu.Unlock()
	b.persist(ctx, snapshot)
}

func (b *Blocklist) snapshotLocked() []int32 {
	out := make([]int32, 0, len(b.blocked))
	for uid := range b.blocked {
		out = append(out, uid)
	}
	return out
}

func (b *Blocklist) persist(ctx context.Context, uids []int32) {
	if b.store == nil {
		return
	}
	if err := b.store.Save(ctx, uids); err != nil {
		b.log.WithError(err).Warn("blocklist persistence failed")
	}
}
