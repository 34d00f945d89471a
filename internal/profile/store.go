package profile

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"netsentry/internal/ports"
)

// Store is the concurrent map of per-app profiles. GetOrCreate is the
// only mutation the map itself needs to guard; subsequent updates go
// through each AppProfile's own lock.
type Store struct {
	mu       sync.Mutex
	profiles map[int32]*AppProfile
	sink     ports.PersistenceSink
	log      *log.Entry
}

// NewStore creates an empty profile store backed by sink (may be nil
// for persistence-free test use).
func NewStore(sink ports.PersistenceSink) *Store {
	return &Store{
		profiles: make(map[int32]*AppProfile),
		sink:     sink,
		log:      log.WithField("component", "profile"),
	}
}

// GetOrCreate returns the profile for uid, creating one (seeded with
// name) if absent.
func (s *Store) GetOrCreate(uid int32, name string, now time.Time) *AppProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[uid]
	if !ok {
		p = New(uid, name, now)
		s.profiles[uid] = p
	} else if p.AppName == "" && name != "" {
		p.AppName = name
	}
	return p
}

// Get returns the profile for uid without creating one.
func (s *Store) Get(uid int32) (*AppProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[uid]
	return p, ok
}

// PersistDirty writes every profile marked dirty since its last
// persistence pass to the sink, clearing the flag on success.
func (s *Store) PersistDirty(ctx context.Context) {
	s.mu.Lock()
	dirty := make([]*AppProfile, 0)
	for _, p := range s.profiles {
		p.mu.Lock()
		if p.Dirty {
			dirty = append(dirty, p)
		}
		p.mu.Unlock()
	}
	s.mu.Unlock()

	if s.sink == nil {
		return
	}
	for _, p := range dirty {
		row := toRecord(p)
		if err := s.sink.WriteProfile(ctx, row); err != nil {
			s.log.WithError(err).WithField("app_uid", p.AppUID).Warn("profile persistence failed")
			continue
		}
		p.mu.Lock()
		p.Dirty = false
		p.mu.Unlock()
	}
}

func toRecord(p *AppProfile) ports.ProfileRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ports.ProfileRecord{
		AppUID:      p.AppUID,
		AppName:     p.AppName,
		FlowCount:   p.FlowCount,
		FirstSeen:   p.FirstSeen,
		LastUpdated: p.LastUpdated,
		Maturity:    string(p.Maturity),
		SerializedStats: map[string]string{
			"hour_histogram":      p.HourHistogram.Serialize(),
			"inter_flow_interval": p.InterFlowInterval.Serialize(),
			"bytes_in_ema":        p.BytesInEMA.Serialize(),
			"bytes_out_ema":       p.BytesOutEMA.Serialize(),
			"duration_stats":      p.DurationStats.Serialize(),
			"destinations_bloom":  p.destinations.Serialize(),
			"sni_bloom":           p.sniBloom.Serialize(),
		},
	}
}
