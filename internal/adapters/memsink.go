package adapters

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"netsentry/internal/ports"
)

// MemorySink is an in-process ports.PersistenceSink that retains the
// most recent rows written, for local runs and demos where a durable
// store is not yet configured. Every write is logged at debug level.
type MemorySink struct {
	mu        sync.Mutex
	flows     []ports.FlowRecord
	profiles  map[int32]ports.ProfileRecord
	feedback  []ports.FeedbackRecord
	log       *log.Entry
	keepFlows int
}

// NewMemorySink builds a MemorySink retaining at most keepFlows flow
// rows (0 means unbounded).
func NewMemorySink(keepFlows int) *MemorySink {
	return &MemorySink{
		profiles:  make(map[int32]ports.ProfileRecord),
		log:       log.WithField("component", "memsink"),
		keepFlows: keepFlows,
	}
}

// WriteFlows implements ports.PersistenceSink.
func (s *MemorySink) WriteFlows(ctx context.Context, rows []ports.FlowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows = append(s.flows, rows...)
	if s.keepFlows > 0 && len(s.flows) > s.keepFlows {
		s.flows = s.flows[len(s.flows)-s.keepFlows:]
	}
	s.log.WithField("count", len(rows)).Debug("flow batch written")
	return nil
}

// WriteProfile implements ports.PersistenceSink.
func (s *MemorySink) WriteProfile(ctx context.Context, row ports.ProfileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[row.AppUID] = row
	return nil
}

// WriteFeedback implements ports.PersistenceSink.
func (s *MemorySink) WriteFeedback(ctx context.Context, row ports.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, row)
	return nil
}

// Flows returns a copy of the retained flow rows.
func (s *MemorySink) Flows() []ports.FlowRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.FlowRecord, len(s.flows))
	copy(out, s.flows)
	return out
}

// Profiles returns a copy of the retained per-app profile rows.
func (s *MemorySink) Profiles() map[int32]ports.ProfileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int32]ports.ProfileRecord, len(s.profiles))
	for k, v := range s.profiles {
		out[k] = v
	}
	return out
}

// LogAlertSink is a ports.AlertSink that logs every alert through
// logrus (HIGH severity at warn level, any other severity at info), for
// setups without an external alert channel.
type LogAlertSink struct {
	log *log.Entry
}

// NewLogAlertSink builds a LogAlertSink.
func NewLogAlertSink() *LogAlertSink {
	return &LogAlertSink{log: log.WithField("component", "alerts")}
}

// Alert implements ports.AlertSink.
func (s *LogAlertSink) Alert(ctx context.Context, a ports.Alert) {
	entry := s.log.WithFields(log.Fields{
		"severity": a.Severity,
		"app":      a.AppName,
		"score":    a.Score,
		"flow":     a.FlowKey,
		"reasons":  a.Reasons,
	})
	switch a.Severity {
	case "HIGH":
		entry.Warn("anomalous flow")
	default:
		entry.Info("anomalous flow")
	}
}

// MemoryBlocklistStore is an in-process blocklist.Store backed by a
// plain slice, for setups without a durable blocklist backend.
type MemoryBlocklistStore struct {
	mu   sync.Mutex
	uids []int32
}

// NewMemoryBlocklistStore builds an empty MemoryBlocklistStore.
func NewMemoryBlocklistStore() *MemoryBlocklistStore {
	return &MemoryBlocklistStore{}
}

// Load implements blocklist.Store.
func (s *MemoryBlocklistStore) Load(ctx context.Context) ([]int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int32, len(s.uids))
	copy(out, s.uids)
	return out, nil
}

// Save implements blocklist.Store.
func (s *MemoryBlocklistStore) Save(ctx context.Context, uids []int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uids = append([]int32(nil), uids...)
	return nil
}
