package flowtable

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// payloadCaptureCap bounds the combined size of the hex and printable
// captures kept per flow, per spec's "≤ 1 MiB total" ceiling.
const payloadCaptureCap = 1 << 20

// firstSizesCap bounds the ordered sequence of early packet sizes kept
// per flow for downstream fingerprinting.
const firstSizesCap = 5

// ownerLookupAttemptLimit is the number of packets the Flow Table will
// retry an unknown owner UID before giving up for the life of the flow.
const ownerLookupAttemptLimit = 5

// Flow is the mutable accounting record for one FlowKey. It is created
// once by the Flow Table on the first packet of a new key and mutated
// only by the packet-ingest task thereafter.
type Flow struct {
	ID          uuid.UUID
	Key         FlowKey
	StartTime   time.Time
	LastUpdated time.Time

	Packets  uint64
	Bytes    uint64
	BytesIn  uint64 // guest -> remote
	BytesOut uint64 // remote -> guest

	FirstSizes []int

	iatSum       float64
	iatSumSq     float64
	lastPacketAt time.Time

	Closed bool

	AppUID              int32 // -1 until resolved
	AppName             string
	ownerLookupAttempts int

	SNI string

	payloadCapturedBytes int
	PayloadHex           string
	PayloadText          string
}

// NewFlow creates a fresh accounting record for key at now, with the
// owner UID unresolved.
func NewFlow(key FlowKey, now time.Time) *Flow {
	return &Flow{
		ID:          uuid.New(),
		Key:         key,
		StartTime:   now,
		LastUpdated: now,
		AppUID:      -1,
		FirstSizes:  make([]int, 0, firstSizesCap),
	}
}

// OwnerUnresolved reports whether the owner UID is still unknown and
// additional lookup attempts remain.
func (f *Flow) OwnerUnresolved() bool {
	return f.AppUID < 0 && f.ownerLookupAttempts < ownerLookupAttemptLimit
}

// recordOwnerAttempt notes that a lookup was attempted (whether or not
// it resolved), capping retries at ownerLookupAttemptLimit.
func (f *Flow) recordOwnerAttempt(uid int32) {
	f.ownerLookupAttempts++
	if uid >= 0 {
		f.AppUID = uid
	}
}

// observe folds one packet's accounting into the flow: size, direction,
// inter-arrival time, and the bounded first-sizes sequence.
func (f *Flow) observe(now time.Time, size int, inbound bool) {
	if !f.lastPacketAt.IsZero() {
		iat := now.Sub(f.lastPacketAt).Seconds()
		f.iatSum += iat
		f.iatSumSq += iat * iat
	}
	f.lastPacketAt = now
	f.LastUpdated = now

	f.Packets++
	f.Bytes += uint64(size)
	if inbound {
		f.BytesIn += uint64(size)
	} else {
		f.BytesOut += uint64(size)
	}

	if len(f.FirstSizes) < firstSizesCap {
		f.FirstSizes = append(f.FirstSizes, size)
	}
}

// capturePayload appends payload to the flow's capped hex/text capture,
// stopping once the combined capture reaches payloadCaptureCap bytes.
func (f *Flow) capturePayload(payload []byte) {
	if f.payloadCapturedBytes >= payloadCaptureCap || len(payload) == 0 {
		return
	}
	remaining := payloadCaptureCap - f.payloadCapturedBytes
	chunk := payload
	if len(chunk) > remaining {
		chunk = chunk[:remaining]
	}

	f.PayloadHex += hex.EncodeToString(chunk)
	f.PayloadText += printable(chunk)
	f.payloadCapturedBytes += len(chunk)
}

// printable renders b with every non-printable-ASCII byte replaced by
// a dot, matching the teacher's style of safe best-effort text capture.
func printable(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c >= 0x20 && c < 0x7F {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}

// IATMean returns the mean inter-arrival time in seconds, or 0 if
// fewer than two packets have been observed.
func (f *Flow) IATMean() float64 {
	if f.Packets < 2 {
		return 0
	}
	return f.iatSum / float64(f.Packets-1)
}

// IATVariance returns the biased sample variance of inter-arrival
// times, or 0 if fewer than two packets have been observed.
func (f *Flow) IATVariance() float64 {
	if f.Packets < 2 {
		return 0
	}
	n := float64(f.Packets - 1)
	mean := f.iatSum / n
	return f.iatSumSq/n - mean*mean
}

// DurationMs returns the flow's elapsed lifetime in milliseconds.
func (f *Flow) DurationMs() int64 {
	return f.LastUpdated.Sub(f.StartTime).Milliseconds()
}
