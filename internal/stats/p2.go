package stats

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// P2Quantile is Jain & Chlamtac's P² streaming quantile estimator: five
// markers tracking a single target quantile p in O(1) space, updated
// with a piecewise-parabolic (falling back to linear) adjustment.
type P2Quantile struct {
	P         float64
	count     int
	initial   []float64  // buffers the first 5 observations
	q         [5]float64 // marker heights
	n         [5]float64 // marker positions (integers, stored as float64)
	desired   [5]float64 // desired marker positions
	increment [5]float64
}

// NewP2Quantile creates an estimator for quantile p in (0,1).
func NewP2Quantile(p float64) *P2Quantile {
	return &P2Quantile{
		P:       p,
		initial: make([]float64, 0, 5),
	}
}

// Update folds a new observation into the estimator.
func (e *P2Quantile) Update(x float64) {
	e.count++
	if len(e.initial) < 5 {
		e.initial = append(e.initial, x)
		if len(e.initial) == 5 {
			e.initializeFromBuffer()
		}
		return
	}

	// Step 1: find cell k and adjust extremes.
	if x < e.q[0] {
		e.q[0] = x
		e.updateMarkers(0)
		return
	}
	if x >= e.q[4] {
		e.q[4] = x
		e.updateMarkers(3)
		return
	}
	for k := 0; k < 4; k++ {
		if x >= e.q[k] && x < e.q[k+1] {
			e.updateMarkers(k)
			return
		}
	}
}

func (e *P2Quantile) initializeFromBuffer() {
	sorted := append([]float64(nil), e.initial...)
	sort.Float64s(sorted)
	for i := 0; i < 5; i++ {
		e.q[i] = sorted[i]
		e.n[i] = float64(i + 1)
	}
	p := e.P
	e.desired = [5]float64{1, 1 + 2*p, 1 + 4*p, 3 + 2*p, 5}
	e.increment = [5]float64{0, p / 2, p, (1 + p) / 2, 1}
}

// updateMarkers performs step 2-4 of the P² algorithm for an
// observation that landed in cell k (0..3).
func (e *P2Quantile) updateMarkers(k int) {
	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}
	for i := 0; i < 5; i++ {
		e.desired[i] += e.increment[i]
	}

	for i := 1; i <= 3; i++ {
		d := e.desired[i] - e.n[i]
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			sign := 1.0
			if d < 0 {
				sign = -1.0
			}
			qNew := e.parabolic(i, sign)
			if e.q[i-1] < qNew && qNew < e.q[i+1] {
				e.q[i] = qNew
			} else {
				e.q[i] = e.linear(i, sign)
			}
			e.n[i] += sign
		}
	}
}

func (e *P2Quantile) parabolic(i int, d float64) float64 {
	qip1, qi, qim1 := e.q[i+1], e.q[i], e.q[i-1]
	nip1, ni, nim1 := e.n[i+1], e.n[i], e.n[i-1]

	a := d / (nip1 - nim1)
	b := (ni - nim1 + d) * (qip1 - qi) / (nip1 - ni)
	c := (nip1 - ni - d) * (qi - qim1) / (ni - nim1)
	return qi + a*(b+c)
}

func (e *P2Quantile) linear(i int, d float64) float64 {
	if d > 0 {
		return e.q[i] + (e.q[i+1]-e.q[i])/(e.n[i+1]-e.n[i])
	}
	return e.q[i] - (e.q[i-1]-e.q[i])/(e.n[i-1]-e.n[i])
}

// Value returns the current quantile estimate. Before 5 observations
// have arrived it returns the (exact) value from the sorted buffer.
func (e *P2Quantile) Value() float64 {
	if len(e.initial) < 5 {
		if len(e.initial) == 0 {
			return 0
		}
		sorted := append([]float64(nil), e.initial...)
		sort.Float64s(sorted)
		idx := int(e.P * float64(len(sorted)-1))
		return sorted[idx]
	}
	return e.q[2]
}

// Count returns the number of observations folded in.
func (e *P2Quantile) Count() int { return e.count }

// Serialize renders the estimator state as a pipe-separated record.
func (e *P2Quantile) Serialize() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%d", strconv.FormatFloat(e.P, 'g', -1, 64), e.count)
	fmt.Fprintf(&sb, "|%s", joinFloats(e.initial))
	fmt.Fprintf(&sb, "|%s", joinFloatArray(e.q))
	fmt.Fprintf(&sb, "|%s", joinFloatArray(e.n))
	fmt.Fprintf(&sb, "|%s", joinFloatArray(e.desired))
	fmt.Fprintf(&sb, "|%s", joinFloatArray(e.increment))
	return sb.String()
}

// DeserializeP2Quantile parses the output of Serialize.
func DeserializeP2Quantile(s string) (*P2Quantile, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 7 {
		return nil, fmt.Errorf("stats: bad P2Quantile encoding %q", s)
	}
	p, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, err
	}
	initial, err := parseFloats(parts[2])
	if err != nil {
		return nil, err
	}
	q, err := parseFloatArray5(parts[3])
	if err != nil {
		return nil, err
	}
	n, err := parseFloatArray5(parts[4])
	if err != nil {
		return nil, err
	}
	desired, err := parseFloatArray5(parts[5])
	if err != nil {
		return nil, err
	}
	increment, err := parseFloatArray5(parts[6])
	if err != nil {
		return nil, err
	}
	e := &P2Quantile{P: p, count: count, initial: initial, q: q, n: n, desired: desired, increment: increment}
	return e, nil
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func joinFloatArray(v [5]float64) string {
	return joinFloats(v[:])
}

func parseFloats(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func parseFloatArray5(s string) ([5]float64, error) {
	var out [5]float64
	vals, err := parseFloats(s)
	if err != nil {
		return out, err
	}
	if len(vals) != 5 {
		return out, fmt.Errorf("stats: expected 5 values, got %d", len(vals))
	}
	copy(out[:], vals)
	return out, nil
}

// QuantileSet bundles four quantile estimators for one metric: P50, P90,
// P95 and P99.
type QuantileSet struct {
	P50 *P2Quantile
	P90 *P2Quantile
	P95 *P2Quantile
	P99 *P2Quantile
}

// NewQuantileSet creates a fresh set of P50/P90/P95/P99 estimators.
func NewQuantileSet() *QuantileSet {
	return &QuantileSet{
		P50: NewP2Quantile(0.50),
		P90: NewP2Quantile(0.90),
		P95: NewP2Quantile(0.95),
		P99: NewP2Quantile(0.99),
	}
}

// Update folds x into all four estimators.
func (qs *QuantileSet) Update(x float64) {
	qs.P50.Update(x)
	qs.P90.Update(x)
	qs.P95.Update(x)
	qs.P99.Update(x)
}

// ExtremityScore maps x against the tracked quantiles onto a 0..1
// severity scale: at or below P50 is unremarkable, beyond twice the P99
// is maximally extreme.
func (qs *QuantileSet) ExtremityScore(x float64) float64 {
	switch {
	case x <= qs.P50.Value():
		return 0
	case x <= qs.P90.Value():
		return 0.3
	case x <= qs.P95.Value():
		return 0.5
	case x <= qs.P99.Value():
		return 0.7
	case x <= 2*qs.P99.Value():
		return 0.85
	default:
		return 1.0
	}
}

// Serialize renders the set as a semicolon-joined record of the four
// estimators, in P50;P90;P95;P99 order.
func (qs *QuantileSet) Serialize() string {
	return strings.Join([]string{
		qs.P50.Serialize(),
		qs.P90.Serialize(),
		qs.P95.Serialize(),
		qs.P99.Serialize(),
	}, ";")
}

// DeserializeQuantileSet parses the output of Serialize.
func DeserializeQuantileSet(s string) (*QuantileSet, error) {
	parts := strings.Split(s, ";")
	if len(parts) != 4 {
		return nil, fmt.Errorf("stats: bad QuantileSet encoding %q", s)
	}
	p50, err := DeserializeP2Quantile(parts[0])
	if err != nil {
		return nil, err
	}
	p90, err := DeserializeP2Quantile(parts[1])
	if err != nil {
		return nil, err
	}
	p95, err := DeserializeP2Quantile(parts[2])
	if err != nil {
		return nil, err
	}
	p99, err := DeserializeP2Quantile(parts[3])
	if err != nil {
		return nil, err
	}
	return &QuantileSet{P50: p50, P90: p90, P95: p95, P99: p99}, nil
}
