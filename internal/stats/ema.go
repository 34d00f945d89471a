// Package stats implements the streaming statistical primitives shared
// by the app profile store and the anomaly ensemble: an exponential
// moving average, Welford running variance, a P² quantile estimator,
// an hourly histogram, and a Bloom filter. Every primitive serializes
// to a short string and deserializes losslessly.
package stats

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultAlpha is the default EMA smoothing factor.
const DefaultAlpha = 0.1

// EMA is an exponential moving average: value <- alpha*x + (1-alpha)*value,
// with the first observation initializing value directly.
type EMA struct {
	Alpha   float64
	Value   float64
	Count   int64
	inited  bool
}

// NewEMA creates an EMA with the given smoothing factor. alpha<=0
// defaults to DefaultAlpha.
func NewEMA(alpha float64) *EMA {
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	return &EMA{Alpha: alpha}
}

// Update folds x into the moving average.
func (e *EMA) Update(x float64) {
	if !e.inited {
		e.Value = x
		e.inited = true
	} else {
		e.Value = e.Alpha*x + (1-e.Alpha)*e.Value
	}
	e.Count++
}

// IsStable reports whether enough observations have been folded in for
// the average to have converged past its initial transient:
// count >= ceil(1/alpha).
func (e *EMA) IsStable() bool {
	threshold := int64(math.Ceil(1 / e.Alpha))
	return e.Count >= threshold
}

// Serialize renders the EMA as "alpha,value,count,inited".
func (e *EMA) Serialize() string {
	inited := 0
	if e.inited {
		inited = 1
	}
	return fmt.Sprintf("%s,%s,%d,%d",
		strconv.FormatFloat(e.Alpha, 'g', -1, 64),
		strconv.FormatFloat(e.Value, 'g', -1, 64),
		e.Count, inited)
}

// DeserializeEMA parses the output of Serialize.
func DeserializeEMA(s string) (*EMA, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("stats: bad EMA encoding %q", s)
	}
	alpha, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, err
	}
	value, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, err
	}
	count, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, err
	}
	inited, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, err
	}
	return &EMA{Alpha: alpha, Value: value, Count: count, inited: inited != 0}, nil
}
