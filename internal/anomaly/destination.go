package anomaly

import (
	"math"
	"strings"

	"netsentry/internal/codec"
	"netsentry/internal/flowtable"
	"netsentry/internal/profile"
)

// commonPorts are well-known ports that never count as "unusual" on
// their own, regardless of whether the app has used them before.
var commonPorts = map[uint16]bool{
	80: true, 443: true, 8080: true, 8443: true, 53: true, 853: true, 123: true,
}

const (
	dgaMinLabelLen    = 5
	dgaMinEntropy     = 3.5
	dgaMinSNILen      = 20
	tlsStandardPortA  = 443
	tlsStandardPortB  = 8443
	tlsStandardPortC  = 853
)

// DestinationScorer flags flows to destinations, ports or protocols
// the app has never been observed using, and DNS names that look
// machine-generated.
type DestinationScorer struct{}

// Score implements Scorer.
func (DestinationScorer) Score(f *flowtable.Flow, p *profile.AppProfile) Result {
	snap := p.Snapshot()
	var factors []float64
	var reasons []string

	if !p.HasSeenDestination(f.Key.DstIP, f.Key.DstPort) {
		if snap.Maturity == profile.MaturityMature {
			factors = append(factors, 0.6)
		} else {
			factors = append(factors, 0.3)
		}
		reasons = append(reasons, "destination never seen before")
	}

	if _, tracked := p.TopPortCount(f.Key.DstPort); !tracked && !commonPorts[f.Key.DstPort] {
		factors = append(factors, 0.5)
		reasons = append(reasons, "destination port outside usual set")
	}

	isTCP := f.Key.Protocol == codec.ProtoTCP
	if (isTCP && snap.UsesUDP && !snap.UsesTCP) || (!isTCP && snap.UsesTCP && !snap.UsesUDP) {
		factors = append(factors, 0.4)
		reasons = append(reasons, "protocol never used by this app before")
	}

	if f.SNI != "" {
		if looksLikeDGA(f.SNI) {
			factors = append(factors, 0.7)
			reasons = append(reasons, "TLS server name resembles a generated domain")
		}
		if !p.HasSeenSNI(f.SNI) && snap.Maturity == profile.MaturityMature {
			factors = append(factors, 0.3)
			reasons = append(reasons, "new TLS server name")
		}

		if f.Key.DstPort != tlsStandardPortA && f.Key.DstPort != tlsStandardPortB && f.Key.DstPort != tlsStandardPortC {
			factors = append(factors, 0.4)
			reasons = append(reasons, "TLS observed on a non-standard port")
		}
	}

	if len(factors) == 0 {
		return Result{Confidence: p.Confidence()}
	}

	var sum float64
	for _, v := range factors {
		sum += v
	}
	return Result{
		Score:      clip01(sum / float64(len(factors))),
		Confidence: p.Confidence(),
		Reasons:    reasons,
	}
}

// looksLikeDGA applies a coarse domain-generation-algorithm heuristic
// to the leaf label of a TLS server name: long, high-entropy leftmost
// labels on an otherwise-long hostname are characteristic of DGA
// output rather than human-chosen names.
func looksLikeDGA(sni string) bool {
	if len(sni) <= dgaMinSNILen {
		return false
	}
	labels := strings.Split(sni, ".")
	if len(labels) == 0 {
		return false
	}
	leaf := labels[0]
	if len(leaf) < dgaMinLabelLen {
		return false
	}
	return shannonEntropy(leaf) > dgaMinEntropy
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(len(s))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
