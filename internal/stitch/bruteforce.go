package stitch

import "math"

const defaultRatio = 0.7

// BruteForce compares every descriptor of B against every descriptor of A
// and keeps the nearest one when it passes the ratio test.
type BruteForce struct {
	Ratio float64
}

// NewBruteForce returns a matcher with the given ratio threshold; values
// outside (0, 1] fall back to 0.7.
func NewBruteForce(ratio float64) *BruteForce {
	if ratio <= 0 || ratio > 1 {
		ratio = defaultRatio
	}
	return &BruteForce{Ratio: ratio}
}

// Match returns (indexInB, indexInA) pairs in B order.
func (m *BruteForce) Match(b, a []Descriptor) []Correspondence {
	var out []Correspondence
	for bi := range b {
		first, second := math.MaxFloat64, math.MaxFloat64
		firstIdx := 0
		for ai := range a {
			d := distance(&b[bi], &a[ai])
			if d < first {
				second = first
				first = d
				firstIdx = ai
			} else if d < second {
				second = d
			}
		}
		// second == 0 means at least two exact duplicates: ambiguous.
		if second == 0 {
			continue
		}
		if first/second < m.Ratio {
			out = append(out, Correspondence{B: bi, A: firstIdx})
		}
	}
	return out
}

func distance(p, q *Descriptor) float64 {
	var sum float64
	for i := range p {
		d := float64(p[i]) - float64(q[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
