package stitch

import (
	"image"
	"math"
	"math/rand"
)

const defaultIterations = 500

// RANSAC fits a translation from one randomly drawn correspondence per trial
// and keeps the candidate with the lowest truncated residual sum. Every
// trial runs; there is no early exit.
type RANSAC struct {
	Iterations int
}

// NewRANSAC returns an aligner running the given number of trials, or 500
// when iterations is not positive.
func NewRANSAC(iterations int) *RANSAC {
	if iterations <= 0 {
		iterations = defaultIterations
	}
	return &RANSAC{Iterations: iterations}
}

// Align returns the translation of B relative to A placed to its right.
// Candidates longer than widthA are rejected, residuals of widthA or more
// do not contribute, and the first minimum wins ties. Without an accepted
// candidate the result is the zero translation.
func (r *RANSAC) Align(rng *rand.Rand, widthA int, posA, posB []image.Point, matches []Correspondence) image.Point {
	if len(matches) == 0 {
		return image.Point{}
	}
	offset := image.Pt(widthA, 0)
	limit := widthA * widthA

	best := math.MaxFloat64
	alignment := image.Point{}
	for k := 0; k < r.Iterations; k++ {
		sample := matches[rng.Intn(len(matches))]
		candidate := posA[sample.A].Sub(posB[sample.B].Add(offset))
		if candidate.X*candidate.X+candidate.Y*candidate.Y > limit {
			continue
		}

		var score float64
		for _, c := range matches {
			d := posA[c.A].Sub(posB[c.B].Add(offset).Add(candidate))
			d2 := d.X*d.X + d.Y*d.Y
			if d2 < limit {
				score += math.Sqrt(float64(d2))
			}
		}
		if score < best {
			best = score
			alignment = candidate
		}
	}
	return alignment
}
