package stitch

import (
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// translatedPairs builds positions in B and their counterparts in A for a
// true alignment of want, with A being widthA wide.
func translatedPairs(n, widthA int, want image.Point) (posA, posB []image.Point, matches []Correspondence) {
	shift := want.Add(image.Pt(widthA, 0))
	for i := 0; i < n; i++ {
		pb := image.Pt(2+i%9, 10+3*i)
		posB = append(posB, pb)
		posA = append(posA, pb.Add(shift))
		matches = append(matches, Correspondence{B: i, A: i})
	}
	return posA, posB, matches
}

func TestRANSACRecoversCleanTranslation(t *testing.T) {
	want := image.Pt(-12, 5)
	posA, posB, matches := translatedPairs(30, 100, want)

	r := NewRANSAC(500)
	for seed := int64(0); seed < 20; seed++ {
		got := r.Align(rand.New(rand.NewSource(seed)), 100, posA, posB, matches)
		require.Equal(t, want, got, "seed %d", seed)
	}
}

func TestRANSACToleratesOutliers(t *testing.T) {
	want := image.Pt(-12, 5)
	posA, posB, matches := translatedPairs(30, 100, want)
	// Three outliers agreeing on (-90, 40).
	for i := 0; i < 3; i++ {
		pb := image.Pt(5+i, 60+i)
		posB = append(posB, pb)
		posA = append(posA, pb.Add(image.Pt(100-90, 40)))
		matches = append(matches, Correspondence{B: len(posB) - 1, A: len(posA) - 1})
	}

	got := NewRANSAC(500).Align(rand.New(rand.NewSource(42)), 100, posA, posB, matches)
	require.Equal(t, want, got)
}

func TestRANSACRejectsImplausibleSamples(t *testing.T) {
	posA := []image.Point{{0, 0}, {1, 1}}
	posB := []image.Point{{150, 0}, {160, 1}}
	matches := []Correspondence{{B: 0, A: 0}, {B: 1, A: 1}}

	got := NewRANSAC(500).Align(rand.New(rand.NewSource(1)), 100, posA, posB, matches)
	require.Equal(t, image.Point{}, got)
}

func TestRANSACWithoutMatches(t *testing.T) {
	got := NewRANSAC(500).Align(rand.New(rand.NewSource(1)), 100, nil, nil, nil)
	require.Equal(t, image.Point{}, got)
}

func TestRANSACReproducibleForSeed(t *testing.T) {
	posA := []image.Point{{90, 10}, {95, 30}, {80, 5}, {99, 40}}
	posB := []image.Point{{3, 12}, {1, 20}, {9, 9}, {4, 44}}
	matches := []Correspondence{{0, 0}, {1, 1}, {2, 2}, {3, 3}}

	r := NewRANSAC(50)
	a := r.Align(rand.New(rand.NewSource(9)), 100, posA, posB, matches)
	b := r.Align(rand.New(rand.NewSource(9)), 100, posA, posB, matches)
	require.Equal(t, a, b)
}

func TestRANSACDefaultIterations(t *testing.T) {
	require.Equal(t, 500, NewRANSAC(0).Iterations)
	require.Equal(t, 7, NewRANSAC(7).Iterations)
}

func TestRANSACFirstMinimumWinsTies(t *testing.T) {
	// Two correspondences whose candidates are 10 pixels apart: each scores
	// the other's residual, so both totals are exactly 10.
	posA := []image.Point{{90, 20}, {90, 20}}
	posB := []image.Point{{4, 20}, {4, 30}}
	matches := []Correspondence{{B: 0, A: 0}, {B: 1, A: 1}}
	candidates := []image.Point{{-14, 0}, {-14, -10}}

	seen := map[image.Point]bool{}
	for seed := int64(0); seed < 16; seed++ {
		first := rand.New(rand.NewSource(seed)).Intn(len(matches))
		got := NewRANSAC(500).Align(rand.New(rand.NewSource(seed)), 100, posA, posB, matches)
		require.Equal(t, candidates[first], got, "seed %d", seed)
		seen[got] = true
	}
	require.Len(t, seen, 2, "both draw orders should occur across seeds")
}
