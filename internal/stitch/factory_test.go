package stitch

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildDefaults(t *testing.T) {
	s := Build(DefaultOptions(), slog.Default())
	require.IsType(t, &Cylindrical{}, s.Projector)
	require.IsType(t, &Harris{}, s.Detector)
	require.IsType(t, &SIFT{}, s.Describer)
	require.IsType(t, &BruteForce{}, s.Matcher)
	require.IsType(t, &RANSAC{}, s.Aligner)
	require.IsType(t, &LinearAlpha{}, s.Blender)
	require.IsType(t, &Perspective{}, s.Rectifier)
}

func TestBuildUnknownNameFallsBack(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	o := DefaultOptions()
	o.Detector = "fast"
	o.Matcher = "flann"
	s := Build(o, log)

	require.IsType(t, &Harris{}, s.Detector)
	require.IsType(t, &BruteForce{}, s.Matcher)
	require.Contains(t, buf.String(), "unknown strategy")
	require.Contains(t, buf.String(), "fast")
	require.Contains(t, buf.String(), "flann")
}

func TestBuildAppliesTuning(t *testing.T) {
	o := Options{
		Detector:        " Harris ",
		Rectifier:       RectifierNone,
		HarrisK:         0.05,
		HarrisThreshold: 1000,
		RatioThreshold:  0.6,
		Iterations:      42,
	}
	s := Build(o, nil)

	h := s.Detector.(*Harris)
	require.Equal(t, 0.05, h.K)
	require.Equal(t, 1000.0, h.Threshold)
	require.Equal(t, 0.6, s.Matcher.(*BruteForce).Ratio)
	require.Equal(t, 42, s.Aligner.(*RANSAC).Iterations)
	require.Nil(t, s.Rectifier)
}

func TestValidateNames(t *testing.T) {
	require.NoError(t, ValidateNames(DefaultOptions()))
	require.NoError(t, ValidateNames(Options{}))

	o := DefaultOptions()
	o.Blender = "multiband"
	err := ValidateNames(o)
	require.Error(t, err)
	require.Contains(t, err.Error(), "blender")
}
