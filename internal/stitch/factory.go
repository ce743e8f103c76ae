package stitch

import (
	"fmt"
	"log/slog"
	"strings"
)

// Strategy names accepted by Build.
const (
	ProjectorCylindrical = "cylindrical"
	DetectorHarris       = "harris"
	DescriptorSIFT       = "sift"
	MatcherBruteForce    = "brute-force"
	AlignerRANSAC        = "ransac"
	BlenderLinearAlpha   = "linear-alpha"
	RectifierPerspective = "perspective"
	// RectifierNone skips rectification.
	RectifierNone = "none"
)

// Options selects a strategy per stage and tunes them. Empty names and zero
// values pick the defaults.
type Options struct {
	Projector  string
	Detector   string
	Descriptor string
	Matcher    string
	Aligner    string
	Blender    string
	Rectifier  string

	HarrisK         float64
	HarrisThreshold float64
	RatioThreshold  float64
	Iterations      int
}

// DefaultOptions names the built-in strategy of every stage.
func DefaultOptions() Options {
	return Options{
		Projector:  ProjectorCylindrical,
		Detector:   DetectorHarris,
		Descriptor: DescriptorSIFT,
		Matcher:    MatcherBruteForce,
		Aligner:    AlignerRANSAC,
		Blender:    BlenderLinearAlpha,
		Rectifier:  RectifierPerspective,

		HarrisK:         defaultHarrisK,
		HarrisThreshold: defaultHarrisThreshold,
		RatioThreshold:  defaultRatio,
		Iterations:      defaultIterations,
	}
}

// Stages is one concrete implementation per stage. A nil Rectifier skips
// rectification.
type Stages struct {
	Projector Projector
	Detector  Detector
	Describer Describer
	Matcher   Matcher
	Aligner   Aligner
	Blender   Blender
	Rectifier Rectifier
}

// KnownNames lists the accepted names per stage.
func KnownNames() map[string][]string {
	return map[string][]string{
		"projector":  {ProjectorCylindrical},
		"detector":   {DetectorHarris},
		"descriptor": {DescriptorSIFT},
		"matcher":    {MatcherBruteForce},
		"aligner":    {AlignerRANSAC},
		"blender":    {BlenderLinearAlpha},
		"rectifier":  {RectifierPerspective, RectifierNone},
	}
}

// ValidateNames reports the first stage whose name is not known.
func ValidateNames(o Options) error {
	pairs := [][2]string{
		{"projector", o.Projector},
		{"detector", o.Detector},
		{"descriptor", o.Descriptor},
		{"matcher", o.Matcher},
		{"aligner", o.Aligner},
		{"blender", o.Blender},
		{"rectifier", o.Rectifier},
	}
	known := KnownNames()
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		if !contains(known[p[0]], normalize(p[1])) {
			return fmt.Errorf("unknown %s %q (known: %s)", p[0], p[1], strings.Join(known[p[0]], ", "))
		}
	}
	return nil
}

// Build maps option names to implementations. An unknown name is logged and
// replaced by the stage default.
func Build(o Options, log *slog.Logger) Stages {
	if log == nil {
		log = slog.Default()
	}

	harris := NewHarris()
	if o.HarrisK > 0 {
		harris.K = o.HarrisK
	}
	if o.HarrisThreshold > 0 {
		harris.Threshold = o.HarrisThreshold
	}

	return Stages{
		Projector: choose(log, "projector", o.Projector, ProjectorCylindrical, map[string]func() Projector{
			ProjectorCylindrical: func() Projector { return NewCylindrical() },
		}),
		Detector: choose(log, "detector", o.Detector, DetectorHarris, map[string]func() Detector{
			DetectorHarris: func() Detector { return harris },
		}),
		Describer: choose(log, "descriptor", o.Descriptor, DescriptorSIFT, map[string]func() Describer{
			DescriptorSIFT: func() Describer { return NewSIFT() },
		}),
		Matcher: choose(log, "matcher", o.Matcher, MatcherBruteForce, map[string]func() Matcher{
			MatcherBruteForce: func() Matcher { return NewBruteForce(o.RatioThreshold) },
		}),
		Aligner: choose(log, "aligner", o.Aligner, AlignerRANSAC, map[string]func() Aligner{
			AlignerRANSAC: func() Aligner { return NewRANSAC(o.Iterations) },
		}),
		Blender: choose(log, "blender", o.Blender, BlenderLinearAlpha, map[string]func() Blender{
			BlenderLinearAlpha: func() Blender { return NewLinearAlpha() },
		}),
		Rectifier: choose(log, "rectifier", o.Rectifier, RectifierPerspective, map[string]func() Rectifier{
			RectifierPerspective: func() Rectifier { return NewPerspective() },
			RectifierNone:        func() Rectifier { return nil },
		}),
	}
}

func choose[T any](log *slog.Logger, stage, name, def string, variants map[string]func() T) T {
	n := normalize(name)
	if n == "" {
		n = def
	}
	mk, ok := variants[n]
	if !ok {
		log.Warn("unknown strategy, using default", "stage", stage, "name", name, "default", def)
		mk = variants[def]
	}
	return mk()
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
