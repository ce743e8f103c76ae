package stitch

import (
	"context"
	"image"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"

	"panostitch/internal/logging"
	"panostitch/internal/raster"
)

// Observer receives intermediate results as the stitcher produces them.
// Implementations must not modify what they are handed. OnWarp and
// OnFeatures may be called concurrently for different images.
type Observer interface {
	OnWarp(index int, w Warped)
	OnFeatures(index int, w Warped, positions []image.Point)
	OnMatches(pair int, a, b Warped, posA, posB []image.Point, matches []Correspondence)
	OnBlend(canvas *raster.Image)
}

// Result carries the panorama and the intermediate data that produced it.
type Result struct {
	Panorama   *raster.Image
	Canvas     *raster.Image
	Warped     []Warped
	Features   [][]image.Point
	Matches    [][]Correspondence
	Alignments []image.Point
	Rectified  bool
}

// Stitcher runs the stages over an ordered set of frames.
type Stitcher struct {
	stages   Stages
	log      *slog.Logger
	jobID    string
	workers  int
	seed     int64
	observer Observer
}

// Option configures a Stitcher.
type Option func(*Stitcher)

// WithLogger sets the logger used for per-stage progress.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stitcher) {
		if l != nil {
			s.log = l
		}
	}
}

// WithJobID tags progress log lines with a job identifier.
func WithJobID(id string) Option {
	return func(s *Stitcher) { s.jobID = id }
}

// WithWorkers bounds how many images are projected and described at once.
func WithWorkers(n int) Option {
	return func(s *Stitcher) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSeed fixes the seed of the alignment random sources.
func WithSeed(seed int64) Option {
	return func(s *Stitcher) { s.seed = seed }
}

// WithObserver installs a hook for intermediate results.
func WithObserver(o Observer) Option {
	return func(s *Stitcher) { s.observer = o }
}

// New builds a Stitcher over the given stages.
func New(stages Stages, opts ...Option) *Stitcher {
	s := &Stitcher{
		stages:  stages,
		log:     slog.Default(),
		workers: runtime.NumCPU(),
		seed:    1,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ValidateFrames checks the input set before any stage runs.
func ValidateFrames(frames []Frame) error {
	if len(frames) == 0 {
		return ErrNoImages
	}
	for i, f := range frames {
		if f.Image == nil || f.Image.Width == 0 || f.Image.Height == 0 {
			return errors.Errorf("frame %d (%s) has no pixels", i, f.Name)
		}
		if f.Focal <= 0 || math.IsNaN(f.Focal) || math.IsInf(f.Focal, 0) {
			return errors.Wrapf(ErrInvalidFocal, "frame %d (%s): %v", i, f.Name, f.Focal)
		}
	}
	return nil
}

// FramesFrom pairs decoded images with their focal lengths.
func FramesFrom(names []string, images []*raster.Image, focals []float64) ([]Frame, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if len(focals) != len(images) {
		return nil, errors.Wrapf(ErrFocalMismatch, "%d focal lengths for %d images", len(focals), len(images))
	}
	frames := make([]Frame, len(images))
	for i := range images {
		frames[i] = Frame{Image: images[i], Focal: focals[i]}
		if i < len(names) {
			frames[i].Name = names[i]
		}
	}
	return frames, nil
}

type perImage struct {
	warped    Warped
	positions []image.Point
	desc      []Descriptor
}

// Stitch runs projection, detection and description per image, then
// matching and alignment per adjacent pair, then compositing and
// rectification. Cancellation is checked between stages.
func (s *Stitcher) Stitch(ctx context.Context, frames []Frame) (*Result, error) {
	if err := ValidateFrames(frames); err != nil {
		return nil, err
	}
	start := time.Now()

	items, err := s.perImage(ctx, frames)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Warped:   make([]Warped, len(items)),
		Features: make([][]image.Point, len(items)),
	}
	counts := make([]int, len(items))
	for i, it := range items {
		res.Warped[i] = it.warped
		res.Features[i] = it.positions
		counts[i] = len(it.positions)
	}
	logging.LogProcessingStep(s.log, s.jobID, "features", "complete", map[string]any{
		"images":   len(items),
		"features": counts,
	})

	pairs := len(items) - 1
	res.Matches = make([][]Correspondence, pairs)
	res.Alignments = make([]image.Point, pairs)
	for p := 0; p < pairs; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, b := items[p], items[p+1]
		matches := s.stages.Matcher.Match(b.desc, a.desc)
		rng := rand.New(rand.NewSource(s.seed + int64(p)))
		align := s.stages.Aligner.Align(rng, a.warped.Image.Width, a.positions, b.positions, matches)
		res.Matches[p] = matches
		res.Alignments[p] = align
		if s.observer != nil {
			s.observer.OnMatches(p, a.warped, b.warped, a.positions, b.positions, matches)
		}
		if len(matches) == 0 {
			s.log.Warn("no correspondences between images, using zero alignment", "pair", p)
		}
		logging.LogProcessingStep(s.log, s.jobID, "align", "complete", map[string]any{
			"pair":    p,
			"matches": len(matches),
			"dx":      align.X,
			"dy":      align.Y,
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Canvas = s.stages.Blender.Blend(res.Warped, res.Alignments)
	if s.observer != nil {
		s.observer.OnBlend(res.Canvas)
	}
	logging.LogProcessingStep(s.log, s.jobID, "blend", "complete", map[string]any{
		"width":  res.Canvas.Width,
		"height": res.Canvas.Height,
	})

	res.Panorama = res.Canvas
	if s.stages.Rectifier != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := s.stages.Rectifier.Rectify(res.Canvas)
		if err != nil {
			s.log.Warn("rectification failed, keeping blended canvas", "error", err)
		} else {
			res.Panorama = out
			res.Rectified = true
		}
	}
	logging.LogProcessingStep(s.log, s.jobID, "stitch", "complete", map[string]any{
		"rectified":   res.Rectified,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return res, nil
}

// perImage projects, detects and describes every frame on a bounded pool.
// Results keep the frame order.
func (s *Stitcher) perImage(ctx context.Context, frames []Frame) ([]perImage, error) {
	out := make([]perImage, len(frames))
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for i := range frames {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			f := frames[i]
			w := s.stages.Projector.Project(f.Image, f.Focal)
			if s.observer != nil {
				s.observer.OnWarp(i, w)
			}
			pos := s.stages.Detector.Detect(w.Image)
			if s.observer != nil {
				s.observer.OnFeatures(i, w, pos)
			}
			out[i] = perImage{
				warped:    w,
				positions: pos,
				desc:      s.stages.Describer.Describe(w.Image, pos),
			}
		}(i)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
