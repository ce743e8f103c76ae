package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"panostitch/internal/config"
	"panostitch/internal/debugdump"
	"panostitch/internal/fsutil"
	"panostitch/internal/imageio"
	"panostitch/internal/raster"
	"panostitch/internal/rawconv"
	"panostitch/internal/stitch"
	"panostitch/internal/storage"
)

// Option keys understood by the router.
const (
	OptFocalFile = "focal_file"
	OptScale     = "scale"
	OptSeed      = "seed"
	OptWorkers   = "workers"
	OptDebugDir  = "debug_dir"
)

// StageKeys are the per-job strategy override keys, e.g. {"matcher": "brute-force"}.
var StageKeys = []string{"projector", "detector", "descriptor", "matcher", "aligner", "blender", "rectifier"}

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log      *slog.Logger
	store    *storage.Store
	settings config.Stitch
	workers  int
	debugDir string
	raw      imageio.RawDecoder
	save     func(path string, img *raster.Image) error
}

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) Processor {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &router{
		log:      logger,
		store:    store,
		settings: cfg.Stitch,
		workers:  cfg.Processing.Workers,
		debugDir: cfg.Paths.DebugDir,
		raw:      rawconv.New(cfg.Processing.TempDir),
		save:     imageio.Save,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobStitch:
		return r.handleStitch(ctx, job)
	case JobScan:
		return r.handleScan(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

// LocateFocalFile returns the focal length file for an input directory or
// archive: preferred when it exists, otherwise the first of the usual names
// found next to the images. It returns "" when nothing is found.
func LocateFocalFile(input, preferred string) string {
	if preferred != "" {
		if _, err := os.Stat(preferred); err == nil {
			return preferred
		}
	}
	dir := input
	if fsutil.IsArchive(input) {
		dir = filepath.Dir(input)
	}
	candidates := []string{}
	if preferred != "" && !filepath.IsAbs(preferred) {
		candidates = append(candidates, filepath.Join(dir, preferred))
	}
	candidates = append(candidates,
		filepath.Join(dir, "focal.txt"),
		filepath.Join(dir, "focal_length.txt"),
		filepath.Join(dir, "focal_lengths.txt"),
	)
	return fsutil.FirstExisting(candidates...)
}

// settingsFor applies per-job overrides on top of the configured stitch settings.
func (r *router) settingsFor(opts map[string]any) config.Stitch {
	s := r.settings
	s.ScaleRatio = optFloat(opts, OptScale, s.ScaleRatio)
	s.Seed = optInt64(opts, OptSeed, s.Seed)
	stages := []*string{&s.Projector, &s.Detector, &s.Descriptor, &s.Matcher, &s.Aligner, &s.Blender, &s.Rectifier}
	for i, key := range StageKeys {
		*stages[i] = optString(opts, key, *stages[i])
	}
	return s
}

// load decodes the job's images and reads its focal length file.
func (r *router) load(ctx context.Context, job Job, ratio float64) (*imageio.Input, []float64, error) {
	focalPath := LocateFocalFile(job.InputPath, optString(job.Options, OptFocalFile, ""))
	if focalPath == "" {
		return nil, nil, fmt.Errorf("%w: no focal length file for %s", imageio.ErrFocalFile, job.InputPath)
	}
	focals, err := imageio.ReadFocalLengths(focalPath)
	if err != nil {
		return nil, nil, err
	}
	loader := imageio.Loader{ScaleRatio: ratio, Raw: r.raw, Log: r.log}
	in, err := loader.Load(ctx, job.InputPath)
	if err != nil {
		return nil, nil, err
	}
	return in, focals, nil
}

func (r *router) handleStitch(ctx context.Context, job Job) Result {
	settings := r.settingsFor(job.Options)
	meta := map[string]any{
		"input":      job.InputPath,
		"scale":      imageio.ClampRatio(settings.ScaleRatio),
		"seed":       settings.Seed,
		"strategies": settings.StitchOptions(),
	}

	in, focals, err := r.load(ctx, job, settings.ScaleRatio)
	if err != nil {
		return Result{Job: job, Error: err, Meta: meta}
	}
	frames, err := stitch.FramesFrom(in.Names, in.Images, focals)
	if err != nil {
		return Result{Job: job, Error: err, Meta: meta}
	}

	opts := []stitch.Option{
		stitch.WithLogger(r.log),
		stitch.WithJobID(job.ID),
		stitch.WithWorkers(optInt(job.Options, OptWorkers, r.workers)),
		stitch.WithSeed(settings.Seed),
	}
	debugDir := optString(job.Options, OptDebugDir, "")
	if debugDir == "" && settings.DebugImages {
		debugDir = r.debugDir
	}
	if debugDir != "" {
		opts = append(opts, stitch.WithObserver(debugdump.New(debugDir, r.log)))
		meta["debug_dir"] = debugDir
	}

	st := stitch.New(stitch.Build(settings.StitchOptions(), r.log), opts...)
	res, err := st.Stitch(ctx, frames)
	if err != nil {
		return Result{Job: job, Error: err, Meta: meta}
	}

	output := job.Output
	if output == "" {
		output = "panorama.png"
	}
	if err := r.save(output, res.Panorama); err != nil {
		return Result{Job: job, Error: fmt.Errorf("save panorama: %w", err), Meta: meta}
	}

	alignments := r.recordStitch(job.ID, frames, res)
	meta["output"] = output
	meta["images"] = len(frames)
	meta["width"] = res.Panorama.Width
	meta["height"] = res.Panorama.Height
	meta["rectified"] = res.Rectified
	meta["alignments"] = alignments
	return Result{Job: job, Meta: meta}
}

// recordStitch persists per-frame and per-pair results and returns the
// alignments for the job meta.
func (r *router) recordStitch(jobID string, frames []stitch.Frame, res *stitch.Result) []storage.PairAlignment {
	for i, f := range frames {
		md := storage.ImageMetadata{
			JobID:       jobID,
			FilePath:    f.Name,
			FocalLength: f.Focal,
			Width:       f.Image.Width,
			Height:      f.Image.Height,
			WarpedWidth: res.Warped[i].Image.Width,
			Features:    len(res.Features[i]),
		}
		if err := r.store.RecordImageMetadata(md); err != nil {
			r.log.Warn("failed to record image metadata", "file", f.Name, "error", err)
		}
	}

	recs := make([]storage.PairAlignment, len(res.Alignments))
	for p, a := range res.Alignments {
		recs[p] = storage.PairAlignment{
			JobID:     jobID,
			PairIndex: p,
			ImageA:    frames[p].Name,
			ImageB:    frames[p+1].Name,
			DX:        a.X,
			DY:        a.Y,
			Matches:   len(res.Matches[p]),
		}
	}
	if err := r.store.RecordAlignments(jobID, recs); err != nil {
		r.log.Warn("failed to record alignments", "job", jobID, "error", err)
	}
	return recs
}

// handleScan decodes an input set and reports sizes, focal lengths and the
// projected widths without stitching.
func (r *router) handleScan(ctx context.Context, job Job) Result {
	settings := r.settingsFor(job.Options)
	in, focals, err := r.load(ctx, job, settings.ScaleRatio)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	images := make([]storage.ImageMetadata, len(in.Images))
	for i, img := range in.Images {
		md := storage.ImageMetadata{
			JobID:    job.ID,
			FilePath: in.Names[i],
			Width:    img.Width,
			Height:   img.Height,
		}
		if i < len(focals) {
			md.FocalLength = focals[i]
			if focals[i] > 0 {
				md.WarpedWidth = stitch.WarpedWidth(img.Width, focals[i])
			}
		}
		images[i] = md
		if err := r.store.RecordImageMetadata(md); err != nil {
			r.log.Warn("failed to record image metadata", "file", md.FilePath, "error", err)
		}
	}

	meta := map[string]any{
		"images": images,
		"focals": len(focals),
	}
	_, err = stitch.FramesFrom(in.Names, in.Images, focals)
	return Result{Job: job, Error: err, Meta: meta}
}

func optString(opts map[string]any, key, def string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

func optFloat(opts map[string]any, key string, def float64) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

func optInt64(opts map[string]any, key string, def int64) int64 {
	switch v := opts[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	}
	return def
}

func optInt(opts map[string]any, key string, def int) int {
	return int(optInt64(opts, key, int64(def)))
}
