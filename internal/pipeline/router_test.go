package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"panostitch/internal/config"
	"panostitch/internal/imageio"
	"panostitch/internal/raster"
	"panostitch/internal/stitch"
	"panostitch/internal/storage"
)

func writePNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// inputSet writes n flat frames and a focal file into a fresh directory.
func inputSet(t *testing.T, n int, focals string) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		writePNG(t, filepath.Join(dir, fmt.Sprintf("img_%02d.png", i)), 40, 30, color.RGBA{120, 130, 140, 255})
	}
	if focals != "" {
		if err := os.WriteFile(filepath.Join(dir, "focal.txt"), []byte(focals), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testRouter(t *testing.T, store *storage.Store) *router {
	t.Helper()
	cfg := config.Default()
	cfg.Processing.Workers = 2
	return newRouter(slog.Default(), store, cfg).(*router)
}

func TestRouterStitchEndToEnd(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	dir := inputSet(t, 3, "400\n400\n400\n")
	out := filepath.Join(t.TempDir(), "pano.png")
	r := testRouter(t, store)

	res := r.Process(context.Background(), Job{ID: "s1", Type: JobStitch, InputPath: dir, Output: out})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected panorama on disk: %v", err)
	}
	if res.Meta["images"] != 3 {
		t.Fatalf("expected 3 images, got %v", res.Meta["images"])
	}
	wantWidth := 3 * stitch.WarpedWidth(40, 400)
	if res.Meta["width"] != wantWidth {
		t.Fatalf("expected width %d, got %v", wantWidth, res.Meta["width"])
	}

	aligns, err := store.Alignments("s1")
	if err != nil {
		t.Fatalf("alignments: %v", err)
	}
	if len(aligns) != 2 {
		t.Fatalf("expected 2 pair alignments, got %d", len(aligns))
	}
	if aligns[1].ImageA != "img_01.png" || aligns[1].ImageB != "img_02.png" {
		t.Fatalf("unexpected pair names %+v", aligns[1])
	}
	frames, err := store.ImageMetadataFor("s1")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if len(frames) != 3 || frames[0].WarpedWidth != stitch.WarpedWidth(40, 400) {
		t.Fatalf("unexpected metadata %+v", frames)
	}
	if _, err := json.Marshal(res.Meta); err != nil {
		t.Fatalf("meta must be JSON encodable: %v", err)
	}
}

func TestRouterStitchWritesDebugImages(t *testing.T) {
	dir := inputSet(t, 2, "300\n300\n")
	debugDir := t.TempDir()
	r := testRouter(t, nil)

	res := r.Process(context.Background(), Job{
		ID:        "s2",
		Type:      JobStitch,
		InputPath: dir,
		Output:    filepath.Join(t.TempDir(), "pano.png"),
		Options:   map[string]any{OptDebugDir: debugDir, "rectifier": "none"},
	})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if res.Meta["rectified"] != false {
		t.Fatalf("expected rectification to be skipped")
	}
	if _, err := os.Stat(filepath.Join(debugDir, "blend", "blend.png")); err != nil {
		t.Fatalf("expected blend debug image: %v", err)
	}
}

func TestRouterStitchFocalMismatch(t *testing.T) {
	dir := inputSet(t, 3, "400\n400\n")
	r := testRouter(t, nil)
	r.save = func(string, *raster.Image) error {
		t.Fatalf("nothing should be saved")
		return nil
	}

	res := r.Process(context.Background(), Job{ID: "s3", Type: JobStitch, InputPath: dir})
	if !errors.Is(res.Error, stitch.ErrFocalMismatch) {
		t.Fatalf("expected ErrFocalMismatch, got %v", res.Error)
	}
}

func TestRouterStitchMissingFocalFile(t *testing.T) {
	dir := inputSet(t, 2, "")
	r := testRouter(t, nil)

	res := r.Process(context.Background(), Job{ID: "s4", Type: JobStitch, InputPath: dir})
	if !errors.Is(res.Error, imageio.ErrFocalFile) {
		t.Fatalf("expected ErrFocalFile, got %v", res.Error)
	}
}

func TestRouterScan(t *testing.T) {
	dir := inputSet(t, 2, "250\n250\n")
	r := testRouter(t, nil)

	res := r.Process(context.Background(), Job{ID: "scan", Type: JobScan, InputPath: dir, Options: map[string]any{OptScale: 0.5}})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	images, ok := res.Meta["images"].([]storage.ImageMetadata)
	if !ok || len(images) != 2 {
		t.Fatalf("unexpected images meta %#v", res.Meta["images"])
	}
	if images[0].Width != 20 || images[0].Height != 15 {
		t.Fatalf("expected scaled 20x15, got %dx%d", images[0].Width, images[0].Height)
	}
	if images[0].WarpedWidth != stitch.WarpedWidth(20, 250) {
		t.Fatalf("unexpected warped width %d", images[0].WarpedWidth)
	}
}

func TestRouterUnknownJobType(t *testing.T) {
	r := testRouter(t, nil)
	res := r.Process(context.Background(), Job{ID: "x", Type: "timelapse"})
	if res.Error == nil {
		t.Fatalf("expected error for unknown job type")
	}
}

func TestSettingsForOverrides(t *testing.T) {
	r := testRouter(t, nil)
	var opts map[string]any
	if err := json.Unmarshal([]byte(`{"scale": 0.25, "seed": 42, "matcher": "brute-force", "blender": ""}`), &opts); err != nil {
		t.Fatal(err)
	}
	s := r.settingsFor(opts)
	if s.ScaleRatio != 0.25 || s.Seed != 42 {
		t.Fatalf("numeric overrides not applied: %+v", s)
	}
	if s.Matcher != "brute-force" || s.Blender != stitch.BlenderLinearAlpha {
		t.Fatalf("stage overrides wrong: %+v", s)
	}
}

func TestLocateFocalFile(t *testing.T) {
	dir := t.TempDir()
	if got := LocateFocalFile(dir, ""); got != "" {
		t.Fatalf("expected no focal file, got %q", got)
	}
	alt := filepath.Join(dir, "focal_lengths.txt")
	if err := os.WriteFile(alt, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := LocateFocalFile(dir, ""); got != alt {
		t.Fatalf("expected %q, got %q", alt, got)
	}
	custom := filepath.Join(dir, "lens.txt")
	if err := os.WriteFile(custom, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := LocateFocalFile(dir, "lens.txt"); got != custom {
		t.Fatalf("expected relative name resolved in input dir, got %q", got)
	}
	if got := LocateFocalFile(filepath.Join(dir, "set.7z"), ""); got != alt {
		t.Fatalf("expected archive sibling lookup, got %q", got)
	}
}
