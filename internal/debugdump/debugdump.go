// Package debugdump writes intermediate stitching results to disk so a run
// can be inspected stage by stage.
package debugdump

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"panostitch/internal/imageio"
	"panostitch/internal/raster"
	"panostitch/internal/stitch"
)

var (
	featureColor = color.RGBA{R: 255, A: 255}
	matchColor   = color.RGBA{G: 255, A: 255}
)

// Dumper is a stitch.Observer writing PNGs below Dir:
// warp/warp_NN.png, feature/feature_NN.png, matching/matching_NN.png and
// blend/blend.png.
type Dumper struct {
	Dir string
	// MaxWidth downsizes wider debug images; zero keeps full size.
	MaxWidth int
	Log      *slog.Logger
}

var _ stitch.Observer = (*Dumper)(nil)

// New returns a dumper rooted at dir.
func New(dir string, log *slog.Logger) *Dumper {
	if log == nil {
		log = slog.Default()
	}
	return &Dumper{Dir: dir, MaxWidth: 4096, Log: log}
}

func (d *Dumper) OnWarp(index int, w stitch.Warped) {
	d.write("warp", fmt.Sprintf("warp_%02d.png", index), w.Image.ToRGBA())
}

func (d *Dumper) OnFeatures(index int, w stitch.Warped, positions []image.Point) {
	img := w.Image.ToRGBA()
	for _, p := range positions {
		cross(img, p, 2, featureColor)
	}
	d.write("feature", fmt.Sprintf("feature_%02d.png", index), img)
}

// OnMatches draws A and B side by side with a line per correspondence.
func (d *Dumper) OnMatches(pair int, a, b stitch.Warped, posA, posB []image.Point, matches []stitch.Correspondence) {
	wa := a.Image.Width
	h := a.Image.Height
	if b.Image.Height > h {
		h = b.Image.Height
	}
	canvas := image.NewRGBA(image.Rect(0, 0, wa+b.Image.Width, h))
	draw.Draw(canvas, a.Image.Bounds(), a.Image.ToRGBA(), image.Point{}, draw.Src)
	draw.Draw(canvas, b.Image.Bounds().Add(image.Pt(wa, 0)), b.Image.ToRGBA(), image.Point{}, draw.Src)

	for _, m := range matches {
		pa := posA[m.A]
		pb := posB[m.B].Add(image.Pt(wa, 0))
		line(canvas, pa, pb, matchColor)
		cross(canvas, pa, 2, featureColor)
		cross(canvas, pb, 2, featureColor)
	}
	d.write("matching", fmt.Sprintf("matching_%02d.png", pair), canvas)
}

func (d *Dumper) OnBlend(canvas *raster.Image) {
	d.write("blend", "blend.png", canvas.ToRGBA())
}

func (d *Dumper) write(stage, name string, img *image.RGBA) {
	dir := filepath.Join(d.Dir, stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.Log.Warn("debug dump failed", "stage", stage, "error", err)
		return
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		d.Log.Warn("debug dump failed", "stage", stage, "error", err)
		return
	}
	defer f.Close()
	if err := imageio.Encode(f, ".png", d.fit(img)); err != nil {
		d.Log.Warn("debug dump failed", "stage", stage, "path", path, "error", err)
		return
	}
	d.Log.Debug("debug image written", "stage", stage, "path", path)
}

// fit scales img down to MaxWidth, keeping its aspect ratio.
func (d *Dumper) fit(img *image.RGBA) image.Image {
	b := img.Bounds()
	if d.MaxWidth <= 0 || b.Dx() <= d.MaxWidth {
		return img
	}
	h := b.Dy() * d.MaxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, d.MaxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func cross(img *image.RGBA, p image.Point, r int, c color.RGBA) {
	for i := -r; i <= r; i++ {
		set(img, p.X+i, p.Y, c)
		set(img, p.X, p.Y+i, c)
	}
}

// line draws a Bresenham segment from p to q.
func line(img *image.RGBA, p, q image.Point, c color.RGBA) {
	dx, dy := abs(q.X-p.X), -abs(q.Y-p.Y)
	sx, sy := sign(q.X-p.X), sign(q.Y-p.Y)
	err := dx + dy
	x, y := p.X, p.Y
	for {
		set(img, x, y, c)
		if x == q.X && y == q.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func set(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
