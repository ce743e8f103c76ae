package stitch

import (
	"image"

	"panostitch/internal/raster"
)

// Accumulate turns pairwise alignments into running offsets: entry i is the
// sum of alignments 0..i. minDy and maxDy are the extreme vertical offsets,
// with zero included in the range.
func Accumulate(alignments []image.Point) (acc []image.Point, minDy, maxDy int) {
	acc = make([]image.Point, len(alignments))
	var sum image.Point
	for i, a := range alignments {
		sum = sum.Add(a)
		acc[i] = sum
		if sum.Y < minDy {
			minDy = sum.Y
		}
		if sum.Y > maxDy {
			maxDy = sum.Y
		}
	}
	return acc, minDy, maxDy
}

// Layout is the canvas size and the top-left placement of every image.
type Layout struct {
	Size    image.Point
	Origins []image.Point
}

// PlanCanvas places images of the given sizes left to right under their
// pairwise alignments. The canvas is tall enough to hold the vertical drift
// in both directions.
func PlanCanvas(sizes []image.Point, alignments []image.Point) Layout {
	if len(sizes) == 0 {
		return Layout{}
	}
	acc, minDy, maxDy := Accumulate(alignments)

	origins := make([]image.Point, len(sizes))
	width := 0
	for n, s := range sizes {
		if n == 0 {
			origins[n] = image.Pt(0, -minDy)
		} else {
			prev := image.Point{}
			if n-1 < len(acc) {
				prev = acc[n-1]
			}
			origins[n] = image.Pt(width+prev.X, -minDy+prev.Y)
		}
		width += s.X
	}
	if len(acc) > 0 {
		width += acc[len(acc)-1].X
	}
	height := sizes[0].Y - minDy + maxDy
	return Layout{Size: image.Pt(width, height), Origins: origins}
}

// LinearAlpha composites images with a horizontal alpha ramp across each
// measured overlap.
type LinearAlpha struct{}

// NewLinearAlpha returns the linear blender.
func NewLinearAlpha() *LinearAlpha { return &LinearAlpha{} }

// Blend places image n at its accumulated offset. The first sample to reach
// a canvas pixel is written as is; later samples are mixed in with weight
// x/overlap, where overlap is the negated horizontal alignment to the left
// neighbour. Without a positive overlap the existing pixel is kept. The
// returned canvas is quantized to 8-bit values.
func (LinearAlpha) Blend(images []Warped, alignments []image.Point) *raster.Image {
	sizes := make([]image.Point, len(images))
	for i, w := range images {
		sizes[i] = image.Pt(w.Image.Width, w.Image.Height)
	}
	layout := PlanCanvas(sizes, alignments)
	canvas := raster.New(layout.Size.X, layout.Size.Y)
	written := raster.NewMask(canvas.Width, canvas.Height)

	for n, w := range images {
		origin := layout.Origins[n]
		overlap := 0.0
		if n > 0 && n-1 < len(alignments) {
			overlap = float64(-alignments[n-1].X)
		}
		for iy := 0; iy < w.Image.Height; iy++ {
			for ix := 0; ix < w.Image.Width; ix++ {
				if !w.Mask.Valid(ix, iy) {
					continue
				}
				x, y := ix+origin.X, iy+origin.Y
				if !canvas.In(x, y) {
					continue
				}
				incoming := w.Image.RGB(ix, iy)
				if !written.Valid(x, y) {
					written.Mark(x, y)
					canvas.SetRGB(x, y, incoming)
					continue
				}
				if overlap <= 0 {
					continue
				}
				a := float32(clamp(float64(ix)/overlap, 0, 1))
				existing := canvas.RGB(x, y)
				var mixed [3]float32
				for c := range mixed {
					mixed[c] = (1-a)*existing[c] + a*incoming[c]
				}
				canvas.SetRGB(x, y, mixed)
			}
		}
	}
	canvas.Quantize()
	return canvas
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
