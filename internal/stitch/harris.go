package stitch

import (
	"image"

	"panostitch/internal/raster"
)

const (
	defaultHarrisK         = 0.04
	defaultHarrisThreshold = 4000.0
	// featureMargin keeps detections far enough from the border for a full
	// 16x16 descriptor window.
	featureMargin = 8

	smoothSize  = 5
	smoothSigma = 3.0
)

// Harris detects corners from the windowed second-moment matrix of the
// luminance gradients.
type Harris struct {
	K         float64
	Threshold float64
	Margin    int
}

// NewHarris returns a detector with the standard constants.
func NewHarris() *Harris {
	return &Harris{K: defaultHarrisK, Threshold: defaultHarrisThreshold, Margin: featureMargin}
}

// smoothedGradients returns central-difference gradients of the blurred luma.
func smoothedGradients(img *raster.Image) (ix, iy *raster.Gray) {
	smooth := raster.GaussianBlur(raster.Luminance(img), smoothSize, smoothSigma)
	return raster.Gradients(smooth)
}

// Response computes the corner response R = det(M) - k*trace(M)^2 per pixel.
func (h *Harris) Response(img *raster.Image) *raster.Gray {
	ix, iy := smoothedGradients(img)
	sx2 := raster.GaussianBlur(ix.Mul(ix), smoothSize, smoothSigma)
	sy2 := raster.GaussianBlur(iy.Mul(iy), smoothSize, smoothSigma)
	sxy := raster.GaussianBlur(ix.Mul(iy), smoothSize, smoothSigma)

	r := raster.NewGray(img.Width, img.Height)
	for i := range r.Pix {
		a, b, c := sx2.Pix[i], sy2.Pix[i], sxy.Pix[i]
		tr := a + b
		r.Pix[i] = (a*b - c*c) - h.K*tr*tr
	}
	return r
}

var neighbours = [8]image.Point{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

// Detect returns strict local maxima of the response above the threshold,
// in row-major order.
func (h *Harris) Detect(img *raster.Image) []image.Point {
	r := h.Response(img)
	var out []image.Point
	for y := h.Margin; y < r.Height-h.Margin; y++ {
	next:
		for x := h.Margin; x < r.Width-h.Margin; x++ {
			v := r.At(x, y)
			if v <= h.Threshold {
				continue
			}
			for _, d := range neighbours {
				if v <= r.At(x+d.X, y+d.Y) {
					continue next
				}
			}
			out = append(out, image.Pt(x, y))
		}
	}
	return out
}
