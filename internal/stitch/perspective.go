package stitch

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"panostitch/internal/raster"
)

// Perspective straightens a canvas by mapping the corners of its content
// onto the corners of the canvas.
type Perspective struct{}

// NewPerspective returns the four-point rectifier.
func NewPerspective() *Perspective { return &Perspective{} }

// ContentCorners scans the first and last columns for non-black pixels and
// returns top-left, top-right, bottom-left, bottom-right. A column without
// content yields the canvas corners on that side.
func ContentCorners(canvas *raster.Image) [4]image.Point {
	w, h := canvas.Width, canvas.Height
	corners := [4]image.Point{
		{0, 0}, {w - 1, 0}, {0, h - 1}, {w - 1, h - 1},
	}
	scan := func(x, from, to, step int) (int, bool) {
		for y := from; y != to; y += step {
			if !canvas.IsBlack(x, y) {
				return y, true
			}
		}
		return 0, false
	}
	if y, ok := scan(0, 0, h, 1); ok {
		corners[0].Y = y
	}
	if y, ok := scan(w-1, 0, h, 1); ok {
		corners[1].Y = y
	}
	if y, ok := scan(0, h-1, -1, -1); ok {
		corners[2].Y = y
	}
	if y, ok := scan(w-1, h-1, -1, -1); ok {
		corners[3].Y = y
	}
	return corners
}

// cornerTolerance is how far, in pixels, a solved transform may place a
// source corner from its target before the solve is treated as degenerate.
const cornerTolerance = 1e-3

// PerspectiveTransform solves for the 3x3 homography taking src[i] to dst[i].
// Degenerate corner sets, such as repeated or collinear points, are reported
// as errors.
func PerspectiveTransform(src, dst [4]image.Point) (*mat.Dense, error) {
	srcVec := gocv.NewPointVectorFromPoints(src[:])
	defer srcVec.Close()
	dstVec := gocv.NewPointVectorFromPoints(dst[:])
	defer dstVec.Close()

	cv := gocv.GetPerspectiveTransform(srcVec, dstVec)
	defer cv.Close()
	if cv.Rows() != 3 || cv.Cols() != 3 {
		return nil, errors.New("perspective transform was not solved")
	}

	m := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v := cv.GetDoubleAt(r, c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.New("perspective transform is not finite")
			}
			m.Set(r, c, v)
		}
	}
	if mat.Det(m) == 0 {
		return nil, errors.New("perspective transform is singular")
	}
	for i := range src {
		x, y := project(m, float64(src[i].X), float64(src[i].Y))
		if math.Abs(x-float64(dst[i].X)) > cornerTolerance || math.Abs(y-float64(dst[i].Y)) > cornerTolerance {
			return nil, errors.Errorf("perspective transform misses corner %d", i)
		}
	}
	return m, nil
}

// project applies the homography m to (x, y).
func project(m *mat.Dense, x, y float64) (float64, float64) {
	den := m.At(2, 0)*x + m.At(2, 1)*y + m.At(2, 2)
	if den == 0 {
		return math.Inf(1), math.Inf(1)
	}
	return (m.At(0, 0)*x + m.At(0, 1)*y + m.At(0, 2)) / den,
		(m.At(1, 0)*x + m.At(1, 1)*y + m.At(1, 2)) / den
}

// Rectify warps the canvas so its content corners land on the canvas
// corners. Resampling is bilinear with a black border and the output is
// quantized to 8-bit values.
func (p *Perspective) Rectify(canvas *raster.Image) (*raster.Image, error) {
	if canvas.Width < 2 || canvas.Height < 2 {
		return canvas, nil
	}
	w, h := canvas.Width, canvas.Height
	src := ContentCorners(canvas)
	dst := [4]image.Point{{0, 0}, {w - 1, 0}, {0, h - 1}, {w - 1, h - 1}}

	m, err := PerspectiveTransform(src, dst)
	if err != nil {
		return canvas, err
	}
	transform := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer transform.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			transform.SetDoubleAt(r, c, m.At(r, c))
		}
	}

	in, err := canvas.Mat()
	if err != nil {
		return canvas, err
	}
	defer in.Close()
	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspectiveWithParams(in, &warped, transform, image.Pt(w, h),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})

	out, err := raster.FromMat(warped)
	if err != nil {
		return canvas, errors.Wrap(err, "reading rectified canvas")
	}
	out.Quantize()
	return out, nil
}
