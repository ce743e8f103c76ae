package stitch

import (
	"math"

	"panostitch/internal/raster"
)

// Cylindrical projects images onto a cylinder of radius f. The warped width
// is chosen so that both the left and right borders land on source pixels,
// leaving no black columns at the edges.
type Cylindrical struct{}

// NewCylindrical returns the cylindrical projector.
func NewCylindrical() *Cylindrical { return &Cylindrical{} }

// cylinderGeometry describes the inverse mapping for one source size.
type cylinderGeometry struct {
	width, height    int
	xCenter, yCenter int
	offset           int
	warpWidth        int
	f                float64
}

func newCylinderGeometry(width, height int, f float64) cylinderGeometry {
	xCenter := width / 2
	xBound := (width - 1) - xCenter
	xWarpBound := int(f * math.Atan2(float64(xBound), f))
	return cylinderGeometry{
		width:     width,
		height:    height,
		xCenter:   xCenter,
		yCenter:   height / 2,
		offset:    xBound - xWarpBound,
		warpWidth: 2 * xWarpBound,
		f:         f,
	}
}

// toSource maps a warped pixel back onto the flat source image.
func (g cylinderGeometry) toSource(ix, iy int) (x, y float64) {
	xc := float64(ix + g.offset - g.xCenter)
	yc := float64(iy - g.yCenter)
	x = g.f * math.Tan(xc/g.f)
	y = math.Sqrt(x*x+g.f*g.f) / g.f * yc
	return x + float64(g.xCenter), y + float64(g.yCenter)
}

// fromSource is the forward mapping, the inverse of toSource.
func (g cylinderGeometry) fromSource(x, y float64) (ix, iy float64) {
	xc := x - float64(g.xCenter)
	yc := y - float64(g.yCenter)
	ix = g.f * math.Atan(xc/g.f)
	iy = g.f * yc / math.Sqrt(xc*xc+g.f*g.f)
	return ix - float64(g.offset) + float64(g.xCenter), iy + float64(g.yCenter)
}

func (g cylinderGeometry) inside(x, y float64) bool {
	return x >= 0 && x <= float64(g.width-1) && y >= 0 && y <= float64(g.height-1)
}

// WarpedWidth returns the width of the projection of a width-pixel wide image.
func WarpedWidth(width int, f float64) int {
	return newCylinderGeometry(width, 1, f).warpWidth
}

// CylinderToSource maps pixel (ix, iy) of the warped image back to the
// source coordinate it samples.
func CylinderToSource(ix, iy, width, height int, f float64) (x, y float64) {
	return newCylinderGeometry(width, height, f).toSource(ix, iy)
}

// SourceToCylinder maps a source coordinate onto the warped image.
func SourceToCylinder(x, y float64, width, height int, f float64) (ix, iy float64) {
	return newCylinderGeometry(width, height, f).fromSource(x, y)
}

// Project returns a new warped image and its validity mask. Pixels whose
// inverse mapping falls outside the source stay black and unmarked.
func (c *Cylindrical) Project(img *raster.Image, focal float64) Warped {
	g := newCylinderGeometry(img.Width, img.Height, focal)
	out := raster.New(g.warpWidth, g.height)
	mask := raster.NewMask(g.warpWidth, g.height)

	for iy := 0; iy < out.Height; iy++ {
		for ix := 0; ix < out.Width; ix++ {
			x, y := g.toSource(ix, iy)
			if !g.inside(x, y) {
				continue
			}
			out.SetRGB(ix, iy, img.Bilinear(x, y))
			mask.Mark(ix, iy)
		}
	}
	out.Quantize()
	return Warped{Image: out, Mask: mask}
}
