package raster

import "math"

// Gray is a single-channel float64 grid used for derivatives and responses.
type Gray struct {
	Width  int
	Height int
	Pix    []float64
}

// NewGray allocates a zeroed grid.
func NewGray(width, height int) *Gray {
	return &Gray{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// At returns the value at (x, y), or 0 outside the grid.
func (g *Gray) At(x, y int) float64 {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return 0
	}
	return g.Pix[y*g.Width+x]
}

// Set stores v at (x, y).
func (g *Gray) Set(x, y int, v float64) {
	g.Pix[y*g.Width+x] = v
}

// Mul returns the element-wise product of two same-sized grids.
func (g *Gray) Mul(o *Gray) *Gray {
	out := NewGray(g.Width, g.Height)
	for i := range g.Pix {
		out.Pix[i] = g.Pix[i] * o.Pix[i]
	}
	return out
}

// Luminance converts an RGB image to 8-bit luma values stored as float64.
func Luminance(im *Image) *Gray {
	out := NewGray(im.Width, im.Height)
	for i := range out.Pix {
		p := im.Pix[i*Channels:]
		v := 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
		out.Pix[i] = math.Round(v)
	}
	return out
}

// Mask marks which pixels of a same-sized Image carry data.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

// NewMask allocates an all-false mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

// Valid reports whether (x, y) is set. Coordinates outside the mask are invalid.
func (m *Mask) Valid(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

// Mark sets (x, y).
func (m *Mask) Mark(x, y int) {
	m.Bits[y*m.Width+x] = true
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}
