// Package raster holds the in-memory pixel containers shared by the stitching
// stages and the small set of filters they are built from.
package raster

import (
	"image"
	"image/color"
	"math"
)

// Channels is the number of interleaved samples per pixel.
const Channels = 3

// Image is an RGB grid with float32 samples on a 0..255 scale.
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

// New allocates a black image.
func New(width, height int) *Image {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Image{Width: width, Height: height, Pix: make([]float32, width*height*Channels)}
}

// Bounds returns the image rectangle anchored at the origin.
func (im *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, im.Width, im.Height)
}

// In reports whether (x, y) is a pixel of the image.
func (im *Image) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < im.Width && y < im.Height
}

func (im *Image) offset(x, y int) int {
	return (y*im.Width + x) * Channels
}

// RGB returns the three samples at (x, y).
func (im *Image) RGB(x, y int) [3]float32 {
	i := im.offset(x, y)
	return [3]float32{im.Pix[i], im.Pix[i+1], im.Pix[i+2]}
}

// SetRGB stores the three samples at (x, y).
func (im *Image) SetRGB(x, y int, v [3]float32) {
	i := im.offset(x, y)
	im.Pix[i] = v[0]
	im.Pix[i+1] = v[1]
	im.Pix[i+2] = v[2]
}

// IsBlack reports whether every channel at (x, y) is zero.
func (im *Image) IsBlack(x, y int) bool {
	i := im.offset(x, y)
	return im.Pix[i] == 0 && im.Pix[i+1] == 0 && im.Pix[i+2] == 0
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := &Image{Width: im.Width, Height: im.Height, Pix: make([]float32, len(im.Pix))}
	copy(out.Pix, im.Pix)
	return out
}

// Quantize rounds every sample to the nearest integer in [0, 255], the same
// saturating conversion an 8-bit encoder would apply.
func (im *Image) Quantize() {
	for i, v := range im.Pix {
		im.Pix[i] = quantize(v)
	}
}

func quantize(v float32) float32 {
	if v != v || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return float32(math.Round(float64(v)))
}

// Bilinear samples the image at a fractional coordinate using the four pixels
// around it. The caller guarantees 0 <= x <= Width-1 and 0 <= y <= Height-1.
func (im *Image) Bilinear(x, y float64) [3]float32 {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := int(math.Ceil(x)), int(math.Ceil(y))
	// Weights of the floor pixels; on integral coordinates floor and ceil
	// address the same pixel.
	wx := float32(float64(x1) - x)
	wy := float32(float64(y1) - y)

	a, b := im.RGB(x0, y0), im.RGB(x1, y0)
	c, d := im.RGB(x0, y1), im.RGB(x1, y1)
	var out [3]float32
	for ch := 0; ch < Channels; ch++ {
		top := a[ch]*wx + b[ch]*(1-wx)
		bottom := c[ch]*wx + d[ch]*(1-wx)
		out[ch] = top*wy + bottom*(1-wy)
	}
	return out
}

// FromImage converts any decoded image into an Image, dropping alpha.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := New(b.Dx(), b.Dy())

	// Fast path for the common decoder outputs.
	switch s := src.(type) {
	case *image.RGBA:
		for y := 0; y < out.Height; y++ {
			row := s.Pix[y*s.Stride:]
			for x := 0; x < out.Width; x++ {
				out.SetRGB(x, y, [3]float32{float32(row[x*4]), float32(row[x*4+1]), float32(row[x*4+2])})
			}
		}
		return out
	case *image.NRGBA:
		for y := 0; y < out.Height; y++ {
			row := s.Pix[y*s.Stride:]
			for x := 0; x < out.Width; x++ {
				out.SetRGB(x, y, [3]float32{float32(row[x*4]), float32(row[x*4+1]), float32(row[x*4+2])})
			}
		}
		return out
	}

	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			out.SetRGB(x, y, [3]float32{float32(c.R), float32(c.G), float32(c.B)})
		}
	}
	return out
}

// ToRGBA converts the image to an opaque 8-bit RGBA image.
func (im *Image) ToRGBA() *image.RGBA {
	dst := image.NewRGBA(im.Bounds())
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			v := im.RGB(x, y)
			dst.SetRGBA(x, y, color.RGBA{
				R: uint8(quantize(v[0])),
				G: uint8(quantize(v[1])),
				B: uint8(quantize(v[2])),
				A: 0xff,
			})
		}
	}
	return dst
}

// Paste copies src into im with its top-left corner at at, clipped to im.
func (im *Image) Paste(src *Image, at image.Point) {
	r := src.Bounds().Add(at).Intersect(im.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			im.SetRGB(x, y, src.RGB(x-at.X, y-at.Y))
		}
	}
}
