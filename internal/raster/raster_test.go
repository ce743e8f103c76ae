package raster

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGaussianBlurSpreadsImpulseSymmetrically(t *testing.T) {
	g := NewGray(11, 11)
	g.Set(5, 5, 1)
	out := GaussianBlur(g, 5, 3)

	var sum float64
	for _, v := range out.Pix {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-9)
	require.InDelta(t, out.At(3, 5), out.At(7, 5), 1e-12)
	require.InDelta(t, out.At(5, 3), out.At(5, 7), 1e-12)
	require.Greater(t, out.At(5, 5), out.At(4, 5))
	// a 5x5 kernel reaches two pixels out
	require.Zero(t, out.At(2, 5))
}

func TestGaussianBlurKeepsConstantField(t *testing.T) {
	g := NewGray(9, 6)
	for i := range g.Pix {
		g.Pix[i] = 42
	}
	out := GaussianBlur(g, 7, 3)
	for _, v := range out.Pix {
		require.InDelta(t, 42.0, v, 1e-9)
	}
}

func TestGaussianBlurReflectsBorder(t *testing.T) {
	g := NewGray(6, 1)
	g.Set(1, 0, 1)
	out := GaussianBlur(g, 3, 1)
	// the sample at x=1 is mirrored onto x=-1, so the edge gets it twice
	k1 := out.At(2, 0)
	require.InDelta(t, 2*k1, out.At(0, 0), 1e-12)
}

func TestMatRoundTrip(t *testing.T) {
	g := NewGray(3, 2)
	g.Set(2, 1, 7.5)
	m, err := g.Mat()
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, 2, m.Rows())
	require.Equal(t, 3, m.Cols())
	back, err := GrayFromMat(m)
	require.NoError(t, err)
	require.Equal(t, g.Pix, back.Pix)

	im := New(2, 2)
	im.SetRGB(1, 0, [3]float32{10, 20, 30})
	mm, err := im.Mat()
	require.NoError(t, err)
	defer mm.Close()
	img, err := FromMat(mm)
	require.NoError(t, err)
	require.Equal(t, im.Pix, img.Pix)

	_, err = FromMat(m)
	require.Error(t, err)
}

func TestGradientsOnRamp(t *testing.T) {
	g := NewGray(6, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			g.Set(x, y, float64(3*x+y))
		}
	}
	ix, iy := Gradients(g)
	require.InDelta(t, 3.0, ix.At(2, 1), 1e-12)
	require.InDelta(t, 1.0, iy.At(2, 1), 1e-12)
	// zero padding at the left border: (I(1) - 0) / 2
	require.InDelta(t, g.At(1, 2)/2, ix.At(0, 2), 1e-12)
}

func TestBilinearInterpolatesBetweenPixels(t *testing.T) {
	im := New(2, 2)
	im.SetRGB(0, 0, [3]float32{0, 0, 0})
	im.SetRGB(1, 0, [3]float32{100, 10, 0})
	im.SetRGB(0, 1, [3]float32{0, 0, 0})
	im.SetRGB(1, 1, [3]float32{100, 10, 0})

	v := im.Bilinear(0.25, 0.5)
	require.InDelta(t, 25.0, v[0], 1e-4)
	require.InDelta(t, 2.5, v[1], 1e-4)

	v = im.Bilinear(1, 1)
	require.Equal(t, [3]float32{100, 10, 0}, v)
}

func TestQuantizeSaturates(t *testing.T) {
	im := New(1, 1)
	im.SetRGB(0, 0, [3]float32{-3, 127.6, 300})
	im.Quantize()
	require.Equal(t, [3]float32{0, 128, 255}, im.RGB(0, 0))
}

func TestImageConversionRoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	src.SetNRGBA(2, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	im := FromImage(src)
	require.Equal(t, 3, im.Width)
	require.Equal(t, 2, im.Height)
	require.Equal(t, [3]float32{10, 20, 30}, im.RGB(2, 1))
	require.True(t, im.IsBlack(0, 0))

	out := im.ToRGBA()
	require.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, out.RGBAAt(2, 1))
}

func TestPasteClipsToDestination(t *testing.T) {
	dst := New(4, 4)
	src := New(3, 3)
	for i := range src.Pix {
		src.Pix[i] = 9
	}
	dst.Paste(src, image.Pt(2, 2))
	require.Equal(t, [3]float32{9, 9, 9}, dst.RGB(3, 3))
	require.True(t, dst.IsBlack(1, 1))
}

func TestMaskCount(t *testing.T) {
	m := NewMask(3, 3)
	m.Mark(1, 1)
	m.Mark(2, 0)
	require.Equal(t, 2, m.Count())
	require.True(t, m.Valid(1, 1))
	require.False(t, m.Valid(-1, 1))
}
