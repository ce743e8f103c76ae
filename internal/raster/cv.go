package raster

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Mat copies the grid into a single-channel CV_64F matrix. The caller owns
// the result and must Close it.
func (g *Gray) Mat() (gocv.Mat, error) {
	m := gocv.NewMatWithSize(g.Height, g.Width, gocv.MatTypeCV64F)
	data, err := m.DataPtrFloat64()
	if err != nil {
		m.Close()
		return gocv.NewMat(), errors.Wrap(err, "gray matrix")
	}
	copy(data, g.Pix)
	return m, nil
}

// GrayFromMat copies a single-channel CV_64F matrix into a new grid.
func GrayFromMat(m gocv.Mat) (*Gray, error) {
	if m.Type() != gocv.MatTypeCV64F {
		return nil, errors.Errorf("gray matrix has type %v", m.Type())
	}
	data, err := m.DataPtrFloat64()
	if err != nil {
		return nil, errors.Wrap(err, "gray matrix")
	}
	out := NewGray(m.Cols(), m.Rows())
	copy(out.Pix, data)
	return out, nil
}

// Mat copies the image into a CV_32FC3 matrix with channels in R, G, B
// order. The caller owns the result and must Close it.
func (im *Image) Mat() (gocv.Mat, error) {
	m := gocv.NewMatWithSize(im.Height, im.Width, gocv.MatTypeCV32FC3)
	data, err := m.DataPtrFloat32()
	if err != nil {
		m.Close()
		return gocv.NewMat(), errors.Wrap(err, "image matrix")
	}
	copy(data, im.Pix)
	return m, nil
}

// FromMat copies a CV_32FC3 matrix produced by Mat back into an Image.
func FromMat(m gocv.Mat) (*Image, error) {
	if m.Type() != gocv.MatTypeCV32FC3 {
		return nil, errors.Errorf("image matrix has type %v", m.Type())
	}
	data, err := m.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "image matrix")
	}
	out := New(m.Cols(), m.Rows())
	copy(out.Pix, data)
	return out, nil
}

// GaussianBlur smooths the grid with a size x size Gaussian of the given
// sigma. Borders are reflected without repeating the edge sample.
func GaussianBlur(g *Gray, size int, sigma float64) *Gray {
	if g.Width == 0 || g.Height == 0 {
		return NewGray(g.Width, g.Height)
	}
	src, err := g.Mat()
	if err != nil {
		panic(err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.GaussianBlur(src, &dst, image.Pt(size, size), sigma, sigma, gocv.BorderReflect101)

	out, err := GrayFromMat(dst)
	if err != nil {
		panic(err)
	}
	return out
}
