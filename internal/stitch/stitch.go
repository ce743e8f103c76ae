// Package stitch turns an ordered left-to-right sequence of photographs into a
// single panorama. Each stage sits behind a small interface so it can be
// swapped by name and tested in isolation with synthetic inputs.
package stitch

import (
	"image"
	"math/rand"

	"github.com/pkg/errors"

	"panostitch/internal/raster"
)

// DescriptorLength is the number of entries in a Descriptor: a 4x4 grid of
// cells with an 8-bin orientation histogram each.
const DescriptorLength = 128

var (
	// ErrNoImages is returned when a run is started without input images.
	ErrNoImages = errors.New("no input images")
	// ErrFocalMismatch is returned when the focal lengths do not pair 1:1 with the images.
	ErrFocalMismatch = errors.New("focal length count does not match image count")
	// ErrInvalidFocal is returned for a focal length that is not a positive finite number.
	ErrInvalidFocal = errors.New("invalid focal length")
)

// Frame is one decoded input photograph and its focal length in pixels.
type Frame struct {
	Name  string
	Image *raster.Image
	Focal float64
}

// Warped is a projected image with the mask of pixels that received a sample.
type Warped struct {
	Image *raster.Image
	Mask  *raster.Mask
}

// Descriptor summarizes the neighbourhood of one feature position.
type Descriptor [DescriptorLength]float32

// Correspondence pairs a feature of the later image B with one of the
// earlier image A, by index into their position sequences.
type Correspondence struct {
	B int
	A int
}

// Projector re-projects a flat image using its focal length.
type Projector interface {
	Project(img *raster.Image, focal float64) Warped
}

// Detector finds feature positions in raster order.
type Detector interface {
	Detect(img *raster.Image) []image.Point
}

// Describer computes one descriptor per position, in the same order.
type Describer interface {
	Describe(img *raster.Image, positions []image.Point) []Descriptor
}

// Matcher pairs descriptors of image B (the later one) with those of image A.
type Matcher interface {
	Match(b, a []Descriptor) []Correspondence
}

// Aligner estimates the translation of image B relative to image A placed
// side by side, A being widthA pixels wide.
type Aligner interface {
	Align(rng *rand.Rand, widthA int, posA, posB []image.Point, matches []Correspondence) image.Point
}

// Blender composites warped images under their pairwise alignments.
type Blender interface {
	Blend(images []Warped, alignments []image.Point) *raster.Image
}

// Rectifier corrects the geometry of a finished canvas. On error the caller
// keeps the input canvas.
type Rectifier interface {
	Rectify(canvas *raster.Image) (*raster.Image, error)
}
