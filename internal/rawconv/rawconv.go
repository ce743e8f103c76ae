// Package rawconv develops camera RAW files through ImageMagick so they can
// enter the stitcher like any other decoded image.
package rawconv

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"

	"panostitch/internal/imageio"
)

// Decoder implements imageio.RawDecoder with a MagickWand.
type Decoder struct {
	// TempDir receives the intermediate PNG; empty means os.TempDir().
	TempDir string

	mu sync.Mutex
}

var _ imageio.RawDecoder = (*Decoder)(nil)

// New returns a decoder staging intermediates in tempDir.
func New(tempDir string) *Decoder {
	return &Decoder{TempDir: tempDir}
}

// DecodeRAW develops path into an 8-bit sRGB image.
func (d *Decoder) DecodeRAW(path string) (image.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input file does not exist: %s", path)
	}

	tmp, err := os.CreateTemp(d.TempDir, "panostitch-raw-*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := d.develop(path, tmpPath); err != nil {
		return nil, err
	}
	return imageio.DecodeFile(tmpPath)
}

func (d *Decoder) develop(src, dst string) error {
	// The wand library keeps global state between Initialize and Terminate.
	d.mu.Lock()
	defer d.mu.Unlock()

	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(src); err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(src), err)
	}
	if err := mw.SetImageColorspace(imagick.COLORSPACE_SRGB); err != nil {
		return fmt.Errorf("failed to set colorspace: %w", err)
	}
	if err := mw.AutoOrientImage(); err != nil {
		return fmt.Errorf("failed to auto-orient: %w", err)
	}
	if err := mw.SetImageDepth(8); err != nil {
		return fmt.Errorf("failed to set image depth: %w", err)
	}
	if err := mw.SetImageFormat("PNG"); err != nil {
		return fmt.Errorf("failed to set format: %w", err)
	}
	if err := mw.WriteImage(dst); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// Version reports the linked ImageMagick version string.
func Version() string {
	v, _ := imagick.GetVersion()
	return v
}
