// Package imageio feeds the stitcher: it finds and decodes input photographs,
// reads their focal lengths and writes finished panoramas.
package imageio

import (
	"bufio"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"panostitch/internal/fsutil"
	"panostitch/internal/raster"
)

const (
	minRatio    = 0.1
	maxRatio    = 1.0
	jpegQuality = 95
)

var (
	// ErrFocalFile wraps every failure to read the focal length file.
	ErrFocalFile = errors.New("focal length file")
	// ErrNoInput is returned when an input location holds no usable images.
	ErrNoInput = errors.New("no images found")
	// ErrRawUnsupported is returned for RAW inputs when no RAW decoder is set.
	ErrRawUnsupported = errors.New("raw decoding not available")
)

// RawDecoder turns a camera RAW file into a developed image.
type RawDecoder interface {
	DecodeRAW(path string) (image.Image, error)
}

// Loader decodes input sets and scales them before projection.
type Loader struct {
	ScaleRatio float64
	Raw        RawDecoder
	Log        *slog.Logger
}

// Input is a decoded, scaled image set in left-to-right order.
type Input struct {
	Names  []string
	Images []*raster.Image
}

// ClampRatio limits a scale ratio to [0.1, 1.0]. NaN maps to 1.
func ClampRatio(r float64) float64 {
	if math.IsNaN(r) || r > maxRatio {
		return maxRatio
	}
	if r < minRatio {
		return minRatio
	}
	return r
}

// ReadFocalLengths reads one focal length per line from path.
func ReadFocalLengths(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrFocalFile, "open %s: %v", path, err)
	}
	defer f.Close()
	return ParseFocalLengths(f)
}

// ParseFocalLengths parses one number per line. Blank lines are skipped.
func ParseFocalLengths(r io.Reader) ([]float64, error) {
	var out []float64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrFocalFile, "line %d: %q is not a number", line, text)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(ErrFocalFile, "read: %v", err)
	}
	return out, nil
}

func (l *Loader) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

// Load decodes a directory or a .7z archive of images.
func (l *Loader) Load(ctx context.Context, input string) (*Input, error) {
	if fsutil.IsArchive(input) {
		return l.LoadArchive(ctx, input)
	}
	return l.LoadDir(ctx, input)
}

// LoadDir decodes the images directly inside dir, in filename order.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Input, error) {
	files, err := fsutil.ListImages(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNoInput, "in %s", dir)
	}
	in := &Input{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := l.decodeFile(path)
		if err != nil {
			return nil, err
		}
		in.add(filepath.Base(path), l.scale(img))
	}
	l.logger().Debug("decoded input images", "dir", dir, "count", len(in.Images), "scale", ClampRatio(l.ScaleRatio))
	return in, nil
}

// LoadArchive decodes the images stored in a 7z archive, in entry name order.
func (l *Loader) LoadArchive(ctx context.Context, path string) (*Input, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open 7z archive: %w", err)
	}
	defer r.Close()

	var files []*sevenzip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !fsutil.IsImageFile(f.Name) {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNoInput, "in archive %s", path)
	}

	in := &Input{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := l.decodeArchived(f)
		if err != nil {
			return nil, err
		}
		in.add(filepath.Base(f.Name), l.scale(img))
	}
	return in, nil
}

func (in *Input) add(name string, img image.Image) {
	in.Names = append(in.Names, name)
	in.Images = append(in.Images, raster.FromImage(img))
}

func (l *Loader) decodeArchived(f *sevenzip.File) (image.Image, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
	}
	defer rc.Close()

	if !fsutil.IsRAWFile(f.Name) {
		img, _, err := image.Decode(rc)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		return img, nil
	}

	// RAW developers want a path, so stage the entry on disk.
	tmp, err := os.CreateTemp("", "panostitch-*"+filepath.Ext(f.Name))
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	return l.decodeRAW(tmp.Name())
}

func (l *Loader) decodeFile(path string) (image.Image, error) {
	if fsutil.IsRAWFile(path) {
		return l.decodeRAW(path)
	}
	return DecodeFile(path)
}

func (l *Loader) decodeRAW(path string) (image.Image, error) {
	if l.Raw == nil {
		return nil, errors.Wrap(ErrRawUnsupported, filepath.Base(path))
	}
	img, err := l.Raw.DecodeRAW(path)
	if err != nil {
		return nil, fmt.Errorf("develop %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func (l *Loader) scale(img image.Image) image.Image {
	return Scale(img, l.ScaleRatio)
}

// DecodeFile decodes any registered still format.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Scale resizes img by the clamped ratio with bilinear interpolation. The
// scaled size is truncated, not rounded.
func Scale(img image.Image, ratio float64) image.Image {
	ratio = ClampRatio(ratio)
	if ratio == maxRatio {
		return img
	}
	b := img.Bounds()
	w := int(float64(b.Dx()) * ratio)
	h := int(float64(b.Dy()) * ratio)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return resize.Resize(uint(w), uint(h), img, resize.Bilinear)
}

// Save encodes img according to the extension of path: png, jpg/jpeg,
// tif/tiff or bmp.
func Save(path string, img *raster.Image) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, filepath.Ext(path), img.ToRGBA()); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// Encode writes m in the format named by ext.
func Encode(w io.Writer, ext string, m image.Image) error {
	switch strings.ToLower(ext) {
	case ".png":
		return png.Encode(w, m)
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, m, &jpeg.Options{Quality: jpegQuality})
	case ".tif", ".tiff":
		return tiff.Encode(w, m, &tiff.Options{Compression: tiff.Deflate})
	case ".bmp":
		return bmp.Encode(w, m)
	default:
		return fmt.Errorf("unsupported output format %q", ext)
	}
}
