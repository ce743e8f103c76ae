package stitch

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"panostitch/internal/raster"
)

const (
	fineBins     = 18
	fineBinWidth = 360 / fineBins
	cellBins     = 8
	cellBinWidth = 360 / cellBins
	cellSize     = 4
	cellsPerSide = 4
	windowSize   = cellSize * cellsPerSide
	histClip     = 0.2

	voteSize  = 7
	voteSigma = 3.0
)

// SIFT builds rotation-normalized orientation histograms around each feature.
type SIFT struct{}

// NewSIFT returns the histogram descriptor.
func NewSIFT() *SIFT { return &SIFT{} }

// orientationMaps holds the per-pixel dominant orientation bin at two
// resolutions: fine bins for the feature's own angle and cell bins for the
// histograms.
type orientationMaps struct {
	width, height int
	fine          []uint8
	cell          []uint8
}

func buildOrientationMaps(img *raster.Image) orientationMaps {
	ix, iy := smoothedGradients(img)
	w, h := img.Width, img.Height
	n := w * h

	magnitude := make([]float64, n)
	fineLabel := make([]uint8, n)
	cellLabel := make([]uint8, n)
	for i := 0; i < n; i++ {
		gx, gy := ix.Pix[i], iy.Pix[i]
		magnitude[i] = math.Sqrt(gx*gx + gy*gy)

		fineLabel[i], cellLabel[i] = orientationBins(gx, gy)
	}

	return orientationMaps{
		width:  w,
		height: h,
		fine:   dominantBins(fineLabel, magnitude, fineBins, w, h),
		cell:   dominantBins(cellLabel, magnitude, cellBins, w, h),
	}
}

// orientationBins returns the fine and cell bin of a gradient. Each bin is
// centred on a multiple of its width, so bin 0 spans the wrap at 0 degrees.
func orientationBins(gx, gy float64) (fine, cell uint8) {
	theta := math.Atan2(gy, gx+1e-8) * 180 / math.Pi
	if theta < 0 {
		theta += 360
	}
	fine = uint8(int((theta+fineBinWidth/2.0)/fineBinWidth) % fineBins)
	cell = uint8(int((theta+cellBinWidth/2.0)/cellBinWidth) % cellBins)
	return fine, cell
}

// dominantBins smooths each bin's membership map, weights it by gradient
// magnitude and returns the per-pixel argmax. Ties keep the lower bin and a
// pixel with no votes gets bin 0.
func dominantBins(labels []uint8, magnitude []float64, bins, w, h int) []uint8 {
	best := make([]float64, len(labels))
	out := make([]uint8, len(labels))
	member := raster.NewGray(w, h)
	for b := 0; b < bins; b++ {
		for i, l := range labels {
			if int(l) == b {
				member.Pix[i] = 1
			} else {
				member.Pix[i] = 0
			}
		}
		votes := raster.GaussianBlur(member, voteSize, voteSigma)
		for i, v := range votes.Pix {
			v *= magnitude[i]
			if v > best[i] {
				best[i] = v
				out[i] = uint8(b)
			}
		}
	}
	return out
}

// rotatedWindow rotates the cell label map by -angle degrees about p and
// returns the descriptor window around p, row-major with the top-left corner
// at p - (windowSize/2, windowSize/2). Labels are resampled bilinearly and
// samples from outside the map read as bin 0.
func rotatedWindow(labels gocv.Mat, p image.Point, angle float64) []uint8 {
	half := windowSize / 2
	rot := gocv.GetRotationMatrix2D(p, -angle, 1)
	defer rot.Close()
	rot.SetDoubleAt(0, 2, rot.GetDoubleAt(0, 2)-float64(p.X-half))
	rot.SetDoubleAt(1, 2, rot.GetDoubleAt(1, 2)-float64(p.Y-half))

	win := gocv.NewMat()
	defer win.Close()
	gocv.WarpAffineWithParams(labels, &win, rot, image.Pt(windowSize, windowSize),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return win.ToBytes()
}

// Describe returns one descriptor per position, in the same order.
func (s *SIFT) Describe(img *raster.Image, positions []image.Point) []Descriptor {
	if len(positions) == 0 {
		return nil
	}
	maps := buildOrientationMaps(img)
	out := make([]Descriptor, len(positions))
	labels, err := maps.cellMat()
	if err != nil {
		return out
	}
	defer labels.Close()
	for k, p := range positions {
		out[k] = maps.describe(labels, p)
	}
	return out
}

func (m orientationMaps) cellMat() (gocv.Mat, error) {
	return gocv.NewMatFromBytes(m.height, m.width, gocv.MatTypeCV8U, m.cell)
}

func (m orientationMaps) describe(labels gocv.Mat, p image.Point) Descriptor {
	var angle float64
	if p.X >= 0 && p.Y >= 0 && p.X < m.width && p.Y < m.height {
		angle = float64(m.fine[p.Y*m.width+p.X]) * fineBinWidth
	}
	rotBin := 0
	if angle >= cellBinWidth/2.0 {
		rotBin = 1 + int(angle-cellBinWidth/2.0)/cellBinWidth
	}
	win := rotatedWindow(labels, p, angle)

	var d Descriptor
	for cy := 0; cy < cellsPerSide; cy++ {
		for cx := 0; cx < cellsPerSide; cx++ {
			var hist [cellBins]float64
			for y := cy * cellSize; y < (cy+1)*cellSize; y++ {
				for x := cx * cellSize; x < (cx+1)*cellSize; x++ {
					label := int(win[y*windowSize+x])
					hist[(label-rotBin+cellBins)%cellBins] += 1.0 / (cellSize * cellSize)
				}
			}
			normalizeCell(&hist)
			base := (cy*cellsPerSide + cx) * cellBins
			for i, v := range hist {
				d[base+i] = float32(v)
			}
		}
	}
	return d
}

// normalizeCell clips every entry at histClip and rescales the cell to sum
// to one. An empty cell stays zero.
func normalizeCell(hist *[cellBins]float64) {
	var sum float64
	for i, v := range hist {
		if v > histClip {
			hist[i] = histClip
		}
		sum += hist[i]
	}
	if sum == 0 {
		return
	}
	for i := range hist {
		hist[i] /= sum
	}
}
