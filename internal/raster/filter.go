package raster

// Gradients returns central differences (I(x+1) - I(x-1)) / 2 along each axis.
// Samples outside the grid count as zero.
func Gradients(g *Gray) (ix, iy *Gray) {
	ix = NewGray(g.Width, g.Height)
	iy = NewGray(g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			ix.Pix[y*g.Width+x] = (g.At(x+1, y) - g.At(x-1, y)) / 2
			iy.Pix[y*g.Width+x] = (g.At(x, y+1) - g.At(x, y-1)) / 2
		}
	}
	return ix, iy
}
