package elevatr

import "math"

// A Resampling is a method of sampling a grid between pixel centers.
type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
)

// Sample returns the value of g at fractional pixel coordinates col, row,
// where pixel centers lie at half-integer coordinates. It returns false if
// there is no data there. Bilinear sampling falls back to nearest neighbor
// next to no-data pixels so that no-data never leaks into valid samples.
func (g *Grid) Sample(col, row float64, resampling Resampling) (float64, bool) {
	if col < 0 || row < 0 || col >= float64(g.Width) || row >= float64(g.Height) {
		return 0, false
	}
	if resampling == Bilinear {
		if v, ok := g.sampleBilinear(col, row); ok {
			return v, true
		}
	}
	v := g.At(int(col), int(row))
	if g.IsNoData(v) {
		return 0, false
	}
	return v, true
}

func (g *Grid) sampleBilinear(col, row float64) (float64, bool) {
	x := col - 0.5
	y := row - 0.5
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	dx := x - x0
	dy := y - y0
	c0 := clampIndex(int(x0), g.Width)
	c1 := clampIndex(int(x0)+1, g.Width)
	r0 := clampIndex(int(y0), g.Height)
	r1 := clampIndex(int(y0)+1, g.Height)
	v00 := g.At(c0, r0)
	v10 := g.At(c1, r0)
	v01 := g.At(c0, r1)
	v11 := g.At(c1, r1)
	if g.IsNoData(v00) || g.IsNoData(v10) || g.IsNoData(v01) || g.IsNoData(v11) {
		return 0, false
	}
	return 0 +
		v00*(1-dx)*(1-dy) +
		v10*dx*(1-dy) +
		v01*(1-dx)*dy +
		v11*dx*dy, true
}

func clampIndex(i, n int) int {
	return max(0, min(i, n-1))
}

// InterpolateBilinear returns the bilinearly interpolated values of g at
// coords, given in g's CRS. Missing samples are represented by NaNs.
func InterpolateBilinear(g *Grid, coords [][]float64) []float64 {
	result := make([]float64, len(coords))
	for i, coord := range coords {
		col, row := g.Transform.Pixel(coord[0], coord[1])
		if v, ok := g.Sample(col, row, Bilinear); ok {
			result[i] = v
		} else {
			result[i] = math.NaN()
		}
	}
	return result
}
