package elevatr

import (
	"math"
	"slices"
	"strconv"

	"github.com/paulmach/orb"
)

// A DataType is the native sample type of a grid.
type DataType int

const (
	Int16 DataType = iota + 1
	Int32
	Float32
	Float64
)

func (t DataType) String() string {
	switch t {
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "datatype(" + strconv.Itoa(int(t)) + ")"
	}
}

// IsInteger returns true if t is a signed integer type.
func (t DataType) IsInteger() bool {
	return t == Int16 || t == Int32
}

// DefaultNoData returns the no-data sentinel conventionally used with t.
func (t DataType) DefaultNoData() float64 {
	switch t {
	case Int16:
		return math.MinInt16
	case Int32:
		return math.MinInt32
	default:
		return -math.MaxFloat32
	}
}

func (t DataType) bytesPerSample() int {
	switch t {
	case Int16:
		return 2
	case Int32, Float32:
		return 4
	default:
		return 8
	}
}

// convert rounds and clamps v to the range of t.
func (t DataType) convert(v float64) float64 {
	switch t {
	case Int16:
		return max(math.MinInt16, min(math.Round(v), math.MaxInt16))
	case Int32:
		return max(math.MinInt32, min(math.Round(v), math.MaxInt32))
	case Float32:
		return float64(float32(v))
	default:
		return v
	}
}

// widerDataType returns the narrowest type that can represent both a and b.
func widerDataType(a, b DataType) DataType {
	switch {
	case a == b:
		return a
	case a == Float64 || b == Float64:
		return Float64
	case a == Float32 || b == Float32:
		if a == Int32 || b == Int32 {
			return Float64
		}
		return Float32
	default:
		return Int32
	}
}

// A Transform is a north-up affine transform from pixel to CRS coordinates.
// Pixel (0, 0) is the top left corner of the top left pixel.
type Transform struct {
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64 // Positive; y decreases with increasing row.
}

// World returns the CRS coordinates of the pixel coordinates col, row.
func (t Transform) World(col, row float64) (float64, float64) {
	return t.OriginX + col*t.PixelWidth, t.OriginY - row*t.PixelHeight
}

// Pixel returns the pixel coordinates of the CRS coordinates x, y.
func (t Transform) Pixel(x, y float64) (float64, float64) {
	return (x - t.OriginX) / t.PixelWidth, (t.OriginY - y) / t.PixelHeight
}

// A Grid is a georeferenced two-dimensional array of samples, stored row by
// row. Grids are treated as immutable once constructed: operations return new
// grids.
type Grid struct {
	Width     int
	Height    int
	Data      []float64
	Transform Transform
	CRS       string
	NoData    float64
	DataType  DataType
}

// maxGridPixels limits the size of decoded, mosaicked and reprojected grids.
const maxGridPixels = 1 << 26

// NewGrid returns a new Grid filled with noData.
func NewGrid(width, height int, transform Transform, crs string, dataType DataType, noData float64) *Grid {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = noData
	}
	return &Grid{
		Width:     width,
		Height:    height,
		Data:      data,
		Transform: transform,
		CRS:       crs,
		NoData:    noData,
		DataType:  dataType,
	}
}

// At returns the sample at col, row.
func (g *Grid) At(col, row int) float64 {
	return g.Data[row*g.Width+col]
}

// IsNoData returns true if v is g's no-data sentinel or NaN.
func (g *Grid) IsNoData(v float64) bool {
	return v == g.NoData || math.IsNaN(v)
}

// Bound returns g's extent in its CRS.
func (g *Grid) Bound() orb.Bound {
	minX, maxY := g.Transform.World(0, 0)
	maxX, minY := g.Transform.World(float64(g.Width), float64(g.Height))
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

// Clone returns a deep copy of g.
func (g *Grid) Clone() *Grid {
	clone := *g
	clone.Data = slices.Clone(g.Data)
	return &clone
}

// Rows returns a copy of g's samples as a slice of rows.
func (g *Grid) Rows() [][]float64 {
	flat := slices.Clone(g.Data)
	rows := make([][]float64, g.Height)
	for row := range rows {
		rows[row] = flat[row*g.Width : (row+1)*g.Width : (row+1)*g.Width]
	}
	return rows
}

// Window returns a copy of the pixels in columns [col0, col1) and rows [row0,
// row1). Pixels outside g are no-data.
func (g *Grid) Window(col0, row0, col1, row1 int) *Grid {
	originX, originY := g.Transform.World(float64(col0), float64(row0))
	transform := Transform{
		OriginX:     originX,
		OriginY:     originY,
		PixelWidth:  g.Transform.PixelWidth,
		PixelHeight: g.Transform.PixelHeight,
	}
	window := NewGrid(col1-col0, row1-row0, transform, g.CRS, g.DataType, g.NoData)
	for row := max(row0, 0); row < min(row1, g.Height); row++ {
		srcStart := row*g.Width + max(col0, 0)
		srcEnd := row*g.Width + min(col1, g.Width)
		if srcStart >= srcEnd {
			continue
		}
		dstStart := (row-row0)*window.Width + max(col0, 0) - col0
		copy(window.Data[dstStart:], g.Data[srcStart:srcEnd])
	}
	return window
}

// ValidCount returns the number of samples in g that are not no-data.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.Data {
		if !g.IsNoData(v) {
			n++
		}
	}
	return n
}
