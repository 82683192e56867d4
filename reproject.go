package elevatr

import (
	"errors"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-proj/v10"
)

// densifyPoints is the number of points along each edge of a bound that are
// transformed when projecting the bound.
const densifyPoints = 21

// A transformer transforms coordinates in place. Coordinates that cannot be
// transformed are set to NaN.
type transformer interface {
	Transform(coords [][]float64) error
	Close()
}

type identityTransformer struct{}

func (identityTransformer) Transform([][]float64) error { return nil }
func (identityTransformer) Close()                      {}

type lonLatToWebMercatorTransformer struct{}

func (lonLatToWebMercatorTransformer) Transform(coords [][]float64) error {
	for _, coord := range coords {
		coord[0], coord[1] = lonLatToWebMercator(coord[0], coord[1])
	}
	return nil
}

func (lonLatToWebMercatorTransformer) Close() {}

type webMercatorToLonLatTransformer struct{}

func (webMercatorToLonLatTransformer) Transform(coords [][]float64) error {
	for _, coord := range coords {
		coord[0], coord[1] = webMercatorToLonLat(coord[0], coord[1])
	}
	return nil
}

func (webMercatorToLonLatTransformer) Close() {}

type projTransformer struct {
	pj *proj.PJ
}

func (t *projTransformer) Transform(coords [][]float64) error {
	batch := cloneCoords(coords)
	if err := t.pj.ForwardFloat64Slices(batch); err == nil {
		for i, coord := range batch {
			coords[i][0], coords[i][1] = finiteOrNaN(coord[0]), finiteOrNaN(coord[1])
		}
		return nil
	}
	// Retry point by point so that a single failure does not fail the batch.
	for _, coord := range coords {
		result, err := t.pj.Forward(proj.NewCoord(coord[0], coord[1], 0, 0))
		if err != nil {
			coord[0], coord[1] = math.NaN(), math.NaN()
			continue
		}
		coord[0], coord[1] = finiteOrNaN(result.X()), finiteOrNaN(result.Y())
	}
	return nil
}

func (t *projTransformer) Close() {
	t.pj.Destroy()
}

// newTransformer returns a transformer from srcCRS to dstCRS. Coordinates are
// always in x, y (longitude, latitude) order.
func newTransformer(srcCRS, dstCRS string) (transformer, error) {
	switch {
	case sameCRS(srcCRS, dstCRS):
		return identityTransformer{}, nil
	case isWGS84(srcCRS) && isWebMercator(dstCRS):
		return lonLatToWebMercatorTransformer{}, nil
	case isWebMercator(srcCRS) && isWGS84(dstCRS):
		return webMercatorToLonLatTransformer{}, nil
	}
	if err := ValidateCRS(srcCRS); err != nil {
		return nil, err
	}
	if err := ValidateCRS(dstCRS); err != nil {
		return nil, err
	}
	pj, err := proj.NewCRSToCRS(srcCRS, dstCRS, nil)
	if err != nil {
		return nil, invalidCRSError(dstCRS, err)
	}
	defer pj.Destroy()
	normalizedPJ, err := pj.NormalizeForVisualization()
	if err != nil {
		return nil, invalidCRSError(dstCRS, err)
	}
	return &projTransformer{
		pj: normalizedPJ,
	}, nil
}

// ValidateCRS returns an error wrapping ErrInvalidCRS if crs is not a CRS
// that can be used for reprojection.
func ValidateCRS(crs string) error {
	if strings.TrimSpace(crs) == "" {
		return invalidCRSError(crs, errors.New("empty CRS"))
	}
	if isWGS84(crs) || isWebMercator(crs) {
		return nil
	}
	pj, err := proj.New(crs)
	if err != nil {
		return invalidCRSError(crs, err)
	}
	pj.Destroy()
	return nil
}

// ProjectBounds returns the bound in dstCRS enclosing bound in srcCRS. The
// edges of bound are densified so that curved edges are enclosed.
func ProjectBounds(bound orb.Bound, srcCRS, dstCRS string) (orb.Bound, error) {
	t, err := newTransformer(srcCRS, dstCRS)
	if err != nil {
		return orb.Bound{}, err
	}
	defer t.Close()
	return projectBounds(t, bound)
}

func projectBounds(t transformer, bound orb.Bound) (orb.Bound, error) {
	coords := make([][]float64, 0, 4*densifyPoints)
	for i := range densifyPoints {
		f := float64(i) / (densifyPoints - 1)
		x := bound.Min.X() + f*(bound.Max.X()-bound.Min.X())
		y := bound.Min.Y() + f*(bound.Max.Y()-bound.Min.Y())
		coords = append(coords,
			[]float64{x, bound.Min.Y()},
			[]float64{x, bound.Max.Y()},
			[]float64{bound.Min.X(), y},
			[]float64{bound.Max.X(), y},
		)
	}
	if err := t.Transform(coords); err != nil {
		return orb.Bound{}, err
	}
	result := orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}
	for _, coord := range coords {
		if math.IsNaN(coord[0]) || math.IsNaN(coord[1]) {
			continue
		}
		result = result.Extend(orb.Point{coord[0], coord[1]})
	}
	if math.IsInf(result.Min.X(), 0) || result.Min.X() >= result.Max.X() || result.Min.Y() >= result.Max.Y() {
		return orb.Bound{}, errors.New("bound cannot be projected")
	}
	return result, nil
}

// ReprojectGrid returns g reprojected into dstCRS. The target grid has square
// pixels and the same number of pixels along its diagonal as g.
func ReprojectGrid(g *Grid, dstCRS string, resampling Resampling) (*Grid, error) {
	if sameCRS(g.CRS, dstCRS) {
		clone := g.Clone()
		clone.CRS = normalizeCRS(dstCRS)
		return clone, nil
	}

	forward, err := newTransformer(g.CRS, dstCRS)
	if err != nil {
		return nil, err
	}
	defer forward.Close()
	bound, err := projectBounds(forward, g.Bound())
	if err != nil {
		return nil, invalidCRSError(dstCRS, err)
	}

	srcDiagonal := math.Hypot(float64(g.Width), float64(g.Height))
	dstDiagonal := math.Hypot(bound.Max.X()-bound.Min.X(), bound.Max.Y()-bound.Min.Y())
	pixelSize := dstDiagonal / srcDiagonal
	width := max(1, int(math.Ceil((bound.Max.X()-bound.Min.X())/pixelSize-1e-9)))
	height := max(1, int(math.Ceil((bound.Max.Y()-bound.Min.Y())/pixelSize-1e-9)))
	if width*height > maxGridPixels {
		return nil, invalidCRSError(dstCRS, errors.New("reprojected grid too large"))
	}

	inverse, err := newTransformer(dstCRS, g.CRS)
	if err != nil {
		return nil, err
	}
	defer inverse.Close()

	transform := Transform{
		OriginX:     bound.Min.X(),
		OriginY:     bound.Max.Y(),
		PixelWidth:  pixelSize,
		PixelHeight: pixelSize,
	}
	result := NewGrid(width, height, transform, normalizeCRS(dstCRS), g.DataType, g.NoData)

	// Transform one row of pixel centers at a time.
	coords := make([][]float64, width)
	flat := make([]float64, 2*width)
	for col := range coords {
		coords[col] = flat[2*col : 2*col+2 : 2*col+2]
	}
	for row := range height {
		for col, coord := range coords {
			coord[0], coord[1] = transform.World(float64(col)+0.5, float64(row)+0.5)
		}
		if err := inverse.Transform(coords); err != nil {
			return nil, invalidCRSError(dstCRS, err)
		}
		for col, coord := range coords {
			if math.IsNaN(coord[0]) || math.IsNaN(coord[1]) {
				continue
			}
			srcCol, srcRow := g.Transform.Pixel(coord[0], coord[1])
			if v, ok := g.Sample(srcCol, srcRow, resampling); ok {
				result.Data[row*width+col] = g.DataType.convert(v)
			}
		}
	}
	return result, nil
}

func cloneCoords(coords [][]float64) [][]float64 {
	clonedCoordsFlat := make([]float64, 2*len(coords))
	clonedCoords := make([][]float64, len(coords))
	for i, coord := range coords {
		copy(clonedCoordsFlat[2*i:2*i+2], coord)
		clonedCoords[i] = clonedCoordsFlat[2*i : 2*i+2]
	}
	return clonedCoords
}

func finiteOrNaN(v float64) float64 {
	if math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}
