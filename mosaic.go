package elevatr

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// A Layer is the set of grids fetched for one provider.
type Layer struct {
	Provider *Provider
	Grids    []*Grid
}

// MosaicOptions are options for Mosaic.
type MosaicOptions struct {
	CRS        string     // Working CRS. Defaults to the CRS of the first grid.
	Extent     *orb.Bound // Extent in the working CRS. Defaults to the union of all grids.
	Resampling Resampling
}

// A MosaicResult is the result of Mosaic.
type MosaicResult struct {
	Grid    *Grid
	Sources []string // Providers that own at least one pixel, in priority order.
}

// Mosaic composites layers into a single grid. Layers are painted in order,
// so later layers take priority over earlier ones wherever they have a valid
// sample that their provider accepts inside its region. Pixels with no valid
// sample in any layer are no-data.
//
// The result is aligned to the pixel grid of the first grid, has the finest
// pixel size of all grids, and has edges within half a pixel of the extent.
func Mosaic(layers []Layer, options MosaicOptions) (*MosaicResult, error) {
	var first *Grid
	for _, layer := range layers {
		if len(layer.Grids) != 0 {
			first = layer.Grids[0]
			break
		}
	}
	if first == nil {
		return nil, fmt.Errorf("%w: no grids to mosaic", ErrNoCoverage)
	}
	crs := options.CRS
	if crs == "" {
		crs = first.CRS
	}

	// Bring every grid into the working CRS, reprojecting each distinct grid
	// once even if it appears in several layers.
	reprojected := make(map[*Grid]*Grid)
	working := make([][]*Grid, len(layers))
	for i, layer := range layers {
		for _, g := range layer.Grids {
			wg, ok := reprojected[g]
			switch {
			case ok:
			case sameCRS(g.CRS, crs):
				wg = g
				reprojected[g] = wg
			default:
				var err error
				wg, err = ReprojectGrid(g, crs, options.Resampling)
				if err != nil {
					return nil, err
				}
				reprojected[g] = wg
			}
			working[i] = append(working[i], wg)
		}
	}

	reference := reprojected[first]
	pixelWidth := math.Inf(1)
	pixelHeight := math.Inf(1)
	dataType := reference.DataType
	noData := reference.NoData
	sameNoData := true
	union := reference.Bound()
	for _, g := range reprojected {
		pixelWidth = min(pixelWidth, g.Transform.PixelWidth)
		pixelHeight = min(pixelHeight, g.Transform.PixelHeight)
		dataType = widerDataType(dataType, g.DataType)
		sameNoData = sameNoData && g.NoData == noData
		union = union.Union(g.Bound())
	}
	if !sameNoData {
		noData = dataType.DefaultNoData()
	}

	extent := union
	if options.Extent != nil {
		extent = *options.Extent
	}
	if !(extent.Min.X() < extent.Max.X() && extent.Min.Y() < extent.Max.Y()) {
		return nil, fmt.Errorf("%w: empty extent", ErrInvalidInput)
	}

	// Snap the extent to the reference pixel grid.
	refX := reference.Transform.OriginX
	refY := reference.Transform.OriginY
	minCol := math.Round((extent.Min.X() - refX) / pixelWidth)
	maxCol := math.Round((extent.Max.X() - refX) / pixelWidth)
	minRow := math.Round((refY - extent.Max.Y()) / pixelHeight)
	maxRow := math.Round((refY - extent.Min.Y()) / pixelHeight)
	width := max(1, int(maxCol-minCol))
	height := max(1, int(maxRow-minRow))
	if width*height > maxGridPixels {
		return nil, fmt.Errorf("%w: mosaic of %dx%d pixels is too large", ErrInvalidInput, width, height)
	}
	transform := Transform{
		OriginX:     refX + minCol*pixelWidth,
		OriginY:     refY - minRow*pixelHeight,
		PixelWidth:  pixelWidth,
		PixelHeight: pixelHeight,
	}
	result := NewGrid(width, height, transform, normalizeCRS(crs), dataType, noData)

	owners := make([]int, width*height)
	for i := range owners {
		owners[i] = -1
	}
	lonLats := newPixelLonLats(result)
	defer lonLats.close()

	for i, layer := range layers {
		p := layer.Provider
		checkRegion := p != nil && !regionCovers(p.Region, lonLats.bound())
		for _, g := range working[i] {
			gb := g.Bound()
			col0 := max(0, int(math.Floor((gb.Min.X()-transform.OriginX)/pixelWidth)))
			col1 := min(width, int(math.Ceil((gb.Max.X()-transform.OriginX)/pixelWidth)))
			row0 := max(0, int(math.Floor((transform.OriginY-gb.Max.Y())/pixelHeight)))
			row1 := min(height, int(math.Ceil((transform.OriginY-gb.Min.Y())/pixelHeight)))
			for row := row0; row < row1; row++ {
				for col := col0; col < col1; col++ {
					x, y := transform.World(float64(col)+0.5, float64(row)+0.5)
					srcCol, srcRow := g.Transform.Pixel(x, y)
					v, ok := g.Sample(srcCol, srcRow, options.Resampling)
					if !ok || (p != nil && !p.Accepts(v)) {
						continue
					}
					if checkRegion {
						point, ok := lonLats.at(col, row)
						if !ok || !p.Region.Contains(point) {
							continue
						}
					}
					result.Data[row*width+col] = dataType.convert(v)
					owners[row*width+col] = i
				}
			}
		}
	}
	if lonLats.err != nil {
		return nil, lonLats.err
	}

	owned := make([]bool, len(layers))
	for _, owner := range owners {
		if owner >= 0 {
			owned[owner] = true
		}
	}
	var sources []string
	seen := make(map[string]struct{})
	for i, layer := range layers {
		if !owned[i] || layer.Provider == nil {
			continue
		}
		name := strings.ToLower(layer.Provider.Name)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		sources = append(sources, name)
	}

	return &MosaicResult{
		Grid:    result,
		Sources: sources,
	}, nil
}

// pixelLonLats lazily computes the longitude and latitude of pixel centers,
// one row at a time.
type pixelLonLats struct {
	grid        *Grid
	transformer transformer
	rows        map[int][][]float64
	err         error
}

func newPixelLonLats(g *Grid) *pixelLonLats {
	return &pixelLonLats{
		grid: g,
		rows: make(map[int][][]float64),
	}
}

// bound returns the longitude/latitude bound of the grid. If it cannot be
// computed it returns an empty bound, which no region covers.
func (p *pixelLonLats) bound() orb.Bound {
	b, err := ProjectBounds(p.grid.Bound(), p.grid.CRS, "EPSG:4326")
	if err != nil {
		return orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	}
	return b
}

func (p *pixelLonLats) at(col, row int) (orb.Point, bool) {
	if p.err != nil {
		return orb.Point{}, false
	}
	coords, ok := p.rows[row]
	if !ok {
		if p.transformer == nil {
			p.transformer, p.err = newTransformer(p.grid.CRS, "EPSG:4326")
			if p.err != nil {
				return orb.Point{}, false
			}
		}
		flat := make([]float64, 2*p.grid.Width)
		coords = make([][]float64, p.grid.Width)
		for c := range coords {
			coords[c] = flat[2*c : 2*c+2 : 2*c+2]
			coords[c][0], coords[c][1] = p.grid.Transform.World(float64(c)+0.5, float64(row)+0.5)
		}
		if p.err = p.transformer.Transform(coords); p.err != nil {
			return orb.Point{}, false
		}
		p.rows[row] = coords
	}
	coord := coords[col]
	if math.IsNaN(coord[0]) || math.IsNaN(coord[1]) {
		return orb.Point{}, false
	}
	return orb.Point{coord[0], coord[1]}, true
}

func (p *pixelLonLats) close() {
	if p.transformer != nil {
		p.transformer.Close()
	}
}
