package elevatr

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/paulmach/orb"
)

// A Resolution is the pixel size of a raster in the units of its CRS.
type Resolution struct {
	X    float64
	Y    float64
	Unit string
}

// A Raster is a merged elevation grid with its provenance.
//
// A Raster is read-only except for Reproject, which replaces its grid in
// place. All methods are safe for concurrent use.
type Raster struct {
	mutex          sync.RWMutex
	grid           *Grid
	sources        []string
	bbox           BoundingBox
	partialFailure error
}

// NewRaster returns a new Raster from the result of Mosaic. bbox is the
// requested bounding box.
func NewRaster(result *MosaicResult, bbox BoundingBox) *Raster {
	return &Raster{
		grid:    result.Grid,
		sources: normalizeSources(result.Sources),
		bbox:    bbox,
	}
}

func normalizeSources(sources []string) []string {
	seen := make(map[string]struct{}, len(sources))
	normalized := make([]string, 0, len(sources))
	for _, source := range sources {
		source = strings.ToLower(strings.TrimSpace(source))
		if _, ok := seen[source]; ok || source == "" {
			continue
		}
		seen[source] = struct{}{}
		normalized = append(normalized, source)
	}
	return normalized
}

func (r *Raster) snapshot() *Grid {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.grid
}

// Grid returns a copy of r's grid.
func (r *Raster) Grid() *Grid {
	return r.snapshot().Clone()
}

// CRS returns r's coordinate reference system.
func (r *Raster) CRS() string {
	return r.snapshot().CRS
}

func (r *Raster) Width() int               { return r.snapshot().Width }
func (r *Raster) Height() int              { return r.snapshot().Height }
func (r *Raster) DataType() DataType       { return r.snapshot().DataType }
func (r *Raster) NoData() float64          { return r.snapshot().NoData }
func (r *Raster) Transform() Transform     { return r.snapshot().Transform }
func (r *Raster) Bounds() orb.Bound        { return r.snapshot().Bound() }
func (r *Raster) BoundingBox() BoundingBox { return r.bbox }

// Resolution returns r's pixel size.
func (r *Raster) Resolution() Resolution {
	g := r.snapshot()
	return Resolution{
		X:    g.Transform.PixelWidth,
		Y:    g.Transform.PixelHeight,
		Unit: crsUnit(g.CRS),
	}
}

// ImagerySources returns the lower case, comma separated names of the
// providers that contributed to r.
func (r *Raster) ImagerySources() string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return strings.Join(r.sources, ",")
}

// ToArray returns a copy of r's samples, one slice per row. No-data samples
// have the value NoData.
func (r *Raster) ToArray() [][]float64 {
	return r.snapshot().Rows()
}

// PartialFailure returns a *PartialFailureError if some tiles could not be
// obtained when r was created, nil otherwise.
func (r *Raster) PartialFailure() error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.partialFailure
}

// WriteGeoTIFF writes r to a GeoTIFF file at path, replacing any existing
// file. Errors other than invalid options wrap ErrWrite.
func (r *Raster) WriteGeoTIFF(path string, options ...WriteOption) error {
	g := r.snapshot()
	if err := writeOptionsValid(options); err != nil {
		return err
	}
	if err := writeFileAtomic(path, func(w io.Writer) error {
		return EncodeGeoTIFF(w, g, options...)
	}); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	return nil
}

// Reproject replaces r's grid with its samples reprojected into crs using
// bilinear resampling. It is destructive: arrays previously returned by
// ToArray are unaffected but the original grid cannot be recovered. Errors
// wrap ErrInvalidCRS.
func (r *Raster) Reproject(crs string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := ValidateCRS(crs); err != nil {
		return err
	}
	grid, err := ReprojectGrid(r.grid, crs, Bilinear)
	switch {
	case errors.Is(err, ErrInvalidCRS):
		return err
	case err != nil:
		return invalidCRSError(crs, err)
	}
	r.grid = grid
	return nil
}

func writeOptionsValid(options []WriteOption) error {
	o := &writeOptions{}
	for _, option := range options {
		option(o)
	}
	switch o.compression {
	case CompressionNone, CompressionDeflate:
		return nil
	default:
		return fmt.Errorf("%w: compression %d", ErrInvalidInput, o.compression)
	}
}
