// Package elevatr downloads elevation tiles covering a bounding box, mosaics
// them into a single georeferenced grid, and exposes the result as a
// [Raster].
package elevatr

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Supported zoom levels.
const (
	MinZoom = 0
	MaxZoom = 14
)

// A BoundingBox is a geographic bounding box in degrees.
type BoundingBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// NewBoundingBox returns a new validated BoundingBox.
func NewBoundingBox(minLon, minLat, maxLon, maxLat float64) (BoundingBox, error) {
	b := BoundingBox{
		MinLon: minLon,
		MinLat: minLat,
		MaxLon: maxLon,
		MaxLat: maxLat,
	}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// Validate returns an error wrapping ErrInvalidInput if b is malformed.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bounding box contains a non-finite value", ErrInvalidInput)
		}
	}
	switch {
	case b.MinLon < -180 || b.MaxLon > 180:
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrInvalidInput)
	case b.MinLat < -90 || b.MaxLat > 90:
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrInvalidInput)
	case b.MinLon >= b.MaxLon:
		return fmt.Errorf("%w: min longitude %g is not less than max longitude %g", ErrInvalidInput, b.MinLon, b.MaxLon)
	case b.MinLat >= b.MaxLat:
		return fmt.Errorf("%w: min latitude %g is not less than max latitude %g", ErrInvalidInput, b.MinLat, b.MaxLat)
	}
	return nil
}

// Bound returns b as an orb.Bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%g, %g, %g, %g)", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

func validateZoom(zoom int) error {
	if zoom < MinZoom || MaxZoom < zoom {
		return fmt.Errorf("%w: zoom must be an integer between %d and %d, got %d", ErrInvalidInput, MinZoom, MaxZoom, zoom)
	}
	return nil
}
