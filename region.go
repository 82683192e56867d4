package elevatr

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// A Region is a geographic area in longitude/latitude degrees.
type Region interface {
	Bound() orb.Bound
	Contains(point orb.Point) bool
}

// regionCoverer is implemented by regions that can cheaply decide whether they
// contain every point of a bound.
type regionCoverer interface {
	Covers(bound orb.Bound) bool
}

var worldBound = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

type globalRegion struct{}

// Global returns a Region covering the whole world.
func Global() Region {
	return globalRegion{}
}

func (globalRegion) Bound() orb.Bound        { return worldBound }
func (globalRegion) Contains(orb.Point) bool { return true }
func (globalRegion) Covers(orb.Bound) bool   { return true }

// A LatitudeBand is the region between two latitudes, inclusive.
type LatitudeBand struct {
	MinLat float64
	MaxLat float64
}

func (b LatitudeBand) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{-180, b.MinLat}, Max: orb.Point{180, b.MaxLat}}
}

func (b LatitudeBand) Contains(point orb.Point) bool {
	return b.MinLat <= point.Lat() && point.Lat() <= b.MaxLat
}

func (b LatitudeBand) Covers(bound orb.Bound) bool {
	return b.MinLat <= bound.Min.Lat() && bound.Max.Lat() <= b.MaxLat
}

// A BoundRegion is a longitude/latitude rectangle.
type BoundRegion orb.Bound

func (r BoundRegion) Bound() orb.Bound {
	return orb.Bound(r)
}

func (r BoundRegion) Contains(point orb.Point) bool {
	return orb.Bound(r).Contains(point)
}

func (r BoundRegion) Covers(bound orb.Bound) bool {
	b := orb.Bound(r)
	return b.Contains(bound.Min) && b.Contains(bound.Max)
}

// A PolygonRegion is an arbitrary polygon in longitude/latitude degrees.
type PolygonRegion orb.Polygon

func (r PolygonRegion) Bound() orb.Bound {
	return orb.Polygon(r).Bound()
}

func (r PolygonRegion) Contains(point orb.Point) bool {
	return planar.PolygonContains(orb.Polygon(r), point)
}

// regionCovers returns true if region is known to contain the whole of bound.
// A false result means that the region must be tested point by point.
func regionCovers(region Region, bound orb.Bound) bool {
	if coverer, ok := region.(regionCoverer); ok {
		return coverer.Covers(bound)
	}
	return false
}
