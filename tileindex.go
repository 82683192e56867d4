package elevatr

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// maxMercatorLat is the latitude at which the Web Mercator projection is
// clipped.
const maxMercatorLat = 85.05112877980659

// A TileRequest is a request for a single tile from a provider.
type TileRequest struct {
	Provider *Provider
	Tile     maptile.Tile
}

// Key returns the cache key of r. Requests for the same tile from providers
// sharing a source have the same key.
func (r TileRequest) Key() CacheKey {
	return CacheKey{
		Source: r.Provider.Source.namespace(),
		Z:      int(r.Tile.Z),
		X:      int(r.Tile.X),
		Y:      int(r.Tile.Y),
	}
}

// URL returns the URL of r's tile.
func (r TileRequest) URL() string {
	return r.Provider.Source.URL(r.Tile)
}

// A RequestEstimate is an estimate of the size of a request.
type RequestEstimate struct {
	Tiles int   // Distinct tiles to fetch.
	Bytes int64 // Estimated uncompressed bytes.
}

// IndexTiles returns the tiles needed to cover bbox at zoom, grouped by
// provider in priority order.
func IndexTiles(catalog *Catalog, bbox BoundingBox, zoom int) ([]TileRequest, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	if err := validateZoom(zoom); err != nil {
		return nil, err
	}
	if bbox.MinLat >= maxMercatorLat || bbox.MaxLat <= -maxMercatorLat {
		return nil, fmt.Errorf("%w: %s is outside the Web Mercator latitude range", ErrNoCoverage, bbox)
	}

	providers := catalog.Select(bbox, zoom)
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no provider covers %s at zoom %d", ErrNoCoverage, bbox, zoom)
	}

	var requests []TileRequest
	for _, p := range providers {
		bound, ok := intersectBounds(bbox.Bound(), p.Region.Bound())
		if !ok {
			continue
		}
		minTile, maxTile := tileRange(bound, maptile.Zoom(zoom))
		for y := minTile.Y; y <= maxTile.Y; y++ {
			for x := minTile.X; x <= maxTile.X; x++ {
				requests = append(requests, TileRequest{
					Provider: p,
					Tile:     maptile.New(x, y, maptile.Zoom(zoom)),
				})
			}
		}
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: no tiles cover %s at zoom %d", ErrNoCoverage, bbox, zoom)
	}
	return requests, nil
}

// EstimateRequest returns an estimate of the size of requests.
func EstimateRequest(requests []TileRequest) RequestEstimate {
	seen := make(map[CacheKey]struct{}, len(requests))
	var estimate RequestEstimate
	for _, r := range requests {
		key := r.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tileSize := int64(r.Provider.Source.TileSize)
		if tileSize == 0 {
			tileSize = 256
		}
		estimate.Tiles++
		estimate.Bytes += 2 * tileSize * tileSize
	}
	return estimate
}

// tileRange returns the top left and bottom right tiles covering bound.
// Tiles that only touch bound along an edge are excluded.
func tileRange(bound orb.Bound, z maptile.Zoom) (maptile.Tile, maptile.Tile) {
	n := float64(uint32(1) << uint32(z))
	topLeft := maptile.Fraction(orb.Point{bound.Min.Lon(), clampLat(bound.Max.Lat())}, z)
	bottomRight := maptile.Fraction(orb.Point{bound.Max.Lon(), clampLat(bound.Min.Lat())}, z)

	minX := clampTileIndex(math.Floor(topLeft.X()), n)
	minY := clampTileIndex(math.Floor(topLeft.Y()), n)
	maxX := max(clampTileIndex(math.Ceil(bottomRight.X())-1, n), minX)
	maxY := max(clampTileIndex(math.Ceil(bottomRight.Y())-1, n), minY)

	return maptile.New(minX, minY, z), maptile.New(maxX, maxY, z)
}

func clampLat(lat float64) float64 {
	return max(-maxMercatorLat, min(lat, maxMercatorLat))
}

func clampTileIndex(i, n float64) uint32 {
	if math.IsNaN(i) || i < 0 {
		return 0
	}
	if i > n-1 {
		return uint32(n - 1)
	}
	return uint32(i)
}

func intersectBounds(a, b orb.Bound) (orb.Bound, bool) {
	result := orb.Bound{
		Min: orb.Point{max(a.Min.X(), b.Min.X()), max(a.Min.Y(), b.Min.Y())},
		Max: orb.Point{min(a.Max.X(), b.Max.X()), min(a.Max.Y(), b.Max.Y())},
	}
	if result.Min.X() > result.Max.X() || result.Min.Y() > result.Max.Y() {
		return orb.Bound{}, false
	}
	return result, true
}
