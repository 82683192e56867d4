package elevatr

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

func providerNames(providers []*Provider) []string {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name)
	}
	return names
}

func TestDefaultCatalog_Select(t *testing.T) {
	catalog := DefaultCatalog()
	for _, tc := range []struct {
		name     string
		bbox     BoundingBox
		zoom     int
		expected []string
	}{
		{
			name:     "france_zoom_6",
			bbox:     BoundingBox{MinLon: -5.14, MinLat: 41.33, MaxLon: 9.56, MaxLat: 51.09},
			zoom:     6,
			expected: []string{"etopo1", "gmted"},
		},
		{
			name:     "france_zoom_9",
			bbox:     BoundingBox{MinLon: -5.14, MinLat: 41.33, MaxLon: 9.56, MaxLat: 51.09},
			zoom:     9,
			expected: []string{"etopo1", "gmted", "srtm", "eudem"},
		},
		{
			name:     "world_zoom_2",
			bbox:     BoundingBox{MinLon: -180, MinLat: -90, MaxLon: 180, MaxLat: 90},
			zoom:     2,
			expected: []string{"etopo1"},
		},
		{
			name:     "greenland_zoom_12",
			bbox:     BoundingBox{MinLon: -40, MinLat: 70, MaxLon: -39.9, MaxLat: 70.1},
			zoom:     12,
			expected: []string{"etopo1", "gmted", "arcticdem"},
		},
		{
			name:     "south_pacific_zoom_10",
			bbox:     BoundingBox{MinLon: -130, MinLat: -40, MaxLon: -129.9, MaxLat: -39.9},
			zoom:     10,
			expected: []string{"etopo1", "gmted", "srtm"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, providerNames(catalog.Select(tc.bbox, tc.zoom)))
		})
	}
}

func TestDefaultCatalog_OceanAtEveryZoom(t *testing.T) {
	catalog := DefaultCatalog()
	bbox := BoundingBox{MinLon: -150, MinLat: -50, MaxLon: -149.9, MaxLat: -49.9}
	for zoom := MinZoom; zoom <= MaxZoom; zoom++ {
		selected := catalog.Select(bbox, zoom)
		assert.NotZero(t, len(selected))
		assert.Equal(t, KindOcean, selected[0].Kind)
	}
}

func TestNewCatalog(t *testing.T) {
	source := NewTerrainTilesSource()
	p := &Provider{Name: "a", Kind: KindLand, Region: Global(), MinZoom: 0, MaxZoom: 14, Source: source}

	catalog, err := NewCatalog(p)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a"}, providerNames(catalog.Providers()))

	_, err = NewCatalog(p, &Provider{Name: "A", Kind: KindOcean, Region: Global(), MaxZoom: 14, Source: source})
	assert.IsError(t, err, ErrInvalidInput)

	_, err = NewCatalog(&Provider{Name: "b", Region: Global(), MinZoom: 5, MaxZoom: 4, Source: source})
	assert.IsError(t, err, ErrInvalidInput)

	_, err = NewCatalog(&Provider{Name: "c", Region: Global(), MaxZoom: 14})
	assert.IsError(t, err, ErrInvalidInput)
}

func TestProvider_Accepts(t *testing.T) {
	ocean := &Provider{Kind: KindOcean}
	land := &Provider{Kind: KindLand}
	assert.True(t, ocean.Accepts(-100))
	assert.True(t, ocean.Accepts(100))
	assert.False(t, land.Accepts(-0.5))
	assert.True(t, land.Accepts(0))
	assert.True(t, land.Accepts(100))
}

func TestTileSource_URL(t *testing.T) {
	xyz := &TileSource{URLTemplate: "https://example.com/{z}/{x}/{y}.tif"}
	assert.Equal(t, "https://example.com/3/1/2.tif", xyz.URL(maptile.New(1, 2, 3)))

	tms := &TileSource{URLTemplate: "https://example.com/{z}/{x}/{y}.tif", Scheme: SchemeTMS}
	assert.Equal(t, "https://example.com/3/1/5.tif", tms.URL(maptile.New(1, 2, 3)))

	assert.Equal(t, TerrainTilesURLTemplate, NewTerrainTilesSource().URLTemplate)
	catalog := DefaultCatalog(WithTerrainTilesURL("http://localhost/{z}/{x}/{y}.tif"))
	for _, p := range catalog.Providers() {
		assert.Equal(t, "http://localhost/{z}/{x}/{y}.tif", p.Source.URLTemplate)
	}
}

func TestTileSource_namespace(t *testing.T) {
	a := &TileSource{Name: "Terrain Tiles", URLTemplate: "https://a.example.com/{z}/{x}/{y}.tif"}
	b := &TileSource{Name: "Terrain Tiles", URLTemplate: "https://b.example.com/{z}/{x}/{y}.tif"}
	assert.Equal(t, a.namespace(), a.namespace())
	assert.NotEqual(t, a.namespace(), b.namespace())
	assert.Equal(t, "terrain_tiles-", a.namespace()[:len("terrain_tiles-")])
}

func TestRegions(t *testing.T) {
	band := LatitudeBand{MinLat: 60, MaxLat: 90}
	assert.True(t, band.Contains(orb.Point{10, 70}))
	assert.False(t, band.Contains(orb.Point{10, 50}))
	assert.True(t, regionCovers(band, orb.Bound{Min: orb.Point{0, 61}, Max: orb.Point{1, 62}}))
	assert.False(t, regionCovers(band, orb.Bound{Min: orb.Point{0, 59}, Max: orb.Point{1, 62}}))

	polygon := PolygonRegion{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	assert.True(t, polygon.Contains(orb.Point{5, 5}))
	assert.False(t, polygon.Contains(orb.Point{15, 5}))
	assert.False(t, regionCovers(polygon, orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{2, 2}}))

	assert.True(t, regionCovers(Global(), worldBound))
}
