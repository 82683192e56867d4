package elevatr

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TerrainTilesURLTemplate is the URL template of the AWS Terrain Tiles GeoTIFF
// endpoint.
const TerrainTilesURLTemplate = "https://s3.amazonaws.com/elevation-tiles-prod/geotiff/{z}/{x}/{y}.tif"

// A Kind is the kind of surface a provider describes.
type Kind int

const (
	KindOcean Kind = iota
	KindLand
)

func (k Kind) String() string {
	switch k {
	case KindOcean:
		return "ocean"
	case KindLand:
		return "land"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// A Scheme is a tile addressing scheme.
type Scheme int

const (
	// SchemeXYZ is the slippy map scheme, with row 0 at the top.
	SchemeXYZ Scheme = iota
	// SchemeTMS is the TMS scheme, with row 0 at the bottom.
	SchemeTMS
)

// A TileSource is an endpoint serving GeoTIFF tiles.
type TileSource struct {
	Name        string
	URLTemplate string // With {z}, {x}, and {y} placeholders.
	Scheme      Scheme
	CRS         string
	NoData      float64
	ContentType string // Expected Content-Type prefix, if any.
	TileSize    int    // Pixels along one edge of a tile, used for estimates.
}

// URL returns the URL of tile.
func (s *TileSource) URL(tile maptile.Tile) string {
	y := tile.Y
	if s.Scheme == SchemeTMS {
		y = uint32(1)<<uint32(tile.Z) - 1 - tile.Y
	}
	return strings.NewReplacer(
		"{z}", strconv.Itoa(int(tile.Z)),
		"{x}", strconv.FormatUint(uint64(tile.X), 10),
		"{y}", strconv.FormatUint(uint64(y), 10),
	).Replace(s.URLTemplate)
}

// namespace returns a filesystem-safe name for s that changes when s's URL
// template changes.
func (s *TileSource) namespace() string {
	name := strings.Map(func(r rune) rune {
		switch {
		case 'a' <= r && r <= 'z', '0' <= r && r <= '9', r == '-', r == '_':
			return r
		case 'A' <= r && r <= 'Z':
			return r - 'A' + 'a'
		default:
			return '_'
		}
	}, s.Name)
	return fmt.Sprintf("%s-%08x", name, uint32(xxhash.Sum64String(s.URLTemplate)))
}

// A Provider is one elevation data source in a Catalog.
type Provider struct {
	Name       string
	Kind       Kind
	Region     Region
	MinZoom    int
	MaxZoom    int
	Resolution float64 // Nominal ground resolution in meters.
	Source     *TileSource
}

// AppliesAt returns true if p serves zoom.
func (p *Provider) AppliesAt(zoom int) bool {
	return p.MinZoom <= zoom && zoom <= p.MaxZoom
}

// Accepts returns true if p claims a valid sample with value v. Land
// providers only claim samples at or above sea level.
func (p *Provider) Accepts(v float64) bool {
	if p.Kind == KindLand {
		return v >= 0
	}
	return true
}

func (p *Provider) validate() error {
	switch {
	case p.Name == "":
		return errors.New("provider has no name")
	case p.Region == nil:
		return fmt.Errorf("%s: no region", p.Name)
	case p.Source == nil:
		return fmt.Errorf("%s: no tile source", p.Name)
	case p.Source.URLTemplate == "":
		return fmt.Errorf("%s: empty URL template", p.Name)
	case p.Source.CRS == "":
		return fmt.Errorf("%s: source has no CRS", p.Name)
	case p.MinZoom < MinZoom || p.MaxZoom > MaxZoom || p.MinZoom > p.MaxZoom:
		return fmt.Errorf("%s: invalid zoom range %d-%d", p.Name, p.MinZoom, p.MaxZoom)
	}
	return nil
}

// A Catalog is an ordered table of providers. Within each kind, later
// providers take priority over earlier ones where they overlap.
type Catalog struct {
	providers []*Provider
}

// A CatalogOption sets an option on the default catalog.
type CatalogOption func(*catalogOptions)

type catalogOptions struct {
	source *TileSource
}

// NewCatalog returns a new Catalog with providers in priority order.
func NewCatalog(providers ...*Provider) (*Catalog, error) {
	names := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		name := strings.ToLower(p.Name)
		if _, ok := names[name]; ok {
			return nil, fmt.Errorf("%w: duplicate provider %s", ErrInvalidInput, p.Name)
		}
		names[name] = struct{}{}
	}
	return &Catalog{
		providers: slices.Clone(providers),
	}, nil
}

// WithTerrainTilesURL sets the URL template of the default catalog's tile
// source.
func WithTerrainTilesURL(urlTemplate string) CatalogOption {
	return func(o *catalogOptions) {
		o.source.URLTemplate = urlTemplate
	}
}

// WithTerrainTilesSource replaces the default catalog's tile source.
func WithTerrainTilesSource(source *TileSource) CatalogOption {
	return func(o *catalogOptions) {
		o.source = source
	}
}

// NewTerrainTilesSource returns the AWS Terrain Tiles source.
func NewTerrainTilesSource() *TileSource {
	return &TileSource{
		Name:        "terrain-tiles",
		URLTemplate: TerrainTilesURLTemplate,
		Scheme:      SchemeXYZ,
		CRS:         "EPSG:3857",
		NoData:      math.MinInt16,
		ContentType: "image/tif",
		TileSize:    512,
	}
}

// DefaultCatalog returns the catalog of the data sources composited into the
// Terrain Tiles dataset. All providers share a single tile source; the
// catalog determines which provider each pixel is attributed to.
func DefaultCatalog(options ...CatalogOption) *Catalog {
	o := &catalogOptions{
		source: NewTerrainTilesSource(),
	}
	for _, option := range options {
		option(o)
	}
	source := o.source
	return &Catalog{
		providers: []*Provider{
			{
				Name:       "etopo1",
				Kind:       KindOcean,
				Region:     Global(),
				MinZoom:    0,
				MaxZoom:    14,
				Resolution: 1852,
				Source:     source,
			},
			{
				Name:       "gmted",
				Kind:       KindLand,
				Region:     Global(),
				MinZoom:    5,
				MaxZoom:    14,
				Resolution: 232,
				Source:     source,
			},
			{
				Name:       "srtm",
				Kind:       KindLand,
				Region:     LatitudeBand{MinLat: -60, MaxLat: 60},
				MinZoom:    7,
				MaxZoom:    14,
				Resolution: 30,
				Source:     source,
			},
			{
				Name:       "arcticdem",
				Kind:       KindLand,
				Region:     LatitudeBand{MinLat: 60, MaxLat: 90},
				MinZoom:    10,
				MaxZoom:    14,
				Resolution: 5,
				Source:     source,
			},
			{
				Name:       "cdem",
				Kind:       KindLand,
				Region:     BoundRegion{Min: orb.Point{-141, 41.6}, Max: orb.Point{-52.6, 83.2}},
				MinZoom:    9,
				MaxZoom:    14,
				Resolution: 20,
				Source:     source,
			},
			{
				Name:       "eudem",
				Kind:       KindLand,
				Region:     BoundRegion{Min: orb.Point{-31.5, 27.6}, Max: orb.Point{44.9, 71.2}},
				MinZoom:    9,
				MaxZoom:    14,
				Resolution: 25,
				Source:     source,
			},
			{
				Name:       "ned",
				Kind:       KindLand,
				Region:     BoundRegion{Min: orb.Point{-125, 24.5}, Max: orb.Point{-66.9, 49.4}},
				MinZoom:    10,
				MaxZoom:    14,
				Resolution: 10,
				Source:     source,
			},
			{
				Name:       "linz",
				Kind:       KindLand,
				Region:     BoundRegion{Min: orb.Point{166, -47.5}, Max: orb.Point{179, -34}},
				MinZoom:    9,
				MaxZoom:    14,
				Resolution: 8,
				Source:     source,
			},
		},
	}
}

// Providers returns all of c's providers in catalog order.
func (c *Catalog) Providers() []*Provider {
	return slices.Clone(c.providers)
}

// Select returns the providers that serve zoom and whose region intersects
// bbox, ocean providers first, then land providers, each in catalog order.
func (c *Catalog) Select(bbox BoundingBox, zoom int) []*Provider {
	bound := bbox.Bound()
	var selected []*Provider
	for _, kind := range []Kind{KindOcean, KindLand} {
		for _, p := range c.providers {
			if p.Kind != kind || !p.AppliesAt(zoom) {
				continue
			}
			if !p.Region.Bound().Intersects(bound) {
				continue
			}
			selected = append(selected, p)
		}
	}
	return selected
}
