package elevatr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Client defaults.
const (
	DefaultCRS                   = "EPSG:3857"
	DefaultCacheDir              = "cache"
	DefaultConcurrency           = 8
	DefaultLargeRequestThreshold = 256
)

// A ConfirmFunc decides whether a request over the large request threshold
// should proceed.
type ConfirmFunc func(RequestEstimate) bool

// A Client resolves bounding boxes into elevation rasters. A Client is safe
// for concurrent use.
type Client struct {
	catalog               *Catalog
	fetcher               *Fetcher
	fetcherOptions        []FetcherOption
	store                 TileStore
	cacheDir              string
	concurrency           int
	logger                zerolog.Logger
	largeRequestThreshold int
	confirmLargeRequest   ConfirmFunc
}

// A ClientOption sets an option on a Client.
type ClientOption func(*Client)

// NewClient returns a new Client with the given options.
func NewClient(options ...ClientOption) (*Client, error) {
	c := &Client{
		cacheDir:              DefaultCacheDir,
		concurrency:           DefaultConcurrency,
		logger:                zerolog.Nop(),
		largeRequestThreshold: DefaultLargeRequestThreshold,
	}
	for _, option := range options {
		option(c)
	}
	if c.catalog == nil {
		c.catalog = DefaultCatalog()
	}
	if c.fetcher == nil {
		fetcherOptions := append([]FetcherOption{WithFetcherLogger(c.logger)}, c.fetcherOptions...)
		fetcher, err := NewFetcher(fetcherOptions...)
		if err != nil {
			return nil, err
		}
		c.fetcher = fetcher
	}
	return c, nil
}

func WithCatalog(catalog *Catalog) ClientOption {
	return func(c *Client) {
		c.catalog = catalog
	}
}

// WithCacheDir sets the default cache directory.
func WithCacheDir(cacheDir string) ClientOption {
	return func(c *Client) {
		c.cacheDir = cacheDir
	}
}

// WithTileStore sets the default tile store, replacing the cache directory.
func WithTileStore(store TileStore) ClientOption {
	return func(c *Client) {
		c.store = store
	}
}

// WithConcurrency sets the maximum number of concurrent tile fetches.
func WithConcurrency(concurrency int) ClientOption {
	return func(c *Client) {
		c.concurrency = max(concurrency, 1)
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithFetcher sets the Fetcher, allowing its memory caches to be shared
// between clients.
func WithFetcher(fetcher *Fetcher) ClientOption {
	return func(c *Client) {
		c.fetcher = fetcher
	}
}

// WithFetcherOptions sets options on the Client's Fetcher.
func WithFetcherOptions(options ...FetcherOption) ClientOption {
	return func(c *Client) {
		c.fetcherOptions = append(c.fetcherOptions, options...)
	}
}

// WithLargeRequestThreshold sets the number of tiles above which requests
// must be confirmed. Zero disables the check.
func WithLargeRequestThreshold(tiles int) ClientOption {
	return func(c *Client) {
		c.largeRequestThreshold = tiles
	}
}

// WithConfirmLargeRequest sets the function that confirms large requests.
func WithConfirmLargeRequest(confirm ConfirmFunc) ClientOption {
	return func(c *Client) {
		c.confirmLargeRequest = confirm
	}
}

// A RequestOption sets an option on a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	crs         string
	cacheFolder string
	useCache    bool
	deleteCache bool
	clip        bool
}

// WithCRS sets the CRS of the returned raster. The default is DefaultCRS.
func WithCRS(crs string) RequestOption {
	return func(o *requestOptions) {
		o.crs = crs
	}
}

// WithCacheFolder caches tiles in cacheFolder for this request.
func WithCacheFolder(cacheFolder string) RequestOption {
	return func(o *requestOptions) {
		o.cacheFolder = cacheFolder
	}
}

// WithUseCache sets whether the cache is used. The default is true.
func WithUseCache(useCache bool) RequestOption {
	return func(o *requestOptions) {
		o.useCache = useCache
	}
}

// WithDeleteCache sets whether the cache is purged when the request
// completes, successfully or not. The default is false.
func WithDeleteCache(deleteCache bool) RequestOption {
	return func(o *requestOptions) {
		o.deleteCache = deleteCache
	}
}

// WithClip sets whether the raster is clipped to the bounding box. If false,
// the raster covers all fetched tiles. The default is true.
func WithClip(clip bool) RequestOption {
	return func(o *requestOptions) {
		o.clip = clip
	}
}

// GetElevRaster returns a raster of the elevation in bbox at zoom.
//
// Tiles that cannot be obtained leave no-data gaps and are reported by the
// raster's PartialFailure method. If no tile can be obtained, or ctx is
// cancelled, GetElevRaster returns an error.
func (c *Client) GetElevRaster(ctx context.Context, bbox BoundingBox, zoom int, options ...RequestOption) (*Raster, error) {
	o := &requestOptions{
		crs:      DefaultCRS,
		useCache: true,
		clip:     true,
	}
	for _, option := range options {
		option(o)
	}

	logger := c.logger.With().Str("request_id", newRequestID()).Logger()
	start := time.Now()

	if err := ValidateCRS(o.crs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	requests, err := IndexTiles(c.catalog, bbox, zoom)
	if err != nil {
		return nil, err
	}
	estimate := EstimateRequest(requests)
	logger.Debug().
		Stringer("bbox", bbox).
		Int("zoom", zoom).
		Int("tiles", estimate.Tiles).
		Int("requests", len(requests)).
		Msg("indexed tiles")
	if c.largeRequestThreshold > 0 && estimate.Tiles > c.largeRequestThreshold {
		if c.confirmLargeRequest == nil || !c.confirmLargeRequest(estimate) {
			return nil, &LargeRequestError{
				Estimate:  estimate,
				Threshold: c.largeRequestThreshold,
			}
		}
		logger.Info().Int("tiles", estimate.Tiles).Int64("bytes", estimate.Bytes).Msg("large request confirmed")
	}

	cache := c.cache(o)
	if o.deleteCache {
		defer func() {
			for _, r := range requests {
				c.fetcher.Forget(r.Key())
			}
			if purgeErr := cache.Purge(context.WithoutCancel(ctx)); purgeErr != nil {
				logger.Warn().Err(purgeErr).Msg("cache purge failed")
			}
		}()
	}

	grids, failed := c.fetchAll(ctx, cache, requests)
	total := len(grids) + len(failed)
	var partialFailure *PartialFailureError
	if len(failed) != 0 {
		partialFailure = &PartialFailureError{
			Failed: failed,
			Total:  total,
		}
	}
	switch {
	case ctx.Err() != nil:
		if partialFailure == nil {
			partialFailure = &PartialFailureError{Total: total}
		}
		partialFailure.Err = ctx.Err()
		return nil, partialFailure
	case len(grids) == 0:
		return nil, fmt.Errorf("no usable tiles for %s at zoom %d: %w", bbox, zoom, partialFailure)
	}
	logger.Debug().Int("tiles", len(grids)).Int("failed", len(failed)).Msg("fetched tiles")

	var layers []Layer
	for _, r := range requests {
		if len(layers) == 0 || layers[len(layers)-1].Provider != r.Provider {
			layers = append(layers, Layer{Provider: r.Provider})
		}
		if grid, ok := grids[r.Key()]; ok {
			layer := &layers[len(layers)-1]
			layer.Grids = append(layer.Grids, grid)
		}
	}
	mosaicOptions := MosaicOptions{
		CRS:        requests[0].Provider.Source.CRS,
		Resampling: Bilinear,
	}
	if o.clip {
		extent, err := ProjectBounds(bbox.Bound(), "EPSG:4326", mosaicOptions.CRS)
		if err != nil {
			return nil, err
		}
		mosaicOptions.Extent = &extent
	}
	result, err := Mosaic(layers, mosaicOptions)
	if err != nil {
		return nil, err
	}

	raster := NewRaster(result, bbox)
	if partialFailure != nil {
		raster.partialFailure = partialFailure
		logger.Warn().Err(partialFailure).Msg("partial failure")
	}
	if !sameCRS(o.crs, mosaicOptions.CRS) {
		if err := raster.Reproject(o.crs); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Stringer("bbox", bbox).
		Int("zoom", zoom).
		Str("sources", raster.ImagerySources()).
		Int("width", raster.Width()).
		Int("height", raster.Height()).
		Dur("duration", time.Since(start)).
		Msg("elevation raster")
	return raster, nil
}

func (c *Client) cache(o *requestOptions) *Cache {
	switch {
	case o.cacheFolder != "":
		return NewCache(NewDiskCache(o.cacheFolder), o.useCache)
	case c.store != nil:
		return NewCache(c.store, o.useCache)
	default:
		return NewCache(NewDiskCache(c.cacheDir), o.useCache)
	}
}

// fetchAll fetches each distinct tile in requests with at most c.concurrency
// fetches in flight.
func (c *Client) fetchAll(ctx context.Context, cache *Cache, requests []TileRequest) (map[CacheKey]*Grid, []*TileError) {
	var (
		mutex  sync.Mutex
		grids  = make(map[CacheKey]*Grid)
		failed []*TileError
		seen   = make(map[CacheKey]struct{})
		g      errgroup.Group
	)
	g.SetLimit(c.concurrency)
	for _, r := range requests {
		key := r.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		g.Go(func() error {
			grid, err := c.fetcher.Fetch(ctx, cache, r)
			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				var tileErr *TileError
				if !errors.As(err, &tileErr) {
					tileErr = &TileError{Key: key, URL: r.URL(), Err: fmt.Errorf("%w: %w", ErrFetch, err)}
				}
				failed = append(failed, tileErr)
				return nil
			}
			grids[key] = grid
			return nil
		})
	}
	_ = g.Wait()
	slices.SortFunc(failed, func(a, b *TileError) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return grids, failed
}

var (
	defaultConfig = sync.OnceValue(ConfigFromEnv)
	defaultClient = sync.OnceValues(func() (*Client, error) {
		return NewClient(defaultConfig().ClientOptions()...)
	})
)

// GetElevRaster returns a raster of the elevation in bbox at zoom using a
// shared Client configured from the environment. See ConfigFromEnv.
func GetElevRaster(ctx context.Context, bbox BoundingBox, zoom int, options ...RequestOption) (*Raster, error) {
	client, err := defaultClient()
	if err != nil {
		return nil, err
	}
	options = append(defaultConfig().RequestOptions(), options...)
	return client.GetElevRaster(ctx, bbox, zoom, options...)
}
