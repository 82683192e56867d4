package elevatr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maypok86/otter/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	tileFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevatr_tile_fetches_total",
		Help: "The total number of tile HTTP requests",
	})
	tileFetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevatr_tile_fetch_retries_total",
		Help: "The total number of retried tile HTTP requests",
	})
	tileFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elevatr_tile_failures_total",
		Help: "The total number of tiles that could not be obtained",
	}, []string{"kind"})
	missingTileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevatr_missing_tile_cache_hits_total",
		Help: "The total number of hits on the missing tile cache",
	})
	decodedTileCacheLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevatr_decoded_tile_cache_loads_total",
		Help: "The total number of loads into the decoded tile cache",
	})
)

// Default Fetcher settings.
const (
	DefaultRetries              = 3
	DefaultRetryBackoff         = 250 * time.Millisecond
	DefaultHTTPTimeout          = 30 * time.Second
	defaultDecodedTileCacheSize = 64
	defaultMissingTileCacheSize = 1024
)

// A StatusError is an unexpected HTTP response status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// A decodedTileKey identifies a decoded tile read through the store at
// location.
type decodedTileKey struct {
	location string
	CacheKey
}

// A Fetcher fetches and decodes tiles. It keeps recently decoded tiles in
// memory and remembers tiles that do not exist. A Fetcher is safe for
// concurrent use.
type Fetcher struct {
	httpClient           *http.Client
	retries              int
	retryBackoff         time.Duration
	userAgent            string
	logger               zerolog.Logger
	decodedTileCacheSize int
	missingTileCacheSize int
	decodedTiles         *otter.Cache[decodedTileKey, *Grid]
	locations            sync.Map
	missingTiles         *lru.Cache[CacheKey, *TileError]
}

// A FetcherOption sets an option on a Fetcher.
type FetcherOption func(*Fetcher)

// NewFetcher returns a new Fetcher with the given options.
func NewFetcher(options ...FetcherOption) (*Fetcher, error) {
	f := &Fetcher{
		retries:              DefaultRetries,
		retryBackoff:         DefaultRetryBackoff,
		userAgent:            "go-elevatr",
		logger:               zerolog.Nop(),
		decodedTileCacheSize: defaultDecodedTileCacheSize,
		missingTileCacheSize: defaultMissingTileCacheSize,
	}
	for _, option := range options {
		option(f)
	}
	if f.httpClient == nil {
		f.httpClient = NewHTTPClient(DefaultHTTPTimeout)
	}

	var err error
	f.decodedTiles, err = otter.New(&otter.Options[decodedTileKey, *Grid]{
		MaximumSize: max(f.decodedTileCacheSize, 1),
	})
	if err != nil {
		return nil, err
	}
	f.missingTiles, err = lru.New[CacheKey, *TileError](max(f.missingTileCacheSize, 1))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// NewHTTPClient returns an HTTP client tuned for fetching many tiles from a
// few hosts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func WithHTTPClient(httpClient *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.httpClient = httpClient
	}
}

// WithRetries sets the number of retries after a failed request and the
// initial backoff between them.
func WithRetries(retries int, retryBackoff time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.retries = max(retries, 0)
		f.retryBackoff = retryBackoff
	}
}

func WithUserAgent(userAgent string) FetcherOption {
	return func(f *Fetcher) {
		f.userAgent = userAgent
	}
}

func WithFetcherLogger(logger zerolog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithDecodedTileCacheSize sets the number of decoded tiles kept in memory.
func WithDecodedTileCacheSize(decodedTileCacheSize int) FetcherOption {
	return func(f *Fetcher) {
		f.decodedTileCacheSize = decodedTileCacheSize
	}
}

// Fetch returns the decoded grid of req's tile, using cache and f's memory
// caches if cache is enabled. Decoded tiles are only shared between caches
// with the same location. Errors are *TileErrors.
func (f *Fetcher) Fetch(ctx context.Context, cache *Cache, req TileRequest) (*Grid, error) {
	if !cache.Enabled() {
		return f.load(ctx, cache, req)
	}
	key := req.Key()
	if tileErr, ok := f.missingTiles.Get(key); ok {
		missingTileCacheHits.Inc()
		return nil, tileErr
	}
	if cache.location == "" {
		return f.load(ctx, cache, req)
	}
	f.locations.Store(cache.location, struct{}{})
	return f.decodedTiles.Get(ctx, decodedTileKey{location: cache.location, CacheKey: key}, otter.LoaderFunc[decodedTileKey, *Grid](func(ctx context.Context, _ decodedTileKey) (*Grid, error) {
		decodedTileCacheLoads.Inc()
		return f.load(ctx, cache, req)
	}))
}

// Forget removes key from f's memory caches.
func (f *Fetcher) Forget(key CacheKey) {
	f.locations.Range(func(location, _ any) bool {
		f.decodedTiles.Invalidate(decodedTileKey{location: location.(string), CacheKey: key})
		return true
	})
	f.missingTiles.Remove(key)
}

// load returns the decoded grid of req's tile from cache, falling back to
// downloading it. Downloaded tiles are only stored once they decode.
func (f *Fetcher) load(ctx context.Context, cache *Cache, req TileRequest) (*Grid, error) {
	key := req.Key()
	url := req.URL()
	source := req.Provider.Source
	logger := f.logger.With().Str("tile", key.String()).Logger()

	switch data, ok, err := cache.Lookup(ctx, key); {
	case err != nil:
		logger.Warn().Err(err).Msg("cache lookup failed")
	case ok:
		grid, err := DecodeGeoTIFF(data, source.CRS, source.NoData)
		if err == nil {
			logger.Debug().Msg("cache hit")
			return grid, nil
		}
		logger.Warn().Err(err).Msg("discarding corrupt cache entry")
	default:
		logger.Debug().Msg("cache miss")
	}

	data, err := f.download(ctx, url, source)
	if err != nil {
		return nil, f.tileError(key, url, err)
	}
	grid, err := DecodeGeoTIFF(data, source.CRS, source.NoData)
	if err != nil {
		return nil, f.tileError(key, url, err)
	}
	if err := cache.Store(ctx, key, data); err != nil {
		logger.Warn().Err(err).Msg("cache store failed")
	}
	return grid, nil
}

// download returns the body at url, retrying transient failures with
// exponential backoff.
func (f *Fetcher) download(ctx context.Context, url string, source *TileSource) ([]byte, error) {
	exponentialBackOff := backoff.NewExponentialBackOff()
	exponentialBackOff.InitialInterval = f.retryBackoff
	exponentialBackOff.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exponentialBackOff, uint64(f.retries)), ctx)
	data, err := backoff.RetryNotifyWithData(func() ([]byte, error) {
		return f.get(ctx, url, source)
	}, b, func(err error, d time.Duration) {
		tileFetchRetries.Inc()
		f.logger.Debug().
			Err(err).
			Str("url", url).
			Dur("backoff", d).
			Msg("retrying tile fetch")
	})
	if err != nil && !errors.Is(err, ErrFetch) && !errors.Is(err, ErrDecode) {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return data, err
}

// get performs a single request for url. Errors that retrying cannot fix are
// marked as permanent.
func (f *Fetcher) get(ctx context.Context, url string, source *TileSource) ([]byte, error) {
	tileFetches.Inc()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrFetch, err))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrFetch, err))
		}
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %w", ErrFetch, &StatusError{StatusCode: resp.StatusCode, URL: url})
	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrFetch, &StatusError{StatusCode: resp.StatusCode, URL: url}))
	}

	if contentType := resp.Header.Get("Content-Type"); source.ContentType != "" && contentType != "" &&
		!strings.HasPrefix(contentType, source.ContentType) {
		return nil, backoff.Permanent(fmt.Errorf("%w: unexpected content type %q", ErrDecode, contentType))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return data, nil
}

// tileError records and logs a failure to obtain a tile. Tiles that do not
// exist are remembered so that they are not requested again.
func (f *Fetcher) tileError(key CacheKey, url string, err error) *TileError {
	tileErr := &TileError{
		Key: key,
		URL: url,
		Err: err,
	}
	kind := "fetch"
	if errors.Is(err, ErrDecode) {
		kind = "decode"
	}
	tileFailures.WithLabelValues(kind).Inc()
	f.logger.Warn().
		Str("source", key.Source).
		Int("z", key.Z).
		Int("x", key.X).
		Int("y", key.Y).
		Str("url", url).
		Err(err).
		Msg("tile failed")

	var statusErr *StatusError
	if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusGone) {
		f.missingTiles.Add(key, tileErr)
	}
	return tileErr
}
