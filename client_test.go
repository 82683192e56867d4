package elevatr

import (
	"context"
	"errors"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb/maptile"
)

var testFrance = BoundingBox{MinLon: -5.14, MinLat: 41.33, MaxLon: 9.56, MaxLat: 51.09}

func newTestClient(t *testing.T, s *testTileServer, options ...ClientOption) *Client {
	t.Helper()
	client, err := NewClient(append([]ClientOption{
		WithCatalog(DefaultCatalog(WithTerrainTilesURL(s.urlTemplate()))),
		WithCacheDir(t.TempDir()),
		WithFetcherOptions(WithRetries(1, time.Millisecond)),
	}, options...)...)
	assert.NoError(t, err)
	return client
}

// sampleLonLat returns the value of the raster at lon, lat.
func sampleLonLat(t *testing.T, raster *Raster, lon, lat float64) float64 {
	t.Helper()
	x, y := lon, lat
	if isWebMercator(raster.CRS()) {
		x, y = lonLatToWebMercator(lon, lat)
	}
	col, row := raster.Transform().Pixel(x, y)
	return raster.ToArray()[int(row)][int(col)]
}

func TestClient_GetElevRaster(t *testing.T) {
	s := newTestTileServer(t, 16, coastElevation)
	client := newTestClient(t, s)

	raster, err := client.GetElevRaster(context.Background(), testFrance, 6)
	assert.NoError(t, err)
	assert.NoError(t, raster.PartialFailure())
	assert.Equal(t, 9, s.requestCount())
	assert.Equal(t, "etopo1,gmted", raster.ImagerySources())
	assert.Equal(t, "EPSG:3857", raster.CRS())
	assert.Equal(t, Int16, raster.DataType())
	assert.Equal(t, float64(math.MinInt16), raster.NoData())
	assert.Equal(t, testFrance, raster.BoundingBox())
	assert.Equal(t, "meters", raster.Resolution().Unit)

	// The raster edges are within one pixel of the bounding box.
	expected, err := ProjectBounds(testFrance.Bound(), "EPSG:4326", "EPSG:3857")
	assert.NoError(t, err)
	actual := raster.Bounds()
	pixelSize := raster.Resolution().X
	assertNear(t, expected.Min.X(), actual.Min.X(), pixelSize)
	assertNear(t, expected.Min.Y(), actual.Min.Y(), pixelSize)
	assertNear(t, expected.Max.X(), actual.Max.X(), pixelSize)
	assertNear(t, expected.Max.Y(), actual.Max.Y(), pixelSize)

	array := raster.ToArray()
	assert.Equal(t, raster.Height(), len(array))
	assert.Equal(t, raster.Width(), len(array[0]))
	assert.Equal(t, -50.0, sampleLonLat(t, raster, -3, 47))
	land := sampleLonLat(t, raster, 6, 46)
	assert.True(t, 145 <= land && land <= 147)
}

func TestClient_GetElevRaster_NoClip(t *testing.T) {
	s := newTestTileServer(t, 16, coastElevation)
	raster, err := newTestClient(t, s).GetElevRaster(context.Background(), testFrance, 6, WithClip(false))
	assert.NoError(t, err)
	topLeft := webMercatorTileBound(maptile.New(31, 21, 6))
	bottomRight := webMercatorTileBound(maptile.New(33, 23, 6))
	bound := raster.Bounds()
	assertNear(t, topLeft.Min.X(), bound.Min.X(), 1e-6)
	assertNear(t, topLeft.Max.Y(), bound.Max.Y(), 1e-6)
	assertNear(t, bottomRight.Max.X(), bound.Max.X(), 1e-6)
	assertNear(t, bottomRight.Min.Y(), bound.Min.Y(), 1e-6)
	assert.Equal(t, 48, raster.Width())
	assert.Equal(t, 48, raster.Height())
}

func TestClient_GetElevRaster_Cache(t *testing.T) {
	ctx := context.Background()
	s := newTestTileServer(t, 16, coastElevation)
	cacheDir := t.TempDir()

	first, err := newTestClient(t, s, WithCacheDir(cacheDir)).GetElevRaster(ctx, testFrance, 6)
	assert.NoError(t, err)
	assert.Equal(t, 9, s.requestCount())

	// A fresh client with the same cache directory makes no requests.
	second, err := newTestClient(t, s, WithCacheDir(cacheDir)).GetElevRaster(ctx, testFrance, 6)
	assert.NoError(t, err)
	assert.Equal(t, 9, s.requestCount())
	assert.Equal(t, first.ToArray(), second.ToArray())
	assert.Equal(t, first.Transform(), second.Transform())

	// Disabling the cache fetches every tile again.
	third, err := newTestClient(t, s, WithCacheDir(cacheDir)).GetElevRaster(ctx, testFrance, 6, WithUseCache(false))
	assert.NoError(t, err)
	assert.Equal(t, 18, s.requestCount())
	assert.Equal(t, first.ToArray(), third.ToArray())
}

func TestClient_GetElevRaster_DeleteCache(t *testing.T) {
	ctx := context.Background()
	s := newTestTileServer(t, 16, coastElevation)
	cacheFolder := filepath.Join(t.TempDir(), "tiles")
	client := newTestClient(t, s)

	_, err := client.GetElevRaster(ctx, testFrance, 6, WithCacheFolder(cacheFolder))
	assert.NoError(t, err)
	_, err = os.Stat(cacheFolder)
	assert.NoError(t, err)

	_, err = client.GetElevRaster(ctx, testFrance, 6, WithCacheFolder(cacheFolder), WithDeleteCache(true))
	assert.NoError(t, err)
	_, err = os.Stat(cacheFolder)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, 9, s.requestCount())

	// Deleted tiles are fetched again.
	_, err = client.GetElevRaster(ctx, testFrance, 6, WithCacheFolder(cacheFolder))
	assert.NoError(t, err)
	assert.Equal(t, 18, s.requestCount())
}

func TestClient_GetElevRaster_CacheFolders(t *testing.T) {
	ctx := context.Background()
	s := newTestTileServer(t, 16, coastElevation)
	client := newTestClient(t, s)
	folderA := filepath.Join(t.TempDir(), "a")
	folderB := filepath.Join(t.TempDir(), "b")

	_, err := client.GetElevRaster(ctx, testFrance, 6, WithCacheFolder(folderA))
	assert.NoError(t, err)
	_, err = client.GetElevRaster(ctx, testFrance, 6, WithCacheFolder(folderB))
	assert.NoError(t, err)
	assert.Equal(t, 18, s.requestCount())
	for _, folder := range []string{folderA, folderB} {
		entries, err := os.ReadDir(folder)
		assert.NoError(t, err)
		assert.NotZero(t, len(entries))
	}

	// Repeating a request is answered from memory.
	_, err = client.GetElevRaster(ctx, testFrance, 6, WithCacheFolder(folderB))
	assert.NoError(t, err)
	assert.Equal(t, 18, s.requestCount())
}

func TestClient_GetElevRaster_Concurrency(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(strconv.Itoa(concurrency), func(t *testing.T) {
			s := newTestTileServer(t, 16, coastElevation)
			s.setDelay(20 * time.Millisecond)
			_, err := newTestClient(t, s, WithConcurrency(concurrency)).GetElevRaster(context.Background(), testFrance, 6)
			assert.NoError(t, err)
			assert.Equal(t, 9, s.requestCount())
			assert.Equal(t, concurrency, s.peakRequestsInFlight())
		})
	}
}

func TestClient_GetElevRaster_PartialFailure(t *testing.T) {
	s := newTestTileServer(t, 16, coastElevation)
	s.setStatus(func(z, x, y int) int {
		if x == 32 && y == 22 {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	})

	raster, err := newTestClient(t, s).GetElevRaster(context.Background(), testFrance, 6)
	assert.NoError(t, err)
	partialFailure := raster.PartialFailure()
	assert.IsError(t, partialFailure, ErrPartialFailure)
	assert.IsError(t, partialFailure, ErrFetch)
	var partialFailureErr *PartialFailureError
	assert.True(t, errors.As(partialFailure, &partialFailureErr))
	assert.Equal(t, 9, partialFailureErr.Total)
	assert.Equal(t, 1, len(partialFailureErr.Failed))
	assert.Equal(t, 6, partialFailureErr.Failed[0].Key.Z)
	assert.Equal(t, 32, partialFailureErr.Failed[0].Key.X)
	assert.Equal(t, 22, partialFailureErr.Failed[0].Key.Y)

	// The failed tile is a no-data hole.
	assert.Equal(t, raster.NoData(), sampleLonLat(t, raster, 2.8, 45))
	assert.Equal(t, -50.0, sampleLonLat(t, raster, -3, 47))
}

func TestClient_GetElevRaster_TotalFailure(t *testing.T) {
	s := newTestTileServer(t, 16, coastElevation)
	s.setStatus(func(z, x, y int) int { return http.StatusBadGateway })

	raster, err := newTestClient(t, s).GetElevRaster(context.Background(), testFrance, 6)
	assert.IsError(t, err, ErrFetch)
	assert.IsError(t, err, ErrPartialFailure)
	assert.Zero(t, raster)
}

func TestClient_GetElevRaster_LargeRequest(t *testing.T) {
	ctx := context.Background()
	s := newTestTileServer(t, 16, coastElevation)

	raster, err := newTestClient(t, s, WithLargeRequestThreshold(4)).GetElevRaster(ctx, testFrance, 6)
	assert.IsError(t, err, ErrLargeRequest)
	assert.Zero(t, raster)
	var largeRequestErr *LargeRequestError
	assert.True(t, errors.As(err, &largeRequestErr))
	assert.Equal(t, 9, largeRequestErr.Estimate.Tiles)
	assert.Equal(t, 4, largeRequestErr.Threshold)
	assert.Equal(t, 0, s.requestCount())

	var confirmed []RequestEstimate
	confirm := func(estimate RequestEstimate) bool {
		confirmed = append(confirmed, estimate)
		return true
	}
	raster, err = newTestClient(t, s, WithLargeRequestThreshold(4), WithConfirmLargeRequest(confirm)).GetElevRaster(ctx, testFrance, 6)
	assert.NoError(t, err)
	assert.NotZero(t, raster)
	assert.Equal(t, []RequestEstimate{{Tiles: 9, Bytes: 9 * 2 * 512 * 512}}, confirmed)

	declined, err := newTestClient(t, s, WithLargeRequestThreshold(4), WithConfirmLargeRequest(func(RequestEstimate) bool {
		return false
	})).GetElevRaster(ctx, testFrance, 6)
	assert.IsError(t, err, ErrLargeRequest)
	assert.Zero(t, declined)
	assert.Equal(t, 9, s.requestCount())
}

func TestClient_GetElevRaster_Ocean(t *testing.T) {
	s := newTestTileServer(t, 16, func(lon, lat float64) float64 { return -5000 })
	bbox := BoundingBox{MinLon: -150, MinLat: -30, MaxLon: -149, MaxLat: -29}
	raster, err := newTestClient(t, s).GetElevRaster(context.Background(), bbox, 8)
	assert.NoError(t, err)
	assert.Equal(t, "etopo1", raster.ImagerySources())
	for _, row := range raster.ToArray() {
		for _, v := range row {
			assert.Equal(t, -5000.0, v)
		}
	}
}

func TestClient_GetElevRaster_InvalidInput(t *testing.T) {
	ctx := context.Background()
	s := newTestTileServer(t, 16, coastElevation)
	client := newTestClient(t, s)

	_, err := client.GetElevRaster(ctx, testFrance, 15)
	assert.IsError(t, err, ErrInvalidInput)
	_, err = client.GetElevRaster(ctx, testFrance, -1)
	assert.IsError(t, err, ErrInvalidInput)
	_, err = client.GetElevRaster(ctx, BoundingBox{MinLon: 10, MinLat: 0, MaxLon: 0, MaxLat: 1}, 5)
	assert.IsError(t, err, ErrInvalidInput)

	_, err = client.GetElevRaster(ctx, testFrance, 6, WithCRS("not a crs"))
	assert.IsError(t, err, ErrInvalidInput)
	assert.IsError(t, err, ErrInvalidCRS)

	_, err = client.GetElevRaster(ctx, BoundingBox{MinLon: 0, MinLat: 86, MaxLon: 10, MaxLat: 89}, 5)
	assert.IsError(t, err, ErrNoCoverage)

	assert.Equal(t, 0, s.requestCount())
}

func TestClient_GetElevRaster_CRS(t *testing.T) {
	s := newTestTileServer(t, 16, coastElevation)
	raster, err := newTestClient(t, s).GetElevRaster(context.Background(), testFrance, 6, WithCRS("EPSG:4326"))
	assert.NoError(t, err)
	assert.Equal(t, "EPSG:4326", raster.CRS())
	resolution := raster.Resolution()
	assert.Equal(t, "degrees", resolution.Unit)
	assert.Equal(t, resolution.X, resolution.Y)

	bound := raster.Bounds()
	assertNear(t, testFrance.MinLon, bound.Min.X(), 2*resolution.X)
	assertNear(t, testFrance.MaxLon, bound.Max.X(), 2*resolution.X)
	assertNear(t, testFrance.MinLat, bound.Min.Y(), 2*resolution.Y)
	assertNear(t, testFrance.MaxLat, bound.Max.Y(), 2*resolution.Y)
	assert.Equal(t, -50.0, sampleLonLat(t, raster, -3, 47))
}

func TestClient_GetElevRaster_Canceled(t *testing.T) {
	s := newTestTileServer(t, 16, coastElevation)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	raster, err := newTestClient(t, s).GetElevRaster(ctx, testFrance, 6)
	assert.IsError(t, err, context.Canceled)
	assert.Zero(t, raster)
}

func TestClient_GetElevRaster_SharedStore(t *testing.T) {
	ctx := context.Background()
	s := newTestTileServer(t, 16, coastElevation)
	_, redisCache := newTestRedisCache(t)

	_, err := newTestClient(t, s, WithTileStore(redisCache)).GetElevRaster(ctx, testFrance, 6)
	assert.NoError(t, err)
	_, err = newTestClient(t, s, WithTileStore(redisCache)).GetElevRaster(ctx, testFrance, 6)
	assert.NoError(t, err)
	assert.Equal(t, 9, s.requestCount())
}

func TestGetElevRaster(t *testing.T) {
	s := newTestTileServer(t, 16, coastElevation)
	t.Setenv("ELEVATR_TILE_URL", s.urlTemplate())
	t.Setenv("ELEVATR_CACHE_DIR", t.TempDir())
	t.Setenv("ELEVATR_RETRIES", "0")

	raster, err := GetElevRaster(context.Background(), testFrance, 6)
	assert.NoError(t, err)
	assert.Equal(t, "etopo1,gmted", raster.ImagerySources())
	assert.Equal(t, 9, s.requestCount())
}
