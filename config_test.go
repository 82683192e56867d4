package elevatr

import (
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/alicebob/miniredis/v2"
)

func TestConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, Config{
			CacheDir:              DefaultCacheDir,
			UseCache:              true,
			Concurrency:           DefaultConcurrency,
			Retries:               DefaultRetries,
			RetryBackoff:          DefaultRetryBackoff,
			HTTPTimeout:           DefaultHTTPTimeout,
			LargeRequestThreshold: DefaultLargeRequestThreshold,
			TileURL:               TerrainTilesURLTemplate,
			RedisPrefix:           "elevatr:",
		}, ConfigFromEnv())
	})

	t.Run("set", func(t *testing.T) {
		t.Setenv("ELEVATR_CACHE_DIR", "/tmp/tiles")
		t.Setenv("ELEVATR_USE_CACHE", "no")
		t.Setenv("ELEVATR_CONCURRENCY", "2")
		t.Setenv("ELEVATR_RETRIES", "5")
		t.Setenv("ELEVATR_RETRY_BACKOFF", "1s")
		t.Setenv("ELEVATR_HTTP_TIMEOUT", "10s")
		t.Setenv("ELEVATR_MAX_TILES", "1000")
		t.Setenv("ELEVATR_TILE_URL", "http://localhost:8080/{z}/{x}/{y}.tif")
		t.Setenv("ELEVATR_REDIS_ADDR", "localhost:6379")
		t.Setenv("ELEVATR_REDIS_PREFIX", "tiles:")
		t.Setenv("ELEVATR_LOG_LEVEL", "debug")
		assert.Equal(t, Config{
			CacheDir:              "/tmp/tiles",
			UseCache:              false,
			Concurrency:           2,
			Retries:               5,
			RetryBackoff:          time.Second,
			HTTPTimeout:           10 * time.Second,
			LargeRequestThreshold: 1000,
			TileURL:               "http://localhost:8080/{z}/{x}/{y}.tif",
			RedisAddr:             "localhost:6379",
			RedisPrefix:           "tiles:",
			LogLevel:              "debug",
		}, ConfigFromEnv())
	})

	t.Run("malformed", func(t *testing.T) {
		t.Setenv("ELEVATR_USE_CACHE", "maybe")
		t.Setenv("ELEVATR_CONCURRENCY", "many")
		t.Setenv("ELEVATR_RETRY_BACKOFF", "soon")
		config := ConfigFromEnv()
		assert.True(t, config.UseCache)
		assert.Equal(t, DefaultConcurrency, config.Concurrency)
		assert.Equal(t, DefaultRetryBackoff, config.RetryBackoff)
	})
}

func TestConfig_ClientOptions(t *testing.T) {
	config := ConfigFromEnv()
	config.CacheDir = t.TempDir()
	config.Concurrency = 3
	config.LogLevel = "error"
	client, err := NewClient(config.ClientOptions()...)
	assert.NoError(t, err)
	assert.Equal(t, config.CacheDir, client.cacheDir)
	assert.Equal(t, 3, client.concurrency)
	assert.Equal(t, DefaultLargeRequestThreshold, client.largeRequestThreshold)
	assert.Zero(t, client.store)
	assert.Equal(t, DefaultRetries, client.fetcher.retries)

	server := miniredis.RunT(t)
	config.RedisAddr = server.Addr()
	client, err = NewClient(config.ClientOptions()...)
	assert.NoError(t, err)
	redisCache, ok := client.store.(*RedisCache)
	assert.True(t, ok)
	assert.Equal(t, "elevatr:", redisCache.prefix)

	options := Config{UseCache: false}.RequestOptions()
	o := &requestOptions{useCache: true}
	for _, option := range options {
		option(o)
	}
	assert.False(t, o.useCache)
}
