package elevatr

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// A Config is a Client configuration read from the environment.
type Config struct {
	CacheDir              string
	UseCache              bool
	Concurrency           int
	Retries               int
	RetryBackoff          time.Duration
	HTTPTimeout           time.Duration
	LargeRequestThreshold int
	TileURL               string
	RedisAddr             string
	RedisPrefix           string
	LogLevel              string // Empty disables logging.
}

// ConfigFromEnv returns the Config given by ELEVATR_* environment variables,
// with defaults for unset or malformed values.
func ConfigFromEnv() Config {
	return Config{
		CacheDir:              getenv("ELEVATR_CACHE_DIR", DefaultCacheDir),
		UseCache:              getbool("ELEVATR_USE_CACHE", true),
		Concurrency:           getint("ELEVATR_CONCURRENCY", DefaultConcurrency),
		Retries:               getint("ELEVATR_RETRIES", DefaultRetries),
		RetryBackoff:          getduration("ELEVATR_RETRY_BACKOFF", DefaultRetryBackoff),
		HTTPTimeout:           getduration("ELEVATR_HTTP_TIMEOUT", DefaultHTTPTimeout),
		LargeRequestThreshold: getint("ELEVATR_MAX_TILES", DefaultLargeRequestThreshold),
		TileURL:               getenv("ELEVATR_TILE_URL", TerrainTilesURLTemplate),
		RedisAddr:             getenv("ELEVATR_REDIS_ADDR", ""),
		RedisPrefix:           getenv("ELEVATR_REDIS_PREFIX", "elevatr:"),
		LogLevel:              getenv("ELEVATR_LOG_LEVEL", ""),
	}
}

// ClientOptions returns the ClientOptions for c. If c.RedisAddr is set, tiles
// are cached in Redis instead of c.CacheDir.
func (c Config) ClientOptions() []ClientOption {
	options := []ClientOption{
		WithCatalog(DefaultCatalog(WithTerrainTilesURL(c.TileURL))),
		WithCacheDir(c.CacheDir),
		WithConcurrency(c.Concurrency),
		WithLargeRequestThreshold(c.LargeRequestThreshold),
		WithFetcherOptions(
			WithRetries(c.Retries, c.RetryBackoff),
			WithHTTPClient(NewHTTPClient(c.HTTPTimeout)),
		),
	}
	if c.LogLevel != "" {
		options = append(options, WithLogger(NewLogger(LogConfig{Level: c.LogLevel}, nil)))
	}
	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr: c.RedisAddr,
		})
		options = append(options, WithTileStore(NewRedisCache(client, c.RedisPrefix)))
	}
	return options
}

// RequestOptions returns the RequestOptions for c.
func (c Config) RequestOptions() []RequestOption {
	return []RequestOption{
		WithUseCache(c.UseCache),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
