package elevatr

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevatr_cache_hits_total",
		Help: "The total number of tile cache hits",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevatr_cache_misses_total",
		Help: "The total number of tile cache misses",
	})
)

// A CacheKey identifies a tile from a source.
type CacheKey struct {
	Source string
	Z      int
	X      int
	Y      int
}

// Path returns the slash-separated relative path of k.
func (k CacheKey) Path() string {
	return path.Join(k.Source, strconv.Itoa(k.Z), strconv.Itoa(k.X), strconv.Itoa(k.Y)+".tif")
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Source, k.Z, k.X, k.Y)
}

// A TileStore persists raw tile bytes. Implementations must be safe for
// concurrent use and must never expose partially written entries.
type TileStore interface {
	Lookup(ctx context.Context, key CacheKey) ([]byte, bool, error)
	Store(ctx context.Context, key CacheKey, data []byte) error
	Purge(ctx context.Context) error
}

// A LocatedTileStore is a TileStore that can name where it keeps its tiles.
// Two stores with the same location must hold the same tiles.
type LocatedTileStore interface {
	TileStore
	Location() string
}

// A Cache is a TileStore that can be disabled. A disabled cache never
// reports hits and never stores.
type Cache struct {
	store    TileStore
	enabled  bool
	location string
}

// NewCache returns a new Cache backed by store.
func NewCache(store TileStore, enabled bool) *Cache {
	c := &Cache{
		store:   store,
		enabled: enabled && store != nil,
	}
	if locatedStore, ok := store.(LocatedTileStore); ok {
		c.location = locatedStore.Location()
	}
	return c
}

// Enabled returns whether c is enabled.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled
}

// Lookup returns the bytes stored under key, if any.
func (c *Cache) Lookup(ctx context.Context, key CacheKey) ([]byte, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	data, ok, err := c.store.Lookup(ctx, key)
	switch {
	case err != nil:
		return nil, false, err
	case ok:
		cacheHits.Inc()
	default:
		cacheMisses.Inc()
	}
	return data, ok, nil
}

// Store stores data under key.
func (c *Cache) Store(ctx context.Context, key CacheKey, data []byte) error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Store(ctx, key, data)
}

// Purge removes all entries, even if c is disabled.
func (c *Cache) Purge(ctx context.Context) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Purge(ctx)
}
