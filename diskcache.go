package elevatr

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// A DiskCache is a TileStore in a directory tree, one file per tile.
type DiskCache struct {
	dir string
}

// NewDiskCache returns a new DiskCache rooted at dir. The directory is
// created on first store.
func NewDiskCache(dir string) *DiskCache {
	return &DiskCache{
		dir: dir,
	}
}

// Dir returns c's root directory.
func (c *DiskCache) Dir() string {
	return c.dir
}

// Location returns c's cleaned root directory as a file: location.
func (c *DiskCache) Location() string {
	return "file:" + filepath.Clean(c.dir)
}

func (c *DiskCache) filename(key CacheKey) string {
	return filepath.Join(c.dir, filepath.FromSlash(key.Path()))
}

func (c *DiskCache) Lookup(ctx context.Context, key CacheKey) ([]byte, bool, error) {
	switch data, err := os.ReadFile(c.filename(key)); {
	case errors.Is(err, fs.ErrNotExist):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	default:
		return data, true, nil
	}
}

// Store stores data atomically.
func (c *DiskCache) Store(ctx context.Context, key CacheKey, data []byte) error {
	return writeFileAtomic(c.filename(key), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Purge removes c's directory and everything in it.
func (c *DiskCache) Purge(ctx context.Context) error {
	return os.RemoveAll(c.dir)
}
