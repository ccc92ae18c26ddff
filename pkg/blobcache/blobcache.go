// Package blobcache is the content-addressed binary cache collaborator.
// The engine writes attachment bytes here under their remote locator so a
// renderer can resolve images without re-downloading; the cache is consumed,
// not owned, by the sync engine.
package blobcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chatsync/pkg/logger"
)

// Cache stores blobs as files under a single directory, keyed by a
// caller-chosen string.
type Cache struct {
	dir string
}

// New ensures dir exists with restrictive permissions and returns the cache.
// Symlinked or world-writable paths are rejected.
func New(dir string) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty blob cache dir")
	}
	if fi, err := os.Lstat(dir); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("blob cache path is a symlink: %s", dir)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("blob cache path exists and is not a directory: %s", dir)
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create blob cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// keyToFile flattens a locator key into a safe file name.
func keyToFile(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

// Set stores data under key, atomically: write to a temp file, then rename.
func (c *Cache) Set(key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("empty blob key")
	}
	tmp, err := os.CreateTemp(c.dir, ".blob-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close blob %s: %w", key, err)
	}
	dst := filepath.Join(c.dir, keyToFile(key))
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store blob %s: %w", key, err)
	}
	logger.Debug("blob_cached", "key", key, "bytes", len(data))
	return nil
}

// Get reads the blob stored under key.
func (c *Cache) Get(key string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(c.dir, keyToFile(key)))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return b, nil
}
