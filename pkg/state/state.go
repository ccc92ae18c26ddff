// Package state lays out the engine's on-disk data directory.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the canonical folder layout under a data directory.
type Paths struct {
	Store string // pebble record store
	Blobs string // binary cache
	Tmp   string // scratch space
}

// Resolve returns the layout for dataDir without touching the filesystem.
func Resolve(dataDir string) Paths {
	return Paths{
		Store: filepath.Join(dataDir, "store"),
		Blobs: filepath.Join(dataDir, "blobs"),
		Tmp:   filepath.Join(dataDir, "tmp"),
	}
}

// EnsureDirs creates the canonical layout under dataDir, rejecting symlinks
// and group/other-writable directories, and verifying writability.
func EnsureDirs(dataDir string) (Paths, error) {
	p := Resolve(dataDir)
	for _, dir := range []string{p.Store, p.Blobs, p.Tmp} {
		if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
			return p, fmt.Errorf("cannot create parent for %s: %w", dir, err)
		}
		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return p, fmt.Errorf("path is a symlink: %s", dir)
			}
			if !fi.IsDir() {
				return p, fmt.Errorf("path exists and is not a directory: %s", dir)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return p, fmt.Errorf("path has permissive mode (group/other write): %s", dir)
			}
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return p, fmt.Errorf("cannot create path %s: %w", dir, err)
		}
		tmp, err := os.CreateTemp(dir, ".validate-*")
		if err != nil {
			return p, fmt.Errorf("path not writable: %s: %w", dir, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	return p, nil
}
