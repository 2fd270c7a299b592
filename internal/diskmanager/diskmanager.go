// Package diskmanager provides the file operations used to load and rewrite
// whole-file formats such as snapshots and the file-backed storage dump.
package diskmanager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DiskManager defines methods for whole-file operations.
type DiskManager interface {
	// Open opens the file at path for reading. A missing file yields an
	// error satisfying errors.Is(err, os.ErrNotExist).
	Open(path string) (io.ReadCloser, error)
	// WriteFile replaces the file at path with whatever write produces.
	// Readers observe either the old or the new content, never a mix.
	WriteFile(path string, write func(w io.Writer) error) error
	// Exists reports whether a file is present at path.
	Exists(path string) (bool, error)
}

type diskManager struct{}

// NewDiskManager creates a new DiskManager backed by the local filesystem.
func NewDiskManager() DiskManager {
	return &diskManager{}
}

func (dm *diskManager) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// WriteFile writes to a temporary sibling, syncs it and renames it over path.
func (dm *diskManager) WriteFile(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return err
	}
	return syncDir(dir)
}

func (dm *diskManager) Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", path)
	}
	return true, nil
}

// syncDir makes a rename durable. Platforms that cannot fsync a directory are ignored.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
