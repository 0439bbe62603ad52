// Package files is the filesystem the dispatcher writes downloads to.
package files

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/thindl/thindl/internal/utils"
)

// ErrLocked is returned by Open when another writer holds the destination.
var ErrLocked = errors.New("destination is locked by another download")

// File is an open destination supporting positioned writes.
type File interface {
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Close() error
}

type Storage interface {
	// Open opens path for random-access writing, creating it and any
	// missing parent directories.
	Open(path string) (File, error)
	// Size returns the length of path, or an fs.ErrNotExist error.
	Size(path string) (int64, error)
	// Remove deletes path. A missing file is not an error.
	Remove(path string) error
}

// OS is the local filesystem. Open takes an advisory lock on
// "<path>.lock" for as long as the file is open.
type OS struct{}

func (OS) Open(path string) (File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create parent directory: %w", err)
		}
	}

	lock := flock.New(path + utils.LockSuffix)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return &osFile{File: f, lock: lock}, nil
}

func (OS) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func (OS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type osFile struct {
	*os.File
	lock *flock.Flock
}

func (f *osFile) Close() error {
	err := f.File.Close()
	if uerr := f.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	_ = os.Remove(f.lock.Path())
	return err
}
