package objgraph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/andreyvit/objgraph/mmap"
)

type DirOptions struct {
	// NoSync skips fdatasync after writes. Only for tests and scratch data.
	NoSync bool

	Logger  *slog.Logger
	Verbose bool
}

// DirBackend stores each handle as a file under a directory; slashes in a
// handle become subdirectories. Files are read through a memory mapping and
// replaced atomically by writing a temporary file, syncing it and renaming
// it over the old one. Operations on the same handle are serialized.
type DirBackend struct {
	dir     string
	noSync  bool
	locks   *StripedLocks[string]
	logger  *slog.Logger
	verbose bool
}

const dirTempSuffix = ".tmp"

func NewDirBackend(dir string, opts DirOptions) (*DirBackend, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &DirBackend{
		dir:     dir,
		noSync:  opts.NoSync,
		locks:   NewStripedLocks[string](0),
		logger:  opts.Logger,
		verbose: opts.Verbose,
	}, nil
}

func (b *DirBackend) path(handle string) (string, error) {
	if !validHandle(handle) || strings.HasSuffix(handle, dirTempSuffix) || strings.HasPrefix(handle, "/") {
		return "", invalidHandleError(handle)
	}
	return filepath.Join(b.dir, filepath.FromSlash(handle)), nil
}

func (b *DirBackend) ReadBytes(handle string) ([]byte, error) {
	fn, err := b.path(handle)
	if err != nil {
		return nil, err
	}
	unlock := b.locks.Lock(handle)
	defer unlock()

	data, release, err := mmap.MapFile(fn, mmap.Sequential)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer release()
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

func (b *DirBackend) WriteBytes(handle string, data []byte) (int, error) {
	fn, err := b.path(handle)
	if err != nil {
		return 0, err
	}
	unlock := b.locks.Lock(handle)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(fn), 0o777); err != nil {
		return 0, err
	}
	tmp := fn + dirTempSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return 0, err
	}
	ok := false
	defer func() {
		if !ok {
			f.Close()
			os.Remove(tmp)
		}
	}()
	n, err := f.Write(data)
	if err != nil {
		return n, err
	}
	if !b.noSync {
		if err := mmap.SyncData(f); err != nil {
			return n, fmt.Errorf("fdatasync %s: %w", tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		return n, err
	}
	if err := os.Rename(tmp, fn); err != nil {
		return n, err
	}
	ok = true
	if b.verbose {
		b.logger.LogAttrs(context.Background(), slog.LevelDebug, "wrote handle",
			slog.String("handle", handle), slog.Int("bytes", n))
	}
	return n, nil
}

// ListHandles walks the directory in sorted handle order.
func (b *DirBackend) ListHandles(prefix string, f func(handle string, size int) error) error {
	var handles []string
	sizes := make(map[string]int)
	err := filepath.WalkDir(b.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, dirTempSuffix) {
			return nil
		}
		rel, err := filepath.Rel(b.dir, p)
		if err != nil {
			return err
		}
		handle := filepath.ToSlash(rel)
		if !strings.HasPrefix(handle, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		handles = append(handles, handle)
		sizes[handle] = int(fi.Size())
		return nil
	})
	if err != nil {
		return err
	}
	slices.Sort(handles)
	for _, h := range handles {
		if err := f(h, sizes[h]); err != nil {
			return err
		}
	}
	return nil
}

func (b *DirBackend) Close() error {
	return nil
}
