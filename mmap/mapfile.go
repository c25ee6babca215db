package mmap

import (
	"fmt"
	"os"
)

// MapFile maps the whole file at path read-only. The mapping outlives the
// file descriptor, which is closed before returning. An empty file yields a
// nil slice. Call release once the data is no longer referenced.
func MapFile(path string, h Hint) (data []byte, release func() error, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := fi.Size()
	if size == 0 {
		return nil, func() error { return nil }, nil
	}
	if size > MaxSize {
		return nil, nil, fmt.Errorf("%s: %d bytes exceeds the largest mappable size", path, size)
	}
	data, err = Map(f, int(size), h)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return data, func() error { return Unmap(data) }, nil
}
