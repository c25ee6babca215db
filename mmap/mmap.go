// Package mmap maps whole files read-only and syncs written data to disk.
package mmap

import (
	"os"
)

// Hint tells the kernel how a mapping will be read.
type Hint uint

const (
	// Sequential asks for aggressive read-ahead (MADV_SEQUENTIAL).
	Sequential Hint = 1 << iota

	// Random disables most read-ahead (MADV_RANDOM).
	Random

	// Prefault loads the whole mapping up front (MAP_POPULATE on Linux).
	Prefault
)

func (h Hint) Has(v Hint) bool {
	return h&v != 0
}

// MaxSize is the largest mapping supported on this architecture: 2 GB on
// 32-bit platforms and 256 TB on 64-bit ones.
const MaxSize = 1<<(31+17*(^uintptr(0)>>63)) - 1

// Map maps the first size bytes of f read-only.
func Map(f *os.File, size int, h Hint) ([]byte, error) {
	return mapFile(f, size, h)
}

// Unmap releases a slice returned by Map.
func Unmap(b []byte) error {
	return unmap(b)
}
