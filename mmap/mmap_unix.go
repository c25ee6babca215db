//go:build unix

package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int, h Hint) ([]byte, error) {
	flags := unix.MAP_SHARED
	if h.Has(Prefault) {
		flags |= mapPopulate
	}
	b, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, flags)
	if err != nil {
		return nil, err
	}

	advice, name := -1, ""
	switch {
	case h.Has(Sequential):
		advice, name = unix.MADV_SEQUENTIAL, "MADV_SEQUENTIAL"
	case h.Has(Random):
		advice, name = unix.MADV_RANDOM, "MADV_RANDOM"
	}
	if advice >= 0 {
		// ENOSYS only means the kernel ignores the advice
		if err := unix.Madvise(b, advice); err != nil && err != unix.ENOSYS {
			unix.Munmap(b)
			return nil, fmt.Errorf("madvise(%s): %w", name, err)
		}
	}
	return b, nil
}

func unmap(b []byte) error {
	return unix.Munmap(b)
}
