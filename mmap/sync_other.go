//go:build !linux

package mmap

import "os"

const mapPopulate = 0

func syncData(f *os.File) error {
	return f.Sync()
}
