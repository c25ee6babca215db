package mmap

import "os"

// SyncData flushes the data written to f, skipping metadata such as
// modification times where the platform allows it.
//
// A failed sync leaves the file contents undefined: the kernel may already
// have marked the dirty pages clean. Treat the error as fatal for the
// file rather than retrying.
func SyncData(f *os.File) error {
	return syncData(f)
}
