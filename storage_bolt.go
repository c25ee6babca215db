package objgraph

import (
	"bytes"
	"fmt"
	"slices"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

type BoltOptions struct {
	// Timeout waits for the file lock held by another process. Zero waits
	// forever.
	Timeout time.Duration

	ReadOnly bool
	NoSync   bool
}

const boltBucketName = "objgraph"

// boltBackend stores every handle as a key of a single bucket. Batches
// commit in one Bolt transaction.
type boltBackend struct {
	db *bbolt.DB
}

// NewBoltBackend opens (creating if needed) a Bolt database file.
func NewBoltBackend(path string, opts BoltOptions) (Backend, error) {
	db, err := bbolt.Open(path, 0o666, &bbolt.Options{
		Timeout:  opts.Timeout,
		ReadOnly: opts.ReadOnly,
		NoSync:   opts.NoSync,
	})
	if err != nil {
		return nil, err
	}
	return &boltBackend{db: db}, nil
}

func (b *boltBackend) ReadBytes(handle string) ([]byte, error) {
	var result []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		buck := tx.Bucket(unsafeBytesFromString(boltBucketName))
		if buck == nil {
			return nil
		}
		if v := buck.Get(unsafeBytesFromString(handle)); v != nil {
			result = slices.Clone(v)
			if result == nil {
				result = []byte{}
			}
		}
		return nil
	})
	return result, err
}

func (b *boltBackend) WriteBytes(handle string, data []byte) (int, error) {
	if err := b.WriteBatch([]HandleBytes{{handle, data}}); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (b *boltBackend) WriteBatch(items []HandleBytes) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		buck, err := tx.CreateBucketIfNotExists([]byte(boltBucketName))
		if err != nil {
			return err
		}
		for _, item := range items {
			if !validHandle(item.Handle) {
				return invalidHandleError(item.Handle)
			}
			if err := buck.Put([]byte(item.Handle), item.Data); err != nil {
				return fmt.Errorf("%s: %w", item.Handle, err)
			}
		}
		return nil
	})
}

func (b *boltBackend) ListHandles(prefix string, f func(handle string, size int) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		buck := tx.Bucket(unsafeBytesFromString(boltBucketName))
		if buck == nil {
			return nil
		}
		p := []byte(prefix)
		c := buck.Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := f(string(k), len(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltBackend) Close() error {
	return b.db.Close()
}

// unsafeBytesFromString is only for keys Bolt reads without retaining.
func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
