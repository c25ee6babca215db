package objgraph

import (
	"slices"
	"sync"
)

// memBackend keeps blobs in a map. Batches apply under one write lock, so
// readers never observe half of a batch.
type memBackend struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	sorted []string
	closed bool
}

// NewMemBackend returns a transient in-memory Backend, mostly for tests.
func NewMemBackend() Backend {
	return &memBackend{blobs: make(map[string][]byte)}
}

func (b *memBackend) ReadBytes(handle string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errStorageClosed
	}
	data, ok := b.blobs[handle]
	if !ok {
		return nil, nil
	}
	return slices.Clone(data), nil
}

func (b *memBackend) WriteBytes(handle string, data []byte) (int, error) {
	if err := b.WriteBatch([]HandleBytes{{handle, data}}); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (b *memBackend) WriteBatch(items []HandleBytes) error {
	for _, item := range items {
		if !validHandle(item.Handle) {
			return invalidHandleError(item.Handle)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errStorageClosed
	}
	for _, item := range items {
		if _, exists := b.blobs[item.Handle]; !exists {
			i, _ := slices.BinarySearch(b.sorted, item.Handle)
			b.sorted = slices.Insert(b.sorted, i, item.Handle)
		}
		data := slices.Clone(item.Data)
		if data == nil {
			data = []byte{}
		}
		b.blobs[item.Handle] = data
	}
	return nil
}

// ListHandles reports the handles present when it was called; f may write
// to the backend.
func (b *memBackend) ListHandles(prefix string, f func(handle string, size int) error) error {
	type entry struct {
		handle string
		size   int
	}
	var entries []entry
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errStorageClosed
	}
	i, _ := slices.BinarySearch(b.sorted, prefix)
	for _, h := range b.sorted[i:] {
		if len(h) < len(prefix) || h[:len(prefix)] != prefix {
			break
		}
		entries = append(entries, entry{h, len(b.blobs[h])})
	}
	b.mu.RUnlock()

	for _, e := range entries {
		if err := f(e.handle, e.size); err != nil {
			return err
		}
	}
	return nil
}

func (b *memBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.blobs, b.sorted = nil, nil
	return nil
}
