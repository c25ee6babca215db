package objgraph

import (
	"hash/maphash"
	"runtime"
	"sync"
)

// RWGuard runs lookups under a shared lock and registrations under an
// exclusive one. It is not reentrant: code that already holds the guard calls
// the _locked variants of methods instead of re-entering.
type RWGuard struct {
	mu sync.RWMutex
}

func (g *RWGuard) Read(f func()) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f()
}

func (g *RWGuard) Write(f func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f()
}

func ReadValue[T any](g *RWGuard, f func() T) T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return f()
}

func WriteValue[T any](g *RWGuard, f func() T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	return f()
}

// StripedLocks partitions locking by key into a fixed number of stripes.
// Independent keys usually get independent locks; keys that collide share
// a stripe and simply serialize.
type StripedLocks[K comparable] struct {
	seed    maphash.Seed
	mask    uint64
	stripes []sync.Mutex
}

// NewStripedLocks creates n stripes rounded up to a power of two. n <= 0
// means one stripe per available CPU.
func NewStripedLocks[K comparable](n int) *StripedLocks[K] {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &StripedLocks[K]{
		seed:    maphash.MakeSeed(),
		mask:    uint64(size - 1),
		stripes: make([]sync.Mutex, size),
	}
}

func (s *StripedLocks[K]) Stripes() int {
	return len(s.stripes)
}

func (s *StripedLocks[K]) stripe(key K) int {
	return int(maphash.Comparable(s.seed, key) & s.mask)
}

func (s *StripedLocks[K]) Lock(key K) (unlock func()) {
	mu := &s.stripes[s.stripe(key)]
	mu.Lock()
	return mu.Unlock
}

func (s *StripedLocks[K]) With(key K, f func()) {
	unlock := s.Lock(key)
	defer unlock()
	f()
}
