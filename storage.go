package objgraph

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// Backend persists opaque byte blobs under string handles.
type Backend interface {
	// ReadBytes returns the blob stored under handle, or nil, nil if absent.
	// The returned slice belongs to the caller.
	ReadBytes(handle string) ([]byte, error)

	WriteBytes(handle string, data []byte) (int, error)

	Close() error
}

// HandleBytes is one blob of a batch write.
type HandleBytes struct {
	Handle string
	Data   []byte
}

// BatchWriter is implemented by backends that can write several blobs
// atomically.
type BatchWriter interface {
	WriteBatch(items []HandleBytes) error
}

// HandleLister is implemented by backends that can enumerate their
// handles, in sorted order.
type HandleLister interface {
	ListHandles(prefix string, f func(handle string, size int) error) error
}

// WriteController decides whether writes are currently allowed.
type WriteController interface {
	IsWritable() bool
}

// SwitchableWriteController lets an operator turn writing off and back on
// while the store stays open. The zero value allows writes.
type SwitchableWriteController struct {
	disabled atomic.Bool
}

func (c *SwitchableWriteController) IsWritable() bool {
	return !c.disabled.Load()
}

func (c *SwitchableWriteController) Enable() {
	c.disabled.Store(false)
}

func (c *SwitchableWriteController) Disable() {
	c.disabled.Store(true)
}

type alwaysWritable struct{}

func (alwaysWritable) IsWritable() bool { return true }

var errStorageClosed = errors.New("storage closed")

func validHandle(handle string) bool {
	return handle != "" && !strings.ContainsAny(handle, "\x00\\") && !strings.Contains(handle, "..")
}

func invalidHandleError(handle string) error {
	return fmt.Errorf("invalid handle %q", handle)
}
