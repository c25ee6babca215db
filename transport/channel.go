// Package transport frames byte chunks over a stream. A channel opens with
// a one-byte handshake announcing each side's native byte order, then
// exchanges chunks of
//
//	contentLength:8 | headerChecksum:8 | content
//
// with both header fields little-endian. The checksum is the xxhash64 of
// the eight length bytes, so a corrupted length is detected before any
// content is read.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

const (
	headerSize = 16

	orderLittle byte = 1
	orderBig    byte = 2

	DefaultMaxChunkSize = 64 << 20
)

type Options struct {
	// ByteOrder announced to the peer as the order this side wants to
	// receive. Defaults to the native byte order.
	ByteOrder binary.ByteOrder

	// MaxChunkSize bounds incoming chunks. Defaults to DefaultMaxChunkSize.
	MaxChunkSize uint64

	Logger  *slog.Logger
	Verbose bool
	Metrics *Metrics
}

// Channel sends and receives chunks. Reads and writes may proceed
// concurrently with each other; concurrent reads (or writes) are
// serialized.
type Channel struct {
	rwc     io.ReadWriteCloser
	local   binary.ByteOrder
	target  binary.ByteOrder
	maxSize uint64
	logger  *slog.Logger
	verbose bool
	metrics *Metrics

	rmu  sync.Mutex
	wmu  sync.Mutex
	rhdr [headerSize]byte
	whdr [headerSize]byte
}

func nativeByteOrder() binary.ByteOrder {
	var x uint16 = 1
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func orderCode(bo binary.ByteOrder) byte {
	if bo == binary.BigEndian {
		return orderBig
	}
	return orderLittle
}

// Open performs the byte order handshake over rwc. Both sides send their
// order byte first, so Open works over synchronous pipes too.
func Open(rwc io.ReadWriteCloser, opts Options) (*Channel, error) {
	if opts.ByteOrder == nil {
		opts.ByteOrder = nativeByteOrder()
	}
	if opts.MaxChunkSize == 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ch := &Channel{
		rwc:     rwc,
		local:   opts.ByteOrder,
		maxSize: opts.MaxChunkSize,
		logger:  opts.Logger,
		verbose: opts.Verbose,
		metrics: opts.Metrics,
	}

	werr := make(chan error, 1)
	go func() {
		_, err := rwc.Write([]byte{orderCode(ch.local)})
		werr <- err
	}()
	var peer [1]byte
	_, rerr := io.ReadFull(rwc, peer[:])
	if err := <-werr; err != nil {
		return nil, transferErr("handshake", err, "sending byte order")
	}
	if rerr != nil {
		return nil, transferErr("handshake", rerr, "receiving byte order")
	}
	switch peer[0] {
	case orderLittle:
		ch.target = binary.LittleEndian
	case orderBig:
		ch.target = binary.BigEndian
	default:
		return nil, transferErr("handshake", ErrBadHandshake, fmt.Sprintf("peer sent byte order code %d", peer[0]))
	}
	ch.logger.LogAttrs(context.Background(), slog.LevelDebug, "channel open",
		slog.String("local", ch.local.String()),
		slog.String("target", ch.target.String()))
	return ch, nil
}

// TargetByteOrder is the byte order the peer wants to receive.
func (ch *Channel) TargetByteOrder() binary.ByteOrder {
	return ch.target
}

// LocalByteOrder is the byte order this side announced.
func (ch *Channel) LocalByteOrder() binary.ByteOrder {
	return ch.local
}

func headerChecksum(lengthBytes []byte) uint64 {
	return xxhash.Sum64(lengthBytes)
}

func (ch *Channel) WriteChunk(data []byte) error {
	ch.wmu.Lock()
	defer ch.wmu.Unlock()
	binary.LittleEndian.PutUint64(ch.whdr[0:8], uint64(len(data)))
	binary.LittleEndian.PutUint64(ch.whdr[8:16], headerChecksum(ch.whdr[0:8]))
	if _, err := ch.rwc.Write(ch.whdr[:]); err != nil {
		return transferErr("write", err, "writing chunk header")
	}
	if _, err := ch.rwc.Write(data); err != nil {
		return transferErr("write", err, "writing chunk content")
	}
	ch.metrics.chunk("out", len(data))
	if ch.verbose {
		ch.logger.LogAttrs(context.Background(), slog.LevelDebug, "chunk sent", slog.Int("bytes", len(data)))
	}
	return nil
}

// ReadChunk returns the next chunk. A stream that ends cleanly between
// chunks yields an error matching io.EOF.
func (ch *Channel) ReadChunk() ([]byte, error) {
	ch.rmu.Lock()
	defer ch.rmu.Unlock()
	if _, err := io.ReadFull(ch.rwc, ch.rhdr[:]); err != nil {
		return nil, transferErr("read", err, "reading chunk header")
	}
	n := binary.LittleEndian.Uint64(ch.rhdr[0:8])
	sum := binary.LittleEndian.Uint64(ch.rhdr[8:16])
	if want := headerChecksum(ch.rhdr[0:8]); sum != want {
		return nil, transferErr("read", ErrCorruptHeader, fmt.Sprintf("checksum %016x, wanted %016x", sum, want))
	}
	if n > ch.maxSize {
		return nil, transferErr("read", ErrChunkTooLarge, fmt.Sprintf("%d bytes, limit %d", n, ch.maxSize))
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(ch.rwc, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, transferErr("read", err, "reading chunk content")
	}
	ch.metrics.chunk("in", len(data))
	return data, nil
}

func (ch *Channel) Close() error {
	if err := ch.rwc.Close(); err != nil {
		return &TransferError{Op: "close", Err: errors.WithStack(err)}
	}
	return nil
}
