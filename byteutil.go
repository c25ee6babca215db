package objgraph

import (
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"
)

// ByteOrder is the order multi-byte values are written in. In-memory field
// values are always little-endian; entities may be written in either order.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = 1
	BigEndian    ByteOrder = 2
)

func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "little-endian"
	case BigEndian:
		return "big-endian"
	default:
		return fmt.Sprintf("ByteOrder(%d)", uint8(o))
	}
}

func (o ByteOrder) Valid() bool {
	return o == LittleEndian || o == BigEndian
}

func (o ByteOrder) Binary() binary.ByteOrder {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func byteOrderOf(bo binary.ByteOrder) ByteOrder {
	if bo == binary.BigEndian {
		return BigEndian
	}
	return LittleEndian
}

// NativeByteOrder returns the byte order of the host.
func NativeByteOrder() ByteOrder {
	x := uint16(1)
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return LittleEndian
	}
	return BigEndian
}

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

// swapUnits copies src into dst reversing the bytes of every unit-sized
// granule. dst and src may be the same slice.
func swapUnits(dst, src []byte, unit int) {
	if unit <= 1 {
		copy(dst, src)
		return
	}
	for base := 0; base+unit <= len(src); base += unit {
		for i, j := base, base+unit-1; i <= j; i, j = i+1, j-1 {
			dst[i], dst[j] = src[j], src[i]
		}
	}
}

type bytesBuilder struct {
	Buf   []byte
	Order ByteOrder
}

var _ io.Writer = (*bytesBuilder)(nil)

func (bb *bytesBuilder) EnsureExtra(n int) {
	bb.Buf = ensureCapacity(bb.Buf, len(bb.Buf)+n)
}

func (bb *bytesBuilder) Grow(n int) (off int) {
	off, bb.Buf = grow(bb.Buf, n)
	return
}

func (bb *bytesBuilder) Trim(off int) {
	bb.Buf = bb.Buf[:off]
}

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	off := bb.Grow(len(b))
	copy(bb.Buf[off:], b)
	return len(b), nil
}

func (bb *bytesBuilder) AppendByte(v byte) {
	off := bb.Grow(1)
	bb.Buf[off] = v
}

func (bb *bytesBuilder) AppendUint64(v uint64) {
	off := bb.Grow(8)
	bb.PutUint64(off, v)
}

func (bb *bytesBuilder) PutUint64(off int, v uint64) {
	bb.Order.Binary().PutUint64(bb.Buf[off:], v)
}

// PutUnits writes canonical little-endian bytes at off in the builder's order.
func (bb *bytesBuilder) PutUnits(off int, canonical []byte, unit int) {
	if bb.Order == BigEndian {
		swapUnits(bb.Buf[off:off+len(canonical)], canonical, unit)
	} else {
		copy(bb.Buf[off:], canonical)
	}
}

// entityReader turns bytes written in some byte order into canonical values.
// The reversing variant is engaged when the data was written big-endian.
type entityReader interface {
	Uint64(b []byte) uint64
	Units(dst, src []byte, unit int)
}

type straightReader struct{}

func (straightReader) Uint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func (straightReader) Units(dst, src []byte, _ int) { copy(dst, src) }

type byteReversingReader struct{}

func (byteReversingReader) Uint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func (byteReversingReader) Units(dst, src []byte, unit int) { swapUnits(dst, src, unit) }

func readerFor(order ByteOrder) entityReader {
	if order == BigEndian {
		return byteReversingReader{}
	}
	return straightReader{}
}

type byteDecoder struct {
	Orig []byte
	Buf  []byte
	R    entityReader
}

func makeByteDecoder(buf []byte, order ByteOrder) byteDecoder {
	return byteDecoder{buf, buf, readerFor(order)}
}

func (d *byteDecoder) Off() int {
	return len(d.Orig) - len(d.Buf)
}

func (d *byteDecoder) Uint64() (uint64, error) {
	if len(d.Buf) < 8 {
		return 0, formatErrf(d.Orig, d.Off(), nil, "not enough data for uint64: %d bytes remaining", len(d.Buf))
	}
	v := d.R.Uint64(d.Buf)
	d.Buf = d.Buf[8:]
	return v, nil
}

func (d *byteDecoder) Byte() (byte, error) {
	if len(d.Buf) < 1 {
		return 0, formatErrf(d.Orig, d.Off(), nil, "not enough data for a byte")
	}
	v := d.Buf[0]
	d.Buf = d.Buf[1:]
	return v, nil
}

func (d *byteDecoder) Raw(n int) ([]byte, error) {
	if n < 0 || len(d.Buf) < n {
		return nil, formatErrf(d.Orig, d.Off(), nil, "not enough data: %d bytes remaining, %d wanted", len(d.Buf), n)
	}
	v := d.Buf[:n]
	d.Buf = d.Buf[n:]
	return v, nil
}
