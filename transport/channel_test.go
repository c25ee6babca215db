package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPair(t *testing.T, optsA, optsB Options) (*Channel, *Channel) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	var chB *Channel
	var errB error
	done := make(chan struct{})
	go func() {
		defer close(done)
		chB, errB = Open(b, optsB)
	}()
	chA, errA := Open(a, optsA)
	<-done
	require.NoError(t, errA)
	require.NoError(t, errB)
	return chA, chB
}

func TestOpen_Handshake(t *testing.T) {
	a, b := openPair(t, Options{ByteOrder: binary.BigEndian}, Options{ByteOrder: binary.LittleEndian})
	assert.Equal(t, binary.BigEndian, a.LocalByteOrder())
	assert.Equal(t, binary.LittleEndian, a.TargetByteOrder())
	assert.Equal(t, binary.LittleEndian, b.LocalByteOrder())
	assert.Equal(t, binary.BigEndian, b.TargetByteOrder())

	a, b = openPair(t, Options{}, Options{})
	assert.Equal(t, nativeByteOrder(), a.TargetByteOrder())
	assert.Equal(t, nativeByteOrder(), b.TargetByteOrder())
}

func TestOpen_BadHandshake(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	go func() {
		var buf [1]byte
		io.ReadFull(b, buf[:])
		b.Write([]byte{7})
	}()
	_, err := Open(a, Options{})
	assert.ErrorIs(t, err, ErrBadHandshake)
	assert.ErrorIs(t, err, ErrTransfer)
}

func TestOpen_PeerGone(t *testing.T) {
	a, b := net.Pipe()
	b.Close()
	_, err := Open(a, Options{})
	assert.ErrorIs(t, err, ErrTransfer)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "handshake", te.Op)
}

func TestChannel_Chunks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	a, b := openPair(t, Options{Metrics: m}, Options{})

	chunks := [][]byte{[]byte("hello"), {}, bytes.Repeat([]byte{0xAB}, 100000)}
	go func() {
		for _, c := range chunks {
			if err := a.WriteChunk(c); err != nil {
				return
			}
		}
		a.Close()
	}()
	for _, want := range chunks {
		got, err := b.ReadChunk()
		require.NoError(t, err)
		assert.Equal(t, len(want), len(got))
		assert.True(t, bytes.Equal(want, got))
	}
	_, err := b.ReadChunk()
	assert.ErrorIs(t, err, io.EOF, "a clean close between chunks reads as EOF")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.chunks.WithLabelValues("out")))
	assert.Equal(t, 100005.0, testutil.ToFloat64(m.bytes.WithLabelValues("out")))
}

func TestChannel_ConcurrentWriters(t *testing.T) {
	a, b := openPair(t, Options{}, Options{})
	const writers, perWriter = 4, 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				a.WriteChunk(bytes.Repeat([]byte{byte(w)}, 64+i))
			}
		}()
	}

	counts := make(map[byte]int)
	for i := 0; i < writers*perWriter; i++ {
		data, err := b.ReadChunk()
		require.NoError(t, err)
		require.NotEmpty(t, data)
		assert.Equal(t, bytes.Repeat(data[:1], len(data)), data, "chunks never interleave")
		counts[data[0]]++
	}
	wg.Wait()
	for w := 0; w < writers; w++ {
		assert.Equal(t, perWriter, counts[byte(w)])
	}
}

func TestChannel_CorruptHeader(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	go func() {
		b.Write([]byte{orderLittle})
		var buf [1]byte
		io.ReadFull(b, buf[:])

		var hdr [headerSize]byte
		binary.LittleEndian.PutUint64(hdr[0:8], 5)
		binary.LittleEndian.PutUint64(hdr[8:16], 12345)
		b.Write(hdr[:])
	}()
	ch, err := Open(a, Options{})
	require.NoError(t, err)
	_, err = ch.ReadChunk()
	assert.ErrorIs(t, err, ErrCorruptHeader)
	assert.ErrorIs(t, err, ErrTransfer)
}

func TestChannel_TooLarge(t *testing.T) {
	a, b := openPair(t, Options{}, Options{MaxChunkSize: 8})
	go a.WriteChunk(make([]byte, 9))
	_, err := b.ReadChunk()
	assert.ErrorIs(t, err, ErrChunkTooLarge)
}

func TestChannel_Truncated(t *testing.T) {
	a, b := openPair(t, Options{}, Options{})
	go func() {
		var hdr [headerSize]byte
		binary.LittleEndian.PutUint64(hdr[0:8], 10)
		binary.LittleEndian.PutUint64(hdr[8:16], headerChecksum(hdr[0:8]))
		a.rwc.Write(hdr[:])
		a.rwc.Write([]byte{1, 2, 3})
		a.Close()
	}()
	_, err := b.ReadChunk()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
