package objgraph

import "sync"

const maxPooledBuffer = 1 << 20

var entityBufferPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 65536)
	},
}

func acquireEntityBuffer() []byte {
	return entityBufferPool.Get().([]byte)[:0]
}

func releaseEntityBuffer(b []byte) {
	if cap(b) > maxPooledBuffer {
		return
	}
	entityBufferPool.Put(b[:0])
}
