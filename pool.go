package protomq

import (
	"sync"
)

// Frames are short-lived on both codec paths, so readers and encode
// buffers cycle through pools instead of the allocator.
var (
	decodeReaderPool = sync.Pool{
		New: func() any { return new(bytesReader) },
	}
	encodeBufferPool = sync.Pool{
		New: func() any { return new(bytesBuffer) },
	}
)

// Buffers that grew past this stay out of the pool so one oversized
// frame does not pin its backing array forever.
const maxPooledBuffer = 64 << 10

func getBytesReader(data []byte) *bytesReader {
	r := decodeReaderPool.Get().(*bytesReader)
	r.data, r.pos = data, 0
	return r
}

func putBytesReader(r *bytesReader) {
	if r == nil {
		return
	}
	r.data, r.pos = nil, 0
	decodeReaderPool.Put(r)
}

func getBytesBuffer() *bytesBuffer {
	b := encodeBufferPool.Get().(*bytesBuffer)
	b.data = b.data[:0]
	return b
}

func putBytesBuffer(b *bytesBuffer) {
	if b == nil || cap(b.data) > maxPooledBuffer {
		return
	}
	b.data = b.data[:0]
	encodeBufferPool.Put(b)
}
