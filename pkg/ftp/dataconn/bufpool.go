package dataconn

import "sync"

// Copy buffer size classes.
const (
	// smallBufferSize serves throttled transfers, so the limiter releases
	// bytes in small steps instead of stalling on one large read.
	smallBufferSize = 4 << 10

	// largeBufferSize serves unthrottled file transfers and listings.
	largeBufferSize = 32 << 10
)

// bufferPool hands out reusable copy buffers shared by all data connections.
type bufferPool struct {
	small sync.Pool
	large sync.Pool
}

var globalBufferPool = &bufferPool{
	small: sync.Pool{
		New: func() any {
			buf := make([]byte, smallBufferSize)
			return &buf
		},
	},
	large: sync.Pool{
		New: func() any {
			buf := make([]byte, largeBufferSize)
			return &buf
		},
	},
}

// get returns a buffer of exactly size bytes. Sizes above largeBufferSize
// are allocated directly and never pooled.
func (p *bufferPool) get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= smallBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= largeBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	return (*bufPtr)[:size]
}

// put returns buf to the pool matching its capacity. Foreign buffers are
// left to the garbage collector.
func (p *bufferPool) put(buf []byte) {
	full := buf[:cap(buf)]

	switch cap(buf) {
	case smallBufferSize:
		p.small.Put(&full)
	case largeBufferSize:
		p.large.Put(&full)
	}
}

func getBuffer(size int) []byte { return globalBufferPool.get(size) }
func putBuffer(buf []byte)      { globalBufferPool.put(buf) }

// bufferSize picks the copy buffer class for the connection's rate limit.
func (c *Conn) bufferSize() int {
	if limit := c.limiter.Limit(); limit > 0 && limit < largeBufferSize {
		return smallBufferSize
	}
	return largeBufferSize
}
