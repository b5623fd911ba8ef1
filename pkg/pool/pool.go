// Package pool provides buffer pooling to reduce GC pressure during bulk
// photo processing and archive encoding.
package pool

import (
	"bytes"
	"sync"
)

// maxRetained keeps one oversized archive from pinning memory in the pool.
const maxRetained = 4 << 20

// BufferPool pools *bytes.Buffer
var BufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBuffer gets an empty buffer from pool
func GetBuffer() *bytes.Buffer {
	b := BufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// PutBuffer returns a buffer to pool. Buffers that grew past maxRetained are
// dropped.
func PutBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxRetained {
		return
	}
	BufferPool.Put(b)
}

// Bytes copies the buffer contents out so b can go back to the pool.
func Bytes(b *bytes.Buffer) []byte {
	return bytes.Clone(b.Bytes())
}
