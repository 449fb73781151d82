package netio

import "sync"

// BufferPool is a sync.Pool of fixed-size byte slices, following the
// teacher's PacketPool pattern (a *[]byte sync.Pool sized to the
// maximum on-wire frame) so RX buffers are reused instead of allocated
// per frame on the hot path, per spec.md section 5's "no ... memory
// allocation ... on the hot path."
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool returns a BufferPool whose buffers are sized to
// bufSize bytes.
func NewBufferPool(bufSize int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, bufSize)
				return &b
			},
		},
	}
}

// Get returns a pooled buffer.
func (p *BufferPool) Get() *[]byte {
	bufp, _ := p.pool.Get().(*[]byte)
	return bufp
}

// Put returns a buffer to the pool.
func (p *BufferPool) Put(buf *[]byte) {
	p.pool.Put(buf)
}
