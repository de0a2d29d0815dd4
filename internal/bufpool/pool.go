// Package bufpool reuses chunk payload buffers across reads to keep
// per-chunk allocations off the hot path.
package bufpool

import "sync"

// Pool hands out byte buffers of at least a fixed capacity. Callers ask
// for the length they need up to that capacity; oversized requests fall
// back to a plain allocation and are never pooled.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a pool whose buffers hold up to bufSize bytes.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufSize must be positive")
	}
	return &Pool{
		bufSize: bufSize,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, bufSize)
				return &b
			},
		},
	}
}

// Get returns a buffer of length n. Buffers up to the pool's capacity
// come from the pool; larger ones are freshly allocated.
func (p *Pool) Get(n int) []byte {
	if n < 0 {
		n = 0
	}
	if n > p.bufSize {
		return make([]byte, n)
	}
	buf := *p.pool.Get().(*[]byte)
	return buf[:n]
}

// Put returns a buffer obtained from Get. Buffers that did not come
// from the pool are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.bufSize {
		return
	}
	buf = buf[:cap(buf)]
	p.pool.Put(&buf)
}

// BufSize returns the pooled buffer capacity.
func (p *Pool) BufSize() int {
	return p.bufSize
}
