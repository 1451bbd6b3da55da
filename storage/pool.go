package storage

import "sync"

// BytesPool recycles byte buffers of a fixed capacity.
type BytesPool struct {
	pool sync.Pool
}

func NewBytesPool(capacity int) *BytesPool {
	return &BytesPool{
		pool: sync.Pool{
			New: func() any {
				buf := new([]byte) // Attempt to force allocation on heap.
				*buf = make([]byte, 0, capacity)
				return buf
			},
		},
	}
}

func (p *BytesPool) GetBytes() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *BytesPool) PutBytes(b *[]byte) {
	*b = (*b)[:0]

	p.pool.Put(b)
}
