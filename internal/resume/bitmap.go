// Package resume persists per-transfer chunk completion so an
// interrupted transfer restarts without refetching chunks already
// committed to disk. The journal is a small checksummed sidecar file
// next to the partial output, flushed atomically.
package resume

import (
	"fmt"
	"math/bits"
)

// Bitmap is a compact bitset over chunk indices.
type Bitmap struct {
	bits int
	data []byte
}

// NewBitmap allocates a bitmap sized for the given number of bits.
func NewBitmap(bits int) *Bitmap {
	if bits < 0 {
		bits = 0
	}
	return &Bitmap{bits: bits, data: make([]byte, (bits+7)/8)}
}

// BitmapFromBytes creates a bitmap from its serialized bytes.
func BitmapFromBytes(data []byte, bitLen int) (*Bitmap, error) {
	if bitLen < 0 {
		return nil, fmt.Errorf("invalid bitmap length %d", bitLen)
	}
	if len(data) != (bitLen+7)/8 {
		return nil, fmt.Errorf("bitmap length mismatch: got %d bytes, want %d", len(data), (bitLen+7)/8)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Bitmap{bits: bitLen, data: buf}, nil
}

// LenBits returns the number of bits the bitmap covers.
func (b *Bitmap) LenBits() int {
	if b == nil {
		return 0
	}
	return b.bits
}

// Set marks bit i. Out-of-range indices are ignored.
func (b *Bitmap) Set(i int) {
	if b == nil || i < 0 || i >= b.bits {
		return
	}
	b.data[i/8] |= 1 << uint(i%8)
}

// Get reports whether bit i is set.
func (b *Bitmap) Get(i int) bool {
	if b == nil || i < 0 || i >= b.bits {
		return false
	}
	return b.data[i/8]&(1<<uint(i%8)) != 0
}

// CountSet returns the number of set bits.
func (b *Bitmap) CountSet() int {
	if b == nil {
		return 0
	}
	count := 0
	for _, v := range b.data {
		count += bits.OnesCount8(v)
	}
	return count
}

// Indices returns the set bit positions in ascending order.
func (b *Bitmap) Indices() []int {
	if b == nil {
		return nil
	}
	out := make([]int, 0, b.CountSet())
	for i := 0; i < b.bits; i++ {
		if b.Get(i) {
			out = append(out, i)
		}
	}
	return out
}

// Marshal returns a copy of the bitmap bytes.
func (b *Bitmap) Marshal() []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}
