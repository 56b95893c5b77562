// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
//
// Fixed-capacity byte buffer with read/write cursors and the ObjectManager
// that recycles it.

package pool

import "github.com/momentics/hioload-io/api"

// DefaultBufferSize is used when a BufferManager is built with a zero size.
const DefaultBufferSize = 16 << 10

// Buffer is a fixed-capacity byte region. Data is written at the tail
// (Available/Advance or Write) and consumed from the head (Bytes/Consume).
// A Buffer is not safe for concurrent use.
type Buffer struct {
	buf  []byte
	r, w int
}

// NewBuffer allocates a buffer of exactly size bytes.
func NewBuffer(size int) *Buffer {
	return &Buffer{buf: make([]byte, size)}
}

// Bytes returns the unread portion.
func (b *Buffer) Bytes() []byte { return b.buf[b.r:b.w] }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.w - b.r }

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// Available returns the writable tail.
func (b *Buffer) Available() []byte { return b.buf[b.w:] }

// Advance marks n bytes of the tail as written.
func (b *Buffer) Advance(n int) {
	if n < 0 || b.w+n > len(b.buf) {
		panic("pool: buffer advance out of range")
	}
	b.w += n
}

// Consume drops n unread bytes from the head.
func (b *Buffer) Consume(n int) {
	if n < 0 || b.r+n > b.w {
		panic("pool: buffer consume out of range")
	}
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}

// Write copies as much of p as fits and returns the number of bytes copied.
func (b *Buffer) Write(p []byte) int {
	n := copy(b.buf[b.w:], p)
	b.w += n
	return n
}

// Reset discards all content without clearing memory.
func (b *Buffer) Reset() { b.r, b.w = 0, 0 }

// BufferManager manages Buffers of one size.
type BufferManager struct {
	Size int
}

var _ api.ObjectManager[*Buffer] = BufferManager{}

func (m BufferManager) size() int {
	if m.Size <= 0 {
		return DefaultBufferSize
	}
	return m.Size
}

// Create allocates a new buffer.
func (m BufferManager) Create() *Buffer { return NewBuffer(m.size()) }

// PrepareForRecycle accepts only buffers of the managed size and zeroes them.
func (m BufferManager) PrepareForRecycle(b *Buffer) bool {
	if b == nil || len(b.buf) != m.size() || cap(b.buf) != m.size() {
		return false
	}
	clear(b.buf)
	b.Reset()
	return true
}

// CanReuse reports whether b still has the managed shape.
func (m BufferManager) CanReuse(b *Buffer) bool {
	return b != nil && len(b.buf) == m.size()
}

// Release drops b; the collector reclaims it.
func (m BufferManager) Release(*Buffer) {}
