// Package ring implements the bounded circular byte buffer that holds raw
// PTY output behind monotonic byte offsets.
package ring

import (
	"errors"
	"sync"
)

// ErrTruncated is returned by Buffer.ReadFrom when the requested offset has
// already fallen out of the retained window.
var ErrTruncated = errors.New("ring: offset truncated")

// Buffer is a single-writer, many-reader bounded byte ring. Readers always
// get a copied-out slice, never a view into the internal storage.
type Buffer struct {
	mu   sync.RWMutex
	buf  []byte
	cap  int
	head int // index in buf where the oldest retained byte lives
	size int // number of valid bytes currently in buf (<= cap)

	total uint64 // total_written, monotonic, never reset
}

// New creates a Buffer with the given capacity in bytes. A non-positive
// capacity falls back to 1 MiB.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1 << 20
	}
	return &Buffer{
		buf: make([]byte, capacity),
		cap: capacity,
	}
}

// Write appends p to the ring. If len(p) exceeds the capacity, only the
// trailing capacity bytes of p are retained. TotalWritten always advances by
// len(p), regardless of truncation.
func (b *Buffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.cap {
		copy(b.buf, p[len(p)-b.cap:])
		b.head = 0
		b.size = b.cap
		b.total += uint64(len(p))
		return
	}

	writeAt := (b.head + b.size) % b.cap
	n := copy(b.buf[writeAt:], p)
	if n < len(p) {
		copy(b.buf, p[n:])
	}

	b.size += len(p)
	if b.size > b.cap {
		overflow := b.size - b.cap
		b.head = (b.head + overflow) % b.cap
		b.size = b.cap
	}
	b.total += uint64(len(p))
}

// TotalWritten returns the monotonic count of all bytes ever written.
func (b *Buffer) TotalWritten() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// ReadFrom copies out all bytes available from offset onward. It returns
// ErrTruncated if offset has already fallen out of the retained window. If
// the caller is already caught up, it returns an empty (nil) slice with
// nextOffset == TotalWritten().
func (b *Buffer) ReadFrom(offset uint64) (data []byte, nextOffset uint64, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	oldest := uint64(0)
	if b.total > uint64(b.size) {
		oldest = b.total - uint64(b.size)
	}
	if offset < oldest {
		return nil, 0, ErrTruncated
	}
	if offset > b.total {
		offset = b.total
	}
	if offset == b.total {
		return nil, b.total, nil
	}

	skip := int(offset - oldest)
	n := b.size - skip
	out := make([]byte, n)
	start := (b.head + skip) % b.cap
	first := copy(out, b.buf[start:])
	if first < n {
		copy(out[first:], b.buf[:n-first])
	}
	return out, b.total, nil
}

// Capacity returns the configured maximum byte capacity.
func (b *Buffer) Capacity() int {
	return b.cap
}
