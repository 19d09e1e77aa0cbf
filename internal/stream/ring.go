package stream

import "sync/atomic"

// Ring is a single producer, single consumer byte ring of MaxLength bytes.
// Indices are free running and wrap at 2^32; the ring size is a power of
// two so the position in the buffer is index % MaxLength. The producer owns
// the write index and the consumer owns the read index. Neither side ever
// waits for the other.
type Ring struct {
	buf   []byte
	read  atomic.Uint32
	write atomic.Uint32
}

// NewRing allocates a ring.
func NewRing() *Ring {
	return &Ring{buf: make([]byte, MaxLength)}
}

// ReadIndex returns the read index and the number of bytes available to
// the consumer. A negative value means the consumer overtook the producer.
func (r *Ring) ReadIndex() (index uint32, avail int32) {
	index = r.read.Load()
	return index, int32(r.write.Load() - index)
}

// WriteIndex returns the write index and the number of bytes filled.
func (r *Ring) WriteIndex() (index uint32, filled int32) {
	index = r.write.Load()
	return index, int32(index - r.read.Load())
}

// ReadData copies len(dst) bytes starting at index into dst.
func (r *Ring) ReadData(index uint32, dst []byte) {
	off := index % MaxLength
	n := copy(dst, r.buf[off:])
	copy(dst[n:], r.buf)
}

// WriteData copies src into the ring starting at index. At most MaxLength
// bytes are written.
func (r *Ring) WriteData(index uint32, src []byte) {
	if len(src) > MaxLength {
		src = src[:MaxLength]
	}
	off := index % MaxLength
	n := copy(r.buf[off:], src)
	copy(r.buf, src[n:])
}

// ReadUpdate publishes a new read index.
func (r *Ring) ReadUpdate(index uint32) { r.read.Store(index) }

// WriteUpdate publishes a new write index.
func (r *Ring) WriteUpdate(index uint32) { r.write.Store(index) }

// DropRead empties the ring from the consumer side.
func (r *Ring) DropRead() { r.read.Store(r.write.Load()) }

// DropWrite empties the ring from the producer side.
func (r *Ring) DropWrite() { r.write.Store(r.read.Load()) }
