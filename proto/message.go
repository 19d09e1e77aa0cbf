package proto

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// DescriptorSize is the size of the frame header preceding every message.
	DescriptorSize = 20
	// ControlChannel is the channel id of tag encoded control messages.
	ControlChannel = 0xFFFFFFFF

	// FrameSizeMax is the largest payload accepted on the wire.
	FrameSizeMax = 16 * 1024 * 1024
	// DescriptorFlagShmMask covers the shared memory flags, which are not supported.
	DescriptorFlagShmMask = 0xFF000000

	maxRecycleSize = 256 * 1024
	maxAllocated   = 16 * 1024 * 1024
	allocQuantum   = 4096
)

// Descriptor is the frame header: length, channel, 64 bit offset and flags,
// all big endian.
type Descriptor struct {
	Length   uint32
	Channel  uint32
	OffsetHi uint32
	OffsetLo uint32
	Flags    uint32
}

func (d *Descriptor) Decode(b []byte) {
	d.Length = binary.BigEndian.Uint32(b[0:])
	d.Channel = binary.BigEndian.Uint32(b[4:])
	d.OffsetHi = binary.BigEndian.Uint32(b[8:])
	d.OffsetLo = binary.BigEndian.Uint32(b[12:])
	d.Flags = binary.BigEndian.Uint32(b[16:])
}

func (d *Descriptor) Encode(b []byte) {
	binary.BigEndian.PutUint32(b[0:], d.Length)
	binary.BigEndian.PutUint32(b[4:], d.Channel)
	binary.BigEndian.PutUint32(b[8:], d.OffsetHi)
	binary.BigEndian.PutUint32(b[12:], d.OffsetLo)
	binary.BigEndian.PutUint32(b[16:], d.Flags)
}

// Offset returns the 64 bit seek offset of a memblock.
func (d *Descriptor) Offset() int64 {
	return int64(uint64(d.OffsetHi)<<32 | uint64(d.OffsetLo))
}

// Validate checks the descriptor of an incoming frame.
func (d *Descriptor) Validate() error {
	if d.Length == 0 || d.Length > FrameSizeMax {
		return fmt.Errorf("%w: invalid frame length %d", ErrProtocolError, d.Length)
	}
	if d.Channel == ControlChannel && d.Flags != 0 {
		return fmt.Errorf("%w: control frame with flags 0x%08x", ErrProtocolError, d.Flags)
	}
	if d.Flags&DescriptorFlagShmMask != 0 {
		return fmt.Errorf("%w: shared memory frames are not supported", ErrProtocolError)
	}
	return nil
}

// A Message is one frame: either a control message or a block of audio for
// a stream channel. A Message belongs to exactly one queue at a time and is
// returned to its Pool when it is no longer needed.
type Message struct {
	Channel uint32
	// Seek fields of the descriptor, used for memblocks.
	Offset int64
	Flags  uint32

	data   []byte
	length int
	pool   *Pool

	// Extra identifies the object a subscribe event refers to; it allows
	// the outgoing queue to coalesce events.
	Extra [2]uint32
	// Kind distinguishes subscribe events from other messages.
	Kind MessageKind
}

type MessageKind uint8

const (
	KindUnspecified MessageKind = iota
	KindSubscribeEvent
)

// Bytes returns the payload.
func (m *Message) Bytes() []byte { return m.data[:m.length] }

// Len returns the payload length.
func (m *Message) Len() int { return m.length }

// SetLen sets the payload length, growing the buffer as needed. It is used
// when the payload is filled directly through Bytes.
func (m *Message) SetLen(n int) {
	m.length = 0
	m.ensure(n)
	m.length = n
}

func (m *Message) ensure(n int) {
	if m.length+n <= len(m.data) {
		return
	}
	alloc := len(m.data) + n
	if alloc < allocQuantum {
		alloc = allocQuantum
	}
	alloc = (alloc + allocQuantum - 1) / allocQuantum * allocQuantum
	data := make([]byte, alloc)
	copy(data, m.data[:m.length])
	if m.pool != nil {
		m.pool.grow(alloc - len(m.data))
	}
	m.data = data
}

// Descriptor returns the frame header for the message.
func (m *Message) Descriptor() Descriptor {
	return Descriptor{
		Length:   uint32(m.length),
		Channel:  m.Channel,
		OffsetHi: uint32(uint64(m.Offset) >> 32),
		OffsetLo: uint32(uint64(m.Offset)),
		Flags:    m.Flags,
	}
}

// Stats describes the allocation state of a Pool.
type Stats struct {
	NumAllocated    uint32
	AllocatedSize   uint32
	NumAccumulated  uint32
	AccumulatedSize uint32
}

// Pool allocates messages and recycles them through a free list.
type Pool struct {
	mu   sync.Mutex
	free []*Message

	numAllocated    atomic.Int64
	allocated       atomic.Int64
	numAccumulated  atomic.Int64
	accumulatedSize atomic.Int64
}

func NewPool() *Pool { return &Pool{} }

func (p *Pool) grow(n int) {
	p.allocated.Add(int64(n))
	p.accumulatedSize.Add(int64(n))
}

// Get returns a message for channel with room for size bytes. The payload
// length is set to size for memblocks and to 0 for control messages.
func (p *Pool) Get(channel uint32, size int) *Message {
	var m *Message
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		m = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()
	if m == nil {
		m = &Message{pool: p}
		p.numAllocated.Add(1)
		p.numAccumulated.Add(1)
	}
	m.Channel = channel
	m.Offset = 0
	m.Flags = 0
	m.Kind = KindUnspecified
	m.Extra = [2]uint32{}
	m.length = 0
	m.ensure(size)
	if channel != ControlChannel {
		m.length = size
	}
	return m
}

// Put returns m to the pool. Large messages, or any message once the pool
// holds too much memory, are released instead of recycled.
func (p *Pool) Put(m *Message) {
	if m == nil || m.pool != p {
		return
	}
	if p.allocated.Load() > maxAllocated || len(m.data) > maxRecycleSize {
		p.numAllocated.Add(-1)
		p.allocated.Add(-int64(len(m.data)))
		m.data = nil
		m.pool = nil
		return
	}
	m.length = 0
	p.mu.Lock()
	p.free = append(p.free, m)
	p.mu.Unlock()
}

// Stats returns the allocation statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		NumAllocated:    uint32(p.numAllocated.Load()),
		AllocatedSize:   uint32(p.allocated.Load()),
		NumAccumulated:  uint32(p.numAccumulated.Load()),
		AccumulatedSize: uint32(p.accumulatedSize.Load()),
	}
}

// NewCommand returns a control message starting with the command and tag.
func (p *Pool) NewCommand(command, tag uint32) *Message {
	m := p.Get(ControlChannel, 64)
	w := m.Writer()
	w.PutU32(command)
	w.PutU32(tag)
	return m
}

// NewReply returns a REPLY message for tag.
func (p *Pool) NewReply(tag uint32) *Message {
	return p.NewCommand(OpReply, tag)
}

// NewError returns an ERROR message for tag.
func (p *Pool) NewError(tag uint32, e Error) *Message {
	m := p.NewCommand(OpError, tag)
	m.Writer().PutU32(uint32(e))
	return m
}
