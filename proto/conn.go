package proto

import (
	"fmt"
	"io"
	"net"
)

// Conn frames messages on a byte stream.
type Conn struct {
	rw   io.ReadWriter
	pool *Pool
	desc [DescriptorSize]byte
	wbuf [DescriptorSize]byte
}

// NewConn returns a Conn reading and writing rw. Incoming messages are
// allocated from pool.
func NewConn(rw io.ReadWriter, pool *Pool) *Conn {
	return &Conn{rw: rw, pool: pool}
}

// ReadMessage reads the next frame. Control messages and memblocks are both
// returned; the caller tells them apart by Channel.
func (c *Conn) ReadMessage() (*Message, error) {
	if _, err := io.ReadFull(c.rw, c.desc[:]); err != nil {
		return nil, err
	}
	var d Descriptor
	d.Decode(c.desc[:])
	if err := d.Validate(); err != nil {
		return nil, err
	}
	m := c.pool.Get(d.Channel, int(d.Length))
	m.SetLen(int(d.Length))
	m.Offset = d.Offset()
	m.Flags = d.Flags
	if _, err := io.ReadFull(c.rw, m.Bytes()); err != nil {
		c.pool.Put(m)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return m, nil
}

// WriteMessage writes m with its descriptor. It does not release m.
func (c *Conn) WriteMessage(m *Message) error {
	d := m.Descriptor()
	d.Encode(c.wbuf[:])
	bufs := net.Buffers{c.wbuf[:], m.Bytes()}
	_, err := bufs.WriteTo(c.rw)
	return err
}
