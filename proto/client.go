package proto

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
)

// Client is a minimal request/reply client of the native protocol. It is
// used by the command line tools and by tests exercising a server.
type Client struct {
	rwc  io.ReadWriteCloser
	conn *Conn
	pool *Pool
	v    Version

	mu      sync.Mutex
	nextTag uint32
	pending map[uint32]chan *Message
	err     error

	wmu sync.Mutex

	done chan struct{}

	callback func(interface{})
}

// NewClient starts reading from rwc. Server initiated messages and memblocks
// are passed to callback, which may be nil, on the read goroutine.
func NewClient(rwc io.ReadWriteCloser, callback func(interface{})) *Client {
	pool := NewPool()
	c := &Client{
		rwc:     rwc,
		conn:    NewConn(rwc, pool),
		pool:    pool,
		v:       ProtocolVersion,
		pending: make(map[uint32]chan *Message),
		done:    make(chan struct{}),

		callback: callback,
	}
	go c.readLoop()
	return c
}

func (c *Client) Version() Version { return c.v }

// SetVersion lowers the version used for encoding to v if needed.
func (c *Client) SetVersion(v Version) { c.v = c.v.Min(v) }

// Close closes the connection and waits for the read goroutine to exit.
func (c *Client) Close() error {
	err := c.rwc.Close()
	<-c.done
	return err
}

// Request sends req and decodes the reply into rpl, which may be nil.
func (c *Client) Request(req RequestArgs, rpl Reply) error {
	if rpl != nil && req.command() != rpl.IsReplyTo() {
		return fmt.Errorf("pulse: wrong reply type, got %d but expected %d", rpl.IsReplyTo(), req.command())
	}
	r, m, err := c.RequestRaw(req.command(), func(w *ProtocolWriter) { w.Write(req, c.v) })
	if err != nil {
		return err
	}
	defer c.pool.Put(m)
	if rpl == nil {
		return nil
	}
	if t := reflect.TypeOf(rpl).Elem(); t.Kind() == reflect.Slice {
		list := reflect.ValueOf(rpl).Elem()
		for r.Remaining() > 0 && r.Err() == nil {
			item := reflect.New(t.Elem().Elem())
			r.Read(item.Interface(), c.v)
			list.Set(reflect.Append(list, item))
		}
		return r.Err()
	}
	return r.Read(rpl, c.v)
}

// RequestRaw sends a command whose body is written by body and waits for the
// reply. The returned reader is positioned after the reply header; the
// message must be returned to the pool by the caller once read.
func (c *Client) RequestRaw(command uint32, body func(*ProtocolWriter)) (*ProtocolReader, *Message, error) {
	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, nil, c.err
	}
	tag := c.nextTag
	c.nextTag++
	c.pending[tag] = ch
	c.mu.Unlock()

	m := c.pool.NewCommand(command, tag)
	if body != nil {
		body(m.Writer())
	}
	err := c.write(m)
	c.pool.Put(m)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, tag)
		c.mu.Unlock()
		return nil, nil, err
	}

	reply, ok := <-ch
	if !ok {
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return nil, nil, err
	}
	r := reply.Reader()
	op := r.U32()
	r.U32()
	if op == OpError {
		e := Error(r.U32())
		c.pool.Put(reply)
		return nil, nil, e
	}
	return r, reply, r.Err()
}

// Send writes a memblock for the stream on channel.
func (c *Client) Send(channel uint32, data []byte) error {
	m := c.pool.Get(channel, len(data))
	copy(m.Bytes(), data)
	err := c.write(m)
	c.pool.Put(m)
	return err
}

func (c *Client) write(m *Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(m)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		m, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		if m.Channel != ControlChannel {
			if c.callback != nil {
				c.callback(&DataPacket{StreamIndex: m.Channel, Data: append([]byte(nil), m.Bytes()...)})
			}
			c.pool.Put(m)
			continue
		}
		r := m.Reader()
		op := r.U32()
		tag := r.U32()
		if r.Err() != nil {
			c.pool.Put(m)
			continue
		}
		if op == OpReply || op == OpError {
			c.mu.Lock()
			ch, ok := c.pending[tag]
			delete(c.pending, tag)
			c.mu.Unlock()
			if ok {
				ch <- m
			} else {
				c.pool.Put(m)
			}
			continue
		}
		if event := newEvent(op); event != nil && c.callback != nil {
			if r.Read(event, c.v) == nil {
				c.callback(event)
			}
		}
		c.pool.Put(m)
	}
}

func (c *Client) fail(err error) {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	c.mu.Lock()
	c.err = err
	pending := c.pending
	c.pending = make(map[uint32]chan *Message)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func newEvent(op uint32) interface{} {
	switch op {
	case OpRequest:
		return &Request{}
	case OpOverflow:
		return &Overflow{}
	case OpUnderflow:
		return &Underflow{}
	case OpPlaybackStreamKilled:
		return &PlaybackStreamKilled{}
	case OpRecordStreamKilled:
		return &RecordStreamKilled{}
	case OpSubscribeEvent:
		return &SubscribeEvent{}
	case OpPlaybackStreamSuspended:
		return &PlaybackStreamSuspended{}
	case OpRecordStreamSuspended:
		return &RecordStreamSuspended{}
	case OpPlaybackStreamMoved:
		return &PlaybackStreamMoved{}
	case OpRecordStreamMoved:
		return &RecordStreamMoved{}
	case OpClientEvent:
		return &ClientEvent{}
	case OpPlaybackStreamEvent:
		return &PlaybackStreamEvent{}
	case OpRecordStreamEvent:
		return &RecordStreamEvent{}
	case OpStarted:
		return &Started{}
	case OpPlaybackBufferAttrChanged:
		return &PlaybackBufferAttrChanged{}
	case OpRecordBufferAttrChanged:
		return &RecordBufferAttrChanged{}
	}
	return nil
}

type DataPacket struct {
	StreamIndex uint32
	Data        []byte
}
