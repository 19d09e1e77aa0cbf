package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/proto"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type syncExec struct{}

func (syncExec) Invoke(f func()) { f() }

type fakeClient struct {
	version proto.Version
	pool    *proto.Pool
	queued  []*proto.Message
	pending bool
}

func (c *fakeClient) Version() proto.Version { return c.version }
func (c *fakeClient) Pool() *proto.Pool      { return c.pool }
func (c *fakeClient) Queue(m *proto.Message) { c.queued = append(c.queued, m) }
func (c *fakeClient) Pending() bool          { return c.pending }

// take returns the queued messages and forgets them.
func (c *fakeClient) take() []*proto.Message {
	q := c.queued
	c.queued = nil
	return q
}

func command(t *testing.T, m *proto.Message, v interface{}) uint32 {
	t.Helper()
	require.Equal(t, uint32(proto.ControlChannel), m.Channel)
	r := m.Reader()
	op := r.U32()
	r.U32()
	if v != nil {
		require.NoError(t, r.Read(v, proto.ProtocolVersion))
	}
	return op
}

// find decodes the first command op of msgs into v.
func find(t *testing.T, msgs []*proto.Message, op uint32, v interface{}) bool {
	t.Helper()
	for _, m := range msgs {
		if m.Channel != proto.ControlChannel {
			continue
		}
		r := m.Reader()
		if r.U32() != op {
			continue
		}
		r.U32()
		require.NoError(t, r.Read(v, proto.ProtocolVersion))
		return true
	}
	return false
}

func ops(t *testing.T, msgs []*proto.Message) []uint32 {
	var res []uint32
	for _, m := range msgs {
		if m.Channel == proto.ControlChannel {
			res = append(res, command(t, m, nil))
		}
	}
	return res
}

type fakeGraphStream struct {
	active  []bool
	flushes []bool
	props   graph.Props
	now     int64
}

func (g *fakeGraphStream) NodeID() uint32 { return 42 }
func (g *fakeGraphStream) SetActive(active bool) error {
	g.active = append(g.active, active)
	return nil
}
func (g *fakeGraphStream) Flush(drain bool) error {
	g.flushes = append(g.flushes, drain)
	return nil
}
func (g *fakeGraphStream) SetControl(graph.Control, []float32) error { return nil }
func (g *fakeGraphStream) UpdateProperties(props graph.Props) error {
	for k, v := range props {
		g.props[k] = v
	}
	return nil
}
func (g *fakeGraphStream) Time() graph.Time {
	return graph.Time{Now: g.now, RateNum: 1, RateDenom: 48000, Delay: 480}
}
func (g *fakeGraphStream) Disconnect() error { return nil }

type counter int

func (c *counter) Inc() { *c++ }

type testStream struct {
	*Stream
	client    *fakeClient
	gs        *fakeGraphStream
	underruns counter
	overflows counter
}

func newTestStream(t *testing.T, kind Kind, attr BufferAttr, limits Limits) *testStream {
	t.Helper()
	ts := &testStream{
		client: &fakeClient{version: proto.ProtocolVersion, pool: proto.NewPool()},
		gs:     &fakeGraphStream{props: graph.Props{}},
	}
	ts.Stream = New(Config{
		Kind:      kind,
		Channel:   3,
		Client:    ts.client,
		Exec:      syncExec{},
		Log:       nullLog(),
		Limits:    limits,
		Underruns: &ts.underruns,
		Overflows: &ts.overflows,
	})
	require.NoError(t, ts.SetFormat(s16Stereo))
	ts.SetGraph(ts.gs)
	ts.SetAttr(attr)
	ts.Start()
	return ts
}

// cycle runs one playback cycle asking for frames frames.
func (ts *testStream) cycle(frames uint64) *graph.Buffer {
	b := &graph.Buffer{Data: make([]byte, 8192), Requested: frames}
	ts.Process(b)
	return b
}

func TestSetFormat(t *testing.T) {
	s := New(Config{Log: nullLog()})
	err := s.SetFormat(proto.SampleSpec{Format: proto.FormatInvalid, Channels: 2, Rate: 48000})
	assert.ErrorIs(t, err, ErrInvalidFormat)
	require.NoError(t, s.SetFormat(f32Stereo))
	assert.Equal(t, uint32(8), s.FrameSize())
}

func TestSetAttr(t *testing.T) {
	ts := newTestStream(t, Playback, UnsetAttr(), DefaultLimits())
	assert.Equal(t, BufferAttr{MaxLength, 384000, 380164, 3840, 0}, ts.Attr())
	assert.Equal(t, uint64(170666), ts.Latency())
	assert.Equal(t, "8192/48000", ts.gs.props["node.latency"])
	assert.Equal(t, "1/48000", ts.gs.props["node.rate"])
	assert.Equal(t, "384000", ts.gs.props["pulse.attr.tlength"])
}

func TestRequest(t *testing.T) {
	ts := newTestStream(t, Playback, UnsetAttr(), DefaultLimits())

	ts.SendRequest()
	msgs := ts.client.take()
	require.Len(t, msgs, 1)
	var req proto.Request
	assert.Equal(t, uint32(proto.OpRequest), command(t, msgs[0], &req))
	assert.Equal(t, proto.Request{StreamIndex: 3, Length: 384000}, req)

	ts.SendRequest()
	assert.Empty(t, ts.client.take())

	require.NoError(t, ts.Write(make([]byte, 3840), 0, SeekRelative))
	assert.Empty(t, ts.client.take())
}

func TestStartedAndUnderflow(t *testing.T) {
	attr := UnsetAttr()
	attr.PreBuf = 0
	ts := newTestStream(t, Playback, attr, DefaultLimits())
	ts.SendRequest()
	ts.client.take()

	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, ts.Write(data, 0, SeekRelative))

	b := ts.cycle(256)
	require.Equal(t, 1024, b.Size)
	assert.Equal(t, data[:1024], b.Data[:1024])
	msgs := ts.client.take()
	require.Len(t, msgs, 1)
	var started proto.Started
	assert.Equal(t, uint32(proto.OpStarted), command(t, msgs[0], &started))
	assert.Equal(t, uint32(3), started.StreamIndex)

	for i := 1; i < 8; i++ {
		b = ts.cycle(256)
		require.Equal(t, 1024, b.Size)
		assert.Equal(t, data[i*1024:(i+1)*1024], b.Data[:1024])
	}
	assert.True(t, ts.Position().Playing)
	ts.client.take()

	b = ts.cycle(256)
	assert.Zero(t, b.Size)
	var underflow proto.Underflow
	require.True(t, find(t, ts.client.take(), proto.OpUnderflow, &underflow))
	assert.Equal(t, proto.Underflow{StreamIndex: 3, Offset: 9216}, underflow)
	assert.Equal(t, counter(1), ts.underruns)

	// further underrun cycles do not repeat the notification
	ts.cycle(256)
	assert.NotContains(t, ops(t, ts.client.take()), uint32(proto.OpUnderflow))
}

func TestUnderrunKeepsPosition(t *testing.T) {
	ts := newTestStream(t, Playback, UnsetAttr(), DefaultLimits())

	// with prebuffering enabled an underrun does not advance the stream
	b := ts.cycle(256)
	assert.Zero(t, b.Size)
	assert.Zero(t, ts.Position().ReadIndex)
	assert.False(t, ts.Position().Playing)

	require.NoError(t, ts.Write(make([]byte, 1024), 0, SeekRelative))
	ts.client.take()
	b = ts.cycle(256)
	assert.Equal(t, 1024, b.Size)
	assert.Equal(t, int64(1024), ts.Position().ReadIndex)
	assert.Contains(t, ops(t, ts.client.take()), uint32(proto.OpStarted))
}

func TestDrain(t *testing.T) {
	attr := UnsetAttr()
	attr.PreBuf = 0
	ts := newTestStream(t, Playback, attr, DefaultLimits())
	require.NoError(t, ts.Write(make([]byte, 1024), 0, SeekRelative))

	ts.Drain()
	b := ts.cycle(256)
	assert.Equal(t, 1024, b.Size)
	assert.Empty(t, ts.gs.flushes)

	b = ts.cycle(256)
	assert.Zero(t, b.Size)
	assert.Equal(t, []bool{true}, ts.gs.flushes)
	assert.NotContains(t, ops(t, ts.client.take()), uint32(proto.OpUnderflow))
}

func TestWriteSeek(t *testing.T) {
	ts := newTestStream(t, Playback, UnsetAttr(), DefaultLimits())
	read := func() []byte {
		index, avail := ts.ring.ReadIndex()
		b := make([]byte, avail)
		ts.ring.ReadData(index, b)
		return b
	}

	require.NoError(t, ts.Write([]byte{1, 1, 1, 1}, 0, SeekRelative))
	require.NoError(t, ts.Write([]byte{2, 2, 2, 2}, 8, SeekRelative))
	assert.Equal(t, []byte{1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 2, 2, 2, 2}, read())

	require.NoError(t, ts.Write([]byte{3, 3, 3, 3}, 4, SeekAbsolute))
	assert.Equal(t, []byte{1, 1, 1, 1, 3, 3, 3, 3}, read())
	assert.Equal(t, int64(8), ts.Position().WriteIndex)

	require.NoError(t, ts.Write([]byte{4, 4, 4, 4}, 4, SeekRelativeOnRead))
	assert.Equal(t, []byte{1, 1, 1, 1, 4, 4, 4, 4}, read())

	err := ts.Write([]byte{5}, 0, 7)
	assert.ErrorIs(t, err, proto.ErrProtocolError)
}

func TestOverflow(t *testing.T) {
	attr := UnsetAttr()
	attr.MaxLength = 4096
	ts := newTestStream(t, Playback, attr, DefaultLimits())
	assert.Equal(t, BufferAttr{4096, 4096, 3076, 1024, 0}, ts.Attr())

	require.NoError(t, ts.Write(make([]byte, 8192), 0, SeekRelative))
	assert.Contains(t, ops(t, ts.client.take()), uint32(proto.OpOverflow))
	assert.Equal(t, counter(1), ts.overflows)
}

func TestCork(t *testing.T) {
	ts := newTestStream(t, Playback, UnsetAttr(), DefaultLimits())

	ts.SetCorked(true)
	assert.True(t, ts.Corked())
	assert.True(t, ts.Paused())
	assert.Equal(t, []bool{false}, ts.gs.active)
	assert.Equal(t, "true", ts.gs.props["pulse.corked"])
	assert.False(t, ts.Position().Playing)

	// corked cycles produce silence without consuming data
	require.NoError(t, ts.Write(make([]byte, 4096), 0, SeekRelative))
	ts.client.take()
	b := ts.cycle(256)
	assert.Zero(t, b.Size)
	assert.Zero(t, ts.Position().ReadIndex)

	ts.SetCorked(false)
	assert.False(t, ts.Paused())
	assert.Equal(t, []bool{false, true}, ts.gs.active)
	assert.Equal(t, "false", ts.gs.props["pulse.corked"])
}

func TestIdlePause(t *testing.T) {
	l := DefaultLimits()
	l.IdleTimeout = 1
	ts := newTestStream(t, Playback, UnsetAttr(), l)

	ts.gs.now = 1e9
	ts.cycle(256)
	ts.gs.now = 2e9
	ts.cycle(256)
	assert.False(t, ts.Paused())
	ts.gs.now = 3e9
	ts.cycle(256)
	assert.True(t, ts.Paused())
	assert.Equal(t, []bool{false}, ts.gs.active)

	require.NoError(t, ts.Write(make([]byte, 1024), 0, SeekRelative))
	assert.False(t, ts.Paused())
	assert.Equal(t, []bool{false, true}, ts.gs.active)
}

func TestMinReqChange(t *testing.T) {
	attr := UnsetAttr()
	attr.TLength = 4096
	ts := newTestStream(t, Playback, attr, DefaultLimits())
	require.Equal(t, uint32(4096), ts.Attr().TLength)
	ts.client.take()

	ts.cycle(1024)
	var changed proto.PlaybackBufferAttrChanged
	require.True(t, find(t, ts.client.take(), proto.OpPlaybackBufferAttrChanged, &changed))
	assert.Equal(t, uint32(6144), changed.BufferTargetLength)
	assert.Equal(t, proto.Microseconds(21333), changed.SinkLatency)
	assert.Equal(t, uint32(6144), ts.Attr().TLength)
}

func TestFlush(t *testing.T) {
	ts := newTestStream(t, Playback, UnsetAttr(), DefaultLimits())
	ts.SendRequest()
	ts.client.take()
	require.NoError(t, ts.Write(make([]byte, 4096), 0, SeekRelative))

	ts.Flush()
	assert.Equal(t, []bool{false}, ts.gs.flushes)
	_, avail := ts.ring.ReadIndex()
	assert.Zero(t, avail)
	pos := ts.Position()
	assert.Equal(t, pos.ReadIndex, pos.WriteIndex)

	var req proto.Request
	msgs := ts.client.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint32(proto.OpRequest), command(t, msgs[0], &req))
	assert.Equal(t, uint32(4096), req.Length)
}

func TestRecordDelivery(t *testing.T) {
	attr := UnsetAttr()
	attr.FragSize = 1024
	ts := newTestStream(t, Record, attr, DefaultLimits())
	assert.Equal(t, BufferAttr{MaxLength: MaxLength, FragSize: 1024}, ts.Attr())

	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 251)
	}
	ts.Process(&graph.Buffer{Data: data, Size: 2500})
	msgs := ts.client.take()
	require.Len(t, msgs, 2)
	for i, m := range msgs {
		assert.Equal(t, uint32(3), m.Channel)
		assert.Equal(t, data[i*1024:(i+1)*1024], m.Bytes())
	}
	pos := ts.Position()
	assert.Equal(t, int64(2500), pos.WriteIndex)
	assert.Equal(t, int64(2048), pos.ReadIndex)
	assert.Equal(t, int64(10000), pos.Delay)
	assert.True(t, pos.Playing)

	ts.client.pending = true
	ts.Process(&graph.Buffer{Data: data, Size: 1024})
	assert.Empty(t, ts.client.take())
}

func TestRecordOverrun(t *testing.T) {
	attr := UnsetAttr()
	attr.FragSize = 1024
	attr.MaxLength = 4096
	ts := newTestStream(t, Record, attr, DefaultLimits())
	require.Equal(t, BufferAttr{MaxLength: 4096, FragSize: 1024}, ts.Attr())

	ts.client.pending = true
	data := make([]byte, 4096)
	for i := 0; i < 2; i++ {
		for j := range data {
			data[j] = byte(i + 1)
		}
		ts.Process(&graph.Buffer{Data: data, Size: len(data)})
	}
	ts.client.pending = false
	ts.Process(&graph.Buffer{Data: data, Size: 0})

	msgs := ts.client.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, bytesOf(2, 1024), msgs[0].Bytes())
	assert.Equal(t, counter(1), ts.overflows)
}

func bytesOf(v byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestClosedStreamIgnoresCycles(t *testing.T) {
	ts := newTestStream(t, Playback, UnsetAttr(), DefaultLimits())
	ts.Close()
	b := &graph.Buffer{Data: make([]byte, 1024), Size: 1024}
	ts.Process(b)
	assert.Zero(t, b.Size)
	assert.Empty(t, ts.client.take())
}

func TestNotifications(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		version proto.Version
		send    func(s *Stream)
		want    []uint32
	}{
		{"killed playback", Playback, 35, (*Stream).SendKilled, []uint32{proto.OpPlaybackStreamKilled}},
		{"killed record", Record, 35, (*Stream).SendKilled, []uint32{proto.OpRecordStreamKilled}},
		{"killed old client", Playback, 22, (*Stream).SendKilled, nil},
		{"suspended", Record, 35, func(s *Stream) { s.SendSuspended(true) }, []uint32{proto.OpRecordStreamSuspended}},
		{"moved", Playback, 35, func(s *Stream) { s.SendMoved(7, "sink") }, []uint32{proto.OpPlaybackStreamMoved}},
		{"moved old client", Record, 11, func(s *Stream) { s.SendMoved(7, "source") }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestStream(t, tt.kind, UnsetAttr(), DefaultLimits())
			ts.client.version = tt.version
			ts.client.take()
			tt.send(ts.Stream)
			assert.Equal(t, tt.want, ops(t, ts.client.take()))
		})
	}
}

func TestMoved(t *testing.T) {
	ts := newTestStream(t, Playback, UnsetAttr(), DefaultLimits())
	ts.SendMoved(7, "alsa_output.usb")
	msgs := ts.client.take()
	require.Len(t, msgs, 1)
	var moved proto.PlaybackStreamMoved
	command(t, msgs[0], &moved)
	assert.Equal(t, proto.PlaybackStreamMoved{
		StreamIndex: 3, DestIndex: 7, DestName: "alsa_output.usb",
		BufferMaxLength: MaxLength, BufferTargetLength: 384000,
		BufferPrebufferLength: 380164, BufferMinimumRequest: 3840,
		SinkLatency: 170666,
	}, moved)
}
