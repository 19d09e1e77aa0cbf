package module

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/graph/local"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/proto"
)

func TestMain(m *testing.M) {
	// manager data caches keep their janitor until collected
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

type queue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *queue) Invoke(f func()) {
	q.mu.Lock()
	q.fns = append(q.fns, f)
	q.mu.Unlock()
}

func (q *queue) run() {
	for {
		q.mu.Lock()
		if len(q.fns) == 0 {
			q.mu.Unlock()
			return
		}
		f := q.fns[0]
		q.fns = q.fns[1:]
		q.mu.Unlock()
		f()
	}
}

type host struct {
	t        *testing.T
	q        *queue
	core     graph.Core
	mgr      *manager.Manager
	registry *Registry
	modules  map[uint32]*Module
	next     uint32
}

func newHost(t *testing.T, fixture *local.Fixture) *host {
	t.Helper()
	q := &queue{}
	log := logrus.NewEntry(logrus.New())
	g := local.New(q, log, local.Config{Fixture: fixture, Manual: true})
	t.Cleanup(g.Close)
	core, err := g.Connect(graph.Props{"application.name": "module-test"})
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })
	m := manager.New(core, q, log)
	t.Cleanup(m.Close)
	q.run()
	return &host{t: t, q: q, core: core, mgr: m, registry: Builtin(), modules: map[uint32]*Module{}}
}

func (h *host) Core() graph.Core          { return h.core }
func (h *host) Manager() *manager.Manager { return h.mgr }
func (h *host) Exec() graph.Executor      { return h.q }

func (h *host) LoadModule(name, args string) (*Module, error) {
	info := h.registry.Lookup(name)
	if info == nil {
		return nil, ErrUnknownModule
	}
	m, err := New(h, logrus.NewEntry(logrus.New()), info, h.next, args)
	if err != nil {
		return nil, err
	}
	h.next++
	h.modules[m.Index] = m
	return m, nil
}

func (h *host) UnloadModule(m *Module) error {
	delete(h.modules, m.Index)
	return m.Unload()
}

func (h *host) load(name, args string) (*Module, error) {
	m, err := h.LoadModule(name, args)
	if err != nil {
		return nil, err
	}
	var result error
	done := false
	m.Load(func(err error) { result, done = err, true })
	h.q.run()
	require.True(h.t, done, "module %s did not finish loading", name)
	return m, result
}

func (h *host) find(name string) *manager.Object {
	var found *manager.Object
	h.mgr.ForEach(func(o *manager.Object) bool {
		if o.Props["node.name"] == name {
			found = o
			return false
		}
		return true
	})
	return found
}

type client struct {
	mgr      *manager.Manager
	pool     *proto.Pool
	messages []*proto.Message
	onClose  []func()
}

func newClient(h *host) *client { return &client{mgr: h.mgr, pool: proto.NewPool()} }

func (c *client) Version() proto.Version    { return proto.ProtocolVersion }
func (c *client) Manager() *manager.Manager { return c.mgr }
func (c *client) Pool() *proto.Pool         { return c.pool }
func (c *client) Queue(m *proto.Message)    { c.messages = append(c.messages, m) }
func (c *client) OnDisconnect(f func()) func() {
	i := len(c.onClose)
	c.onClose = append(c.onClose, f)
	return func() { c.onClose[i] = nil }
}

func (c *client) disconnect() {
	for _, f := range c.onClose {
		if f != nil {
			f()
		}
	}
	c.onClose = nil
}

// take returns a reader positioned after the header of the next queued
// message.
func (c *client) take(t *testing.T, op uint32) *proto.ProtocolReader {
	t.Helper()
	require.NotEmpty(t, c.messages)
	m := c.messages[0]
	c.messages = c.messages[1:]
	r := m.Reader()
	require.Equal(t, op, r.U32())
	r.U32()
	return r
}

func run(t *testing.T, m *Module, c *client, cmd uint32, body func(w *proto.ProtocolWriter)) error {
	t.Helper()
	sub := m.Subcommand(cmd)
	require.NotNil(t, sub)
	msg := c.pool.Get(proto.ControlChannel, 64)
	if body != nil {
		body(msg.Writer())
	}
	return sub.Run(m, c, 1, msg.Reader())
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]string
		err  bool
	}{
		{"empty", "", map[string]string{}, false},
		{"plain", "sink_name=foo rate=44100", map[string]string{"sink_name": "foo", "rate": "44100"}, false},
		{"double quoted", `sink_properties="device.description=My Sink"`, map[string]string{"sink_properties": "device.description=My Sink"}, false},
		{"single quoted", `a='x "y" z' b=1`, map[string]string{"a": `x "y" z`, "b": "1"}, false},
		{"escaped quote", `a="say \"hi\""`, map[string]string{"a": `say "hi"`}, false},
		{"extra space", "  a=1 \t b=2  ", map[string]string{"a": "1", "b": "2"}, false},
		{"empty value", "a= b=2", map[string]string{"a": "", "b": "2"}, false},
		{"missing value", "a", nil, true},
		{"unterminated", `a="open`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidArgs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := Builtin()
	assert.Equal(t, []string{"module-always-sink", "module-device-restore", "module-null-sink", "module-stream-restore"}, r.Names())
	assert.Nil(t, r.Lookup("module-bogus"))
	assert.Same(t, NullSink, r.Lookup("module-null-sink"))
}

func TestNullSink(t *testing.T) {
	h := newHost(t, nil)
	m, err := h.load("module-null-sink", `sink_name=test sink_properties='device.description="Test Sink"' channels=2 rate=44100`)
	require.NoError(t, err)
	assert.True(t, m.IsLoaded())
	assert.Equal(t, uint32(Flag), m.Index&Flag)

	sink := h.find("test")
	require.NotNil(t, sink)
	assert.True(t, sink.IsSink())
	assert.Equal(t, "Test Sink", sink.Props["node.description"])
	assert.Equal(t, "0", sink.Props["pulse.module.id"])

	require.NoError(t, h.UnloadModule(m))
	h.q.run()
	assert.Nil(t, h.find("test"))
	assert.True(t, m.Unloading())
	assert.NoError(t, m.Unload())
}

func TestNullSinkInvalidArgs(t *testing.T) {
	h := newHost(t, nil)
	for _, args := range []string{
		"format=bogus",
		"rate=fast",
		"channels=0",
		"channels=2 channel_map=mono",
		`sink_properties="unterminated`,
	} {
		t.Run(args, func(t *testing.T) {
			_, err := h.LoadModule("module-null-sink", args)
			assert.ErrorIs(t, err, ErrInvalidArgs)
		})
	}
}

func TestNullSinkRemovedFromGraph(t *testing.T) {
	h := newHost(t, nil)
	m, err := h.load("module-null-sink", "sink_name=gone")
	require.NoError(t, err)
	sink := h.find("gone")
	require.NotNil(t, sink)

	require.NoError(t, h.core.Destroy(sink.ID))
	h.q.run()
	assert.True(t, m.Unloading())
	assert.NotContains(t, h.modules, m.Index)
}

func TestAlwaysSinkWithDevice(t *testing.T) {
	h := newHost(t, nil)
	_, err := h.load("module-always-sink", "")
	require.NoError(t, err)
	h.q.run()
	assert.Nil(t, h.find("auto_null"))
	assert.Len(t, h.modules, 1)
}

func TestAlwaysSinkWithoutDevice(t *testing.T) {
	h := newHost(t, &local.Fixture{Rate: 48000, Quantum: 1024})
	always, err := h.load("module-always-sink", "")
	require.NoError(t, err)
	h.q.run()

	null := h.find("auto_null")
	require.NotNil(t, null)
	assert.Equal(t, "Dummy Output", null.Props["node.description"])
	assert.Len(t, h.modules, 2)

	// A real sink replaces the null sink.
	_, err = h.load("module-null-sink", "sink_name=real")
	require.NoError(t, err)
	h.q.run()
	assert.Nil(t, h.find("auto_null"))
	assert.NotNil(t, h.find("real"))

	require.NoError(t, h.UnloadModule(always))
	h.q.run()
	assert.Len(t, h.modules, 1)
}

func TestRouteKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"sink-input-by-media-role:music", "restore.stream.Output/Audio.media.role:Music"},
		{"source-output-by-application-name:rec", "restore.stream.Input/Audio.application.name:rec"},
		{"sink-input-by-media-name:x", "restore.stream.Output/Audio.media.name:x"},
		{"sink-input-by-color:red", ""},
		{"card:foo", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RouteKey(tt.in), tt.in)
	}
}

func TestStreamRestore(t *testing.T) {
	h := newHost(t, nil)
	m, err := h.load("module-stream-restore", "")
	require.NoError(t, err)
	c := newClient(h)
	watcher := newClient(h)

	require.NoError(t, run(t, m, c, StreamRestoreTest, nil))
	r := c.take(t, proto.OpReply)
	assert.Equal(t, uint32(1), r.U32())
	require.NoError(t, r.Done())

	require.NoError(t, run(t, m, watcher, StreamRestoreSubscribe, func(w *proto.ProtocolWriter) { w.PutBool(true) }))
	watcher.take(t, proto.OpReply)

	entry := func(w *proto.ProtocolWriter, name string, vol proto.Volume, mute bool) {
		w.PutString(name)
		w.PutChannelMap(proto.ChannelMap{proto.ChannelFrontLeft, proto.ChannelFrontRight})
		w.PutChannelVolumes(proto.UniformVolume(2, vol))
		w.PutString("")
		w.PutBool(mute)
	}
	require.NoError(t, run(t, m, c, StreamRestoreWrite, func(w *proto.ProtocolWriter) {
		w.PutU32(proto.UpdateReplace)
		w.PutBool(true)
		entry(w, "sink-input-by-media-role:music", proto.VolumeNorm/2, false)
		entry(w, "sink-input-by-media-role:event", proto.VolumeNorm, true)
	}))
	c.take(t, proto.OpReply)
	ev := watcher.take(t, proto.OpExtension)
	assert.Equal(t, m.Index, ev.U32())
	assert.Equal(t, "module-stream-restore", ev.String())
	assert.Equal(t, uint32(StreamRestoreEvent), ev.U32())

	// Merge keeps existing entries.
	require.NoError(t, run(t, m, c, StreamRestoreWrite, func(w *proto.ProtocolWriter) {
		w.PutU32(proto.UpdateMerge)
		w.PutBool(false)
		entry(w, "sink-input-by-media-role:music", proto.VolumeNorm, true)
	}))
	c.take(t, proto.OpReply)
	watcher.take(t, proto.OpExtension)

	require.NoError(t, run(t, m, c, StreamRestoreRead, nil))
	r = c.take(t, proto.OpReply)
	assert.Equal(t, "sink-input-by-media-role:event", r.String())
	r.ChannelMap()
	r.ChannelVolumes()
	_ = r.String()
	assert.True(t, r.Bool())
	assert.Equal(t, "sink-input-by-media-role:music", r.String())
	r.ChannelMap()
	assert.Equal(t, proto.UniformVolume(2, proto.VolumeNorm/2), r.ChannelVolumes())
	device, ok := r.NullableString()
	assert.False(t, ok)
	assert.Empty(t, device)
	assert.False(t, r.Bool())
	require.NoError(t, r.Done())

	require.NoError(t, run(t, m, c, StreamRestoreDelete, func(w *proto.ProtocolWriter) {
		w.PutString("sink-input-by-media-role:event")
	}))
	c.take(t, proto.OpReply)
	watcher.take(t, proto.OpExtension)
	assert.Len(t, m.Instance().(*streamRestore).Entries(), 1)

	watcher.disconnect()
	require.NoError(t, run(t, m, c, StreamRestoreDelete, nil))
	c.take(t, proto.OpReply)
	assert.Empty(t, watcher.messages)
}

func TestStreamRestoreInvalidWrite(t *testing.T) {
	h := newHost(t, nil)
	m, err := h.load("module-stream-restore", "")
	require.NoError(t, err)
	c := newClient(h)

	err = run(t, m, c, StreamRestoreWrite, func(w *proto.ProtocolWriter) {
		w.PutU32(7)
		w.PutBool(false)
	})
	assert.ErrorIs(t, err, proto.ErrInvalidArgument)

	err = run(t, m, c, StreamRestoreWrite, func(w *proto.ProtocolWriter) {
		w.PutU32(proto.UpdateSet)
		w.PutBool(false)
		w.PutString("sink-input-by-media-role:music")
		w.PutChannelMap(proto.ChannelMap{proto.ChannelMono})
		w.PutChannelVolumes(proto.UniformVolume(2, proto.VolumeNorm))
		w.PutString("")
		w.PutBool(false)
	})
	assert.ErrorIs(t, err, proto.ErrInvalidArgument)
	assert.Empty(t, c.messages)
}

func TestDeviceRestore(t *testing.T) {
	h := newHost(t, nil)
	m, err := h.load("module-device-restore", "")
	require.NoError(t, err)
	c := newClient(h)
	sink := h.find("alsa_output.pci-0000_00_1f.3.analog-stereo")
	require.NotNil(t, sink)

	require.NoError(t, run(t, m, c, DeviceRestoreTest, nil))
	r := c.take(t, proto.OpReply)
	assert.Equal(t, uint32(1), r.U32())

	require.NoError(t, run(t, m, c, DeviceRestoreSubscribe, func(w *proto.ProtocolWriter) { w.PutBool(true) }))
	c.take(t, proto.OpReply)

	require.NoError(t, run(t, m, c, DeviceRestoreSaveFormats, func(w *proto.ProtocolWriter) {
		w.PutU32(DeviceTypeSink)
		w.PutU32(sink.Index)
		w.PutU8(2)
		w.PutFormatInfo(proto.FormatInfo{Encoding: proto.EncodingPCM, Properties: proto.PropList{}})
		w.PutFormatInfo(proto.FormatInfo{Encoding: proto.EncodingAC3IEC61937, Properties: proto.PropList{}})
	}))
	c.take(t, proto.OpReply)
	ev := c.take(t, proto.OpExtension)
	assert.Equal(t, m.Index, ev.U32())
	_ = ev.String()
	assert.Equal(t, uint32(DeviceRestoreEvent), ev.U32())
	assert.Equal(t, uint32(DeviceTypeSink), ev.U32())
	assert.Equal(t, sink.Index, ev.U32())
	h.q.run()

	require.NoError(t, run(t, m, c, DeviceRestoreReadFormats, func(w *proto.ProtocolWriter) {
		w.PutU32(DeviceTypeSink)
		w.PutU32(sink.Index)
	}))
	r = c.take(t, proto.OpReply)
	assert.Equal(t, uint32(DeviceTypeSink), r.U32())
	assert.Equal(t, sink.Index, r.U32())
	require.Equal(t, byte(2), r.U8())
	assert.Equal(t, byte(proto.EncodingPCM), r.FormatInfo().Encoding)
	assert.Equal(t, byte(proto.EncodingAC3IEC61937), r.FormatInfo().Encoding)
	require.NoError(t, r.Done())

	require.NoError(t, run(t, m, c, DeviceRestoreReadFormatsAll, nil))
	r = c.take(t, proto.OpReply)
	assert.Equal(t, uint32(DeviceTypeSink), r.U32())
}

func TestDeviceRestoreErrors(t *testing.T) {
	h := newHost(t, nil)
	m, err := h.load("module-device-restore", "")
	require.NoError(t, err)
	c := newClient(h)

	tests := []struct {
		name     string
		typ, idx uint32
		want     error
	}{
		{"source", DeviceTypeSource, 0, proto.ErrNotSupported},
		{"invalid index", DeviceTypeSink, 0xffffffff, proto.ErrInvalidArgument},
		{"missing", DeviceTypeSink, 9999, proto.ErrNoSuchEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(t, m, c, DeviceRestoreReadFormats, func(w *proto.ProtocolWriter) {
				w.PutU32(tt.typ)
				w.PutU32(tt.idx)
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
