package local

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jfreymuth/pulsed/graph"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
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

type recorder struct {
	globals      map[uint32]graph.Global
	removed      []uint32
	done         []int
	disconnected bool
}

func (r *recorder) Global(g graph.Global)  { r.globals[g.ID] = g }
func (r *recorder) GlobalRemove(id uint32) { delete(r.globals, id); r.removed = append(r.removed, id) }
func (r *recorder) Done(seq int)           { r.done = append(r.done, seq) }
func (r *recorder) Disconnected()          { r.disconnected = true }
func (r *recorder) byName(name string) graph.Global {
	for _, g := range r.globals {
		if g.Props["node.name"] == name || g.Props["device.name"] == name || g.Props["metadata.name"] == name {
			return g
		}
	}
	return graph.Global{ID: graph.IDInvalid}
}

func (r *recorder) ofType(t graph.Type) []graph.Global {
	var list []graph.Global
	for _, g := range r.globals {
		if g.Type == t {
			list = append(list, g)
		}
	}
	return list
}

type proxyRecorder struct {
	infos  []graph.Info
	params map[graph.ParamID][][]byte
	props  map[string]string
	gone   bool
}

func newProxyRecorder() *proxyRecorder {
	return &proxyRecorder{params: map[graph.ParamID][][]byte{}, props: map[string]string{}}
}

func (p *proxyRecorder) Info(i graph.Info) { p.infos = append(p.infos, i) }
func (p *proxyRecorder) Param(seq int, id graph.ParamID, index, next uint32, blob []byte) {
	if index == 0 {
		p.params[id] = nil
	}
	p.params[id] = append(p.params[id], blob)
}
func (p *proxyRecorder) Property(subject uint32, key, typ, value string) { p.props[key] = value }
func (p *proxyRecorder) Removed()                                        { p.gone = true }

type streamRecorder struct {
	mu       sync.Mutex
	states   []graph.StreamState
	format   graph.Format
	controls map[graph.Control][]float32
	cycles   int
	size     int
	drained  int
	fill     int
}

func (s *streamRecorder) StateChanged(old, state graph.StreamState, err error) {
	s.states = append(s.states, state)
}
func (s *streamRecorder) FormatChanged(f graph.Format) { s.format = f }
func (s *streamRecorder) ControlInfo(c graph.Control, v []float32) {
	if s.controls == nil {
		s.controls = map[graph.Control][]float32{}
	}
	s.controls[c] = v
}
func (s *streamRecorder) Process(b *graph.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	s.size = len(b.Data)
	if b.Size == 0 {
		b.Size = s.fill
	}
}
func (s *streamRecorder) Drained() { s.drained++ }

func newTestGraph(t *testing.T) (*Graph, *queue) {
	t.Helper()
	q := &queue{}
	g := New(q, logrus.NewEntry(logrus.New()), Config{Manual: true})
	t.Cleanup(g.Close)
	return g, q
}

func connect(t *testing.T, g *Graph, q *queue) (*Core, *recorder) {
	t.Helper()
	c, err := g.Connect(graph.Props{"application.name": "test"})
	require.NoError(t, err)
	r := &recorder{globals: map[uint32]graph.Global{}}
	c.AddListener(r)
	q.run()
	return c, r
}

const (
	sinkName   = "alsa_output.pci-0000_00_1f.3.analog-stereo"
	sourceName = "alsa_input.pci-0000_00_1f.3.analog-stereo"
	cardName   = "alsa_card.pci-0000_00_1f.3"
)

func TestGlobals(t *testing.T) {
	g, q := newTestGraph(t)
	c, r := connect(t, g, q)

	sink := r.byName(sinkName)
	require.NotEqual(t, uint32(graph.IDInvalid), sink.ID)
	assert.Equal(t, graph.TypeNode, sink.Type)
	assert.Equal(t, "Audio/Sink", sink.Props["media.class"])
	card := r.byName(cardName)
	assert.Equal(t, graph.TypeDevice, card.Type)
	assert.Equal(t, sink.Props["device.id"], card.Props["object.id"])
	assert.Len(t, r.ofType(graph.TypeModule), 2)
	assert.Len(t, r.ofType(graph.TypeClient), 1)
	assert.Contains(t, r.globals, c.ClientID())

	c.Sync(7)
	q.run()
	assert.Equal(t, []int{7}, r.done)
}

func TestSerialsIncrease(t *testing.T) {
	g, q := newTestGraph(t)
	_, r := connect(t, g, q)
	seen := map[uint64]bool{}
	for _, gl := range r.globals {
		assert.False(t, seen[gl.Serial])
		seen[gl.Serial] = true
		assert.GreaterOrEqual(t, gl.Serial, uint64(firstSerial))
	}
}

func bind(t *testing.T, c *Core, q *queue, gl graph.Global) (graph.Proxy, *proxyRecorder) {
	t.Helper()
	p, err := c.Bind(gl)
	require.NoError(t, err)
	pr := newProxyRecorder()
	p.SetListener(pr)
	q.run()
	return p, pr
}

func TestNodeParams(t *testing.T) {
	g, q := newTestGraph(t)
	c, r := connect(t, g, q)
	p, pr := bind(t, c, q, r.byName(sinkName))
	require.Len(t, pr.infos, 1)
	assert.Equal(t, graph.NodeIdle, pr.infos[0].State)
	assert.Len(t, pr.infos[0].Params, 3)

	p.EnumParams(1, graph.ParamProps)
	p.EnumParams(2, graph.ParamEnumFormat)
	q.run()
	var props graph.PropsParam
	require.NoError(t, json.Unmarshal(pr.params[graph.ParamProps][0], &props))
	assert.Equal(t, []float32{1, 1}, props.ChannelVolumes)
	require.NotNil(t, props.Mute)
	assert.False(t, *props.Mute)
	var f graph.FormatParam
	require.NoError(t, json.Unmarshal(pr.params[graph.ParamEnumFormat][0], &f))
	assert.Equal(t, "S32LE", f.Format)
	assert.Equal(t, uint32(48000), f.Rate)
}

func TestBindStaleSerial(t *testing.T) {
	g, q := newTestGraph(t)
	c, r := connect(t, g, q)
	gl := r.byName(sinkName)
	gl.Serial++
	_, err := c.Bind(gl)
	assert.ErrorIs(t, err, graph.ErrNoEntity)
}

func TestRouteVolume(t *testing.T) {
	g, q := newTestGraph(t)
	c, r := connect(t, g, q)
	cp, cr := bind(t, c, q, r.byName(cardName))
	np, nr := bind(t, c, q, r.byName(sinkName))

	cp.EnumParams(1, graph.ParamRoute)
	q.run()
	require.Len(t, cr.params[graph.ParamRoute], 2)
	var route graph.RouteParam
	require.NoError(t, json.Unmarshal(cr.params[graph.ParamRoute][0], &route))
	assert.Equal(t, "analog-output-speaker", route.Name)
	require.NotNil(t, route.Device)
	assert.Equal(t, int32(0), *route.Device)

	err := cp.SetParam(graph.ParamRoute, graph.MarshalParam(graph.RouteParam{
		Index:  0,
		Device: graph.Int(0),
		Props:  &graph.PropsParam{ChannelVolumes: []float32{0.5, 0.25}},
	}))
	require.NoError(t, err)
	q.run()
	assert.Equal(t, uint32(graph.ChangeParams), nr.infos[len(nr.infos)-1].ChangeMask)

	np.EnumParams(2, graph.ParamProps)
	q.run()
	var props graph.PropsParam
	require.NoError(t, json.Unmarshal(nr.params[graph.ParamProps][0], &props))
	assert.Equal(t, []float32{0.5, 0.25}, props.ChannelVolumes)

	assert.ErrorIs(t, cp.SetParam(graph.ParamRoute, graph.MarshalParam(graph.RouteParam{Index: 2, Device: graph.Int(0)})), graph.ErrInvalidParam)
}

func TestNodeVolumeGoesToRoute(t *testing.T) {
	g, q := newTestGraph(t)
	c, r := connect(t, g, q)
	cp, cr := bind(t, c, q, r.byName(cardName))
	np, _ := bind(t, c, q, r.byName(sinkName))

	require.NoError(t, np.SetParam(graph.ParamProps, graph.MarshalParam(graph.PropsParam{Mute: graph.Bool(true)})))
	cp.EnumParams(1, graph.ParamRoute)
	q.run()
	var route graph.RouteParam
	require.NoError(t, json.Unmarshal(cr.params[graph.ParamRoute][0], &route))
	require.NotNil(t, route.Props)
	assert.True(t, *route.Props.Mute)
}

func TestSetProfile(t *testing.T) {
	g, q := newTestGraph(t)
	c, r := connect(t, g, q)
	cp, cr := bind(t, c, q, r.byName(cardName))
	source := r.byName(sourceName)

	require.NoError(t, cp.SetParam(graph.ParamProfile, graph.MarshalParam(graph.ProfileParam{Index: 1})))
	q.run()
	assert.Contains(t, r.removed, source.ID)
	assert.NotEqual(t, uint32(graph.IDInvalid), r.byName(sinkName).ID)

	cp.EnumParams(1, graph.ParamProfile)
	cp.EnumParams(2, graph.ParamEnumProfile)
	q.run()
	var active graph.ProfileParam
	require.NoError(t, json.Unmarshal(cr.params[graph.ParamProfile][0], &active))
	assert.Equal(t, "output:analog-stereo", active.Name)
	require.Len(t, cr.params[graph.ParamEnumProfile], 3)
	var duplex graph.ProfileParam
	require.NoError(t, json.Unmarshal(cr.params[graph.ParamEnumProfile][2], &duplex))
	assert.Equal(t, []graph.ProfileClass{{Class: "Audio/Sink", Count: 1}, {Class: "Audio/Source", Count: 1}}, duplex.Classes)

	require.NoError(t, cp.SetParam(graph.ParamProfile, graph.MarshalParam(graph.ProfileParam{Index: 0})))
	q.run()
	assert.Equal(t, uint32(graph.IDInvalid), r.byName(sinkName).ID)
}

func TestDefaultMetadata(t *testing.T) {
	g, q := newTestGraph(t)
	c, r := connect(t, g, q)
	mp, mr := bind(t, c, q, r.byName("default"))
	assert.JSONEq(t, `{"name":"`+sinkName+`"}`, mr.props["default.audio.sink"])
	assert.JSONEq(t, `{"name":"`+sourceName+`"}`, mr.props["default.audio.source"])

	id, err := c.CreateObject("adapter", graph.Props{
		"node.name":      "null",
		"media.class":    "Audio/Sink",
		"audio.channels": "1",
		"object.linger":  "true",
	})
	require.NoError(t, err)
	q.run()
	assert.Equal(t, id, r.byName("null").ID)

	require.NoError(t, mp.SetProperty(graph.IDCore, "default.configured.audio.sink", "Spa:String:JSON", `{"name":"null"}`))
	q.run()
	assert.JSONEq(t, `{"name":"null"}`, mr.props["default.audio.sink"])

	require.NoError(t, c.Destroy(id))
	q.run()
	assert.JSONEq(t, `{"name":"`+sinkName+`"}`, mr.props["default.audio.sink"])
}

func TestPlaybackStream(t *testing.T) {
	g, q := newTestGraph(t)
	c, r := connect(t, g, q)
	ev := &streamRecorder{}
	s, err := c.CreateStream(graph.StreamConfig{
		Direction: graph.DirectionOutput,
		Props:     graph.Props{"node.name": "test-playback"},
		Formats:   []graph.Format{{Format: "S16LE", Rate: 44100, Channels: 2}},
		Flags:     graph.StreamInactive,
	}, ev)
	require.NoError(t, err)
	q.run()
	assert.Equal(t, []graph.StreamState{graph.StreamConnecting, graph.StreamPaused}, ev.states)
	assert.Equal(t, graph.Format{Format: "S16LE", Rate: 44100, Channels: 2, Position: []string{"FL", "FR"}}, ev.format)

	links := r.ofType(graph.TypeLink)
	require.Len(t, links, 1)
	assert.Equal(t, r.globals[s.NodeID()].Props["object.id"], links[0].Props["link.output.node"])
	assert.Equal(t, r.byName(sinkName).Props["object.id"], links[0].Props["link.input.node"])

	g.Cycle()
	assert.Zero(t, ev.cycles)

	require.NoError(t, s.SetActive(true))
	q.run()
	assert.Equal(t, graph.StreamStreaming, ev.states[len(ev.states)-1])
	ev.fill = 100
	g.Cycle()
	assert.Equal(t, 1, ev.cycles)
	assert.Equal(t, 1024*4, ev.size)
	assert.Equal(t, uint64(1024), s.Time().Ticks)

	require.NoError(t, s.Flush(true))
	g.Cycle()
	q.run()
	assert.Zero(t, ev.drained)
	ev.fill = 0
	g.Cycle()
	q.run()
	assert.Equal(t, 1, ev.drained)

	require.NoError(t, s.SetControl(graph.ControlChannelVolumes, []float32{0.5, 0.5}))
	q.run()
	assert.Equal(t, []float32{0.5, 0.5}, ev.controls[graph.ControlChannelVolumes])

	require.NoError(t, s.Disconnect())
	q.run()
	assert.Empty(t, r.ofType(graph.TypeLink))
	assert.NotContains(t, r.globals, s.NodeID())
}

func TestRecordStreamGetsSilence(t *testing.T) {
	g, q := newTestGraph(t)
	c, _ := connect(t, g, q)
	ev := &streamRecorder{}
	_, err := c.CreateStream(graph.StreamConfig{
		Direction: graph.DirectionInput,
		Formats:   []graph.Format{{}},
	}, ev)
	require.NoError(t, err)
	q.run()
	assert.Equal(t, "S32LE", ev.format.Format)
	g.Cycle()
	assert.Equal(t, 1, ev.cycles)
	assert.Equal(t, 1024*8, ev.size)
}

func TestPassthroughNegotiation(t *testing.T) {
	g, q := newTestGraph(t)
	c, _ := connect(t, g, q)
	_, err := c.CreateStream(graph.StreamConfig{
		Formats: []graph.Format{{Encoding: "ac3"}},
	}, &streamRecorder{})
	assert.ErrorIs(t, err, graph.ErrInvalidParam)
}

func TestStreamMoves(t *testing.T) {
	g, q := newTestGraph(t)
	c, r := connect(t, g, q)
	id, err := c.CreateObject("adapter", graph.Props{"node.name": "other", "media.class": "Audio/Sink"})
	require.NoError(t, err)
	ev := &streamRecorder{}
	s, err := c.CreateStream(graph.StreamConfig{Formats: []graph.Format{{}}}, ev)
	require.NoError(t, err)
	q.run()
	mp, _ := bind(t, c, q, r.byName("default"))

	require.NoError(t, mp.SetProperty(s.NodeID(), "target.object", "Spa:Id", r.globals[id].Props["object.serial"]))
	q.run()
	links := r.ofType(graph.TypeLink)
	require.Len(t, links, 1)
	assert.Equal(t, r.globals[id].Props["object.id"], links[0].Props["link.input.node"])

	// Removing the target moves the stream back to the default sink.
	require.NoError(t, c.Destroy(id))
	q.run()
	links = r.ofType(graph.TypeLink)
	require.Len(t, links, 1)
	assert.Equal(t, r.byName(sinkName).Props["object.id"], links[0].Props["link.input.node"])
}

func TestDontReconnect(t *testing.T) {
	g, q := newTestGraph(t)
	c, _ := connect(t, g, q)
	id, err := c.CreateObject("adapter", graph.Props{"node.name": "other", "media.class": "Audio/Sink"})
	require.NoError(t, err)
	ev := &streamRecorder{}
	_, err = c.CreateStream(graph.StreamConfig{
		Props:   graph.Props{"target.object": "other"},
		Formats: []graph.Format{{}},
		Flags:   graph.StreamDontReconnect,
	}, ev)
	require.NoError(t, err)
	require.NoError(t, c.Destroy(id))
	q.run()
	assert.Equal(t, graph.StreamError, ev.states[len(ev.states)-1])
}

func TestDestroyClient(t *testing.T) {
	g, q := newTestGraph(t)
	c1, r1 := connect(t, g, q)
	c2, r2 := connect(t, g, q)
	ev := &streamRecorder{}
	s, err := c1.CreateStream(graph.StreamConfig{Formats: []graph.Format{{}}}, ev)
	require.NoError(t, err)
	q.run()

	require.NoError(t, c2.Destroy(c1.ClientID()))
	q.run()
	assert.True(t, r1.disconnected)
	assert.NotContains(t, r2.globals, c1.ClientID())
	assert.NotContains(t, r2.globals, s.NodeID())
	assert.Equal(t, graph.StreamStreaming, ev.states[len(ev.states)-1])
	assert.ErrorIs(t, s.SetActive(false), graph.ErrDisconnected)
}

func TestDriverGoroutine(t *testing.T) {
	q := &queue{}
	g := New(q, logrus.NewEntry(logrus.New()), Config{})
	c, err := g.Connect(nil)
	require.NoError(t, err)
	ev := &streamRecorder{}
	s, err := c.CreateStream(graph.StreamConfig{Formats: []graph.Format{{}}}, ev)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return ev.cycles > 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Disconnect())
	require.NoError(t, c.Close())
	g.Close()
}
