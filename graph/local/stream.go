package local

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
)

// ErrTargetRemoved is reported to streams whose target went away while they
// asked not to be moved.
var ErrTargetRemoved = errors.New("local: target node removed")

type stream struct {
	g      *Graph
	core   *Core
	obj    *object
	events graph.StreamEvents
	dir    graph.Direction
	flags  uint32
	format graph.Format
	state  graph.StreamState
	active bool
	target *object
	link   *object
	driver *driver
	closed atomic.Bool

	rtMu      sync.Mutex
	buf       []byte
	frameSize int
	silence   byte
	draining  atomic.Bool
	ticks     atomic.Uint64
	rate      float32
}

var _ graph.Stream = (*stream)(nil)

func (c *Core) CreateStream(cfg graph.StreamConfig, events graph.StreamEvents) (graph.Stream, error) {
	g := c.g
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.closed {
		return nil, graph.ErrDisconnected
	}
	s := &stream{g: g, core: c, events: events, dir: cfg.Direction, flags: cfg.Flags}
	target := s.resolveTargetLocked(cfg.Props["target.object"], cfg.Props)
	format, err := g.negotiate(cfg.Formats, target)
	if err != nil {
		return nil, err
	}
	s.format = format
	s.frameSize = frameSize(format)
	s.silence = silenceByte(format.Format)

	props := cfg.Props.Copy()
	props["client.id"] = strconv.FormatUint(uint64(c.client.id()), 10)
	props["media.class"] = "Stream/Output/Audio"
	if cfg.Direction == graph.DirectionInput {
		props["media.class"] = "Stream/Input/Audio"
	}
	if props["node.name"] == "" {
		props["node.name"] = c.client.global.Props["application.name"]
	}
	n := &node{format: format, state: graph.NodeIdle, stream: s}
	n.volumes = make([]float32, format.Channels)
	for i := range n.volumes {
		n.volumes[i] = 1
	}
	s.obj = &object{
		global: graph.Global{Type: graph.TypeNode, Props: props},
		info: graph.Info{
			Props: props.Copy(),
			State: graph.NodeIdle,
			Params: []graph.ParamInfo{
				{ID: graph.ParamProps, Flags: graph.ParamRead | graph.ParamWrite},
				{ID: graph.ParamFormat, Flags: graph.ParamRead},
			},
		},
		node: n,
	}
	g.addObjectLocked(s.obj)
	g.updateNodeParamsLocked(s.obj)

	s.state = graph.StreamPaused
	g.exec.Invoke(func() {
		if s.closed.Load() {
			return
		}
		events.StateChanged(graph.StreamUnconnected, graph.StreamConnecting, nil)
		events.FormatChanged(format)
		events.StateChanged(graph.StreamConnecting, graph.StreamPaused, nil)
	})
	if target != nil {
		s.linkLocked(target)
	}
	if cfg.Flags&graph.StreamInactive == 0 {
		s.setActiveLocked(true)
	}
	g.log.WithFields(logrus.Fields{"id": s.obj.id(), "format": format.Format, "rate": format.Rate}).Debug("stream created")
	return s, nil
}

func frameSize(f graph.Format) int {
	if f.Encoding != "" {
		return 4
	}
	return frameSizes[f.Format] * int(f.Channels)
}

// negotiate picks the first acceptable format. Unset fields of raw formats
// are taken from the target.
func (g *Graph) negotiate(formats []graph.Format, target *object) (graph.Format, error) {
	def := graph.Format{Format: "F32LE", Rate: g.rate, Channels: 2, Position: []string{"FL", "FR"}}
	if target != nil {
		def = target.node.format
	}
	for _, f := range formats {
		if f.Encoding != "" {
			if target == nil || !contains(target.node.iec958, f.Encoding) {
				continue
			}
			if f.Rate == 0 {
				f.Rate = def.Rate
			}
			f.Format, f.Channels, f.Position = "S16LE", 2, []string{"FL", "FR"}
			return f, nil
		}
		if f.Format == "" {
			f.Format = def.Format
		}
		if _, ok := frameSizes[f.Format]; !ok {
			continue
		}
		if f.Rate == 0 {
			f.Rate = def.Rate
		}
		if f.Channels == 0 {
			f.Channels, f.Position = def.Channels, def.Position
		}
		if len(f.Position) != int(f.Channels) {
			f.Position = defaultPosition(f.Channels)
		}
		return f, nil
	}
	return graph.Format{}, graph.ErrInvalidParam
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// resolveTargetLocked finds the node a stream should link to. An empty or
// unknown value selects the default device.
func (s *stream) resolveTargetLocked(value string, props graph.Props) *object {
	g := s.g
	valid := func(o *object) bool {
		if s.dir == graph.DirectionOutput {
			return isSink(o)
		}
		return isSource(o) || isSink(o)
	}
	if value != "" && value != "-1" {
		o := g.nodeByNameLocked(value)
		if o == nil {
			if id, err := strconv.ParseUint(value, 10, 32); err == nil {
				o = g.objects[uint32(id)]
			}
		}
		if o != nil && o.node != nil && o.node.stream == nil && valid(o) {
			return o
		}
	}
	if s.dir == graph.DirectionInput && props["stream.capture.sink"] == "true" {
		return g.defaultNodeLocked(true)
	}
	return g.defaultNodeLocked(s.dir == graph.DirectionOutput)
}

func (s *stream) linkLocked(target *object) {
	g := s.g
	out, in := s.obj.id(), target.id()
	if s.dir == graph.DirectionInput {
		out, in = in, out
	}
	props := graph.Props{
		"link.output.node": strconv.FormatUint(uint64(out), 10),
		"link.input.node":  strconv.FormatUint(uint64(in), 10),
	}
	s.link = g.addObjectLocked(&object{global: graph.Global{Type: graph.TypeLink, Props: props}})
	s.target = target
	s.driver = g.driverLocked(target)
	if s.active {
		s.driver.attach(s)
		g.linkChangedLocked(target, 1)
	}
}

func (s *stream) unlinkLocked() {
	if s.target == nil {
		return
	}
	g := s.g
	if s.active {
		s.driver.detach(s)
		if g.objects[s.target.id()] == s.target {
			g.linkChangedLocked(s.target, -1)
		}
	}
	g.removeObjectLocked(s.link)
	s.link, s.target, s.driver = nil, nil, nil
}

// retargetLocked moves the stream to the node named by value, or to the
// default device if value is empty.
func (s *stream) retargetLocked(value string) {
	if s.closed.Load() {
		return
	}
	t := s.resolveTargetLocked(value, s.obj.info.Props)
	if t == s.target {
		return
	}
	if t != nil && s.format.Encoding != "" && !contains(t.node.iec958, s.format.Encoding) {
		return
	}
	s.unlinkLocked()
	if t != nil {
		s.linkLocked(t)
	}
}

// relinkDefaultStreamsLocked moves streams without an explicit target to
// the current default devices.
func (g *Graph) relinkDefaultStreamsLocked() {
	for _, o := range g.objects {
		if o.node == nil || o.node.stream == nil {
			continue
		}
		s := o.node.stream
		if t := s.obj.info.Props["target.object"]; t == "" || t == "-1" {
			s.retargetLocked("")
		}
	}
}

// destroyNodeLocked removes a node. Streams linked to it move to the default
// device unless they asked not to be moved.
func (g *Graph) destroyNodeLocked(o *object) {
	if s := o.node.stream; s != nil {
		s.killLocked(nil)
		return
	}
	var linked []*stream
	for _, x := range g.objects {
		if x.node != nil && x.node.stream != nil && x.node.stream.target == o {
			linked = append(linked, x.node.stream)
		}
	}
	g.removeObjectLocked(o)
	for _, key := range []string{"default.audio.sink", "default.audio.source", "default.configured.audio.sink", "default.configured.audio.source"} {
		if v, ok := g.metadata.meta[graph.IDCore][key]; ok {
			if name, _ := parseNameJSON(v.value); name == o.global.Props["node.name"] {
				g.setMetadataLocked(graph.IDCore, key, "", "")
			}
		}
	}
	g.pickDefaultsLocked()
	for _, s := range linked {
		s.unlinkLocked()
		if s.flags&graph.StreamDontReconnect != 0 {
			s.killLocked(ErrTargetRemoved)
		} else {
			s.retargetLocked("")
		}
	}
}

func (s *stream) NodeID() uint32 { return s.obj.id() }

func (s *stream) SetActive(active bool) error {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	if s.closed.Load() {
		return graph.ErrDisconnected
	}
	s.setActiveLocked(active)
	return nil
}

func (s *stream) setActiveLocked(active bool) {
	if s.active == active {
		return
	}
	g := s.g
	s.active = active
	if s.target != nil {
		if active {
			s.driver.attach(s)
			g.linkChangedLocked(s.target, 1)
		} else {
			s.driver.detach(s)
			g.linkChangedLocked(s.target, -1)
		}
	}
	old := s.state
	s.state = graph.StreamPaused
	if active {
		s.state = graph.StreamStreaming
	}
	state := s.state
	if active {
		g.setNodeStateLocked(s.obj, graph.NodeRunning)
	} else {
		g.setNodeStateLocked(s.obj, graph.NodeIdle)
	}
	g.exec.Invoke(func() {
		if !s.closed.Load() {
			s.events.StateChanged(old, state, nil)
		}
	})
}

func (s *stream) Flush(drain bool) error {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	if s.closed.Load() {
		return graph.ErrDisconnected
	}
	if !drain {
		s.draining.Store(false)
		return nil
	}
	if s.dir == graph.DirectionOutput && s.active && s.target != nil {
		s.draining.Store(true)
		return nil
	}
	s.g.exec.Invoke(func() {
		if !s.closed.Load() {
			s.events.Drained()
		}
	})
	return nil
}

func (s *stream) SetControl(c graph.Control, values []float32) error {
	g := s.g
	g.mu.Lock()
	defer g.mu.Unlock()
	if s.closed.Load() {
		return graph.ErrDisconnected
	}
	var p graph.PropsParam
	switch c {
	case graph.ControlVolume, graph.ControlChannelVolumes:
		if len(values) == 0 {
			return graph.ErrInvalidParam
		}
		p.ChannelVolumes = values
	case graph.ControlMute:
		if len(values) != 1 {
			return graph.ErrInvalidParam
		}
		p.Mute = graph.Bool(values[0] != 0)
	case graph.ControlRate:
		if len(values) != 1 || values[0] <= 0 {
			return graph.ErrInvalidParam
		}
		s.rate = values[0]
		return nil
	default:
		return graph.ErrNotSupported
	}
	g.setNodePropsLocked(s.obj, &p)
	return nil
}

// controlsChangedLocked reports the current volume and mute of the stream.
func (s *stream) controlsChangedLocked() {
	vols := append([]float32(nil), s.obj.node.volumes...)
	mute := float32(0)
	if s.obj.node.mute {
		mute = 1
	}
	s.g.exec.Invoke(func() {
		if s.closed.Load() {
			return
		}
		s.events.ControlInfo(graph.ControlChannelVolumes, vols)
		s.events.ControlInfo(graph.ControlMute, []float32{mute})
	})
}

func (s *stream) UpdateProperties(props graph.Props) error {
	g := s.g
	g.mu.Lock()
	defer g.mu.Unlock()
	if s.closed.Load() {
		return graph.ErrDisconnected
	}
	for k, v := range props {
		if v == "" {
			delete(s.obj.info.Props, k)
		} else {
			s.obj.info.Props[k] = v
		}
	}
	g.emitInfoLocked(s.obj, graph.ChangeProps)
	if t, ok := props["target.object"]; ok {
		s.retargetLocked(t)
	}
	return nil
}

func (s *stream) Time() graph.Time {
	t := graph.Time{
		Now:       time.Now().UnixNano(),
		RateNum:   1,
		RateDenom: s.format.Rate,
		Ticks:     s.ticks.Load(),
	}
	s.g.mu.Lock()
	if s.target != nil {
		t.Delay = int64(s.g.quantum)
	}
	s.g.mu.Unlock()
	return t
}

func (s *stream) Disconnect() error {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	s.teardownLocked()
	return nil
}

// teardownLocked removes the stream from the graph without notifying its
// owner.
func (s *stream) teardownLocked() {
	if s.closed.Swap(true) {
		return
	}
	s.unlinkLocked()
	s.g.removeObjectLocked(s.obj)
}

// killLocked removes the stream and reports it as unconnected, or failed if
// err is set.
func (s *stream) killLocked(err error) {
	if s.closed.Load() {
		return
	}
	old := s.state
	events := s.events
	s.teardownLocked()
	state := graph.StreamUnconnected
	if err != nil {
		state = graph.StreamError
	}
	s.g.exec.Invoke(func() { events.StateChanged(old, state, err) })
}

// process runs one cycle of the stream on the driver goroutine.
func (s *stream) process(quantum uint32) {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()
	if s.closed.Load() {
		return
	}
	n := int(quantum) * s.frameSize
	if cap(s.buf) < n {
		s.buf = make([]byte, n)
	}
	b := graph.Buffer{Data: s.buf[:n], Requested: uint64(quantum)}
	if s.dir == graph.DirectionInput {
		for i := range b.Data {
			b.Data[i] = s.silence
		}
		b.Size = n
	}
	s.events.Process(&b)
	s.ticks.Add(uint64(quantum))
	if s.dir == graph.DirectionOutput && b.Size == 0 && s.draining.CompareAndSwap(true, false) {
		s.g.exec.Invoke(func() {
			if !s.closed.Load() {
				s.events.Drained()
			}
		})
	}
}
