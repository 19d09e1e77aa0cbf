package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/collect"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/proto"
)

// Names clients use for the current defaults.
const (
	defaultSinkName    = "@DEFAULT_SINK@"
	defaultSourceName  = "@DEFAULT_SOURCE@"
	defaultMonitorName = "@DEFAULT_MONITOR@"
)

const (
	moveTargetKey      = "temporary-move-target"
	moveTargetLifetime = time.Second
	latencyOffsetKey   = "latency-offset"
)

// moveTarget is the device a stream was just asked to move to. Info
// replies report it until the graph catches up or it expires.
type moveTarget struct {
	index uint32
	used  bool
}

type latencyOffset struct {
	offset int64
}

// operation is a reply that waits for the next manager barrier.
type operation struct {
	tag  uint32
	done func()
}

// Client is one connection. Apart from the reader and writer goroutines
// all of its state is owned by the event loop.
type Client struct {
	s    *Server
	l    *listener
	conn net.Conn
	pc   *proto.Conn
	log  *logrus.Entry
	peer *peer

	name          string
	version       proto.Version
	authenticated bool
	props         graph.Props
	quirks        quirks

	core       graph.Core
	mgr        *manager.Manager
	removeMgr  func()
	connectTag uint32
	subscribed uint32

	streams map[uint32]*clientStream
	players map[*samplePlayer]struct{}
	ops     []operation

	defaultSink       string
	defaultSource     string
	tempDefaultSink   string
	tempDefaultSource string
	prevDefaultSink   *manager.Object
	prevDefaultSource *manager.Object
	defaultMeta       *manager.Object

	hooks    map[int]func()
	nextHook int

	mu      sync.Mutex
	cond    *sync.Cond
	out     []*proto.Message
	closing bool

	detached     bool
	disconnected bool
}

func newClient(s *Server, l *listener, conn net.Conn, p *peer, log *logrus.Entry) *Client {
	c := &Client{
		s:          s,
		l:          l,
		conn:       conn,
		pc:         proto.NewConn(conn, s.pool),
		log:        log,
		peer:       p,
		version:    proto.ProtocolVersion,
		props:      p.props.Copy(),
		connectTag: proto.Undefined,
		streams:    make(map[uint32]*clientStream),
		players:    make(map[*samplePlayer]struct{}),
		hooks:      make(map[int]func()),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Client) start() {
	c.s.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

func (c *Client) readLoop() {
	defer c.s.wg.Done()
	for {
		m, err := c.pc.ReadMessage()
		if err != nil {
			c.s.exec.Invoke(func() { c.fail(err) })
			return
		}
		c.s.metrics.MessageIn()
		c.s.exec.Invoke(func() { c.handle(m) })
	}
}

func (c *Client) writeLoop() {
	defer c.s.wg.Done()
	for {
		c.mu.Lock()
		for len(c.out) == 0 && !c.closing {
			c.cond.Wait()
		}
		if c.closing {
			c.mu.Unlock()
			return
		}
		m := c.out[0]
		c.out[0] = nil
		c.out = c.out[1:]
		c.mu.Unlock()

		err := c.pc.WriteMessage(m)
		c.s.pool.Put(m)
		if err != nil {
			c.s.exec.Invoke(func() { c.fail(err) })
			return
		}
		c.s.metrics.MessageOut()
	}
}

func (c *Client) fail(err error) {
	if c.disconnected {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		c.log.Debug("connection closed by client")
	} else {
		c.log.WithError(err).Warn("client error")
	}
	c.detach()
	c.disconnect()
}

// Version returns the negotiated protocol version.
func (c *Client) Version() proto.Version { return c.version }

// Pool returns the message pool of the server.
func (c *Client) Pool() *proto.Pool { return c.s.pool }

// Manager returns the object mirror of the client, or nil before the client
// set its name.
func (c *Client) Manager() *manager.Manager { return c.mgr }

// Queue appends m to the outgoing messages. It takes ownership of m.
func (c *Client) Queue(m *proto.Message) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		c.s.pool.Put(m)
		return
	}
	c.out = append(c.out, m)
	c.cond.Signal()
	c.mu.Unlock()
}

// Pending reports whether messages are waiting to be written.
func (c *Client) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.out) > 0
}

// OnDisconnect registers f to run when the client goes away.
func (c *Client) OnDisconnect(f func()) (remove func()) {
	id := c.nextHook
	c.nextHook++
	c.hooks[id] = f
	return func() { delete(c.hooks, id) }
}

func (c *Client) reply(tag uint32, v interface{}) {
	m := c.s.pool.NewReply(tag)
	m.Writer().Write(v, c.version)
	c.Queue(m)
}

func (c *Client) ack(tag uint32) {
	c.Queue(c.s.pool.NewReply(tag))
}

func (c *Client) replyError(op, tag uint32, err error) {
	e := wireError(err)
	log := c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag}).WithError(err)
	if e == proto.ErrNoSuchEntity || e == proto.ErrNotSupported {
		log.Info("command failed")
	} else {
		log.Warn("command failed")
	}
	c.Queue(c.s.pool.NewError(tag, e))
}

// queueEvent queues a subscribe event if the client subscribed to its
// facility. Events still waiting in the queue are coalesced: a change is
// dropped while a new or change event for the object is queued, and a
// remove cancels queued events, including itself if the object was never
// announced.
func (c *Client) queueEvent(facility, typ, index uint32) {
	if c.disconnected || c.subscribed&proto.FacilityMask(facility) == 0 {
		return
	}
	event := facility | typ
	c.mu.Lock()
	drop, pruned := c.pruneEventsLocked(event, index)
	c.mu.Unlock()
	for _, m := range pruned {
		c.s.pool.Put(m)
		c.s.metrics.EventDropped()
	}
	if drop {
		c.s.metrics.EventDropped()
		return
	}
	m := c.s.pool.NewCommand(proto.OpSubscribeEvent, proto.Undefined)
	m.Kind = proto.KindSubscribeEvent
	m.Extra = [2]uint32{event, index}
	m.Writer().Write(&proto.SubscribeEvent{Event: event, Index: index}, c.version)
	c.Queue(m)
}

func (c *Client) pruneEventsLocked(event, index uint32) (drop bool, pruned []*proto.Message) {
	typ := event & proto.EventTypeMask
	if typ == proto.EventNew {
		return false, nil
	}
	for i := len(c.out) - 1; i >= 0; i-- {
		m := c.out[i]
		if m.Kind != proto.KindSubscribeEvent || m.Extra[1] != index ||
			(m.Extra[0]^event)&proto.EventFacilityMask != 0 {
			continue
		}
		if typ == proto.EventChange {
			return true, pruned
		}
		c.out = append(c.out[:i], c.out[i+1:]...)
		pruned = append(pruned, m)
		if m.Extra[0]&proto.EventTypeMask == proto.EventNew {
			return true, pruned
		}
	}
	return false, pruned
}

// newOperation defers the reply to tag until the graph processed all
// earlier requests. done replaces the plain acknowledgement if set.
func (c *Client) newOperation(tag uint32, done func()) error {
	c.ops = append(c.ops, operation{tag: tag, done: done})
	c.mgr.Sync()
	return errDeferred
}

func (c *Client) completeOperations() {
	ops := c.ops
	c.ops = nil
	for _, op := range ops {
		if c.disconnected {
			return
		}
		if op.done != nil {
			op.done()
		} else {
			c.ack(op.tag)
		}
	}
}

// detach removes the client from the server. The connection stays usable
// until disconnect.
func (c *Client) detach() {
	if c.detached {
		return
	}
	c.detached = true
	delete(c.s.clients, c)
	c.l.clientLeft()
	c.s.metrics.ClientDisconnected()
}

// disconnect tears down the streams and the graph connection and closes
// the socket. Queued messages are discarded.
func (c *Client) disconnect() {
	if c.disconnected {
		return
	}
	c.disconnected = true
	c.log.Info("client disconnected")

	for _, f := range c.hooks {
		f()
	}
	c.hooks = nil
	for _, s := range c.streams {
		s.free()
	}
	for p := range c.players {
		p.free()
	}
	c.ops = nil
	if c.removeMgr != nil {
		c.removeMgr()
		c.removeMgr = nil
	}
	if c.mgr != nil {
		c.mgr.Close()
	}
	if c.core != nil {
		c.core.Close()
	}
	c.conn.Close()

	c.mu.Lock()
	c.closing = true
	out := c.out
	c.out = nil
	c.cond.Broadcast()
	c.mu.Unlock()
	for _, m := range out {
		c.s.pool.Put(m)
	}
}

// connectGraph opens the graph connection of the client once it told us
// its name.
func (c *Client) connectGraph() error {
	core, err := c.s.connect(c.props.Copy())
	if err != nil {
		return err
	}
	c.core = core
	c.mgr = manager.New(core, c.s.exec, c.log.WithField("manager", c.name))
	c.removeMgr = c.mgr.AddListener(&clientEvents{c})
	return nil
}

// defaultName returns the node name of the current default sink or source.
// A monitor default source is reported with the .monitor suffix.
func (c *Client) defaultName(sink bool) string {
	var sel *collect.Selector
	def := defaultSinkName
	if sink {
		sel = collect.Any((*manager.Object).IsSink)
		sel.Value = c.defaultSink
	} else {
		sel = collect.Any((*manager.Object).IsSourceOrMonitor)
		sel.Value = c.defaultSource
		def = defaultSourceName
	}
	sel.Key = "node.name"
	sel.Accumulate = collect.SelectBest
	o := collect.Select(c.mgr, sel)
	if o == nil {
		return def
	}
	name := o.Props["node.name"]
	if !sink && o.IsMonitor() {
		if name == "" {
			return defaultMonitorName
		}
		return name + ".monitor"
	}
	if name == "" {
		return def
	}
	return name
}

// findDevice resolves a sink or source given by index or name. Special
// names and an unset index or name select the default. monitor reports
// whether a source resolved to the monitor of a sink.
func (c *Client) findDevice(index uint32, name string, sink bool) (o *manager.Object, monitor bool) {
	findDefault, allowMonitor := false, false
	switch name {
	case "":
	case defaultMonitorName:
		if sink {
			return nil, false
		}
		sink = true
		findDefault, allowMonitor = true, true
	case defaultSourceName:
		if sink {
			return nil, false
		}
		findDefault, allowMonitor = true, true
	case defaultSinkName:
		if !sink {
			return nil, false
		}
		findDefault = true
	default:
		if n, ok := parseIndex(name); ok {
			index, name = n, ""
		}
	}
	if name == "" && (index == collect.Invalid || index == 0) {
		findDefault = true
	}
	if findDefault {
		name = c.defaultName(sink)
		index = collect.Invalid
	}
	switch {
	case name != "":
		if !sink && strings.HasSuffix(name, ".monitor") {
			name = strings.TrimSuffix(name, ".monitor")
			allowMonitor = true
		}
	case index != collect.Invalid:
		if !sink {
			allowMonitor = true
		}
	default:
		return nil, false
	}
	typ := (*manager.Object).IsSink
	if !sink {
		typ = (*manager.Object).IsSourceOrMonitor
	}
	o = collect.Select(c.mgr, collect.ByIndex(index, "node.name", name, typ))
	if o == nil {
		return nil, false
	}
	if sink {
		return o, false
	}
	if o.IsMonitor() && !o.IsSource() {
		if !allowMonitor {
			return nil, false
		}
		return o, true
	}
	return o, false
}

// sendObjectEvent queues the subscribe events describing a change of o.
// A sink also reports its monitor source.
func (c *Client) sendObjectEvent(o *manager.Object, typ uint32) {
	if o.IsSink() && o.ChangeMask&uint64(manager.FlagSink) != 0 {
		c.queueEvent(proto.EventSink, typ, o.Index)
	}
	switch {
	case o.IsSourceOrMonitor() && o.ChangeMask&uint64(manager.FlagSource) != 0:
		c.queueEvent(proto.EventSource, typ, o.Index)
	case o.IsSinkInput():
		c.queueEvent(proto.EventSinkInput, typ, o.Index)
	case o.IsSourceOutput():
		c.queueEvent(proto.EventSourceOutput, typ, o.Index)
	case o.IsModule():
		c.queueEvent(proto.EventModule, typ, o.Index)
	case o.IsClient():
		c.queueEvent(proto.EventClient, typ, o.Index)
	case o.IsCard():
		c.queueEvent(proto.EventCard, typ, o.Index)
	}
}

func (c *Client) sendDefaultChange(sink, source bool) {
	changed := false
	if sink {
		def, _ := c.findDevice(collect.Invalid, "", true)
		if def != c.prevDefaultSink {
			c.prevDefaultSink = def
			changed = true
		}
	}
	if source {
		def, _ := c.findDevice(collect.Invalid, "", false)
		if def != c.prevDefaultSource {
			c.prevDefaultSource = def
			changed = true
		}
	}
	if changed {
		c.queueEvent(proto.EventServer, proto.EventChange, proto.Undefined)
	}
}

// sendLatencyOffsetEvent reports a latency offset change of a device node
// as a change of its card.
func (c *Client) sendLatencyOffsetEvent(o *manager.Object) {
	if !o.IsSink() && !o.IsSourceOrMonitor() {
		return
	}
	props := o.InfoProps()
	if props == nil {
		return
	}
	card, ok := parseIndex(props["device.id"])
	if !ok {
		return
	}
	offset := collect.LatencyOffset(o)
	if d, ok := o.Data(latencyOffsetKey).(*latencyOffset); ok && d.offset == offset {
		return
	}
	o.SetData(latencyOffsetKey, &latencyOffset{offset: offset})
	c.queueEvent(proto.EventCard, proto.EventChange, collect.IDToIndex(c.mgr, card))
}

func (c *Client) setMoveTarget(o *manager.Object, index uint32) {
	if !o.IsSinkInput() && !o.IsSourceOutput() {
		return
	}
	if index == collect.Invalid {
		if d, ok := o.Data(moveTargetKey).(*moveTarget); ok {
			d.index = collect.Invalid
			d.used = false
		}
		return
	}
	c.log.WithFields(logrus.Fields{"index": o.Index, "target": index}).Debug("temporary move target")
	c.mgr.SetTemporaryData(o, moveTargetKey, &moveTarget{index: index}, moveTargetLifetime)
}

// moveTargetOf returns the device o was just moved to, or Invalid.
func (c *Client) moveTargetOf(o *manager.Object) uint32 {
	d, ok := o.Data(moveTargetKey).(*moveTarget)
	if !ok || d.index == collect.Invalid {
		return collect.Invalid
	}
	d.used = true
	return d.index
}

func (c *Client) moveTargetExpired(o *manager.Object) {
	d, ok := o.Data(moveTargetKey).(*moveTarget)
	if ok && d.index != collect.Invalid && d.used {
		dir := graph.DirectionInput
		if o.IsSinkInput() {
			dir = graph.DirectionOutput
		}
		if peer := collect.FindLinked(c.mgr, o.ID, dir); peer == nil || peer.Index != d.index {
			c.log.WithField("index", o.Index).Debug("temporary move target expired")
			c.sendObjectEvent(o, proto.EventChange)
		}
	}
	c.setMoveTarget(o, collect.Invalid)
}

// clientEvents receives the manager events of a client.
type clientEvents struct{ c *Client }

func (e *clientEvents) Sync() {
	c := e.c
	if c.connectTag != proto.Undefined {
		tag := c.connectTag
		c.connectTag = proto.Undefined
		c.replyClientName(tag)
	}
	c.completeOperations()
}

func (e *clientEvents) Added(o *manager.Object) {
	c := e.c
	switch o.Kind {
	case manager.KindCore:
		o.MessagePath = "/core"
	case manager.KindMetadata:
		if o.Props["metadata.name"] == "default" && c.defaultMeta == nil {
			c.defaultMeta = o
		}
	case manager.KindLink:
		for _, s := range c.streams {
			s.linkAdded(o)
		}
	}
	if o.IsCard() && o.Props["device.api"] == "bluez5" {
		if name := o.Props["device.name"]; name != "" {
			o.MessagePath = "/card/" + name + "/bluez"
		}
	}
	collect.UpdateObjectInfo(c.mgr, o, &c.s.defaults)
	c.sendObjectEvent(o, proto.EventNew)
	o.ChangeMask = 0
	c.sendDefaultChange(o.IsSink(), o.IsSourceOrMonitor())
}

func (e *clientEvents) Updated(o *manager.Object) {
	c := e.c
	collect.UpdateObjectInfo(c.mgr, o, &c.s.defaults)
	c.sendObjectEvent(o, proto.EventChange)
	o.ChangeMask = 0
	c.setMoveTarget(o, collect.Invalid)
	c.sendLatencyOffsetEvent(o)
	c.sendDefaultChange(o.IsSink(), o.IsSourceOrMonitor())
}

func (e *clientEvents) Removed(o *manager.Object) {
	c := e.c
	c.sendObjectEvent(o, proto.EventRemove)
	if o == c.prevDefaultSink {
		c.prevDefaultSink = nil
	}
	if o == c.prevDefaultSource {
		c.prevDefaultSource = nil
	}
	c.sendDefaultChange(o.IsSink(), o.IsSourceOrMonitor())
	if o == c.defaultMeta {
		c.defaultMeta = nil
	}
}

func (e *clientEvents) Metadata(meta *manager.Object, subject uint32, key, typ, value string) {
	c := e.c
	if subject != graph.IDCore || meta != c.defaultMeta {
		return
	}
	changed := false
	if key == "" || key == "default.audio.sink" {
		name := metadataName(value)
		changed = name != c.defaultSink
		c.defaultSink = name
		c.tempDefaultSink = ""
	}
	if key == "" || key == "default.audio.source" {
		name := metadataName(value)
		changed = changed || name != c.defaultSource
		c.defaultSource = name
		c.tempDefaultSource = ""
	}
	if changed {
		c.sendDefaultChange(true, true)
	}
}

func (e *clientEvents) Disconnect() {
	c := e.c
	c.log.Warn("graph connection lost")
	c.detach()
	c.disconnect()
}

func (e *clientEvents) ObjectDataTimeout(o *manager.Object, key string) {
	if key == moveTargetKey {
		e.c.moveTargetExpired(o)
	}
}
