// Package local implements an in-process audio graph. Devices are virtual:
// sinks discard what they are sent and sources produce silence, paced by one
// driver goroutine per device.
package local

import (
	"bytes"
	"fmt"
	"os"
	"os/user"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
)

const firstSerial = 32

// Config configures a Graph.
type Config struct {
	Fixture *Fixture
	// Manual disables the driver goroutines. Cycle must be called to
	// process streams.
	Manual bool
}

// Graph is an in-process audio graph. Its methods may be called from any
// goroutine; events are delivered through the Executor.
type Graph struct {
	exec    graph.Executor
	log     *logrus.Entry
	rate    uint32
	quantum uint32
	manual  bool
	info    graph.CoreInfo

	mu        sync.Mutex
	objects   map[uint32]*object
	nextID    uint32
	freeIDs   []uint32
	serial    uint64
	listeners []*listenerEntry
	drivers   map[uint32]*driver
	metadata  *object
	closed    bool

	wg sync.WaitGroup
}

type listenerEntry struct {
	core    *Core
	l       graph.Listener
	removed atomic.Bool
}

type object struct {
	global  graph.Global
	info    graph.Info
	params  map[graph.ParamID][][]byte
	proxies []*proxy
	owner   *Core

	card   *card
	node   *node
	client *Core
	meta   map[uint32]map[string]metaValue
}

func (o *object) id() uint32 { return o.global.ID }

type metaValue struct {
	typ, value string
}

// New creates a graph populated from cfg.Fixture, or from DefaultFixture if
// it is nil. Events are delivered through exec, which must queue functions
// rather than run them directly.
func New(exec graph.Executor, log *logrus.Entry, cfg Config) *Graph {
	f := cfg.Fixture
	if f == nil {
		f = DefaultFixture()
	}
	g := &Graph{
		exec:    exec,
		log:     log,
		rate:    f.Rate,
		quantum: f.Quantum,
		manual:  cfg.Manual,
		objects: make(map[uint32]*object),
		nextID:  graph.IDCore + 1,
		serial:  firstSerial,
		drivers: make(map[uint32]*driver),
	}
	g.info = graph.CoreInfo{
		ID:       graph.IDCore,
		Cookie:   uuid.New().ID(),
		UserName: currentUser(),
		HostName: hostname(),
		Version:  "1.0.0",
		Name:     "pulsed-graph",
		Props:    graph.Props{"default.clock.rate": strconv.Itoa(int(f.Rate)), "default.clock.quantum": strconv.Itoa(int(f.Quantum))},
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.addObjectLocked(&object{global: graph.Global{ID: graph.IDCore, Type: graph.TypeCore, Props: graph.Props{"core.name": g.info.Name}}})
	for _, m := range f.Modules {
		props := graph.Props{"module.name": m.Name}
		for k, v := range m.Props {
			props[k] = v
		}
		g.addObjectLocked(&object{
			global: graph.Global{Type: graph.TypeModule, Props: props},
			info:   graph.Info{Name: m.Name, Args: m.Args, Props: props.Copy()},
		})
	}
	g.metadata = g.addObjectLocked(&object{
		global: graph.Global{Type: graph.TypeMetadata, Props: graph.Props{"metadata.name": "default"}},
		meta:   make(map[uint32]map[string]metaValue),
	})
	for i := range f.Devices {
		g.addCardLocked(&f.Devices[i])
	}
	for i := range f.Nodes {
		g.addNodeLocked(&f.Nodes[i], nil)
	}
	g.pickDefaultsLocked()
	return g
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "localhost"
}

// Rate returns the graph sample rate.
func (g *Graph) Rate() uint32 { return g.rate }

// Quantum returns the number of frames processed per cycle.
func (g *Graph) Quantum() uint32 { return g.quantum }

// Connect creates a client connection with the given client properties.
func (g *Graph) Connect(props graph.Props) (*Core, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, graph.ErrDisconnected
	}
	c := &Core{g: g}
	p := props.Copy()
	p["client.api"] = "pipewire-pulse"
	c.client = g.addObjectLocked(&object{
		global: graph.Global{Type: graph.TypeClient, Props: p},
		info:   graph.Info{Props: p.Copy()},
		client: c,
	})
	return c, nil
}

// Close stops all drivers. Cores stay usable but no longer process audio.
func (g *Graph) Close() {
	g.mu.Lock()
	g.closed = true
	drivers := g.drivers
	g.drivers = make(map[uint32]*driver)
	g.mu.Unlock()
	for _, d := range drivers {
		d.stopRunning()
	}
	g.wg.Wait()
}

// Cycle runs one cycle of every driver. It is meant for graphs created with
// Config.Manual.
func (g *Graph) Cycle() {
	g.mu.Lock()
	drivers := make([]*driver, 0, len(g.drivers))
	for _, d := range g.drivers {
		drivers = append(drivers, d)
	}
	g.mu.Unlock()
	for _, d := range drivers {
		d.cycle()
	}
}

func (g *Graph) allocIDLocked() uint32 {
	if n := len(g.freeIDs); n > 0 {
		sort.Slice(g.freeIDs, func(i, j int) bool { return g.freeIDs[i] < g.freeIDs[j] })
		id := g.freeIDs[0]
		g.freeIDs = g.freeIDs[1:]
		return id
	}
	id := g.nextID
	g.nextID++
	return id
}

// addObjectLocked assigns id and serial to o and announces it.
func (g *Graph) addObjectLocked(o *object) *object {
	if o.global.Type != graph.TypeCore {
		o.global.ID = g.allocIDLocked()
	}
	o.global.Serial = g.serial
	g.serial++
	o.global.Permissions = graph.PermAll
	o.global.Version = 3
	if o.global.Props == nil {
		o.global.Props = graph.Props{}
	}
	o.global.Props["object.id"] = strconv.FormatUint(uint64(o.global.ID), 10)
	o.global.Props["object.serial"] = strconv.FormatUint(o.global.Serial, 10)
	if o.info.Props == nil {
		o.info.Props = o.global.Props.Copy()
	} else {
		o.info.Props["object.id"] = o.global.Props["object.id"]
		o.info.Props["object.serial"] = o.global.Props["object.serial"]
	}
	if o.params == nil {
		o.params = make(map[graph.ParamID][][]byte)
	}
	g.objects[o.global.ID] = o

	gl := o.global
	gl.Props = o.global.Props.Copy()
	ls := g.activeListenersLocked()
	g.exec.Invoke(func() {
		for _, e := range ls {
			if !e.removed.Load() {
				e.l.Global(gl)
			}
		}
	})
	return o
}

// removeObjectLocked removes o and announces the removal to listeners and
// bound proxies.
func (g *Graph) removeObjectLocked(o *object) {
	id := o.id()
	if g.objects[id] != o {
		return
	}
	delete(g.objects, id)
	g.freeIDs = append(g.freeIDs, id)
	proxies := o.proxies
	o.proxies = nil
	ls := g.activeListenersLocked()
	g.exec.Invoke(func() {
		for _, p := range proxies {
			if ev := p.listener(); ev != nil {
				ev.Removed()
			}
		}
		for _, e := range ls {
			if !e.removed.Load() {
				e.l.GlobalRemove(id)
			}
		}
	})
	if d, ok := g.drivers[id]; ok {
		delete(g.drivers, id)
		d.stopRunning()
	}
	g.log.WithFields(logrus.Fields{"id": id, "type": o.global.Type}).Debug("object removed")
}

func (g *Graph) activeListenersLocked() []*listenerEntry {
	ls := g.listeners[:0:0]
	for _, e := range g.listeners {
		if !e.removed.Load() {
			ls = append(ls, e)
		}
	}
	return ls
}

// emitInfoLocked sends the current info of o to its proxies.
func (g *Graph) emitInfoLocked(o *object, mask uint32) {
	info := o.info
	info.ChangeMask = mask
	info.Props = o.info.Props.Copy()
	info.Params = append([]graph.ParamInfo(nil), o.info.Params...)
	proxies := append([]*proxy(nil), o.proxies...)
	g.exec.Invoke(func() {
		for _, p := range proxies {
			if ev := p.listener(); ev != nil {
				ev.Info(info)
			}
		}
	})
}

// setParamLocked replaces the values of param id and bumps its serial if
// they changed.
func (g *Graph) setParamLocked(o *object, id graph.ParamID, values ...[]byte) {
	if old, ok := o.params[id]; ok && sameValues(old, values) {
		return
	}
	o.params[id] = values
	for i := range o.info.Params {
		if o.info.Params[i].ID == id {
			o.info.Params[i].Serial++
			return
		}
	}
}

func sameValues(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (g *Graph) findNodeLocked(match func(*object) bool) *object {
	var best *object
	for _, o := range g.objects {
		if o.node == nil || !match(o) {
			continue
		}
		if best == nil || o.node.priority > best.node.priority ||
			(o.node.priority == best.node.priority && o.id() < best.id()) {
			best = o
		}
	}
	return best
}

func (g *Graph) nodeByNameLocked(name string) *object {
	return g.findNodeLocked(func(o *object) bool {
		return o.global.Props["node.name"] == name || o.global.Props["object.serial"] == name
	})
}

func isSink(o *object) bool {
	c := o.global.Props["media.class"]
	return c == "Audio/Sink" || c == "Audio/Duplex"
}

func isSource(o *object) bool {
	c := o.global.Props["media.class"]
	return c == "Audio/Source" || c == "Audio/Duplex" || c == "Audio/Source/Virtual"
}

// pickDefaultsLocked stores the preferred sink and source in the default
// metadata if none is set.
func (g *Graph) pickDefaultsLocked() {
	for _, d := range []struct {
		key   string
		match func(*object) bool
	}{
		{"default.audio.sink", isSink},
		{"default.audio.source", isSource},
	} {
		if _, ok := g.metadata.meta[graph.IDCore][d.key]; ok {
			continue
		}
		if o := g.findNodeLocked(d.match); o != nil {
			g.setMetadataLocked(graph.IDCore, d.key, "Spa:String:JSON", nameJSON(o.global.Props["node.name"]))
		}
	}
}

func nameJSON(name string) string {
	return fmt.Sprintf("{\"name\":%q}", name)
}

// defaultNodeLocked returns the default sink or source.
func (g *Graph) defaultNodeLocked(sink bool) *object {
	key := "default.audio.source"
	match := isSource
	if sink {
		key = "default.audio.sink"
		match = isSink
	}
	for _, k := range []string{"default.configured." + key[len("default."):], key} {
		if v, ok := g.metadata.meta[graph.IDCore][k]; ok {
			if name, ok := parseNameJSON(v.value); ok {
				if o := g.nodeByNameLocked(name); o != nil && match(o) {
					return o
				}
			}
		}
	}
	return g.findNodeLocked(match)
}
