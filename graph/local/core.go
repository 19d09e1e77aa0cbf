package local

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
)

// Core is a client connection to a Graph.
type Core struct {
	g      *Graph
	client *object
	closed bool
	owned  []*object
}

var _ graph.Core = (*Core)(nil)

func (c *Core) AddListener(l graph.Listener) (remove func()) {
	g := c.g
	g.mu.Lock()
	defer g.mu.Unlock()
	e := &listenerEntry{core: c, l: l}
	globals := make([]graph.Global, 0, len(g.objects))
	for _, o := range g.objects {
		gl := o.global
		gl.Props = o.global.Props.Copy()
		globals = append(globals, gl)
	}
	sort.Slice(globals, func(i, j int) bool { return globals[i].ID < globals[j].ID })
	g.listeners = append(g.listeners, e)
	g.exec.Invoke(func() {
		for _, gl := range globals {
			if e.removed.Load() {
				return
			}
			l.Global(gl)
		}
	})
	return func() {
		if e.removed.Swap(true) {
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		g.removeListenerLocked(e)
	}
}

func (g *Graph) removeListenerLocked(e *listenerEntry) {
	for i, x := range g.listeners {
		if x == e {
			g.listeners = append(g.listeners[:i], g.listeners[i+1:]...)
			return
		}
	}
}

func (c *Core) listenersLocked() []*listenerEntry {
	var ls []*listenerEntry
	for _, e := range c.g.listeners {
		if e.core == c && !e.removed.Load() {
			ls = append(ls, e)
		}
	}
	return ls
}

// Sync queues a Done event behind all events emitted so far.
func (c *Core) Sync(seq int) {
	g := c.g
	g.mu.Lock()
	ls := c.listenersLocked()
	g.mu.Unlock()
	g.exec.Invoke(func() {
		for _, e := range ls {
			if !e.removed.Load() {
				e.l.Done(seq)
			}
		}
	})
}

func (c *Core) Bind(gl graph.Global) (graph.Proxy, error) {
	g := c.g
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.closed {
		return nil, graph.ErrDisconnected
	}
	o := g.objects[gl.ID]
	if o == nil || o.global.Serial != gl.Serial {
		return nil, graph.ErrNoEntity
	}
	p := &proxy{core: c, obj: o}
	o.proxies = append(o.proxies, p)
	if o.meta != nil {
		g.sendMetadataLocked(p)
	} else if o.global.Type != graph.TypeLink {
		info := o.info
		info.ChangeMask = graph.ChangeProps | graph.ChangeParams | graph.ChangeState
		info.Props = o.info.Props.Copy()
		info.Params = append([]graph.ParamInfo(nil), o.info.Params...)
		g.exec.Invoke(func() {
			if ev := p.listener(); ev != nil {
				ev.Info(info)
			}
		})
	}
	return p, nil
}

func (c *Core) Destroy(id uint32) error {
	g := c.g
	g.mu.Lock()
	defer g.mu.Unlock()
	o := g.objects[id]
	if o == nil {
		return graph.ErrNoEntity
	}
	switch {
	case o.client != nil:
		o.client.disconnectLocked()
	case o.node != nil && o.node.stream != nil:
		o.node.stream.killLocked(nil)
	case o.node != nil && o.owner != nil:
		o.owner.disown(o)
		g.destroyNodeLocked(o)
	case o.node != nil && o.node.card == nil && o.node.virtual:
		g.destroyNodeLocked(o)
	default:
		return graph.ErrNotSupported
	}
	return nil
}

func (c *Core) disown(o *object) {
	for i, x := range c.owned {
		if x == o {
			c.owned = append(c.owned[:i], c.owned[i+1:]...)
			return
		}
	}
}

// CreateObject supports the "adapter" and "support.null-audio-sink"
// factories, which create virtual device nodes.
func (c *Core) CreateObject(factory string, props graph.Props) (uint32, error) {
	if factory != "adapter" && factory != "support.null-audio-sink" {
		return graph.IDInvalid, graph.ErrNotSupported
	}
	nf := NodeFixture{
		Name:        props["node.name"],
		Description: props["node.description"],
		MediaClass:  props["media.class"],
		Format:      props["audio.format"],
		Virtual:     true,
		Priority:    1000,
		Props:       map[string]string{},
	}
	if v, err := strconv.ParseUint(props["audio.rate"], 10, 32); err == nil {
		nf.Rate = uint32(v)
	}
	if v, err := strconv.ParseUint(props["audio.channels"], 10, 32); err == nil {
		nf.Channels = uint32(v)
	}
	if pos := props["audio.position"]; pos != "" {
		nf.Position = strings.FieldsFunc(strings.Trim(pos, "[] "), func(r rune) bool { return r == ',' || r == ' ' })
	}
	if v, err := strconv.Atoi(props["priority.session"]); err == nil {
		nf.Priority = v
	}
	for k, v := range props {
		nf.Props[k] = v
	}
	nf.Props["factory.name"] = factory

	g := c.g
	if err := (&Fixture{Rate: g.rate}).fixNode(&nf); err != nil {
		return graph.IDInvalid, graph.ErrInvalidParam
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.closed {
		return graph.IDInvalid, graph.ErrDisconnected
	}
	o := g.addNodeLocked(&nf, nil)
	if props["object.linger"] != "true" {
		o.owner = c
		c.owned = append(c.owned, o)
	}
	g.pickDefaultsLocked()
	g.log.WithFields(logrus.Fields{"id": o.id(), "name": nf.Name}).Debug("created node")
	return o.id(), nil
}

func (c *Core) Info() graph.CoreInfo {
	info := c.g.info
	info.Props = c.g.info.Props.Copy()
	return info
}

func (c *Core) ClientID() uint32 { return c.client.id() }

func (c *Core) UpdateProperties(props graph.Props) error {
	g := c.g
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.closed {
		return graph.ErrDisconnected
	}
	for k, v := range props {
		if v == "" {
			delete(c.client.info.Props, k)
		} else {
			c.client.info.Props[k] = v
		}
	}
	g.emitInfoLocked(c.client, graph.ChangeProps)
	return nil
}

// Close releases all objects of the connection.
func (c *Core) Close() error {
	g := c.g
	g.mu.Lock()
	defer g.mu.Unlock()
	c.closeLocked()
	return nil
}

// disconnectLocked closes the connection on behalf of the graph.
func (c *Core) disconnectLocked() {
	if c.closed {
		return
	}
	// closeLocked marks the listeners removed, Disconnected is still owed
	// to them.
	ls := c.listenersLocked()
	c.g.exec.Invoke(func() {
		for _, e := range ls {
			e.l.Disconnected()
		}
	})
	c.closeLocked()
}

func (c *Core) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	g := c.g
	for _, o := range g.objects {
		if o.node != nil && o.node.stream != nil && o.node.stream.core == c {
			o.node.stream.teardownLocked()
		}
	}
	for _, o := range c.owned {
		g.destroyNodeLocked(o)
	}
	c.owned = nil
	for _, o := range g.objects {
		kept := o.proxies[:0]
		for _, p := range o.proxies {
			if p.core == c {
				p.destroyed.Store(true)
			} else {
				kept = append(kept, p)
			}
		}
		o.proxies = kept
	}
	g.removeObjectLocked(c.client)
	for _, e := range c.listenersLocked() {
		e.removed.Store(true)
		g.removeListenerLocked(e)
	}
}
