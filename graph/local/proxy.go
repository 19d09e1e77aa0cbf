package local

import (
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulsed/graph"
)

type proxy struct {
	core      *Core
	obj       *object
	destroyed atomic.Bool

	mu     sync.Mutex
	events graph.ProxyEvents
}

func (p *proxy) listener() graph.ProxyEvents {
	if p.destroyed.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events
}

func (p *proxy) SetListener(ev graph.ProxyEvents) {
	p.mu.Lock()
	p.events = ev
	p.mu.Unlock()
}

func (p *proxy) EnumParams(seq int, id graph.ParamID) {
	g := p.core.g
	g.mu.Lock()
	values := append([][]byte(nil), p.obj.params[id]...)
	g.mu.Unlock()
	g.exec.Invoke(func() {
		ev := p.listener()
		if ev == nil {
			return
		}
		for i, v := range values {
			ev.Param(seq, id, uint32(i), uint32(i+1), v)
		}
	})
}

func (p *proxy) live() (*Graph, error) {
	g := p.core.g
	if p.destroyed.Load() || g.objects[p.obj.id()] != p.obj {
		return g, graph.ErrNoEntity
	}
	return g, nil
}

func (p *proxy) SetParam(id graph.ParamID, blob []byte) error {
	p.core.g.mu.Lock()
	defer p.core.g.mu.Unlock()
	g, err := p.live()
	if err != nil {
		return err
	}
	switch {
	case p.obj.card != nil:
		return g.cardSetParamLocked(p.obj, id, blob)
	case p.obj.node != nil:
		return g.nodeSetParamLocked(p.obj, id, blob)
	}
	return graph.ErrNotSupported
}

func (p *proxy) SendCommand(cmd graph.Command) error {
	p.core.g.mu.Lock()
	defer p.core.g.mu.Unlock()
	g, err := p.live()
	if err != nil {
		return err
	}
	if p.obj.node == nil {
		return graph.ErrNotSupported
	}
	return g.nodeCommandLocked(p.obj, cmd)
}

func (p *proxy) SetProperty(subject uint32, key, typ, value string) error {
	p.core.g.mu.Lock()
	defer p.core.g.mu.Unlock()
	g, err := p.live()
	if err != nil {
		return err
	}
	if p.obj.meta == nil {
		return graph.ErrNotSupported
	}
	return g.metadataSetPropertyLocked(subject, key, typ, value)
}

func (p *proxy) Destroy() {
	if p.destroyed.Swap(true) {
		return
	}
	g := p.core.g
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, q := range p.obj.proxies {
		if q == p {
			p.obj.proxies = append(p.obj.proxies[:i], p.obj.proxies[i+1:]...)
			break
		}
	}
}
