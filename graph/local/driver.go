package local

import (
	"sync"
	"time"
)

// A driver paces the streams linked to one device node.
type driver struct {
	g       *Graph
	id      uint32
	quantum uint32
	period  time.Duration

	mu      sync.Mutex
	streams []*stream
	stop    chan struct{}
}

func (g *Graph) driverLocked(o *object) *driver {
	if d, ok := g.drivers[o.id()]; ok {
		return d
	}
	d := &driver{
		g:       g,
		id:      o.id(),
		quantum: g.quantum,
		period:  time.Duration(g.quantum) * time.Second / time.Duration(o.node.format.Rate),
	}
	g.drivers[o.id()] = d
	return d
}

// attach must be called with the graph lock held.
func (d *driver) attach(s *stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams = append(d.streams, s)
	if d.stop == nil && !d.g.manual && !d.g.closed {
		d.stop = make(chan struct{})
		d.g.wg.Add(1)
		go d.run(d.stop)
	}
}

func (d *driver) detach(s *stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, x := range d.streams {
		if x == s {
			d.streams = append(d.streams[:i], d.streams[i+1:]...)
			break
		}
	}
	if len(d.streams) == 0 && d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
}

func (d *driver) stopRunning() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
}

func (d *driver) run(stop chan struct{}) {
	defer d.g.wg.Done()
	t := time.NewTicker(d.period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			d.cycle()
		}
	}
}

func (d *driver) cycle() {
	d.mu.Lock()
	streams := append([]*stream(nil), d.streams...)
	d.mu.Unlock()
	for _, s := range streams {
		s.process(d.quantum)
	}
}
