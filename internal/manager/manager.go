// Package manager mirrors the objects of an audio graph.
//
// Registry and parameter events arrive in bursts. The manager collects them
// and requests a sync barrier after each change; once the barrier completes
// new objects are reported as added and changed objects as updated, so that
// one logical change results in one notification.
package manager

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
)

// Listener receives manager events. All methods are called on the event
// loop.
type Listener interface {
	// Sync is emitted when a barrier completes, before the added and
	// updated events of that barrier.
	Sync()
	Added(o *Object)
	Updated(o *Object)
	Removed(o *Object)
	Metadata(meta *Object, subject uint32, key, typ, value string)
	Disconnect()
	// ObjectDataTimeout is emitted when the lifetime of temporary object data
	// ends.
	ObjectDataTimeout(o *Object, key string)
}

// NopListener implements Listener with empty methods. It is meant to be
// embedded.
type NopListener struct{}

func (NopListener) Sync()                                            {}
func (NopListener) Added(*Object)                                    {}
func (NopListener) Updated(*Object)                                  {}
func (NopListener) Removed(*Object)                                  {}
func (NopListener) Metadata(*Object, uint32, string, string, string) {}
func (NopListener) Disconnect()                                      {}
func (NopListener) ObjectDataTimeout(*Object, string)                {}

var (
	ErrNoEntity     = errors.New("manager: no such object")
	ErrAccess       = errors.New("manager: access denied")
	ErrNotSupported = errors.New("manager: not supported")
)

type hook struct {
	l       Listener
	removed bool
}

// Manager mirrors the graph seen through one core connection. It must only
// be used on the event loop.
type Manager struct {
	core graph.Core
	exec graph.Executor
	log  *logrus.Entry

	objects []*Object
	byID    map[uint32]*Object
	hooks   []*hook
	syncSeq int

	removeListener func()
	// data tracks the lifetime of temporary object data. Expired entries
	// are evicted by the cache janitor.
	data   *cache.Cache
	closed bool
}

// dataJanitorInterval bounds how late an ObjectDataTimeout may be emitted.
const dataJanitorInterval = 20 * time.Millisecond

// New creates a manager for core. Graph callbacks must be delivered through
// exec.
func New(core graph.Core, exec graph.Executor, log *logrus.Entry) *Manager {
	m := &Manager{
		core: core,
		exec: exec,
		log:  log,
		byID: make(map[uint32]*Object),
		data: cache.New(cache.NoExpiration, dataJanitorInterval),
	}
	// the janitor evicts on its own goroutine
	m.data.OnEvicted(func(k string, v interface{}) {
		exec.Invoke(func() { m.dataEvicted(k, v) })
	})
	m.removeListener = core.AddListener(m)
	return m
}

// Core returns the graph connection of the manager.
func (m *Manager) Core() graph.Core { return m.core }

// Info returns information about the graph.
func (m *Manager) Info() graph.CoreInfo { return m.core.Info() }

// AddListener registers l and requests a barrier.
func (m *Manager) AddListener(l Listener) (remove func()) {
	h := &hook{l: l}
	m.hooks = append(m.hooks, h)
	m.Sync()
	return func() {
		h.removed = true
		for i, x := range m.hooks {
			if x == h {
				m.hooks = append(m.hooks[:i], m.hooks[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) emit(f func(Listener)) {
	hooks := append([]*hook(nil), m.hooks...)
	for _, h := range hooks {
		if !h.removed {
			f(h.l)
		}
	}
}

// Sync requests a barrier. The Sync event and the pending added and updated
// events are emitted once the graph has processed all earlier requests.
func (m *Manager) Sync() int {
	if m.closed {
		return m.syncSeq
	}
	m.syncSeq++
	m.core.Sync(m.syncSeq)
	return m.syncSeq
}

// ForEach calls f for every visible object until f returns false.
func (m *Manager) ForEach(f func(o *Object) bool) {
	for _, o := range append([]*Object(nil), m.objects...) {
		if o.creating || o.removing {
			continue
		}
		if !f(o) {
			return
		}
	}
}

// Object returns the object with graph id id, including objects that are
// not visible yet.
func (m *Manager) Object(id uint32) *Object { return m.byID[id] }

// Len returns the number of mirrored objects.
func (m *Manager) Len() int { return len(m.objects) }

// SetMetadata sets a property on a metadata object. An empty typ removes the
// key.
func (m *Manager) SetMetadata(meta *Object, subject uint32, key, typ, value string) error {
	s := m.byID[subject]
	if s == nil {
		return ErrNoEntity
	}
	if s.Permissions&graph.PermMetadata == 0 {
		return ErrAccess
	}
	if meta == nil {
		return ErrNotSupported
	}
	if meta.Permissions&(graph.PermWrite|graph.PermExecute) != graph.PermWrite|graph.PermExecute {
		return ErrAccess
	}
	if meta.Proxy == nil {
		return ErrNoEntity
	}
	if typ == "" {
		value = ""
	}
	return meta.Proxy.SetProperty(subject, key, typ, value)
}

// SetTemporaryData attaches a value to o that is reported through
// ObjectDataTimeout after lifetime.
func (m *Manager) SetTemporaryData(o *Object, key string, v interface{}, lifetime time.Duration) {
	o.SetData(key, v)
	m.data.Set(dataKey(o, key), o, lifetime)
}

func dataKey(o *Object, key string) string {
	return strconv.FormatUint(uint64(o.ID), 10) + "/" + strconv.FormatUint(o.Serial, 10) + "/" + key
}

func (m *Manager) dataEvicted(k string, v interface{}) {
	o, ok := v.(*Object)
	if !ok || m.closed || m.byID[o.ID] != o {
		return
	}
	if _, set := m.data.Get(k); set {
		return
	}
	key := k[strings.LastIndexByte(k, '/')+1:]
	if _, ok := o.data[key]; !ok {
		return
	}
	m.log.WithFields(logrus.Fields{"id": o.ID, "key": key}).Debug("object data lifetime ends")
	m.emit(func(l Listener) { l.ObjectDataTimeout(o, key) })
}

// Close releases all proxies and stops listening to the graph.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.hooks = nil
	m.removeListener()
	for _, o := range m.objects {
		m.destroy(o)
	}
	m.objects = nil
	m.data.Flush()
}

func (m *Manager) destroy(o *Object) {
	if o.Proxy != nil {
		o.Proxy.Destroy()
		o.Proxy = nil
	}
	delete(m.byID, o.ID)
	for k := range o.data {
		m.data.Delete(dataKey(o, k))
	}
	o.data = nil
}

func (m *Manager) remove(o *Object) {
	for i, x := range m.objects {
		if x == o {
			m.objects = append(m.objects[:i], m.objects[i+1:]...)
			break
		}
	}
	m.destroy(o)
}

// Global implements graph.Listener.
func (m *Manager) Global(g graph.Global) {
	if m.closed {
		return
	}
	kind, ok := kindTypes[g.Type]
	if !ok {
		return
	}
	proxy, err := m.core.Bind(g)
	if err != nil {
		m.log.WithError(err).WithField("id", g.ID).Debug("cannot bind object")
		return
	}
	o := &Object{
		ID:          g.ID,
		Serial:      g.Serial,
		Index:       graph.IDInvalid,
		Kind:        kind,
		Version:     g.Version,
		Permissions: g.Permissions,
		Props:       g.Props.Copy(),
		Proxy:       proxy,
		creating:    true,
		paramSeq:    make(map[graph.ParamID]int),
		seen:        make(map[graph.ParamID]uint32),
		m:           m,
	}
	if s, err := strconv.ParseUint(g.Props["object.serial"], 10, 64); err == nil {
		o.Serial = s
	}
	if o.Serial < 1<<32 {
		o.Index = uint32(o.Serial)
	}
	o.updateFlags()
	if old := m.byID[g.ID]; old != nil {
		m.remove(old)
	}
	m.objects = append(m.objects, o)
	m.byID[g.ID] = o
	proxy.SetListener(&objectEvents{o: o})

	if kind == KindMetadata {
		o.creating = false
		m.emit(func(l Listener) { l.Added(o) })
	}
	m.Sync()
}

// GlobalRemove implements graph.Listener.
func (m *Manager) GlobalRemove(id uint32) {
	o := m.byID[id]
	if o == nil || m.closed {
		return
	}
	o.removing = true
	if !o.creating {
		o.ChangeMask = ^uint64(0)
		m.emit(func(l Listener) { l.Removed(o) })
	}
	m.remove(o)
}

// Done implements graph.Listener.
func (m *Manager) Done(seq int) {
	if seq != m.syncSeq || m.closed {
		return
	}
	m.emit(func(l Listener) { l.Sync() })
	objects := append([]*Object(nil), m.objects...)
	for _, o := range objects {
		o.applyPending()
	}
	for _, o := range objects {
		if m.byID[o.ID] != o {
			continue
		}
		switch {
		case o.creating:
			o.creating = false
			m.emit(func(l Listener) { l.Added(o) })
		case o.changed > 0:
			m.emit(func(l Listener) { l.Updated(o) })
		}
		o.changed = 0
	}
}

// Disconnected implements graph.Listener.
func (m *Manager) Disconnected() {
	m.emit(func(l Listener) { l.Disconnect() })
}

// applyPending moves received parameter values into Params. Values from
// outdated enumerations are dropped.
func (o *Object) applyPending() {
	pending := o.pending[:0]
	for _, p := range o.pending {
		if p.Blob != nil && p.Seq != o.paramSeq[p.ID] {
			continue
		}
		pending = append(pending, p)
	}
	for _, p := range pending {
		if p.Blob == nil {
			o.clearParams(p.ID)
		} else {
			o.Params = append(o.Params, p)
		}
	}
	o.pending = nil
}

func (o *Object) clearParams(id graph.ParamID) {
	ps := o.Params[:0]
	for _, p := range o.Params {
		if p.ID != id {
			ps = append(ps, p)
		}
	}
	o.Params = ps
}

func (o *Object) hasParam(p Param) bool {
	for _, q := range o.Params {
		if q.ID == p.ID && string(q.Blob) == string(p.Blob) {
			return true
		}
	}
	return false
}

// objectEvents receives the events of one bound object.
type objectEvents struct {
	o *Object
}

func (e *objectEvents) Info(info graph.Info) {
	o := e.o
	m := o.m
	if m.closed || m.byID[o.ID] != o {
		return
	}
	merged := info
	if o.Info != nil && info.ChangeMask&graph.ChangeProps == 0 {
		merged.Props = o.Info.Props
	}
	if info.ChangeMask&graph.ChangeState == 0 && o.Info != nil {
		merged.State, merged.Error = o.Info.State, o.Info.Error
	}
	if info.ChangeMask&graph.ChangeParams == 0 && o.Info != nil {
		merged.Params = o.Info.Params
	}
	o.Info = &merged

	changed := 0
	enumerate := false
	if info.ChangeMask&graph.ChangeProps != 0 {
		changed++
		o.updateFlags()
	}
	switch o.Kind {
	case KindClient, KindModule:
	case KindNode:
		if info.ChangeMask&graph.ChangeState != 0 {
			changed++
		}
		fallthrough
	case KindDevice:
		if info.ChangeMask&graph.ChangeParams == 0 {
			break
		}
		for _, pi := range info.Params {
			if last, ok := o.seen[pi.ID]; ok && last == pi.Serial {
				continue
			}
			o.seen[pi.ID] = pi.Serial
			if paramMarksChange(o.Kind, pi.ID) {
				changed++
			}
			enumerate = true
			o.paramSeq[pi.ID]++
			seq := o.paramSeq[pi.ID]
			o.pending = append(o.pending, Param{ID: pi.ID, Seq: seq})
			if pi.Readable() {
				o.Proxy.EnumParams(seq, pi.ID)
			}
		}
	default:
		return
	}
	if changed > 0 || enumerate {
		o.changed += changed
		m.Sync()
	}
}

func paramMarksChange(k Kind, id graph.ParamID) bool {
	switch id {
	case graph.ParamEnumProfile, graph.ParamProfile, graph.ParamEnumRoute:
		return k == KindDevice
	case graph.ParamProps, graph.ParamPropInfo, graph.ParamFormat, graph.ParamEnumFormat, graph.ParamLatency:
		return k == KindNode
	}
	return false
}

func (e *objectEvents) Param(seq int, id graph.ParamID, index, next uint32, blob []byte) {
	o := e.o
	m := o.m
	if m.closed || m.byID[o.ID] != o {
		return
	}
	p := Param{ID: id, Seq: seq, Blob: append([]byte(nil), blob...)}
	o.pending = append(o.pending, p)
	if o.Kind != KindDevice || (id != graph.ParamRoute && id != graph.ParamEnumRoute) || o.hasParam(p) {
		return
	}
	device, ok := routeDevice(blob)
	if !ok {
		return
	}
	if n := m.findDeviceNode(o.ID, device); n != nil {
		n.changed++
		m.Sync()
	}
}

// findDeviceNode returns the node of card profile device dev of card.
func (m *Manager) findDeviceNode(card uint32, dev int32) *Object {
	cs, ds := strconv.FormatUint(uint64(card), 10), strconv.Itoa(int(dev))
	for _, o := range m.objects {
		if o.Kind != KindNode {
			continue
		}
		if p := o.InfoProps(); p != nil && p["device.id"] == cs && p["card.profile.device"] == ds {
			return o
		}
	}
	return nil
}

func (e *objectEvents) Property(subject uint32, key, typ, value string) {
	o := e.o
	m := o.m
	if m.closed || m.byID[o.ID] != o {
		return
	}
	m.emit(func(l Listener) { l.Metadata(o, subject, key, typ, value) })
}

func (e *objectEvents) Removed() {}

func (o *Object) String() string {
	return fmt.Sprintf("%s:%d", o.Kind, o.ID)
}
