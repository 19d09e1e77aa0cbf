// Package collect answers queries over the objects of a Manager: finding
// objects by id, index or property, following links, and decoding the card,
// profile, port and device state carried in object parameters.
//
// All functions must be called on the goroutine that drives the Manager.
package collect

import (
	"strconv"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/manager"
)

// Invalid marks a missing id or index.
const Invalid = graph.IDInvalid

// A Selector describes the object Select looks for. The zero values of ID
// and Index match objects with id or index 0, so selectors should be built
// with ByID, ByIndex or Any.
type Selector struct {
	Type  func(*manager.Object) bool
	ID    uint32
	Index uint32
	// Key and Value match an object property.
	Key, Value string
	// Accumulate is called for every object of the right type that did not
	// match. Whatever it stores in Best is returned when nothing matched.
	Accumulate func(s *Selector, o *manager.Object)

	Best  *manager.Object
	Score int32
}

// Any returns a selector for the first object of the given type. With
// Accumulate set to SelectBest it returns the highest priority one.
func Any(typ func(*manager.Object) bool) *Selector {
	return &Selector{Type: typ, ID: Invalid, Index: Invalid}
}

// ByID returns a selector for the object with the given graph id.
func ByID(id uint32, typ func(*manager.Object) bool) *Selector {
	return &Selector{Type: typ, ID: id, Index: Invalid}
}

// ByIndex returns a selector for the object with the given client visible
// index, or, if name is set, with the given name property under key.
func ByIndex(index uint32, key, name string, typ func(*manager.Object) bool) *Selector {
	s := &Selector{Type: typ, ID: Invalid, Index: index}
	if name != "" {
		s.Key, s.Value = key, name
	}
	return s
}

// SelectBest is an accumulator that remembers the object with the highest
// priority.session property.
func SelectBest(s *Selector, o *manager.Object) {
	v, ok := o.Props["priority.session"]
	if !ok {
		return
	}
	prio, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return
	}
	if s.Best == nil || int32(prio) > s.Score {
		s.Best = o
		s.Score = int32(prio)
	}
}

// Select returns the first visible object matching s, or the object picked
// by the accumulator, or nil. A Value that parses as a number also matches
// the object index.
func Select(m *manager.Manager, s *Selector) *manager.Object {
	var found *manager.Object
	m.ForEach(func(o *manager.Object) bool {
		if s.Type != nil && !s.Type(o) {
			return true
		}
		if (s.ID != Invalid && o.ID == s.ID) || (s.Index != Invalid && o.Index == s.Index) {
			found = o
			return false
		}
		if s.Accumulate != nil {
			s.Accumulate(s, o)
		}
		if s.Key != "" && s.Value != "" {
			if v, ok := o.Props[s.Key]; ok && v == s.Value {
				found = o
				return false
			}
		}
		if s.Value != "" {
			if n, err := strconv.ParseUint(s.Value, 10, 32); err == nil && uint32(n) == o.Index {
				found = o
				return false
			}
		}
		return true
	})
	if found != nil {
		return found
	}
	return s.Best
}

// IDToIndex returns the index of the object with graph id id, or Invalid.
func IDToIndex(m *manager.Manager, id uint32) uint32 {
	if o := m.Object(id); o != nil {
		return o.Index
	}
	return Invalid
}

func linkEnds(o *manager.Object) (out, in uint32, ok bool) {
	o1, err1 := strconv.ParseUint(o.Props["link.output.node"], 10, 32)
	i1, err2 := strconv.ParseUint(o.Props["link.input.node"], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(o1), uint32(i1), true
}

// IsLinked reports whether node id has a link on the given side. For
// DirectionOutput the node must be the producer of the link.
func IsLinked(m *manager.Manager, id uint32, dir graph.Direction) bool {
	linked := false
	m.ForEach(func(o *manager.Object) bool {
		if !o.IsLink() {
			return true
		}
		out, in, ok := linkEnds(o)
		if !ok {
			return true
		}
		if (dir == graph.DirectionOutput && id == out) || (dir == graph.DirectionInput && id == in) {
			linked = true
			return false
		}
		return true
	})
	return linked
}

// FindPeerForLink returns the node at the other end of link if node id is
// on the given side of it.
func FindPeerForLink(m *manager.Manager, link *manager.Object, id uint32, dir graph.Direction) *manager.Object {
	out, in, ok := linkEnds(link)
	if !ok {
		return nil
	}
	if dir == graph.DirectionOutput && id == out {
		if p := Select(m, ByID(in, (*manager.Object).IsSink)); p != nil {
			return p
		}
	}
	if dir == graph.DirectionInput && id == in {
		if p := Select(m, ByID(out, (*manager.Object).IsRecordable)); p != nil {
			return p
		}
	}
	return nil
}

// FindLinked returns the device a stream node is connected to: the sink of
// a playback stream, the source (or monitored sink) of a record stream.
func FindLinked(m *manager.Manager, id uint32, dir graph.Direction) *manager.Object {
	var peer *manager.Object
	m.ForEach(func(o *manager.Object) bool {
		if !o.IsLink() {
			return true
		}
		peer = FindPeerForLink(m, o, id, dir)
		return peer == nil
	})
	return peer
}
