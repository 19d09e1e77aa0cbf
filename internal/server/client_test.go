package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/proto"
)

// queuedEvents returns the subscribe events waiting in the output queue.
func queuedEvents(c *Client) [][2]uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evs [][2]uint32
	for _, m := range c.out {
		if m.Kind == proto.KindSubscribeEvent {
			evs = append(evs, m.Extra)
		}
	}
	return evs
}

func TestQueueEventCoalescing(t *testing.T) {
	s := &Server{pool: proto.NewPool()}
	newTestClient := func() *Client {
		c := newClient(s, nil, nil, &peer{props: graph.Props{}}, quietLog())
		c.subscribed = proto.SubscriptionMaskAll
		return c
	}

	type event struct{ facility, typ, index uint32 }
	tests := []struct {
		name   string
		events []event
		want   [][2]uint32
	}{
		{
			"new then remove",
			[]event{{proto.EventSink, proto.EventNew, 5}, {proto.EventSink, proto.EventRemove, 5}},
			nil,
		},
		{
			"new then change",
			[]event{{proto.EventSink, proto.EventNew, 5}, {proto.EventSink, proto.EventChange, 5}},
			[][2]uint32{{proto.EventSink | proto.EventNew, 5}},
		},
		{
			"repeated change",
			[]event{
				{proto.EventSink, proto.EventChange, 7},
				{proto.EventSink, proto.EventChange, 7},
				{proto.EventSource, proto.EventChange, 7},
				{proto.EventSink, proto.EventChange, 8},
			},
			[][2]uint32{
				{proto.EventSink | proto.EventChange, 7},
				{proto.EventSource | proto.EventChange, 7},
				{proto.EventSink | proto.EventChange, 8},
			},
		},
		{
			"change then remove",
			[]event{
				{proto.EventSinkInput, proto.EventChange, 3},
				{proto.EventSource, proto.EventChange, 3},
				{proto.EventSinkInput, proto.EventRemove, 3},
			},
			[][2]uint32{
				{proto.EventSource | proto.EventChange, 3},
				{proto.EventSinkInput | proto.EventRemove, 3},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient()
			for _, ev := range tt.events {
				c.queueEvent(ev.facility, ev.typ, ev.index)
			}
			assert.Equal(t, tt.want, queuedEvents(c))
		})
	}

	t.Run("not subscribed", func(t *testing.T) {
		c := newTestClient()
		c.subscribed = proto.SubscriptionMaskSource
		c.queueEvent(proto.EventSink, proto.EventNew, 1)
		c.queueEvent(proto.EventSource, proto.EventNew, 1)
		assert.Equal(t, [][2]uint32{{proto.EventSource | proto.EventNew, 1}}, queuedEvents(c))
	})
}
