package manager

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
	"github.com/jfreymuth/pulsed/graph/local"
)

func TestMain(m *testing.M) {
	// manager data caches keep their janitor until collected
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
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

func (q *queue) step() {
	q.mu.Lock()
	f := q.fns[0]
	q.fns = q.fns[1:]
	q.mu.Unlock()
	f()
}

// stepUntil runs queued callbacks one by one until cond holds. It reports
// false if the queue ran empty first.
func (q *queue) stepUntil(cond func() bool) bool {
	for !cond() {
		q.mu.Lock()
		empty := len(q.fns) == 0
		q.mu.Unlock()
		if empty {
			return false
		}
		q.step()
	}
	return true
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

type events struct {
	NopListener
	log []string
	ids map[string][]uint32
}

func (e *events) record(what string, o *Object) {
	e.log = append(e.log, what)
	if e.ids == nil {
		e.ids = map[string][]uint32{}
	}
	e.ids[what] = append(e.ids[what], o.ID)
}

func (e *events) Sync()             { e.log = append(e.log, "sync") }
func (e *events) Added(o *Object)   { e.record("added", o) }
func (e *events) Updated(o *Object) { e.record("updated", o) }
func (e *events) Removed(o *Object) { e.record("removed", o) }
func (e *events) Metadata(meta *Object, subject uint32, key, typ, value string) {
	e.log = append(e.log, "metadata:"+key)
}
func (e *events) ObjectDataTimeout(o *Object, key string) { e.log = append(e.log, "timeout:"+key) }

const sinkName = "alsa_output.pci-0000_00_1f.3.analog-stereo"

func setup(t *testing.T) (*Manager, *events, *local.Graph, *queue) {
	t.Helper()
	q := &queue{}
	log := logrus.NewEntry(logrus.New())
	g := local.New(q, log, local.Config{Manual: true})
	t.Cleanup(g.Close)
	core, err := g.Connect(graph.Props{"application.name": "manager-test"})
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })
	m := New(core, q, log)
	t.Cleanup(m.Close)
	ev := &events{}
	m.AddListener(ev)
	q.run()
	return m, ev, g, q
}

func find(m *Manager, name string) *Object {
	var found *Object
	m.ForEach(func(o *Object) bool {
		if o.Props["node.name"] == name || o.Props["device.name"] == name {
			found = o
			return false
		}
		return true
	})
	return found
}

func TestObjectsAddedAfterBarrier(t *testing.T) {
	m, ev, _, _ := setup(t)

	require.NotEmpty(t, ev.log)
	// The metadata object is announced right away, everything else after
	// the first barrier.
	assert.Equal(t, "added", ev.log[0])
	first := -1
	for i, e := range ev.log {
		if e == "sync" {
			first = i
			break
		}
	}
	require.Greater(t, first, 0)
	for _, e := range ev.log[1:first] {
		assert.NotEqual(t, "added", e)
	}

	sink := find(m, sinkName)
	require.NotNil(t, sink)
	assert.Equal(t, KindNode, sink.Kind)
	assert.True(t, sink.IsSink())
	assert.True(t, sink.IsMonitor())
	assert.False(t, sink.IsSource())
	assert.True(t, sink.IsRecordable())
	assert.Equal(t, uint32(sink.Serial), sink.Index)
	assert.False(t, sink.Creating())

	card := find(m, "alsa_card.pci-0000_00_1f.3")
	require.NotNil(t, card)
	assert.True(t, card.IsCard())
	assert.Len(t, card.ParamsByID(graph.ParamEnumProfile), 3)
	assert.Len(t, card.ParamsByID(graph.ParamRoute), 2)
	assert.Len(t, sink.ParamsByID(graph.ParamProps), 1)
	assert.Len(t, sink.ParamsByID(graph.ParamEnumFormat), 1)
}

func TestUpdateCoalesced(t *testing.T) {
	m, ev, _, q := setup(t)
	card := find(m, "alsa_card.pci-0000_00_1f.3")
	sink := find(m, sinkName)
	ev.log, ev.ids = nil, nil

	err := card.Proxy.SetParam(graph.ParamRoute, graph.MarshalParam(graph.RouteParam{
		Index:  0,
		Device: graph.Int(0),
		Props:  &graph.PropsParam{ChannelVolumes: []float32{0.5, 0.5}},
	}))
	require.NoError(t, err)
	q.run()

	assert.Contains(t, ev.ids["updated"], sink.ID)
	// Only the active route changed, which is reported on the node.
	assert.NotContains(t, ev.ids["updated"], card.ID)
	n := 0
	for _, id := range ev.ids["updated"] {
		if id == sink.ID {
			n++
		}
	}
	assert.Equal(t, 1, n)

	props := sink.ParamsByID(graph.ParamProps)
	require.Len(t, props, 1)
	var p graph.PropsParam
	require.NoError(t, json.Unmarshal(props[0].Blob, &p))
	assert.Equal(t, []float32{0.5, 0.5}, p.ChannelVolumes)
}

func TestRemoveBeforeVisible(t *testing.T) {
	m, ev, g, q := setup(t)
	other, err := g.Connect(nil)
	require.NoError(t, err)
	defer other.Close()
	ev.log, ev.ids = nil, nil

	id, err := other.CreateObject("adapter", graph.Props{"node.name": "short-lived", "media.class": "Audio/Sink", "object.linger": "true"})
	require.NoError(t, err)
	require.True(t, q.stepUntil(func() bool { return m.Object(id) != nil }))
	assert.True(t, m.Object(id).Creating())
	require.NoError(t, other.Destroy(id))
	q.run()

	assert.NotContains(t, ev.ids["added"], id)
	assert.NotContains(t, ev.ids["removed"], id)
	assert.Nil(t, m.Object(id))
}

func TestRemoveVisible(t *testing.T) {
	m, ev, g, q := setup(t)
	other, err := g.Connect(nil)
	require.NoError(t, err)
	defer other.Close()

	id, err := other.CreateObject("adapter", graph.Props{"node.name": "null", "media.class": "Audio/Sink"})
	require.NoError(t, err)
	q.run()
	o := m.Object(id)
	require.NotNil(t, o)
	assert.Contains(t, ev.ids["added"], id)
	assert.True(t, o.IsVirtual())

	require.NoError(t, other.Destroy(id))
	q.run()
	assert.Contains(t, ev.ids["removed"], id)
	assert.Equal(t, ^uint64(0), o.ChangeMask)
	assert.Nil(t, m.Object(id))
}

func TestMetadata(t *testing.T) {
	m, ev, _, q := setup(t)
	var meta *Object
	m.ForEach(func(o *Object) bool {
		if o.Kind == KindMetadata {
			meta = o
		}
		return true
	})
	require.NotNil(t, meta)
	assert.Contains(t, ev.log, "metadata:default.audio.sink")

	ev.log = nil
	require.NoError(t, m.SetMetadata(meta, graph.IDCore, "default.configured.audio.sink", "Spa:String:JSON", `{"name":"x"}`))
	q.run()
	assert.Contains(t, ev.log, "metadata:default.configured.audio.sink")

	assert.ErrorIs(t, m.SetMetadata(meta, 12345, "k", "", ""), ErrNoEntity)
	assert.ErrorIs(t, m.SetMetadata(nil, graph.IDCore, "k", "", ""), ErrNotSupported)
}

func TestTemporaryData(t *testing.T) {
	m, ev, _, q := setup(t)
	sink := find(m, sinkName)
	ev.log = nil

	m.SetTemporaryData(sink, "move", 42, 10*time.Millisecond)
	assert.Equal(t, 42, sink.Data("move"))

	assert.Eventually(t, func() bool {
		q.run()
		for _, e := range ev.log {
			if e == "timeout:move" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	// The data outlives its timeout.
	assert.Equal(t, 42, sink.Data("move"))

	ev.log = nil
	m.SetTemporaryData(sink, "gone", 1, 10*time.Millisecond)
	sink.RemoveData("gone")
	time.Sleep(30 * time.Millisecond)
	q.run()
	assert.NotContains(t, ev.log, "timeout:gone")

	// Setting the data again restarts its lifetime.
	m.SetTemporaryData(sink, "again", 1, 10*time.Millisecond)
	sink.RemoveData("again")
	m.SetTemporaryData(sink, "again", 2, time.Hour)
	time.Sleep(3 * dataJanitorInterval)
	q.run()
	assert.NotContains(t, ev.log, "timeout:again")
	assert.Equal(t, 2, sink.Data("again"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Node", KindNode.String())
	assert.Equal(t, "Metadata", KindMetadata.String())
}
