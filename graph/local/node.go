package local

import (
	"encoding/json"
	"strconv"

	"github.com/jfreymuth/pulsed/graph"
)

type node struct {
	format   graph.Format
	priority int
	volumes  []float32
	mute     bool
	iec958   []string
	offset   int64
	state    graph.NodeState
	virtual  bool

	card    *object
	device  int32
	profile []string

	// stream is set for client stream nodes.
	stream *stream
	// active counts the streaming streams linked to the node.
	active int
}

// addNodeLocked creates a device node. card is nil for nodes that are not
// part of a card.
func (g *Graph) addNodeLocked(f *NodeFixture, card *object) *object {
	n := &node{
		format: graph.Format{
			Format:   f.Format,
			Rate:     f.Rate,
			Channels: f.Channels,
			Position: append([]string(nil), f.Position...),
		},
		priority: f.Priority,
		mute:     f.Mute,
		iec958:   append([]string(nil), f.IEC958Codecs...),
		state:    graph.NodeIdle,
		virtual:  f.Virtual,
		device:   f.Device,
		profile:  f.Profiles,
		card:     card,
	}
	vol := float32(1)
	if f.Volume != nil {
		vol = *f.Volume
	}
	n.volumes = make([]float32, f.Channels)
	for i := range n.volumes {
		n.volumes[i] = vol
	}

	props := graph.Props{
		"node.name":        f.Name,
		"node.description": f.Description,
		"media.class":      f.MediaClass,
		"priority.session": strconv.Itoa(f.Priority),
		"factory.name":     "support.null-audio-sink",
	}
	if f.Virtual {
		props["node.virtual"] = "true"
	}
	if card != nil {
		props["device.id"] = strconv.FormatUint(uint64(card.id()), 10)
		props["card.profile.device"] = strconv.Itoa(int(f.Device))
		props["api.alsa.card.name"] = card.global.Props["device.description"]
	}
	for k, v := range f.Props {
		props[k] = v
	}
	o := &object{
		global: graph.Global{Type: graph.TypeNode, Props: props},
		info: graph.Info{
			Props: props.Copy(),
			State: graph.NodeIdle,
			Params: []graph.ParamInfo{
				{ID: graph.ParamProps, Flags: graph.ParamRead | graph.ParamWrite},
				{ID: graph.ParamEnumFormat, Flags: graph.ParamRead},
				{ID: graph.ParamFormat, Flags: graph.ParamRead},
			},
		},
		node: n,
	}
	g.addObjectLocked(o)
	g.updateNodeParamsLocked(o)
	return o
}

// updateNodeParamsLocked recomputes the params of a node after its state
// changed.
func (g *Graph) updateNodeParamsLocked(o *object) {
	n := o.node
	g.setParamLocked(o, graph.ParamProps, graph.MarshalParam(g.nodeProps(n)))
	if n.stream == nil {
		enum := [][]byte{graph.MarshalParam(rawFormatParam(n.format))}
		for _, c := range n.iec958 {
			enum = append(enum, graph.MarshalParam(graph.FormatParam{
				MediaType:    "audio",
				MediaSubtype: "iec958",
				IEC958Codec:  c,
			}))
		}
		g.setParamLocked(o, graph.ParamEnumFormat, enum...)
	}
	g.setParamLocked(o, graph.ParamFormat, graph.MarshalParam(formatParam(n.format)))
}

func (g *Graph) nodeProps(n *node) graph.PropsParam {
	p := graph.PropsParam{
		ChannelVolumes: append([]float32(nil), n.volumes...),
		Mute:           graph.Bool(n.mute),
		VolumeBase:     graph.Float(1),
		VolumeStep:     graph.Float(1.0 / 65536),
	}
	if n.stream == nil {
		p.IEC958Codecs = append([]string(nil), n.iec958...)
		p.LatencyOffsetNsec = graph.Int64(n.offset)
	}
	return p
}

func rawFormatParam(f graph.Format) graph.FormatParam {
	return graph.FormatParam{
		MediaType:    "audio",
		MediaSubtype: "raw",
		Format:       f.Format,
		Rate:         f.Rate,
		Channels:     f.Channels,
		Position:     f.Position,
	}
}

func formatParam(f graph.Format) graph.FormatParam {
	if f.Encoding != "" {
		return graph.FormatParam{
			MediaType:    "audio",
			MediaSubtype: "iec958",
			Rate:         f.Rate,
			IEC958Codec:  f.Encoding,
		}
	}
	return rawFormatParam(f)
}

// setNodePropsLocked applies a Props param to a node. It reports whether
// anything changed.
func (g *Graph) setNodePropsLocked(o *object, p *graph.PropsParam) bool {
	n := o.node
	changed := false
	if len(p.ChannelVolumes) > 0 {
		if len(p.ChannelVolumes) != len(n.volumes) {
			if len(p.ChannelVolumes) != 1 {
				return false
			}
			for i := range n.volumes {
				n.volumes[i] = p.ChannelVolumes[0]
			}
		} else {
			copy(n.volumes, p.ChannelVolumes)
		}
		changed = true
	}
	if p.Mute != nil && *p.Mute != n.mute {
		n.mute = *p.Mute
		changed = true
	}
	if p.IEC958Codecs != nil && n.stream == nil {
		n.iec958 = append([]string(nil), p.IEC958Codecs...)
		changed = true
	}
	if p.LatencyOffsetNsec != nil && *p.LatencyOffsetNsec != n.offset {
		n.offset = *p.LatencyOffsetNsec
		changed = true
	}
	if !changed {
		return false
	}
	g.updateNodeParamsLocked(o)
	g.emitInfoLocked(o, graph.ChangeParams)
	if s := n.stream; s != nil {
		s.controlsChangedLocked()
	}
	return true
}

// setNodeStateLocked changes the state of a node and notifies its proxies.
func (g *Graph) setNodeStateLocked(o *object, state graph.NodeState) {
	if o.node.state == state {
		return
	}
	o.node.state = state
	o.info.State = state
	g.emitInfoLocked(o, graph.ChangeState)
}

func (g *Graph) nodeSetParamLocked(o *object, id graph.ParamID, blob []byte) error {
	if id != graph.ParamProps {
		return graph.ErrNotSupported
	}
	var p graph.PropsParam
	if err := json.Unmarshal(blob, &p); err != nil {
		return graph.ErrInvalidParam
	}
	n := o.node
	if c := n.card; c != nil && n.stream == nil {
		// Device nodes store their volume on the active route.
		if ri, ok := c.card.activeRoute[n.device]; ok {
			g.setRoutePropsLocked(c, ri, n.device, &p)
			return nil
		}
	}
	g.setNodePropsLocked(o, &p)
	return nil
}

func (g *Graph) nodeCommandLocked(o *object, cmd graph.Command) error {
	switch cmd {
	case graph.CommandSuspend:
		if o.node.active > 0 {
			return nil
		}
		g.setNodeStateLocked(o, graph.NodeSuspended)
	case graph.CommandPause:
		g.setNodeStateLocked(o, graph.NodeIdle)
	case graph.CommandStart:
		g.setNodeStateLocked(o, graph.NodeRunning)
	default:
		return graph.ErrNotSupported
	}
	return nil
}

// linkChangedLocked updates the state of a device node after a stream
// started or stopped using it.
func (g *Graph) linkChangedLocked(o *object, delta int) {
	n := o.node
	n.active += delta
	if n.active > 0 {
		g.setNodeStateLocked(o, graph.NodeRunning)
	} else if n.state == graph.NodeRunning {
		g.setNodeStateLocked(o, graph.NodeIdle)
	}
}
