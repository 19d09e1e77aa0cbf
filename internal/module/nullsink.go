package module

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/proto"
)

// NullSink creates a virtual sink that discards its input.
var NullSink = &Info{
	Name: "module-null-sink",
	Properties: map[string]string{
		"module.author":      "pulsed",
		"module.description": "A NULL sink",
		"module.usage": "sink_name=<name of sink> sink_properties=<properties for the sink> " +
			"format=<sample format> rate=<sample rate> channels=<number of channels> " +
			"channel_map=<channel map>",
		"module.version": "1.0",
	},
	Create: newNullSink,
}

type nullSink struct {
	manager.NopListener
	m      *Module
	props  graph.Props
	id     uint32
	remove func()
}

func newNullSink(m *Module, args map[string]string) (Instance, error) {
	props := graph.Props{}
	if s, ok := args["sink_properties"]; ok {
		p, err := ParseProps(s)
		if err != nil {
			return nil, err
		}
		props = p
	}
	name := args["sink_name"]
	if name == "" {
		name = "null-sink"
	}
	props["node.name"] = name
	if _, ok := props["node.description"]; !ok {
		if d, ok := props["device.description"]; ok {
			props["node.description"] = d
		} else {
			props["node.description"] = name
		}
	}
	if _, ok := props["media.class"]; !ok {
		props["media.class"] = "Audio/Sink"
	}
	if s, ok := args["format"]; ok {
		f, ok := proto.ParseFormat(s)
		if !ok {
			return nil, fmt.Errorf("%w: invalid format %q", ErrInvalidArgs, s)
		}
		props["audio.format"] = proto.FormatName(f)
	}
	if s, ok := args["rate"]; ok {
		if _, err := strconv.ParseUint(s, 10, 32); err != nil {
			return nil, fmt.Errorf("%w: invalid rate %q", ErrInvalidArgs, s)
		}
		props["audio.rate"] = s
	}
	channels := 0
	if s, ok := args["channels"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > proto.ChannelsMax {
			return nil, fmt.Errorf("%w: invalid channels %q", ErrInvalidArgs, s)
		}
		channels = n
		props["audio.channels"] = s
	}
	if s, ok := args["channel_map"]; ok {
		cm, ok := proto.ParseChannelMap(s)
		if !ok || (channels != 0 && len(cm) != channels) {
			return nil, fmt.Errorf("%w: invalid channel_map %q", ErrInvalidArgs, s)
		}
		props["audio.position"] = strings.Join(cm.Names(), ",")
		props["audio.channels"] = strconv.Itoa(len(cm))
	}
	props["factory.name"] = "support.null-audio-sink"
	props["pulse.module.id"] = strconv.FormatUint(uint64(m.ID()), 10)
	return &nullSink{m: m, props: props, id: graph.IDInvalid}, nil
}

func (n *nullSink) Load() error {
	mgr := n.m.Host.Manager()
	n.remove = mgr.AddListener(n)
	id, err := n.m.Host.Core().CreateObject("adapter", n.props)
	if err != nil {
		n.remove()
		n.remove = nil
		return err
	}
	n.id = id
	n.m.Log.WithFields(logrus.Fields{"id": id, "name": n.props["node.name"]}).Debug("created null sink")
	return nil
}

func (n *nullSink) Added(o *manager.Object) {
	if o.ID == n.id {
		n.m.Loaded(nil)
	}
}

func (n *nullSink) Removed(o *manager.Object) {
	if o.ID != n.id || n.m.Unloading() {
		return
	}
	n.id = graph.IDInvalid
	n.m.Host.Exec().Invoke(func() {
		if err := n.m.Host.UnloadModule(n.m); err != nil {
			n.m.Log.WithError(err).Debug("unloading null sink")
		}
	})
}

func (n *nullSink) Disconnect() {
	n.m.Loaded(graph.ErrDisconnected)
}

func (n *nullSink) Unload() error {
	if n.remove != nil {
		n.remove()
		n.remove = nil
	}
	if n.id != graph.IDInvalid {
		id := n.id
		n.id = graph.IDInvalid
		return n.m.Host.Core().Destroy(id)
	}
	return nil
}
