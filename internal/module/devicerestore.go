package module

import (
	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/collect"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/proto"
)

// Device restore subcommands.
const (
	DeviceRestoreTest = iota
	DeviceRestoreSubscribe
	DeviceRestoreEvent
	DeviceRestoreReadFormatsAll
	DeviceRestoreReadFormats
	DeviceRestoreSaveFormats
)

// Device types of the device restore extension. Only sinks carry formats.
const (
	DeviceTypeSink   = 0
	DeviceTypeSource = 1
)

// DeviceRestore exposes the formats sinks accept.
var DeviceRestore = &Info{
	Name:     "module-device-restore",
	LoadOnce: true,
	Properties: map[string]string{
		"module.author":      "pulsed",
		"module.description": "Automatically restore the volume/mute state of devices",
		"module.usage":       "",
		"module.version":     "1.0",
	},
	Create: func(m *Module, args map[string]string) (Instance, error) {
		return &deviceRestore{m: m, subscribers: map[Client]func(){}}, nil
	},
	Extension: []Subcommand{
		{"TEST", DeviceRestoreTest, deviceRestoreTest},
		{"SUBSCRIBE", DeviceRestoreSubscribe, deviceRestoreSubscribe},
		{"READ_FORMATS_ALL", DeviceRestoreReadFormatsAll, deviceRestoreReadFormatsAll},
		{"READ_FORMATS", DeviceRestoreReadFormats, deviceRestoreReadFormats},
		{"SAVE_FORMATS", DeviceRestoreSaveFormats, deviceRestoreSaveFormats},
	},
}

type deviceRestore struct {
	m           *Module
	subscribers map[Client]func()
}

func (d *deviceRestore) Load() error {
	d.m.Loaded(nil)
	return nil
}

func (d *deviceRestore) Unload() error {
	for c, remove := range d.subscribers {
		remove()
		delete(d.subscribers, c)
	}
	return nil
}

func (d *deviceRestore) notify(typ, index uint32) {
	for c := range d.subscribers {
		m := c.Pool().NewCommand(proto.OpExtension, 0)
		w := m.Writer()
		w.PutU32(d.m.Index)
		w.PutString(d.m.Name())
		w.PutU32(DeviceRestoreEvent)
		w.PutU32(typ)
		w.PutU32(index)
		c.Queue(m)
	}
}

func putFormats(w *proto.ProtocolWriter, o *manager.Object) {
	formats := collect.FormatInfos(o)
	w.PutU32(DeviceTypeSink)
	w.PutU32(o.Index)
	w.PutU8(byte(len(formats)))
	for _, f := range formats {
		w.PutFormatInfo(f)
	}
}

func deviceRestoreTest(m *Module, c Client, tag uint32, r *proto.ProtocolReader) error {
	if err := r.Done(); err != nil {
		return err
	}
	reply := c.Pool().NewReply(tag)
	reply.Writer().PutU32(1)
	c.Queue(reply)
	return nil
}

func deviceRestoreSubscribe(m *Module, c Client, tag uint32, r *proto.ProtocolReader) error {
	enable := r.Bool()
	if err := r.Done(); err != nil {
		return err
	}
	d := m.Instance().(*deviceRestore)
	if remove, ok := d.subscribers[c]; ok && !enable {
		remove()
		delete(d.subscribers, c)
	} else if !ok && enable {
		d.subscribers[c] = c.OnDisconnect(func() { delete(d.subscribers, c) })
	}
	ack(c, tag)
	return nil
}

func deviceRestoreReadFormatsAll(m *Module, c Client, tag uint32, r *proto.ProtocolReader) error {
	if err := r.Done(); err != nil {
		return err
	}
	reply := c.Pool().NewReply(tag)
	w := reply.Writer()
	c.Manager().ForEach(func(o *manager.Object) bool {
		if o.IsSink() {
			putFormats(w, o)
		}
		return true
	})
	c.Queue(reply)
	return nil
}

func findSink(c Client, r *proto.ProtocolReader) (*manager.Object, error) {
	typ := r.U32()
	index := r.U32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if typ != DeviceTypeSink {
		return nil, proto.ErrNotSupported
	}
	if index == collect.Invalid {
		return nil, proto.ErrInvalidArgument
	}
	o := collect.Select(c.Manager(), collect.ByIndex(index, "", "", (*manager.Object).IsSink))
	if o == nil {
		return nil, proto.ErrNoSuchEntity
	}
	return o, nil
}

func deviceRestoreReadFormats(m *Module, c Client, tag uint32, r *proto.ProtocolReader) error {
	o, err := findSink(c, r)
	if err != nil {
		return err
	}
	if err := r.Done(); err != nil {
		return err
	}
	reply := c.Pool().NewReply(tag)
	putFormats(reply.Writer(), o)
	c.Queue(reply)
	return nil
}

func deviceRestoreSaveFormats(m *Module, c Client, tag uint32, r *proto.ProtocolReader) error {
	o, err := findSink(c, r)
	if err != nil {
		return err
	}
	n := int(r.U8())
	// An empty list leaves the codecs untouched, so pcm is always set.
	codecs := []string{collect.EncodingCodec(proto.EncodingPCM)}
	for i := 0; i < n; i++ {
		f := r.FormatInfo()
		if err := r.Err(); err != nil {
			return err
		}
		if codec := collect.EncodingCodec(f.Encoding); codec != "" && f.Encoding != proto.EncodingPCM {
			codecs = append(codecs, codec)
		}
	}
	if err := r.Done(); err != nil {
		return err
	}
	if o.Proxy == nil {
		return proto.ErrNoSuchEntity
	}
	if err := o.Proxy.SetParam(graph.ParamProps, graph.MarshalParam(graph.PropsParam{IEC958Codecs: codecs})); err != nil {
		return err
	}
	ack(c, tag)
	m.Instance().(*deviceRestore).notify(DeviceTypeSink, o.Index)
	return nil
}
