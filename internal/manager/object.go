package manager

import (
	"strconv"

	"github.com/antonholmquist/jason"

	"github.com/jfreymuth/pulsed/graph"
)

type Kind int

const (
	KindCore Kind = iota
	KindClient
	KindModule
	KindDevice
	KindNode
	KindLink
	KindMetadata
)

var kindTypes = map[graph.Type]Kind{
	graph.TypeCore:     KindCore,
	graph.TypeClient:   KindClient,
	graph.TypeModule:   KindModule,
	graph.TypeDevice:   KindDevice,
	graph.TypeNode:     KindNode,
	graph.TypeLink:     KindLink,
	graph.TypeMetadata: KindMetadata,
}

func (k Kind) String() string {
	for t, kk := range kindTypes {
		if kk == k {
			return string(t)
		}
	}
	return "unknown"
}

// Flags classify nodes and devices. They are derived from the object
// properties whenever those change.
type Flags uint32

const (
	FlagSink Flags = 1 << iota
	FlagSource
	FlagMonitor
	FlagSinkInput
	FlagSourceOutput
	FlagCard
	FlagVirtual
	FlagNetwork
)

// Param is one value of an object parameter.
type Param struct {
	ID   graph.ParamID
	Seq  int
	Blob []byte
}

// Object mirrors one global of the graph.
type Object struct {
	ID          uint32
	Serial      uint64
	Index       uint32
	Kind        Kind
	Flags       Flags
	Version     int
	Permissions uint32
	Props       graph.Props
	// Info is nil until the first info event arrived.
	Info   *graph.Info
	Params []Param
	Proxy  graph.Proxy

	// ChangeMask is set by listeners to describe the last change.
	ChangeMask  uint64
	MessagePath string

	creating bool
	removing bool
	changed  int
	pending  []Param
	paramSeq map[graph.ParamID]int
	seen     map[graph.ParamID]uint32
	data     map[string]interface{}
	m        *Manager
}

func (o *Object) Is(f Flags) bool { return o.Flags&f == f }

// IsAny reports whether o has at least one of the flags in f.
func (o *Object) IsAny(f Flags) bool { return o.Flags&f != 0 }

func (o *Object) IsSink() bool         { return o.Is(FlagSink) }
func (o *Object) IsSource() bool       { return o.Is(FlagSource) }
func (o *Object) IsMonitor() bool      { return o.Is(FlagMonitor) }
func (o *Object) IsSinkInput() bool    { return o.Is(FlagSinkInput) }
func (o *Object) IsSourceOutput() bool { return o.Is(FlagSourceOutput) }
func (o *Object) IsCard() bool         { return o.Is(FlagCard) }
func (o *Object) IsVirtual() bool      { return o.Is(FlagVirtual) }
func (o *Object) IsNetwork() bool      { return o.Is(FlagNetwork) }
func (o *Object) IsClient() bool       { return o.Kind == KindClient }
func (o *Object) IsModule() bool       { return o.Kind == KindModule }
func (o *Object) IsLink() bool         { return o.Kind == KindLink }

func (o *Object) IsSourceOrMonitor() bool { return o.IsAny(FlagSource | FlagMonitor) }

func (o *Object) IsRecordable() bool { return o.IsAny(FlagSource | FlagSink | FlagSinkInput) }

// Creating reports whether the object is still waiting for its first
// barrier.
func (o *Object) Creating() bool { return o.creating }

// Removing reports whether the object is being removed.
func (o *Object) Removing() bool { return o.removing }

// InfoProps returns the properties of the last info event, or nil.
func (o *Object) InfoProps() graph.Props {
	if o.Info == nil {
		return nil
	}
	return o.Info.Props
}

// ParamsByID returns the values of parameter id.
func (o *Object) ParamsByID(id graph.ParamID) []Param {
	var ps []Param
	for _, p := range o.Params {
		if p.ID == id {
			ps = append(ps, p)
		}
	}
	return ps
}

func (o *Object) updateFlags() {
	var f Flags
	class := o.Props["media.class"]
	switch o.Kind {
	case KindDevice:
		if class == "Audio/Device" {
			f |= FlagCard
		}
	case KindNode:
		switch class {
		case "Audio/Sink":
			f |= FlagSink | FlagMonitor
		case "Audio/Duplex":
			f |= FlagSink | FlagSource
		case "Audio/Source", "Audio/Source/Virtual":
			f |= FlagSource
		case "Stream/Output/Audio":
			f |= FlagSinkInput
		case "Stream/Input/Audio":
			f |= FlagSourceOutput
		}
		if p := o.InfoProps(); p != nil {
			if parseBool(p["node.virtual"]) {
				f |= FlagVirtual
			}
			if parseBool(p["node.network"]) {
				f |= FlagNetwork
			}
		}
	}
	o.Flags = f
}

func parseBool(s string) bool {
	if s == "true" {
		return true
	}
	n, err := strconv.Atoi(s)
	return err == nil && n != 0
}

// SetData attaches a value to the object for the lifetime of the object.
func (o *Object) SetData(key string, v interface{}) {
	if o.data == nil {
		o.data = make(map[string]interface{})
	}
	o.data[key] = v
}

// Data returns the value stored with SetData or SetTemporaryData.
func (o *Object) Data(key string) interface{} {
	return o.data[key]
}

// RemoveData removes a value stored with SetData or SetTemporaryData.
func (o *Object) RemoveData(key string) {
	delete(o.data, key)
	o.m.data.Delete(dataKey(o, key))
}

// routeDevice extracts the card profile device of a Route parameter.
func routeDevice(blob []byte) (int32, bool) {
	v, err := jason.NewObjectFromBytes(blob)
	if err != nil {
		return 0, false
	}
	d, err := v.GetInt64("device")
	if err != nil {
		return 0, false
	}
	return int32(d), true
}
