// Package graph describes the audio graph the server translates client
// requests into. The graph is an asynchronous object model: objects appear
// and disappear through a registry, expose properties and parameters, and
// report completion of requests through sequence numbers.
//
// All callbacks of Listener, ProxyEvents and StreamEvents except
// StreamEvents.Process are invoked through the Executor passed to the graph
// implementation, so that they never run concurrently with each other.
package graph

import "errors"

// Executor runs functions in order on a single goroutine.
type Executor interface {
	Invoke(func())
}

// Props is a set of object properties.
type Props map[string]string

// Copy returns a copy of p.
func (p Props) Copy() Props {
	c := make(Props, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Object types.
type Type string

const (
	TypeCore     Type = "Core"
	TypeClient   Type = "Client"
	TypeModule   Type = "Module"
	TypeDevice   Type = "Device"
	TypeNode     Type = "Node"
	TypeLink     Type = "Link"
	TypeMetadata Type = "Metadata"
)

// Permission bits of a global.
const (
	PermRead     = 0x100
	PermWrite    = 0x080
	PermExecute  = 0x040
	PermMetadata = 0x008
	PermAll      = PermRead | PermWrite | PermExecute | PermMetadata
)

// IDCore is the id of the core object.
const IDCore = 0

// IDInvalid marks a missing object.
const IDInvalid = 0xFFFFFFFF

// A Global is an object announced by the registry.
type Global struct {
	ID          uint32
	Serial      uint64
	Type        Type
	Version     int
	Permissions uint32
	Props       Props
}

type ParamID uint32

const (
	ParamInvalid ParamID = iota
	ParamPropInfo
	ParamProps
	ParamEnumFormat
	ParamFormat
	ParamLatency
	ParamEnumProfile
	ParamProfile
	ParamEnumRoute
	ParamRoute
)

var paramNames = map[ParamID]string{
	ParamPropInfo:    "PropInfo",
	ParamProps:       "Props",
	ParamEnumFormat:  "EnumFormat",
	ParamFormat:      "Format",
	ParamLatency:     "Latency",
	ParamEnumProfile: "EnumProfile",
	ParamProfile:     "Profile",
	ParamEnumRoute:   "EnumRoute",
	ParamRoute:       "Route",
}

func (id ParamID) String() string {
	if n, ok := paramNames[id]; ok {
		return n
	}
	return "Invalid"
}

// Param info flags.
const (
	ParamRead  = 1 << 0
	ParamWrite = 1 << 1
)

// ParamInfo announces a parameter of an object. Serial changes whenever the
// parameter values change.
type ParamInfo struct {
	ID     ParamID
	Flags  uint32
	Serial uint32
}

// Readable reports whether the parameter can be enumerated.
func (p ParamInfo) Readable() bool { return p.Flags&ParamRead != 0 }

type NodeState int

const (
	NodeError NodeState = iota - 1
	NodeCreating
	NodeSuspended
	NodeIdle
	NodeRunning
)

func (s NodeState) String() string {
	switch s {
	case NodeError:
		return "error"
	case NodeCreating:
		return "creating"
	case NodeSuspended:
		return "suspended"
	case NodeIdle:
		return "idle"
	case NodeRunning:
		return "running"
	}
	return "unknown"
}

// Change mask bits of Info.
const (
	ChangeProps  = 1 << 0
	ChangeParams = 1 << 1
	ChangeState  = 1 << 2
)

// Info is the state of a bound object. Which fields are meaningful depends on
// the object type.
type Info struct {
	ChangeMask uint32
	Props      Props
	Params     []ParamInfo

	// Node
	State NodeState
	Error string

	// Module
	Name string
	Args string
}

// CoreInfo describes the graph instance.
type CoreInfo struct {
	ID       uint32
	Cookie   uint32
	UserName string
	HostName string
	Version  string
	Name     string
	Props    Props
}

// Listener receives registry and core events.
type Listener interface {
	Global(Global)
	GlobalRemove(id uint32)
	// Done acknowledges a Sync with the same sequence number.
	Done(seq int)
	// Disconnected is emitted when the graph closed the connection.
	Disconnected()
}

var (
	ErrDisconnected = errors.New("graph: disconnected")
	ErrNoEntity     = errors.New("graph: no such object")
	ErrNotSupported = errors.New("graph: operation not supported")
	ErrInvalidParam = errors.New("graph: invalid parameter")
)

// Core is a connection to the graph.
type Core interface {
	// AddListener registers l. All existing globals are announced to l.
	AddListener(l Listener) (remove func())
	// Sync requests a Done event with seq after all pending events.
	Sync(seq int)
	Bind(g Global) (Proxy, error)
	Destroy(id uint32) error
	CreateStream(cfg StreamConfig, events StreamEvents) (Stream, error)
	// CreateObject creates an object from a factory and returns its id.
	CreateObject(factory string, props Props) (uint32, error)
	Info() CoreInfo
	// ClientID returns the id of the client object of this connection.
	ClientID() uint32
	// UpdateProperties merges props into the client object. Empty values
	// remove keys.
	UpdateProperties(props Props) error
	Close() error
}

// ProxyEvents receives events of a bound object.
type ProxyEvents interface {
	Info(Info)
	Param(seq int, id ParamID, index, next uint32, blob []byte)
	Property(subject uint32, key, typ, value string)
	Removed()
}

// Commands sent to nodes.
type Command int

const (
	CommandSuspend Command = iota
	CommandPause
	CommandStart
)

// Proxy is a bound object.
type Proxy interface {
	SetListener(ProxyEvents)
	// EnumParams requests Param events with seq for all values of id.
	EnumParams(seq int, id ParamID)
	SetParam(id ParamID, blob []byte) error
	SendCommand(cmd Command) error
	// SetProperty is only supported by metadata objects. An empty value
	// removes the key.
	SetProperty(subject uint32, key, typ, value string) error
	Destroy()
}
