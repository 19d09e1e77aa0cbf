// Package module implements the modules clients can load with LOAD_MODULE.
//
// Modules are looked up in a Registry that is built once at startup. A
// loaded Module wraps an Instance created by its Info; loading may complete
// asynchronously, for example when a module waits for the graph object it
// created to appear.
package module

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/proto"
)

// Flag is set in the client visible index of every loaded module to tell
// them apart from the modules of the graph.
const Flag = 0x20000000

var (
	ErrUnknownModule = errors.New("module: unknown module")
	ErrLoaded        = errors.New("module: can only be loaded once")
	ErrInvalidArgs   = errors.New("module: invalid arguments")
)

// Host is the server side of a module.
type Host interface {
	Core() graph.Core
	Manager() *manager.Manager
	Exec() graph.Executor
	// LoadModule creates and registers a module. The caller starts it with
	// Module.Load.
	LoadModule(name, args string) (*Module, error)
	UnloadModule(m *Module) error
}

// Client is the connection an extension command arrived on.
type Client interface {
	Version() proto.Version
	Manager() *manager.Manager
	Pool() *proto.Pool
	Queue(m *proto.Message)
	// OnDisconnect registers f to run when the client goes away.
	OnDisconnect(f func()) (remove func())
}

// Instance is the implementation of a loaded module.
type Instance interface {
	// Load starts the module. It returns after calling Module.Loaded, or
	// arranges for Loaded to be called later.
	Load() error
	Unload() error
}

// Subcommand is an extension command of a module.
type Subcommand struct {
	Name    string
	Command uint32
	Run     func(m *Module, c Client, tag uint32, r *proto.ProtocolReader) error
}

// Info describes a module type.
type Info struct {
	Name     string
	LoadOnce bool
	// Properties are reported as module properties, e.g. module.description.
	Properties map[string]string
	Create     func(m *Module, args map[string]string) (Instance, error)
	Extension  []Subcommand
}

// Registry maps module names to module types.
type Registry struct {
	infos map[string]*Info
}

// NewRegistry returns a registry of the given module types.
func NewRegistry(infos ...*Info) *Registry {
	r := &Registry{infos: make(map[string]*Info, len(infos))}
	for _, i := range infos {
		r.infos[i.Name] = i
	}
	return r
}

// Builtin returns a registry of all modules implemented by this package.
func Builtin() *Registry {
	return NewRegistry(NullSink, AlwaysSink, StreamRestore, DeviceRestore)
}

// Lookup returns the module type name, or nil.
func (r *Registry) Lookup(name string) *Info { return r.infos[name] }

// Names returns the sorted names of all module types.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.infos))
	for n := range r.infos {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Module is a loaded module.
type Module struct {
	// Index is the client visible index including Flag.
	Index uint32
	Info  *Info
	Args  string
	Props graph.Props
	Host  Host
	Log   *logrus.Entry

	instance  Instance
	loaded    bool
	done      bool
	unloading bool
	waiters   []func(error)
}

// New creates a module of type info. id is the index without Flag.
func New(host Host, log *logrus.Entry, info *Info, id uint32, args string) (*Module, error) {
	m := &Module{
		Index: id | Flag,
		Info:  info,
		Args:  args,
		Props: graph.Props{},
		Host:  host,
		Log:   log.WithFields(logrus.Fields{"module": info.Name, "index": id}),
	}
	for k, v := range info.Properties {
		m.Props[k] = v
	}
	parsed, err := ParseArgs(args)
	if err != nil {
		return nil, err
	}
	inst, err := info.Create(m, parsed)
	if err != nil {
		return nil, err
	}
	m.instance = inst
	return m, nil
}

// Name returns the module type name.
func (m *Module) Name() string { return m.Info.Name }

// ID returns the index without Flag.
func (m *Module) ID() uint32 { return m.Index &^ Flag }

// Load starts the module. f is called once loading finished.
func (m *Module) Load(f func(error)) {
	if f != nil {
		m.waiters = append(m.waiters, f)
	}
	m.Log.Info("loading module")
	if err := m.instance.Load(); err != nil {
		m.Loaded(err)
	}
}

// Loaded completes loading. Only the first call has an effect.
func (m *Module) Loaded(err error) {
	if m.done {
		return
	}
	m.done = true
	m.loaded = err == nil
	if err != nil {
		m.Log.WithError(err).Warn("module failed to load")
	} else {
		m.Log.Debug("module loaded")
	}
	waiters := m.waiters
	m.waiters = nil
	for _, f := range waiters {
		f(err)
	}
}

// IsLoaded reports whether loading completed successfully.
func (m *Module) IsLoaded() bool { return m.loaded }

// Unload stops the module. It is safe to call more than once.
func (m *Module) Unload() error {
	if m.unloading {
		return nil
	}
	m.unloading = true
	m.loaded = false
	m.Log.Info("unloading module")
	if !m.done {
		m.Loaded(errors.New("module unloaded while loading"))
	}
	return m.instance.Unload()
}

// Unloading reports whether Unload was called.
func (m *Module) Unloading() bool { return m.unloading }

// Instance returns the implementation of the module.
func (m *Module) Instance() Instance { return m.instance }

// Subcommand returns the extension command cmd, or nil.
func (m *Module) Subcommand(cmd uint32) *Subcommand {
	for i := range m.Info.Extension {
		if m.Info.Extension[i].Command == cmd {
			return &m.Info.Extension[i]
		}
	}
	return nil
}

// ParseArgs splits a module argument string of the form
// key=value key2="quoted value" key3='single quoted'.
func ParseArgs(s string) (map[string]string, error) {
	args := map[string]string{}
	s = strings.TrimSpace(s)
	for s != "" {
		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("%w: missing value in %q", ErrInvalidArgs, s)
		}
		key := s[:eq]
		if strings.ContainsAny(key, " \t\n") {
			return nil, fmt.Errorf("%w: invalid key %q", ErrInvalidArgs, key)
		}
		s = s[eq+1:]
		var value string
		if s != "" && (s[0] == '"' || s[0] == '\'') {
			q := s[0]
			end := -1
			for i := 1; i < len(s); i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
					continue
				}
				if s[i] == q {
					end = i
					break
				}
			}
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated quote in %q", ErrInvalidArgs, key)
			}
			value = unescape(s[1:end], q)
			s = s[end+1:]
		} else {
			end := strings.IndexAny(s, " \t\n")
			if end < 0 {
				end = len(s)
			}
			value = s[:end]
			s = s[end:]
		}
		args[key] = value
		s = strings.TrimLeft(s, " \t\n")
	}
	return args, nil
}

func unescape(s string, q byte) string {
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == q || s[i+1] == '\\') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ParseProps parses a property list argument such as
// device.description="Dummy Output" node.latency=1024/48000.
func ParseProps(s string) (graph.Props, error) {
	args, err := ParseArgs(s)
	if err != nil {
		return nil, err
	}
	return graph.Props(args), nil
}
