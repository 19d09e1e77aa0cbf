// Package server implements the native protocol server: listening sockets,
// the per connection state machine, the command table and its handlers.
//
// All state is owned by the event loop. Each connection has a reader and a
// writer goroutine that only move frames between the socket and the loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/collect"
	"github.com/jfreymuth/pulsed/internal/config"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/internal/metrics"
	"github.com/jfreymuth/pulsed/internal/module"
	"github.com/jfreymuth/pulsed/internal/stream"
	"github.com/jfreymuth/pulsed/proto"
)

const (
	packageVersion = "15.0.0"
	serverName     = "pulsed"
)

// Connector opens a graph connection with the given client properties.
type Connector func(props graph.Props) (graph.Core, error)

type Options struct {
	Config  *config.Config
	Connect Connector
	// Exec runs all control path work. It must run functions one at a
	// time.
	Exec    graph.Executor
	Log     *logrus.Entry
	Metrics *metrics.Metrics
	// Modules defaults to module.Builtin.
	Modules *module.Registry
}

// Server is a native protocol server.
type Server struct {
	cfg      *config.Config
	log      *logrus.Entry
	exec     graph.Executor
	connect  Connector
	metrics  *metrics.Metrics
	registry *module.Registry
	pool     *proto.Pool

	runtimeDir string
	limits     stream.Limits
	defaults   collect.Defaults

	core      graph.Core
	mgr       *manager.Manager
	listeners []*listener
	clients   map[*Client]struct{}
	modules   map[uint32]*module.Module
	nextMod   uint32
	samples   *sampleCache
	closed    bool

	wg sync.WaitGroup
}

// New creates a server and connects it to the graph. Sockets are opened by
// Listen.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Connect == nil || opts.Exec == nil {
		return nil, errors.New("server: incomplete options")
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	reg := opts.Modules
	if reg == nil {
		reg = module.Builtin()
	}
	s := &Server{
		cfg:        opts.Config,
		log:        log,
		exec:       opts.Exec,
		connect:    opts.Connect,
		metrics:    opts.Metrics,
		registry:   reg,
		pool:       proto.NewPool(),
		runtimeDir: opts.Config.RuntimeDir,
		limits:     opts.Config.Limits,
		defaults: collect.Defaults{
			SampleSpec: opts.Config.DefaultSampleSpec,
			ChannelMap: opts.Config.DefaultChannelMap,
		},
		clients: make(map[*Client]struct{}),
		modules: make(map[uint32]*module.Module),
		samples: newSampleCache(),
	}
	core, err := s.connect(graph.Props{
		"application.name": serverName,
		"client.api":       "pipewire-pulse",
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to graph: %w", err)
	}
	s.core = core
	s.applyCoreInfo(core.Info())
	s.mgr = manager.New(core, s.exec, log.WithField("manager", "server"))
	return s, nil
}

func (s *Server) applyCoreInfo(info graph.CoreInfo) {
	if n, err := strconv.ParseUint(info.Props["default.clock.rate"], 10, 32); err == nil && n > 0 {
		s.defaults.SampleSpec.Rate = uint32(n)
	}
	if n, err := strconv.ParseUint(info.Props["default.clock.quantum-limit"], 10, 32); err == nil && n > 0 {
		s.limits.QuantumLimit = uint32(n)
	}
}

// Listen opens the configured sockets and returns how many were opened.
func (s *Server) Listen() (int, error) {
	return s.listenAll()
}

// Serve accepts clients on all sockets until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range s.listeners {
		l := l
		g.Go(func() error { return l.serve(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		for _, l := range s.listeners {
			l.close()
		}
		return nil
	})
	return g.Wait()
}

// Addrs returns the addresses the server listens on.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, len(s.listeners))
	for i, l := range s.listeners {
		addrs[i] = l.ln.Addr()
	}
	return addrs
}

// Close disconnects all clients, unloads all modules and closes the graph
// connection. It must be called on the event loop.
func (s *Server) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for c := range s.clients {
		c.detach()
		c.disconnect()
	}
	for _, m := range s.modules {
		if err := m.Unload(); err != nil {
			m.Log.WithError(err).Debug("unloading module")
		}
	}
	s.modules = map[uint32]*module.Module{}
	s.mgr.Close()
	s.core.Close()
	s.wg.Wait()
	s.log.Info("server closed")
}

func (s *Server) accept(l *listener, conn net.Conn) {
	if s.closed {
		conn.Close()
		return
	}
	log := l.log.WithField("peer", conn.RemoteAddr().String())
	if l.full() {
		log.WithField("max", l.cfg.MaxClients).Warn("too many client application connections")
		conn.Close()
		return
	}
	p, err := l.inspectPeer(conn, log)
	if err != nil {
		log.WithError(err).Error("rejecting client")
		conn.Close()
		return
	}
	c := newClient(s, l, conn, p, log)
	l.clients++
	s.clients[c] = struct{}{}
	s.metrics.ClientConnected()
	log.Info("client connected")
	c.start()
}

// broadcast queues a subscribe event for every client.
func (s *Server) broadcast(facility, typ, index uint32) {
	for c := range s.clients {
		c.queueEvent(facility, typ, index)
	}
}

// Core implements module.Host.
func (s *Server) Core() graph.Core { return s.core }

// Manager implements module.Host.
func (s *Server) Manager() *manager.Manager { return s.mgr }

// Exec implements module.Host.
func (s *Server) Exec() graph.Executor { return s.exec }

// LoadModule implements module.Host.
func (s *Server) LoadModule(name, args string) (*module.Module, error) {
	info := s.registry.Lookup(name)
	if info == nil {
		return nil, fmt.Errorf("%w: %s", module.ErrUnknownModule, name)
	}
	if info.LoadOnce {
		for _, m := range s.modules {
			if m.Info == info {
				return nil, fmt.Errorf("%w: %s", module.ErrLoaded, name)
			}
		}
	}
	m, err := module.New(s, s.log, info, s.nextMod, args)
	if err != nil {
		return nil, err
	}
	s.nextMod++
	s.modules[m.Index] = m
	return m, nil
}

// UnloadModule implements module.Host.
func (s *Server) UnloadModule(m *module.Module) error {
	if _, ok := s.modules[m.Index]; !ok {
		return nil
	}
	delete(s.modules, m.Index)
	err := m.Unload()
	s.broadcast(proto.EventModule, proto.EventRemove, m.Index)
	return err
}

// loadModule loads a module and reports the outcome to done once it is
// visible.
func (s *Server) loadModule(name, args string, done func(*module.Module, error)) {
	m, err := s.LoadModule(name, args)
	if err != nil {
		done(nil, err)
		return
	}
	m.Load(func(err error) {
		if err != nil {
			delete(s.modules, m.Index)
			m.Unload()
			done(nil, err)
			return
		}
		s.broadcast(proto.EventModule, proto.EventNew, m.Index)
		done(m, nil)
	})
}

// findModule returns the loaded module with the given client index or, if
// index is invalid, name.
func (s *Server) findModule(index uint32, name string) *module.Module {
	if m, ok := s.modules[index]; ok {
		return m
	}
	if index != proto.Undefined {
		return nil
	}
	for _, m := range s.modules {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// RunCommands executes the startup commands of the configuration. It must
// be called on the event loop.
func (s *Server) RunCommands() {
	for _, line := range s.cfg.Commands {
		if err := s.runCommand(line); err != nil {
			s.log.WithError(err).WithField("command", line).Warn("startup command failed")
		}
	}
}

func (s *Server) runCommand(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	switch fields[0] {
	case "load-module":
		if len(fields) < 2 {
			return fmt.Errorf("%w: missing module name", module.ErrInvalidArgs)
		}
		name := fields[1]
		args := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(line, "load-module")), name))
		s.loadModule(name, args, func(m *module.Module, err error) {
			if err != nil {
				s.log.WithError(err).WithField("module", name).Warn("cannot load module")
			}
		})
		return nil
	}
	return fmt.Errorf("unknown command %q", fields[0])
}
