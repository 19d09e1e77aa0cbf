package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jfreymuth/pulsed/internal/config"
)

const (
	listenFDsStart = 3
	acceptBackoff  = 100 * time.Millisecond
)

// listener accepts clients on one socket. Its counters are owned by the
// event loop.
type listener struct {
	s   *Server
	ln  net.Listener
	ep  endpoint
	cfg config.Address
	log *logrus.Entry
	// path is removed when the listener closes.
	path string

	clients int
	// waiting holds the accept goroutine while it is paused.
	waiting chan struct{}
}

func (l *listener) String() string { return l.ep.String() }

// activatedListener returns the socket passed by the service manager for
// path, if there is one.
func activatedListener(path string) (net.Listener, bool) {
	if pid, err := strconv.Atoi(os.Getenv("LISTEN_PID")); err != nil || pid != os.Getpid() {
		return nil, false
	}
	n, err := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if err != nil {
		return nil, false
	}
	for fd := listenFDsStart; fd < listenFDsStart+n; fd++ {
		sa, err := unix.Getsockname(fd)
		if err != nil {
			continue
		}
		if ua, ok := sa.(*unix.SockaddrUnix); !ok || ua.Name != path {
			continue
		}
		f := os.NewFile(uintptr(fd), path)
		ln, err := net.FileListener(f)
		f.Close()
		if err != nil {
			continue
		}
		return ln, true
	}
	return nil, false
}

// checkStale makes sure path can be bound: a live server on it is an
// error, a socket nobody listens on is removed.
func checkStale(path string, log *logrus.Entry) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return syscall.EEXIST
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return syscall.EADDRINUSE
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		return err
	}
	log.WithField("path", path).Warn("removing stale socket")
	return os.Remove(path)
}

func sockaddr(ep endpoint) (domain int, sa unix.Sockaddr, err error) {
	switch ep.Network {
	case "unix":
		return unix.AF_UNIX, &unix.SockaddrUnix{Name: ep.Address}, nil
	case "tcp4", "tcp6":
		ap, err := netip.ParseAddrPort(ep.Address)
		if err != nil {
			return 0, nil, err
		}
		if ep.Network == "tcp4" {
			return unix.AF_INET, &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}, nil
		}
		return unix.AF_INET6, &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}, nil
	}
	return 0, nil, syscall.EAFNOSUPPORT
}

// listenSocket creates a listening socket with the given backlog.
func listenSocket(ep endpoint, backlog int) (net.Listener, error) {
	domain, sa, err := sockaddr(ep)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, &OpError{"socket", ep.String(), err}
	}
	fail := func(op string, err error) (net.Listener, error) {
		unix.Close(fd)
		return nil, &OpError{op, ep.String(), err}
	}
	if domain != unix.AF_UNIX {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return fail("setsockopt SO_REUSEADDR", err)
		}
	}
	if domain == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			return fail("setsockopt IPV6_V6ONLY", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if domain == unix.AF_UNIX {
		if err := os.Chmod(ep.Address, 0o777); err != nil {
			return fail("chmod", err)
		}
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}
	f := os.NewFile(uintptr(fd), ep.String())
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, &OpError{"listen", ep.String(), err}
	}
	return ln, nil
}

func (s *Server) openListener(ep endpoint, cfg config.Address) (*listener, error) {
	log := s.log.WithField("address", ep.String())
	l := &listener{s: s, ep: ep, cfg: cfg, log: log}
	if ep.Network == "unix" {
		if ln, ok := activatedListener(ep.Address); ok {
			log.Info("using activated socket")
			l.ln = ln
			return l, nil
		}
		if err := os.MkdirAll(s.runtimeDir, 0o700); err != nil {
			return nil, &OpError{"mkdir", s.runtimeDir, err}
		}
		if err := checkStale(ep.Address, log); err != nil {
			return nil, &OpError{"listen", ep.String(), err}
		}
		l.path = ep.Address
	}
	ln, err := listenSocket(ep, cfg.ListenBacklog)
	if err != nil {
		return nil, err
	}
	l.ln = ln
	log.WithField("backlog", cfg.ListenBacklog).Info("listening")
	return l, nil
}

func (l *listener) close() {
	l.ln.Close()
	if l.path != "" {
		os.Remove(l.path)
	}
}

func fdsExhausted(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}

// serve accepts connections until ctx is canceled or the socket is closed.
// Accepted connections are handed to the event loop.
func (l *listener) serve(ctx context.Context) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if fdsExhausted(err) {
				wait := make(chan struct{})
				l.s.exec.Invoke(func() { l.pause(err, wait) })
				select {
				case <-wait:
				case <-ctx.Done():
					return nil
				}
				continue
			}
			l.log.WithError(err).Warn("accept failed")
			select {
			case <-time.After(acceptBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		l.s.exec.Invoke(func() { l.s.accept(l, conn) })
	}
}

// pause stops accepting until one of the clients of l leaves. Without
// clients there is nothing to wait for, so accepting is retried after a
// short delay.
func (l *listener) pause(err error, wait chan struct{}) {
	if l.clients == 0 || l.s.closed {
		l.log.WithError(err).Error("accept failed")
		time.AfterFunc(acceptBackoff, func() { close(wait) })
		return
	}
	l.log.WithFields(logrus.Fields{"clients": l.clients}).WithError(err).Warn("out of file descriptors, pausing accept")
	l.s.metrics.AcceptPause()
	l.waiting = wait
}

// clientLeft resumes a paused accept loop.
func (l *listener) clientLeft() {
	l.clients--
	if l.waiting != nil {
		l.log.Info("resuming accept")
		close(l.waiting)
		l.waiting = nil
	}
}

func (l *listener) access() string {
	if l.cfg.Access != "" {
		return l.cfg.Access
	}
	if l.ep.Network != "unix" {
		return "restricted"
	}
	return ""
}

func (l *listener) full() bool {
	return l.cfg.MaxClients > 0 && l.clients >= l.cfg.MaxClients
}

// listenAll opens every configured address. It returns the number of
// sockets opened; if none could be opened the first error is returned.
func (s *Server) listenAll() (int, error) {
	var first error
	n := 0
	for _, a := range s.cfg.Addresses {
		eps, err := parseAddress(a.Address, s.runtimeDir)
		if err != nil {
			s.log.WithError(err).Warn("invalid server address")
			if first == nil {
				first = err
			}
			continue
		}
		for _, ep := range eps {
			l, err := s.openListener(ep, a)
			if err != nil {
				s.log.WithError(err).Warn("cannot listen")
				if first == nil {
					first = err
				}
				continue
			}
			s.listeners = append(s.listeners, l)
			n++
		}
	}
	if n == 0 {
		if first == nil {
			first = fmt.Errorf("no server address configured: %w", syscall.EINVAL)
		}
		return 0, first
	}
	return n, nil
}
