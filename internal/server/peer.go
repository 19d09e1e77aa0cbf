package server

import (
	"net"
	"strconv"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/flatpak"
)

const (
	socketPriority = 6
	iptosLowDelay  = 0x10
)

// peer is what is known about the other end of a connection before it
// identified itself.
type peer struct {
	pid    int
	binary string
	props  graph.Props
}

// inspectPeer tunes the socket of conn and classifies the client. An error
// means the client must not be trusted and is rejected.
func (l *listener) inspectPeer(conn net.Conn, log *logrus.Entry) (*peer, error) {
	p := &peer{props: graph.Props{"client.api": "pipewire-pulse"}}
	switch c := conn.(type) {
	case *net.UnixConn:
		p.props["pulse.server.type"] = "unix"
		if err := p.inspectUnix(c, log); err != nil {
			return nil, err
		}
	case *net.TCPConn:
		p.props["pulse.server.type"] = "tcp"
		p.props["pulse.server.peer"] = c.RemoteAddr().String()
		if err := c.SetNoDelay(true); err != nil {
			log.WithError(err).Debug("setting TCP_NODELAY")
		}
		if a, ok := c.RemoteAddr().(*net.TCPAddr); ok && a.IP.To4() != nil {
			setSockopt(c, unix.IPPROTO_IP, unix.IP_TOS, iptosLowDelay, log)
		}
	}
	if access := l.access(); access != "" {
		if _, ok := p.props["pipewire.access"]; !ok {
			p.props["pipewire.access"] = access
		}
		p.props["client.access"] = access
	}
	return p, nil
}

func (p *peer) inspectUnix(c *net.UnixConn, log *logrus.Entry) error {
	setSockopt(c, unix.SOL_SOCKET, unix.SO_PRIORITY, socketPriority, log)
	raw, err := c.SyscallConn()
	if err != nil {
		return err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return err
	}
	if credErr != nil {
		log.WithError(credErr).Debug("no peer credentials")
		return nil
	}
	if cred.Pid == 0 {
		return nil
	}
	p.pid = int(cred.Pid)
	p.props["pipewire.sec.pid"] = strconv.Itoa(p.pid)
	if proc, err := process.NewProcess(cred.Pid); err == nil {
		if name, err := proc.Name(); err == nil {
			p.binary = name
		}
	}
	info, err := flatpak.Check(p.pid)
	if err != nil {
		return err
	}
	if info != nil {
		log.WithFields(logrus.Fields{"pid": p.pid, "app": info.AppID}).Info("sandboxed client")
		p.props["pipewire.access"] = "flatpak"
		p.props["pipewire.access.portal.app_id"] = info.AppID
		if info.InstanceID != "" {
			p.props["pipewire.access.portal.instance_id"] = info.InstanceID
		}
		if info.HasDevice("all") {
			p.props["media.category"] = "Manager"
		}
	}
	return nil
}

func setSockopt(c syscall.Conn, level, opt, value int, log *logrus.Entry) {
	raw, err := c.SyscallConn()
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), level, opt, value); err != nil {
			log.WithError(err).WithField("option", opt).Debug("setsockopt failed")
		}
	})
}
