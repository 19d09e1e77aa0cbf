package server

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// endpoint is one concrete socket to listen on.
type endpoint struct {
	Network string // "unix", "tcp4" or "tcp6"
	Address string
}

func (e endpoint) String() string { return e.Network + ":" + e.Address }

// parseAddress expands a configured address into the sockets it stands
// for. Unix paths are relative to runtimeDir unless absolute. A TCP
// address with only a port listens on all IPv4 and IPv6 addresses.
func parseAddress(s, runtimeDir string) ([]endpoint, error) {
	switch {
	case strings.HasPrefix(s, "unix:"):
		path := strings.TrimPrefix(s, "unix:")
		if path == "" {
			return nil, fmt.Errorf("%q: empty path: %w", s, syscall.EINVAL)
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(runtimeDir, path)
		}
		return []endpoint{{"unix", path}}, nil
	case strings.HasPrefix(s, "tcp:"):
		return parseTCP(s, strings.TrimPrefix(s, "tcp:"))
	}
	return nil, fmt.Errorf("%q: unknown address family: %w", s, syscall.EAFNOSUPPORT)
}

func parseTCP(orig, s string) ([]endpoint, error) {
	if port, err := strconv.ParseUint(s, 10, 16); err == nil {
		p := strconv.FormatUint(port, 10)
		return []endpoint{
			{"tcp4", net.JoinHostPort("0.0.0.0", p)},
			{"tcp6", net.JoinHostPort("::", p)},
		}, nil
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return nil, fmt.Errorf("%q: %v: %w", orig, err, syscall.EINVAL)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return nil, fmt.Errorf("%q: invalid port: %w", orig, syscall.EINVAL)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("%q: invalid address: %w", orig, syscall.EINVAL)
	}
	network := "tcp6"
	if ip.To4() != nil {
		network = "tcp4"
	}
	return []endpoint{{network, net.JoinHostPort(host, port)}}, nil
}
