package server

import (
	"context"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exhaustedListener fails its first Accept with EMFILE and blocks in every
// later one until closed.
type exhaustedListener struct {
	mu      sync.Mutex
	accepts int
	closed  chan struct{}
	once    sync.Once
}

func (l *exhaustedListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	l.accepts++
	n := l.accepts
	l.mu.Unlock()
	if n == 1 {
		return nil, &net.OpError{Op: "accept", Net: "unix", Err: os.NewSyscallError("accept4", syscall.EMFILE)}
	}
	<-l.closed
	return nil, net.ErrClosed
}

func (l *exhaustedListener) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepts
}

func (l *exhaustedListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *exhaustedListener) Addr() net.Addr { return &net.UnixAddr{Name: "exhausted", Net: "unix"} }

func TestAcceptPausedUntilClientLeaves(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ln := &exhaustedListener{closed: make(chan struct{})}
	l := &listener{s: ts.s, ln: ln, ep: endpoint{Network: "unix", Address: "exhausted"}, log: quietLog()}
	ts.do(func() { l.clients = 1 })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.serve(ctx) }()

	paused := func() bool {
		var p bool
		ts.do(func() { p = l.waiting != nil })
		return p
	}
	require.Eventually(t, paused, 5*time.Second, 5*time.Millisecond)
	time.Sleep(2 * acceptBackoff)
	assert.Equal(t, 1, ln.calls(), "accept retried while paused")

	ts.do(l.clientLeft)
	require.Eventually(t, func() bool { return ln.calls() == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, paused())

	cancel()
	ln.Close()
	assert.NoError(t, <-done)
}

func TestAcceptRetriedWithoutClients(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ln := &exhaustedListener{closed: make(chan struct{})}
	l := &listener{s: ts.s, ln: ln, ep: endpoint{Network: "unix", Address: "exhausted"}, log: quietLog()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.serve(ctx) }()

	// nobody can free a descriptor, so accept resumes after a delay
	require.Eventually(t, func() bool { return ln.calls() == 2 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	ln.Close()
	assert.NoError(t, <-done)
}
