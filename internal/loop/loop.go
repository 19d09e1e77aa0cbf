// Package loop implements the single goroutine executor that runs all
// control path work of the server: socket events, graph callbacks, timers.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Loop runs queued functions one at a time in the order they were queued.
type Loop struct {
	log *logrus.Entry

	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	running atomic.Bool
}

func New(log *logrus.Entry) *Loop {
	return &Loop{
		log:  log,
		wake: make(chan struct{}, 1),
	}
}

// Invoke queues f. It may be called from any goroutine, including the loop
// itself. Functions queued after the loop stopped are dropped.
func (l *Loop) Invoke(f func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs f on the loop and waits for it to return.
func (l *Loop) Do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	l.Invoke(func() {
		defer close(done)
		f()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes queued functions until ctx is canceled. Functions still
// queued at that point are executed before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		panic("loop: Run called twice")
	}
	l.log.Debug("loop started")
	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
			l.drain()
			l.log.Debug("loop stopped")
			return nil
		case <-l.wake:
			l.drain()
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		q := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(q) == 0 {
			return
		}
		for _, f := range q {
			f()
		}
	}
}

// Timer is a function scheduled on the loop.
type Timer struct {
	t       *time.Timer
	stopped atomic.Bool
}

// AfterFunc runs f on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, f func()) *Timer {
	t := &Timer{}
	t.t = time.AfterFunc(d, func() {
		l.Invoke(func() {
			if t.stopped.CompareAndSwap(false, true) {
				f()
			}
		})
	})
	return t
}

// Stop prevents the timer from firing. It reports whether the call stopped
// the timer. Once Stop returned, f will not be called even if its
// invocation was already queued.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.t.Stop()
	return t.stopped.CompareAndSwap(false, true)
}
