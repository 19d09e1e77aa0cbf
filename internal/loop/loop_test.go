package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(logrus.NewEntry(logrus.New()))
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return l
}

func TestInvokeOrder(t *testing.T) {
	l := startLoop(t)
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Invoke(func() { got = append(got, i) })
	}
	require.NoError(t, l.Do(context.Background(), func() {}))
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestInvokeFromLoop(t *testing.T) {
	l := startLoop(t)
	var got []string
	l.Invoke(func() {
		got = append(got, "a")
		l.Invoke(func() { got = append(got, "c") })
		got = append(got, "b")
	})
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestTimer(t *testing.T) {
	l := startLoop(t)
	fired := make(chan struct{})
	l.AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestTimerStop(t *testing.T) {
	l := startLoop(t)
	var fired bool
	var tm *Timer
	require.NoError(t, l.Do(context.Background(), func() {
		tm = l.AfterFunc(time.Hour, func() { fired = true })
	}))
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.False(t, fired)
}

func TestDoCanceled(t *testing.T) {
	l := New(logrus.NewEntry(logrus.New()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Do(ctx, func() {}), context.Canceled)
}
