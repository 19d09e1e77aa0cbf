package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Clients))

	m.StreamOpened("playback")
	m.StreamOpened("record")
	m.StreamClosed("record")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Streams.WithLabelValues("playback")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Streams.WithLabelValues("record")))

	m.UnderrunCounter().Inc()
	m.OverflowCounter().Inc()
	m.EventDropped()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Underruns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Overflows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscribeEventsDropped))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ClientConnected()
		m.MessageIn()
		m.MessageOut()
		m.AcceptPause()
		m.UnderrunCounter().Inc()
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.MessageIn()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `pulsed_messages_total{direction="in"} 1`))
}
