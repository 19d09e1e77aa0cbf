// Package metrics provides the Prometheus collectors of the server.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Clients                prometheus.Gauge
	Streams                *prometheus.GaugeVec
	Messages               *prometheus.CounterVec
	Underruns              prometheus.Counter
	Overflows              prometheus.Counter
	AcceptPaused           prometheus.Counter
	SubscribeEventsDropped prometheus.Counter

	registry *prometheus.Registry
}

// New creates the collectors and registers them with registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.Clients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulsed_clients",
		Help: "Number of connected clients",
	})
	m.Streams = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pulsed_streams",
		Help: "Number of open streams by type",
	}, []string{"type"})
	m.Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsed_messages_total",
		Help: "Number of protocol messages by direction",
	}, []string{"direction"})
	m.Underruns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsed_underruns_total",
		Help: "Number of playback underruns reported to clients",
	})
	m.Overflows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsed_overflows_total",
		Help: "Number of stream buffer overflows",
	})
	m.AcceptPaused = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsed_accept_paused_total",
		Help: "Number of times accepting was paused because no file descriptors were left",
	})
	m.SubscribeEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsed_subscribe_events_dropped_total",
		Help: "Number of subscribe events dropped or cancelled before they were sent",
	})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Clients.Describe(ch)
	m.Streams.Describe(ch)
	m.Messages.Describe(ch)
	m.Underruns.Describe(ch)
	m.Overflows.Describe(ch)
	m.AcceptPaused.Describe(ch)
	m.SubscribeEventsDropped.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Clients.Collect(ch)
	m.Streams.Collect(ch)
	m.Messages.Collect(ch)
	m.Underruns.Collect(ch)
	m.Overflows.Collect(ch)
	m.AcceptPaused.Collect(ch)
	m.SubscribeEventsDropped.Collect(ch)
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ClientConnected tracks a new client.
func (m *Metrics) ClientConnected() {
	if m != nil {
		m.Clients.Inc()
	}
}

// ClientDisconnected tracks a client that went away.
func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.Clients.Dec()
	}
}

// StreamOpened tracks a new stream of the given type.
func (m *Metrics) StreamOpened(typ string) {
	if m != nil {
		m.Streams.WithLabelValues(typ).Inc()
	}
}

// StreamClosed tracks a stream that was closed.
func (m *Metrics) StreamClosed(typ string) {
	if m != nil {
		m.Streams.WithLabelValues(typ).Dec()
	}
}

// MessageIn counts a received message.
func (m *Metrics) MessageIn() {
	if m != nil {
		m.Messages.WithLabelValues("in").Inc()
	}
}

// MessageOut counts a sent message.
func (m *Metrics) MessageOut() {
	if m != nil {
		m.Messages.WithLabelValues("out").Inc()
	}
}

// AcceptPause counts a paused listener.
func (m *Metrics) AcceptPause() {
	if m != nil {
		m.AcceptPaused.Inc()
	}
}

// EventDropped counts a subscribe event that was never sent.
func (m *Metrics) EventDropped() {
	if m != nil {
		m.SubscribeEventsDropped.Inc()
	}
}

type counterFunc func()

func (f counterFunc) Inc() { f() }

// UnderrunCounter returns a counter for stream underruns, usable even when
// m is nil.
func (m *Metrics) UnderrunCounter() interface{ Inc() } {
	return counterFunc(func() {
		if m != nil {
			m.Underruns.Inc()
		}
	})
}

// OverflowCounter returns a counter for stream overflows, usable even when
// m is nil.
func (m *Metrics) OverflowCounter() interface{ Inc() } {
	return counterFunc(func() {
		if m != nil {
			m.Overflows.Inc()
		}
	})
}
