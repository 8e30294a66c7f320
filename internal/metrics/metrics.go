// Package metrics holds the Prometheus collectors of the chat service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "classchat"

type Metrics struct {
	registry *prometheus.Registry

	connections  prometheus.Gauge
	rooms        prometheus.Gauge
	operations   *prometheus.CounterVec
	delivered    *prometheus.CounterVec
	dropped      prometheus.Counter
	authzLookups *prometheus.CounterVec
	messages     prometheus.Counter
}

// New creates the collectors on a private registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one member.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Client operations by type and outcome.",
		}, []string{"op", "result"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events enqueued to connections by event type.",
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_consumers_dropped_total",
			Help:      "Connections closed because their outbound queue was full.",
		}),
		authzLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_lookups_total",
			Help:      "Authorization lookups by role and result.",
		}, []string{"role", "result"}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to room logs.",
		}),
	}
	reg.MustRegister(
		m.connections, m.rooms, m.operations, m.delivered, m.dropped, m.authzLookups, m.messages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

// Operation counts an operation outcome; result is "ok" or an error kind.
func (m *Metrics) Operation(op, result string) {
	if m != nil {
		m.operations.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) Delivered(event string, n int) {
	if m != nil && n > 0 {
		m.delivered.WithLabelValues(event).Add(float64(n))
	}
}

func (m *Metrics) SlowConsumerDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) AuthzLookup(role, result string) {
	if m != nil {
		m.authzLookups.WithLabelValues(role, result).Inc()
	}
}

func (m *Metrics) MessageAppended() {
	if m != nil {
		m.messages.Inc()
	}
}
