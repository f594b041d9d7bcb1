package obs

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the process registry and the chat gateway collectors.
type Metrics struct {
	registry       *prometheus.Registry
	membersDropped prometheus.Counter
	events         *prometheus.CounterVec
	connections    prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		membersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "contact_members_dropped_total",
			Help:      "Conversation members left out of contact lists because the identity directory could not resolve them.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "events_handled_total",
			Help:      "Inbound websocket events by name and envelope code.",
		}, []string{"event", "code"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatgate",
			Name:      "ws_connections",
			Help:      "Open websocket connections.",
		}),
	}
	reg.MustRegister(
		m.membersDropped,
		m.events,
		m.connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) MembersDropped(n int) {
	if n > 0 {
		m.membersDropped.Add(float64(n))
	}
}

func (m *Metrics) EventHandled(event string, code int) {
	m.events.WithLabelValues(event, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ConnectionOpened() { m.connections.Inc() }

func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
