package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors describing buffer behaviour. A nil
// *Metrics records nothing.
type Metrics struct {
	eventsTracked *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	eventsFlushed prometheus.Counter
	eventsDropped prometheus.Counter
	buffered      prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		eventsTracked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securehttp_telemetry_events_tracked_total",
				Help: "Telemetry events recorded by kind",
			},
			[]string{"kind"},
		),
		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securehttp_telemetry_flushes_total",
				Help: "Telemetry flush attempts by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		eventsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securehttp_telemetry_events_flushed_total",
			Help: "Telemetry events delivered by successful flushes",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securehttp_telemetry_events_dropped_total",
			Help: "Telemetry events discarded by failed flushes",
		}),
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "securehttp_telemetry_buffered_events",
			Help: "Telemetry events waiting for the next flush",
		}),
		registry: registry,
	}

	registry.MustRegister(m.eventsTracked, m.flushes, m.eventsFlushed, m.eventsDropped, m.buffered)
	return m
}

func (m *Metrics) recordTracked(kind Kind, buffered int) {
	if m == nil {
		return
	}
	m.eventsTracked.WithLabelValues(string(kind)).Inc()
	m.buffered.Set(float64(buffered))
}

func (m *Metrics) setBuffered(n int) {
	if m == nil {
		return
	}
	m.buffered.Set(float64(n))
}

func (m *Metrics) recordFlush(trigger string, ok bool, events int) {
	if m == nil {
		return
	}
	if ok {
		m.flushes.WithLabelValues(trigger, "success").Inc()
		m.eventsFlushed.Add(float64(events))
		return
	}
	m.flushes.WithLabelValues(trigger, "failure").Inc()
	m.eventsDropped.Add(float64(events))
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for embedding in a larger exporter.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
