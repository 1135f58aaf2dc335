package channel

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the export channel. Each channel
// owns a private registry so tests and multi-channel processes never collide
// on metric registration.
type Metrics struct {
	recordsBuffered       prometheus.Counter
	batchesFlushed        *prometheus.CounterVec
	serializationFailures prometheus.Counter
	dispatched            prometheus.Counter
	dropped               prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates the channel metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		recordsBuffered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_channel_records_buffered_total",
				Help: "Total number of telemetry records accepted into the buffer",
			},
		),

		batchesFlushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_channel_batches_flushed_total",
				Help: "Total number of buffer flushes by trigger",
			},
			[]string{"trigger"},
		),

		serializationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_channel_serialization_failures_total",
				Help: "Total number of records dropped because they could not be encoded",
			},
		),

		dispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_channel_transmissions_dispatched_total",
				Help: "Total number of transmissions accepted by an output",
			},
		),

		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_channel_transmissions_dropped_total",
				Help: "Total number of transmissions refused by every output",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.recordsBuffered,
		m.batchesFlushed,
		m.serializationFailures,
		m.dispatched,
		m.dropped,
	)

	return m
}

// RecordBuffered records one accepted record.
func (m *Metrics) RecordBuffered() {
	m.recordsBuffered.Inc()
}

// RecordFlush records a buffer flush and what triggered it.
func (m *Metrics) RecordFlush(trigger string) {
	m.batchesFlushed.WithLabelValues(trigger).Inc()
}

// RecordSerializationFailure records a record that could not be encoded.
func (m *Metrics) RecordSerializationFailure() {
	m.serializationFailures.Inc()
}

// RecordDispatch records a transmission outcome.
func (m *Metrics) RecordDispatch(accepted bool) {
	if accepted {
		m.dispatched.Inc()
	} else {
		m.dropped.Inc()
	}
}

// Handler returns the Prometheus scrape handler for this channel's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
