package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ff_layer_indexer"

// Metrics holds the Prometheus collectors of the indexer binaries.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Projection
	EventsApplied    *prometheus.CounterVec
	EventsSkipped    *prometheus.CounterVec
	EventsFailed     *prometheus.CounterVec
	ApplyDuration    *prometheus.HistogramVec
	EntityWrites     *prometheus.CounterVec
	LastAppliedBlock prometheus.Gauge

	// Emitter
	EventsPublished  *prometheus.CounterVec
	LastEmittedBlock prometheus.Gauge

	// API
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry, together with the Go runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Events applied to the entity graph",
		}, []string{"kind"}),

		EventsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Events skipped without writes (redelivery, benign absence)",
		}, []string{"kind", "reason"}),

		EventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Events that failed to apply, by error class",
		}, []string{"kind", "class"}),

		ApplyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_apply_duration_seconds",
			Help:      "Time to apply and commit a single event",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind"}),

		EntityWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_writes_total",
			Help:      "Entity upserts and relationship appends committed",
		}, []string{"op"}),

		LastAppliedBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_applied_block",
			Help:      "Block number of the last committed event",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Contract events published to JetStream",
		}, []string{"kind"}),

		LastEmittedBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_emitted_block",
			Help:      "Block number of the last published event",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the api",
		}, []string{"route", "status"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveApplied records a committed event
func (m *Metrics) ObserveApplied(kind string, blockNumber uint64, upserts, appends int, took time.Duration) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(kind).Inc()
	m.ApplyDuration.WithLabelValues(kind).Observe(took.Seconds())
	m.EntityWrites.WithLabelValues("upsert").Add(float64(upserts))
	m.EntityWrites.WithLabelValues("append").Add(float64(appends))
	m.LastAppliedBlock.Set(float64(blockNumber))
}

// ObserveSkipped records an event that was skipped
func (m *Metrics) ObserveSkipped(kind, reason string) {
	if m == nil {
		return
	}
	m.EventsSkipped.WithLabelValues(kind, reason).Inc()
}

// ObserveFailed records an event that failed to apply
func (m *Metrics) ObserveFailed(kind, class string) {
	if m == nil {
		return
	}
	m.EventsFailed.WithLabelValues(kind, class).Inc()
}

// ObservePublished records a published event
func (m *Metrics) ObservePublished(kind string, blockNumber uint64) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(kind).Inc()
	m.LastEmittedBlock.Set(float64(blockNumber))
}

// ObserveRequest records a served HTTP request
func (m *Metrics) ObserveRequest(route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, http.StatusText(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(took.Seconds())
}
