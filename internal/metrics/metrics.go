// Package metrics exposes Prometheus collectors for the tracker: event
// admission, uploads, outbox depth and storage operations. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mptrack"

// Drop reasons.
const (
	ReasonQueueFull = "queue_full"
	ReasonFiltered  = "filtered"
	ReasonOptOut    = "opt_out"
	ReasonClosed    = "closed"
)

// Metrics holds the registered collectors.
type Metrics struct {
	reg *prometheus.Registry

	eventsEnqueued *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	outboxDepth    *prometheus.GaugeVec
	uploads        *prometheus.CounterVec
	uploadLatency  *prometheus.HistogramVec
	storageOps     *prometheus.CounterVec
	storageBytes   *prometheus.CounterVec
	storageLatency *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		eventsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_enqueued_total",
			Help: "Events written to an instance outbox.",
		}, []string{"instance"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Events rejected before reaching the outbox.",
		}, []string{"instance", "reason"}),
		outboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "outbox_depth",
			Help: "Pending outbox entries after the last upload attempt.",
		}, []string{"instance"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "uploads_total",
			Help: "Upload requests by outcome.",
		}, []string{"api_key", "outcome"}),
		uploadLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "upload_duration_seconds",
			Help:    "Upload latency including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"api_key"}),
		storageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "storage_ops_total",
			Help: "Storage operations by kind.",
		}, []string{"op"}),
		storageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "storage_bytes_total",
			Help: "Bytes moved by storage operations.",
		}, []string{"op"}),
		storageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "storage_op_duration_seconds",
			Help:    "Storage operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"op"}),
	}
	m.reg.MustRegister(
		m.eventsEnqueued, m.eventsDropped, m.outboxDepth,
		m.uploads, m.uploadLatency,
		m.storageOps, m.storageBytes, m.storageLatency,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) EventEnqueued(instance string) {
	if m == nil {
		return
	}
	m.eventsEnqueued.WithLabelValues(instance).Inc()
}

func (m *Metrics) EventDropped(instance, reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(instance, reason).Inc()
}

func (m *Metrics) SetOutboxDepth(instance string, n int) {
	if m == nil {
		return
	}
	m.outboxDepth.WithLabelValues(instance).Set(float64(n))
}

// ForgetInstance removes the per-instance series.
func (m *Metrics) ForgetInstance(instance string) {
	if m == nil {
		return
	}
	m.outboxDepth.DeleteLabelValues(instance)
}

// ObserveUpload implements transport.Observer.
func (m *Metrics) ObserveUpload(apiKey string, _ int, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.uploads.WithLabelValues(apiKey, outcome).Inc()
	m.uploadLatency.WithLabelValues(apiKey).Observe(d.Seconds())
}

// ObserveWrite implements the pebble storage metrics hook.
func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.observeStorage("write", elapsed, bytes)
}

// ObserveRead implements the pebble storage metrics hook.
func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.observeStorage("read", elapsed, bytes)
}

// ObserveBatchCommit implements the pebble storage metrics hook.
func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	m.observeStorage("batch_commit", elapsed, bytes)
}

func (m *Metrics) observeStorage(op string, elapsed time.Duration, bytes int) {
	if m == nil {
		return
	}
	m.storageOps.WithLabelValues(op).Inc()
	m.storageBytes.WithLabelValues(op).Add(float64(bytes))
	m.storageLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}
