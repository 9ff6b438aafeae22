// Package metrics provides Prometheus instrumentation for the posthog
// client library.
//
// All metrics are registered in a custom [prometheus.Registry] (not the
// global default) so that embedding the library never pollutes a host
// application's own /metrics endpoint unless the host explicitly exposes
// this Registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors used by the posthog client.
type Metrics struct {
	Registry *prometheus.Registry

	QueueDepth            prometheus.Gauge
	MessagesEnqueuedTotal prometheus.Counter
	MessagesDroppedTotal  *prometheus.CounterVec
	BatchesSentTotal      prometheus.Counter
	BatchSendDuration     prometheus.Histogram
	TransportRetriesTotal *prometheus.CounterVec
	PollerFetchesTotal    *prometheus.CounterVec
	PollerCacheAgeSeconds prometheus.Gauge
	FlagEvaluationsTotal  *prometheus.CounterVec
}

// New creates and registers all posthog client metrics. If reg is nil, a
// fresh private [prometheus.Registry] is created — embedding the library
// never pollutes a host's own /metrics endpoint unless the host passes its
// own registry (e.g. via posthog.WithMetricsRegisterer) or calls Handler.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Registry: reg,

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posthog_queue_depth",
			Help: "Number of messages currently queued for delivery.",
		}),

		MessagesEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posthog_messages_enqueued_total",
			Help: "Total number of messages accepted onto the queue.",
		}),

		MessagesDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posthog_messages_dropped_total",
			Help: "Total number of messages dropped, labeled by reason.",
		}, []string{"reason"}),

		BatchesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posthog_batches_sent_total",
			Help: "Total number of batches successfully sent to the ingest endpoint.",
		}),

		BatchSendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "posthog_batch_send_duration_seconds",
			Help:    "Latency of a batch send attempt, including retries.",
			Buckets: prometheus.DefBuckets,
		}),

		TransportRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posthog_transport_retries_total",
			Help: "Total number of transport retry attempts, labeled by response status.",
		}, []string{"status"}),

		PollerFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posthog_poller_fetches_total",
			Help: "Total number of local-evaluation poll cycles, labeled by outcome.",
		}, []string{"status"}),

		PollerCacheAgeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posthog_poller_cache_age_seconds",
			Help: "Seconds since the local flag/cohort cache was last refreshed.",
		}),

		FlagEvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posthog_flag_evaluations_total",
			Help: "Total number of flag evaluations, labeled by source (local or remote).",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.QueueDepth,
		m.MessagesEnqueuedTotal,
		m.MessagesDroppedTotal,
		m.BatchesSentTotal,
		m.BatchSendDuration,
		m.TransportRetriesTotal,
		m.PollerFetchesTotal,
		m.PollerCacheAgeSeconds,
		m.FlagEvaluationsTotal,
	)

	return m
}

// Handler returns an [http.Handler] a host application can mount to expose
// these metrics on its own /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// SetQueueDepth implements worker.MetricsRecorder.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// IncMessagesDropped implements worker.MetricsRecorder.
func (m *Metrics) IncMessagesDropped(reason string) {
	m.MessagesDroppedTotal.WithLabelValues(reason).Inc()
}

// IncBatchesSent implements worker.MetricsRecorder.
func (m *Metrics) IncBatchesSent() {
	m.BatchesSentTotal.Inc()
}

// RecordBatchSend implements transport.MetricsRecorder.
func (m *Metrics) RecordBatchSend(duration time.Duration, _ bool) {
	m.BatchSendDuration.Observe(duration.Seconds())
}

// RecordRetry implements transport.MetricsRecorder.
func (m *Metrics) RecordRetry(status int) {
	m.TransportRetriesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordPollerFetch records the outcome of one Poller cycle.
func (m *Metrics) RecordPollerFetch(status string) {
	m.PollerFetchesTotal.WithLabelValues(status).Inc()
}

// SetPollerCacheAge records how stale the cached flag/cohort definitions
// are, in seconds since the last successful fetch.
func (m *Metrics) SetPollerCacheAge(seconds float64) {
	m.PollerCacheAgeSeconds.Set(seconds)
}

// RecordFlagEvaluation records a flag decision, labeled by whether it was
// resolved locally or via the remote decide endpoint.
func (m *Metrics) RecordFlagEvaluation(locallyEvaluated bool) {
	source := "remote"
	if locallyEvaluated {
		source = "local"
	}
	m.FlagEvaluationsTotal.WithLabelValues(source).Inc()
}
