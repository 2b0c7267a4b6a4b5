// Package metrics exposes Prometheus collectors for the HTTP surface, the
// store round trips and the matrix sessions.
//
// All methods are safe on a nil *Metrics so callers can treat metrics as
// optional.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"varmatrix/internal/model"
)

const namespace = "varmatrix"

// Submission outcomes.
const (
	OutcomeApplied = "applied"
	OutcomePartial = "partial"
	OutcomeError   = "error"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstream        *prometheus.HistogramVec
	submissions     *prometheus.CounterVec
	records         *prometheus.CounterVec
	sessionEvents   *prometheus.CounterVec
	overlapping     *prometheus.HistogramVec
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status.",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		upstream: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Store API latency by method and status.",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "code"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Change set submissions by source and outcome.",
			},
			[]string{"source", "outcome"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "variation_records_total",
				Help:      "Variation creates and deletes by result.",
			},
			[]string{"operation", "result"},
		),
		sessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_events_total",
				Help:      "Matrix session lifecycle events.",
			},
			[]string{"event"},
		),
		overlapping: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "overview_combinations",
				Help:      "Combinations per order overview, split by overlap.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.upstream,
		m.submissions,
		m.records,
		m.sessionEvents,
		m.overlapping,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// InstrumentRoundTripper wraps next so every store API call is timed.
func (m *Metrics) InstrumentRoundTripper(next http.RoundTripper) http.RoundTripper {
	if m == nil {
		return next
	}
	return promhttp.InstrumentRoundTripperDuration(m.upstream, next)
}

// ObserveSubmission records a submitted change set and its per-record results.
func (m *Metrics) ObserveSubmission(source string, result *model.SubmitResult, err error) {
	if m == nil {
		return
	}

	switch {
	case err != nil || result == nil:
		m.submissions.WithLabelValues(source, OutcomeError).Inc()
		return
	case result.Partial():
		m.submissions.WithLabelValues(source, OutcomePartial).Inc()
	default:
		m.submissions.WithLabelValues(source, OutcomeApplied).Inc()
	}

	m.records.WithLabelValues(model.OperationCreate, "applied").Add(float64(len(result.Created)))
	m.records.WithLabelValues(model.OperationDelete, "applied").Add(float64(len(result.Deleted)))
	for _, f := range result.Failures {
		m.records.WithLabelValues(f.Operation, "failed").Inc()
	}
}

// SessionEvent counts a session lifecycle event such as "opened" or "stale".
func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event).Inc()
}

// ObserveOverview records how many combinations an overview had and how
// many of them were ordered more than once.
func (m *Metrics) ObserveOverview(combinations, overlapping int) {
	if m == nil {
		return
	}
	m.overlapping.WithLabelValues("all").Observe(float64(combinations))
	m.overlapping.WithLabelValues("overlapping").Observe(float64(overlapping))
}
