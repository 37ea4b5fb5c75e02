package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for Segmentry. A nil *Metrics is
// valid and disables instrumentation, so call sites never need to branch.
type Metrics struct {
	// Resolver metrics
	ResolverFetchesTotal       *prometheus.CounterVec
	ResolverFetchSeconds       *prometheus.HistogramVec
	ResolverShortCircuitsTotal prometheus.Counter

	// Segment metrics
	RecalculationsTotal   *prometheus.CounterVec
	RecalculationSeconds  prometheus.Histogram
	SegmentEstimatedSize  *prometheus.GaugeVec

	// Campaign metrics
	ActivationRejectionsTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered on a
// private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ResolverFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segmentry_resolver_fetches_total",
				Help: "Total number of fact source fetches per field",
			},
			[]string{"field"},
		),
		ResolverFetchSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "segmentry_resolver_fetch_seconds",
				Help:    "Duration of per-field source resolution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"field"},
		),
		ResolverShortCircuitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "segmentry_resolver_short_circuits_total",
				Help: "Total number of resolves that short-circuited on an empty intersection",
			},
		),
		RecalculationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segmentry_recalculations_total",
				Help: "Total number of segment recalculations by result",
			},
			[]string{"result"},
		),
		RecalculationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "segmentry_recalculation_seconds",
				Help:    "Duration of segment recalculations",
				Buckets: prometheus.DefBuckets,
			},
		),
		SegmentEstimatedSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "segmentry_segment_estimated_size",
				Help: "Last calculated size per segment",
			},
			[]string{"segment_id"},
		),
		ActivationRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segmentry_activation_rejections_total",
				Help: "Total number of campaign activations rejected by guard reason",
			},
			[]string{"reason"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segmentry_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "segmentry_api_request_duration_seconds",
				Help:    "Duration of API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.ResolverFetchesTotal,
		m.ResolverFetchSeconds,
		m.ResolverShortCircuitsTotal,
		m.RecalculationsTotal,
		m.RecalculationSeconds,
		m.SegmentEstimatedSize,
		m.ActivationRejectionsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveResolverFetch records one per-field source fetch.
func (m *Metrics) ObserveResolverFetch(field string, d time.Duration) {
	if m == nil {
		return
	}
	m.ResolverFetchesTotal.WithLabelValues(field).Inc()
	m.ResolverFetchSeconds.WithLabelValues(field).Observe(d.Seconds())
}

// IncResolverShortCircuit records a resolve that ended early on an empty
// intersection.
func (m *Metrics) IncResolverShortCircuit() {
	if m == nil {
		return
	}
	m.ResolverShortCircuitsTotal.Inc()
}

// ObserveRecalculation records one segment recalculation with its result
// ("ok", "conflict" or "error").
func (m *Metrics) ObserveRecalculation(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RecalculationsTotal.WithLabelValues(result).Inc()
	m.RecalculationSeconds.Observe(d.Seconds())
}

// SetSegmentSize records the latest calculated size of a segment.
func (m *Metrics) SetSegmentSize(segmentID string, size int) {
	if m == nil {
		return
	}
	m.SegmentEstimatedSize.WithLabelValues(segmentID).Set(float64(size))
}

// IncActivationRejection records a rejected campaign activation.
func (m *Metrics) IncActivationRejection(reason string) {
	if m == nil {
		return
	}
	m.ActivationRejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveAPIRequest records one handled API request.
func (m *Metrics) ObserveAPIRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.APIRequestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	m.APIRequestDurationSeconds.WithLabelValues(method, path).Observe(d.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
