package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// SourceMetrics tracks reads against the source platform. Nil-safe.
type SourceMetrics struct {
	Pages             *prometheus.CounterVec
	Records           *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	Reauthentications prometheus.Counter
	RequestDuration   *prometheus.HistogramVec
}

// NewSourceMetrics creates and registers the source collectors.
func NewSourceMetrics(registry *prometheus.Registry) (*SourceMetrics, error) {
	m := &SourceMetrics{
		Pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsbridge_source_pages_total",
			Help: "JSON:API pages fetched by resource.",
		}, []string{"resource"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsbridge_source_records_total",
			Help: "Primary records fetched by resource.",
		}, []string{"resource"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsbridge_source_errors_total",
			Help: "Failed source requests by resource and HTTP status (0 for transport errors).",
		}, []string{"resource", "status"}),
		Reauthentications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmsbridge_source_reauthentications_total",
			Help: "Credential resets triggered by HTTP 401.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cmsbridge_source_request_duration_seconds",
			Help:    "Source request latency by operation.",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{m.Pages, m.Records, m.Errors, m.Reauthentications, m.RequestDuration} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register source metrics: %w", err)
		}
	}
	return m, nil
}

// ObservePage records one fetched page.
func (m *SourceMetrics) ObservePage(resource string, records int, seconds float64) {
	if m == nil {
		return
	}
	m.Pages.WithLabelValues(resource).Inc()
	m.Records.WithLabelValues(resource).Add(float64(records))
	m.RequestDuration.WithLabelValues(OpFetchPage).Observe(seconds)
}

// ObserveRequest records the latency of a non-paginated request.
func (m *SourceMetrics) ObserveRequest(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(operation).Observe(seconds)
}

// IncrementErrors records a failed request.
func (m *SourceMetrics) IncrementErrors(resource string, status int) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(resource, strconv.Itoa(status)).Inc()
}

// IncrementReauthentications records a 401-triggered reset.
func (m *SourceMetrics) IncrementReauthentications() {
	if m == nil {
		return
	}
	m.Reauthentications.Inc()
}
