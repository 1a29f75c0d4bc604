package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// UpsertMetrics tracks writes against the target platform. Nil-safe.
type UpsertMetrics struct {
	Actions  *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewUpsertMetrics creates and registers the upsert collectors.
func NewUpsertMetrics(registry *prometheus.Registry) (*UpsertMetrics, error) {
	m := &UpsertMetrics{
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsbridge_upsert_actions_total",
			Help: "Upsert outcomes by target collection and action.",
		}, []string{"collection", "action"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cmsbridge_upsert_duration_seconds",
			Help:    "Latency of target calls by collection and operation.",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount10),
		}, []string{"collection", "operation"}),
	}

	for _, c := range []prometheus.Collector{m.Actions, m.Duration} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register upsert metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveAction counts one upsert outcome.
func (m *UpsertMetrics) ObserveAction(collection, action string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(collection, action).Inc()
}

// ObserveCall records the latency of a lookup or create.
func (m *UpsertMetrics) ObserveCall(collection, operation string, seconds float64) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(collection, operation).Observe(seconds)
}
