package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics implements Recorder for stage outcomes.
type PipelineMetrics struct {
	Items         *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Errors        *prometheus.CounterVec
	LastRun       prometheus.Gauge
}

var _ Recorder = (*PipelineMetrics)(nil)

// NewPipelineMetrics creates and registers the pipeline collectors.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		Items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsbridge_stage_items_total",
			Help: "Items processed by stage and outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cmsbridge_stage_duration_seconds",
			Help:    "Wall time of each stage.",
			Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount15),
		}, []string{"stage"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsbridge_stage_errors_total",
			Help: "Item and systemic failures by stage and error category.",
		}, []string{"stage", "category"}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cmsbridge_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}

	for _, c := range []prometheus.Collector{m.Items, m.StageDuration, m.Errors, m.LastRun} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	return m, nil
}

// RecordOperation counts one item outcome for a stage.
func (m *PipelineMetrics) RecordOperation(operation, status string) {
	m.Items.WithLabelValues(operation, status).Inc()
}

// RecordDuration records a stage's wall time.
func (m *PipelineMetrics) RecordDuration(operation string, seconds float64) {
	m.StageDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError counts a failure by category.
func (m *PipelineMetrics) RecordError(operation, errorType string) {
	m.Errors.WithLabelValues(operation, errorType).Inc()
}

// MarkRunFinished stamps the end of a run.
func (m *PipelineMetrics) MarkRunFinished() {
	m.LastRun.SetToCurrentTime()
}
