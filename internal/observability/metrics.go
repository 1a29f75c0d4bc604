// Package observability bundles the Prometheus collectors of a migration
// run. There is no scrape endpoint; a run writes its metrics to a
// node_exporter textfile when configured.
package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/cmsbridge/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Source   *metrics.SourceMetrics
	Media    *metrics.MediaMetrics
	Upsert   *metrics.UpsertMetrics
	Pipeline *metrics.PipelineMetrics
}

// NewMetrics creates a new instance of Metrics on a private registry.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	sourceMetrics, err := metrics.NewSourceMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create source metrics: %w", err)
	}

	mediaMetrics, err := metrics.NewMediaMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create media metrics: %w", err)
	}

	upsertMetrics, err := metrics.NewUpsertMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create upsert metrics: %w", err)
	}

	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Source:   sourceMetrics,
		Media:    mediaMetrics,
		Upsert:   upsertMetrics,
		Pipeline: pipelineMetrics,
	}, nil
}

// Registry exposes the gatherer, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format. The file
// is replaced atomically. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
