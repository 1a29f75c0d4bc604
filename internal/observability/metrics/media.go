package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MediaMetrics contains all Prometheus metrics related to asset transfers.
// All methods are safe on a nil receiver.
type MediaMetrics struct {
	CacheEntries     prometheus.Gauge
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	Transfers        prometheus.Counter
	TransferErrors   *prometheus.CounterVec
	DownloadRetries  prometheus.Counter
	TransferDuration prometheus.Histogram
	TransferBytes    prometheus.Histogram
	registry         *prometheus.Registry
}

// NewMediaMetrics creates a new instance of MediaMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewMediaMetrics(registry *prometheus.Registry) (*MediaMetrics, error) {
	m := &MediaMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register media metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for MediaMetrics.
func (m *MediaMetrics) initMetrics() {
	m.CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cmsbridge_media_cache_entries",
		Help: "Number of source files with a known target file id.",
	})

	m.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmsbridge_media_cache_hits_total",
		Help: "Transfers answered from the image map without network calls.",
	})

	m.CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmsbridge_media_cache_misses_total",
		Help: "Transfers that required a download and upload.",
	})

	m.Transfers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmsbridge_media_transfers_total",
		Help: "Assets successfully copied to the target.",
	})

	m.TransferErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmsbridge_media_transfer_errors_total",
		Help: "Failed asset transfers by step.",
	}, []string{"step"})

	m.DownloadRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmsbridge_media_download_retries_total",
		Help: "Download retries after a transient failure.",
	})

	m.TransferDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cmsbridge_media_transfer_duration_seconds",
		Help:    "Duration of a full download and upload in seconds.",
		Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount10),
	})

	m.TransferBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cmsbridge_media_transfer_bytes",
		Help:    "Size of transferred assets in bytes.",
		Buckets: prometheus.ExponentialBuckets(BucketStart1KB, BucketFactor4, BucketCount10),
	})
}

// SetCacheEntries updates the number of cached file mappings.
func (m *MediaMetrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// IncrementCacheHits increases the cache hit counter by one.
func (m *MediaMetrics) IncrementCacheHits() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// IncrementCacheMisses increases the cache miss counter by one.
func (m *MediaMetrics) IncrementCacheMisses() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

// IncrementDownloadRetries increases the retry counter by one.
func (m *MediaMetrics) IncrementDownloadRetries() {
	if m == nil {
		return
	}
	m.DownloadRetries.Inc()
}

// ObserveTransfer records a completed transfer.
func (m *MediaMetrics) ObserveTransfer(durationSeconds float64, size int) {
	if m == nil {
		return
	}
	m.Transfers.Inc()
	m.TransferDuration.Observe(durationSeconds)
	m.TransferBytes.Observe(float64(size))
}

// IncrementTransferErrors records a failed transfer at the given step
// (OpMetadata, OpDownload or OpUpload).
func (m *MediaMetrics) IncrementTransferErrors(step string) {
	if m == nil {
		return
	}
	m.TransferErrors.WithLabelValues(step).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *MediaMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.CacheEntries
	ch <- m.CacheHits
	ch <- m.CacheMisses
	ch <- m.Transfers
	m.TransferErrors.Collect(ch)
	ch <- m.DownloadRetries
	ch <- m.TransferDuration
	ch <- m.TransferBytes
}

// Describe implements the prometheus.Collector interface.
func (m *MediaMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.CacheEntries.Desc()
	ch <- m.CacheHits.Desc()
	ch <- m.CacheMisses.Desc()
	ch <- m.Transfers.Desc()
	m.TransferErrors.Describe(ch)
	ch <- m.DownloadRetries.Desc()
	ch <- m.TransferDuration.Desc()
	ch <- m.TransferBytes.Desc()
}
