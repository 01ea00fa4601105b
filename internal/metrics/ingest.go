// Package metrics provides Prometheus metrics for dataset ingestion and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/captionset/internal/core"
)

// IngestMetrics contains Prometheus metrics for ingestion runs.
type IngestMetrics struct {
	ingestionsTotal   *prometheus.CounterVec
	ingestionDuration *prometheus.HistogramVec
	imagesInserted    *prometheus.CounterVec
	imagesSkipped     *prometheus.CounterVec
	activeUploads     prometheus.Gauge

	collectors []prometheus.Collector
}

var _ core.MetricsRecorder = (*IngestMetrics)(nil)

// NewIngestMetrics creates and registers ingestion metrics.
func NewIngestMetrics(registry prometheus.Registerer) (*IngestMetrics, error) {
	m := &IngestMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *IngestMetrics) initMetrics() {
	m.ingestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionset_ingestions_total",
			Help: "Total number of ingestion attempts",
		},
		[]string{"format", "outcome"}, // outcome: success, rejected, or an error kind
	)

	m.ingestionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "captionset_ingestion_duration_seconds",
			Help:    "Time taken by ingestion attempts",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~3m
		},
		[]string{"format"},
	)

	m.imagesInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionset_images_inserted_total",
			Help: "Total number of images written by successful ingestions",
		},
		[]string{"format"},
	)

	m.imagesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionset_images_skipped_total",
			Help: "Total number of source records dropped without failing the ingestion",
		},
		[]string{"format"},
	)

	m.activeUploads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "captionset_active_uploads",
			Help: "Number of ingestions currently holding an upload slot",
		},
	)

	m.collectors = []prometheus.Collector{
		m.ingestionsTotal,
		m.ingestionDuration,
		m.imagesInserted,
		m.imagesSkipped,
		m.activeUploads,
	}
}

// Describe implements the Collector interface
func (m *IngestMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *IngestMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// ObserveIngestion records one finished ingestion attempt.
func (m *IngestMetrics) ObserveIngestion(format core.Format, outcome string, d time.Duration) {
	m.ingestionsTotal.WithLabelValues(format.String(), outcome).Inc()
	m.ingestionDuration.WithLabelValues(format.String()).Observe(d.Seconds())
}

// AddImages records the image counts of a successful ingestion.
func (m *IngestMetrics) AddImages(format core.Format, inserted, skipped int) {
	if inserted > 0 {
		m.imagesInserted.WithLabelValues(format.String()).Add(float64(inserted))
	}
	if skipped > 0 {
		m.imagesSkipped.WithLabelValues(format.String()).Add(float64(skipped))
	}
}

// SetActiveUploads sets the number of in-flight ingestions.
func (m *IngestMetrics) SetActiveUploads(n int) {
	m.activeUploads.Set(float64(n))
}
