// Package metrics provides Prometheus metrics for the sentiment pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns all Prometheus metrics for the pipeline.
type Manager struct {
	namespace string
	subsystem string
	buckets   []float64
	registry  prometheus.Registerer

	// Pipeline progress
	windowsProcessed    prometheus.Counter
	windowFailures      *prometheus.CounterVec
	stageLatency        *prometheus.HistogramVec
	extractionLatency   prometheus.Histogram
	lastCompletedWindow prometheus.Gauge
	overdueWindows      prometheus.Gauge

	// Scoring
	customersScored   prometheus.Counter
	customersSkipped  prometheus.Counter
	customerFailures  prometheus.Counter
	countsRecorded    prometheus.Counter
	unknownCustomers  prometheus.Counter
	segmentsWritten   prometheus.Counter
	baselinesLoaded   prometheus.Gauge
	scoreDistribution prometheus.Histogram
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithRegistry sets the Prometheus registerer used by the manager.
func WithRegistry(r prometheus.Registerer) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithHistogramBuckets overrides the latency histogram buckets.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// Global manager on a custom registry so default Go metrics stay out of the
// scrape unless the binary opts back in.
var (
	customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // singleton registry
	globalManager  *Manager                   //nolint:gochecknoglobals // singleton manager
)

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a Manager and registers its metrics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "pulse",
		subsystem: "pipeline",
		buckets:   prometheus.DefBuckets,
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.windowsProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "windows_processed_total",
		Help: "Total number of windows fully processed through aggregation",
	})
	m.windowFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "window_failures_total",
		Help: "Total number of window runs halted, labeled by failed stage",
	}, []string{"stage"})
	m.stageLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "stage_duration_seconds",
		Help:    "Histogram of per-stage duration in seconds",
		Buckets: m.buckets,
	}, []string{"stage"})
	m.extractionLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "extraction_duration_seconds",
		Help:    "Histogram of upstream extraction duration in seconds",
		Buckets: m.buckets,
	})
	m.lastCompletedWindow = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "last_completed_window_end_unix",
		Help: "End of the last fully completed window as a unix timestamp",
	})
	m.overdueWindows = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "overdue_windows",
		Help: "Number of elapsed windows not yet fully processed",
	})

	m.customersScored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "customers_scored_total",
		Help: "Total number of sentiment records written",
	})
	m.customersSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "customers_skipped_total",
		Help: "Total number of customers skipped because a record already existed",
	})
	m.customerFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "customer_failures_total",
		Help: "Total number of per-customer scoring failures (isolated, non-fatal)",
	})
	m.countsRecorded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "counts_recorded_total",
		Help: "Total number of window count rows upserted",
	})
	m.unknownCustomers = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "unknown_customers_total",
		Help: "Total number of extracted customers missing from the directory",
	})
	m.segmentsWritten = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "segments_written_total",
		Help: "Total number of segment records written",
	})
	m.baselinesLoaded = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "industry_baselines",
		Help: "Number of industry baselines currently loaded",
	})
	m.scoreDistribution = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "sentiment_score",
		Help:    "Distribution of composed sentiment scores",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
}

// Package-level helpers operating on the global manager.

// RecordWindowProcessed increments the completed-window counter and moves
// the checkpoint gauge.
func RecordWindowProcessed(windowEnd time.Time) {
	globalManager.windowsProcessed.Inc()
	globalManager.lastCompletedWindow.Set(float64(windowEnd.Unix()))
}

// RecordWindowFailure increments the halted-run counter for a stage.
func RecordWindowFailure(stage string) {
	globalManager.windowFailures.WithLabelValues(stage).Inc()
}

// ObserveStageDuration records one stage execution.
func ObserveStageDuration(stage string, d time.Duration) {
	globalManager.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveExtractionDuration records one upstream extraction.
func ObserveExtractionDuration(d time.Duration) {
	globalManager.extractionLatency.Observe(d.Seconds())
}

// UpdateOverdueWindows sets the number of elapsed-but-unprocessed windows.
func UpdateOverdueWindows(n int) {
	globalManager.overdueWindows.Set(float64(n))
}

// RecordCustomerScored increments the scored counter and samples the score.
func RecordCustomerScored(score float64) {
	globalManager.customersScored.Inc()
	globalManager.scoreDistribution.Observe(score)
}

// RecordCustomerSkipped increments the already-scored skip counter.
func RecordCustomerSkipped() {
	globalManager.customersSkipped.Inc()
}

// RecordCustomerFailure increments the isolated per-customer failure counter.
func RecordCustomerFailure() {
	globalManager.customerFailures.Inc()
}

// RecordCountsRecorded adds to the upserted count-row counter.
func RecordCountsRecorded(n int) {
	globalManager.countsRecorded.Add(float64(n))
}

// RecordUnknownCustomer increments the missing-directory-entry counter.
func RecordUnknownCustomer() {
	globalManager.unknownCustomers.Inc()
}

// RecordSegmentsWritten adds to the segment-record counter.
func RecordSegmentsWritten(n int) {
	globalManager.segmentsWritten.Add(float64(n))
}

// UpdateBaselinesLoaded sets the loaded-baseline gauge.
func UpdateBaselinesLoaded(n int) {
	globalManager.baselinesLoaded.Set(float64(n))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Handler returns the scrape handler for the custom registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}
