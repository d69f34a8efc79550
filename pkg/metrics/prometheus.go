// Package metrics provides Prometheus metrics for the Map The Walls service
// and its device client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Votes and summaries
	voteWrites        *prometheus.CounterVec
	summaryCacheHits  prometheus.Counter
	summaryCacheMiss  prometheus.Counter
	summaryDegraded   prometheus.Counter
	summaryScanRows   prometheus.Histogram
	remoteWriteErrors prometheus.Counter

	// Spots and photos
	spotsCreated          prometheus.Counter
	spotsDeleted          prometheus.Counter
	photosUploaded        prometheus.Counter
	photoBytes            prometheus.Histogram
	photoDeleteFailures   prometheus.Counter
	photoDeletionsPending prometheus.Gauge
	janitorRuns           *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec
	errorRateByType     *prometheus.CounterVec

	// Mirror queue and workers (device side)
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueErrors *prometheus.CounterVec
	mirrorResults      *prometheus.CounterVec
	mirrorLatency      prometheus.Histogram
	workerActiveCount  prometheus.Gauge

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "mtw",
		subsystem:        "api",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.voteWrites = m.counterVec("vote_writes_total", "Vote upserts by written field", "field")
	m.summaryCacheHits = m.counter("summary_cache_hits_total", "Vote summary reads served from cache")
	m.summaryCacheMiss = m.counter("summary_cache_misses_total", "Vote summary reads that scanned the vote table")
	m.summaryDegraded = m.counter("summary_degraded_total", "Vote summary reads that failed and returned the empty summary")
	m.summaryScanRows = m.histogram("summary_scan_rows", "Rows scanned per vote summary", []float64{0, 1, 5, 10, 50, 100, 500, 1000})
	m.remoteWriteErrors = m.counter("remote_write_errors_total", "Failed vote writes against the remote store")

	m.spotsCreated = m.counter("spots_created_total", "Spots created")
	m.spotsDeleted = m.counter("spots_deleted_total", "Spots deleted by an admin")
	m.photosUploaded = m.counter("photos_uploaded_total", "Photos stored in the bucket")
	m.photoBytes = m.histogram("photo_bytes", "Stored photo size in bytes", prometheus.ExponentialBuckets(16*1024, 2, 9))
	m.photoDeleteFailures = m.counter("photo_delete_failures_total", "Photo deletions that failed and were queued for retry")
	m.photoDeletionsPending = m.gauge("photo_deletions_pending", "Photo deletions waiting for the janitor")
	m.janitorRuns = m.counterVec("janitor_runs_total", "Janitor runs by outcome", "outcome")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")

	m.queueSize = m.gauge("mirror_queue_size", "Current size of the vote mirror queue")
	m.queueCapacity = m.gauge("mirror_queue_capacity", "Capacity of the vote mirror queue")
	m.queueEnqueueErrors = m.counterVec("mirror_queue_enqueue_errors_total", "Mirror jobs rejected by the queue", "reason")
	m.mirrorResults = m.counterVec("mirror_results_total", "Mirror jobs by outcome", "outcome")
	m.mirrorLatency = m.histogram("mirror_latency_milliseconds", "Latency of mirroring a vote to the remote store", m.histogramBuckets)
	m.workerActiveCount = m.gauge("mirror_workers_active", "Number of mirror workers")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordVoteWrite counts a vote upsert for the given field (rating, verdict, clear_verdict).
func RecordVoteWrite(field string) {
	globalManager.voteWrites.WithLabelValues(field).Inc()
}

// RecordSummaryCacheHit counts a summary served from cache.
func RecordSummaryCacheHit() {
	globalManager.summaryCacheHits.Inc()
}

// RecordSummaryCacheMiss counts a summary computed from a scan.
func RecordSummaryCacheMiss() {
	globalManager.summaryCacheMiss.Inc()
}

// RecordSummaryDegraded counts a summary read that fell back to the empty summary.
func RecordSummaryDegraded() {
	globalManager.summaryDegraded.Inc()
}

// RecordSummaryScanRows records how many vote rows one summary scanned.
func RecordSummaryScanRows(rows int) {
	globalManager.summaryScanRows.Observe(float64(rows))
}

// RecordRemoteWriteError counts a failed remote vote write.
func RecordRemoteWriteError() {
	globalManager.remoteWriteErrors.Inc()
}

// RecordSpotCreated counts a created spot.
func RecordSpotCreated() {
	globalManager.spotsCreated.Inc()
}

// RecordSpotDeleted counts a deleted spot.
func RecordSpotDeleted() {
	globalManager.spotsDeleted.Inc()
}

// RecordPhotoUploaded records a stored photo and its size.
func RecordPhotoUploaded(bytes int) {
	globalManager.photosUploaded.Inc()
	globalManager.photoBytes.Observe(float64(bytes))
}

// RecordPhotoDeleteFailure counts a photo deletion that was queued for retry.
func RecordPhotoDeleteFailure() {
	globalManager.photoDeleteFailures.Inc()
}

// UpdatePhotoDeletionsPending sets the janitor backlog.
func UpdatePhotoDeletionsPending(n int) {
	globalManager.photoDeletionsPending.Set(float64(n))
}

// RecordJanitorRun counts a janitor run by outcome (ok, partial, error).
func RecordJanitorRun(outcome string) {
	globalManager.janitorRuns.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest increments the HTTP requests counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint increments the per-endpoint error counter.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByType increments the error counter by type and severity.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// UpdateQueueSize sets the current mirror queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the mirror queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueueError counts a rejected mirror job.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// RecordMirrorResult counts a mirror job outcome (ok, failed).
func RecordMirrorResult(outcome string) {
	globalManager.mirrorResults.WithLabelValues(outcome).Inc()
}

// RecordMirrorLatency records mirror latency in milliseconds.
func RecordMirrorLatency(latencyMs float64) {
	globalManager.mirrorLatency.Observe(latencyMs)
}

// UpdateWorkerActiveCount sets the number of mirror workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateSystemMemoryUsage sets the system memory usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom registry used for all metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
