// Package metrics provides Prometheus metrics for the facewatch pipeline and
// ingestion service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every collector exported by the process.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  atomic.Int64 // nanoseconds
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Consumer pipeline
	framesConsumed    prometheus.Counter
	framesDropped     *prometheus.CounterVec
	facesDetected     prometheus.Counter
	detectionLatency  prometheus.Histogram
	frameLatency      prometheus.Histogram
	uploads           *prometheus.CounterVec
	uploadLatency     prometheus.Histogram
	queueDepth        prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueEnqueueTotal prometheus.Counter
	queueRejected     *prometheus.CounterVec

	// Ingestion service
	facesStored      prometheus.Counter
	facesTotal       prometheus.Gauge
	storeLatency     *prometheus.HistogramVec
	storeErrors      *prometheus.CounterVec
	viewersConnected prometheus.Gauge
	notifications    *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "facewatch",
		subsystem:        "",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	m.enabled.Store(true)
	m.refreshInterval.Store(int64(defaultRefreshInterval))

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix != "" {
		return m.metricPrefix + "_" + n
	}
	return n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	auto := promauto.With(m.registry)

	m.framesConsumed = auto.NewCounter(m.counterOpts("frames_consumed_total",
		"Frames pulled from the queue"))
	m.framesDropped = auto.NewCounterVec(m.counterOpts("frames_dropped_total",
		"Frames dropped before any upload, by reason"), []string{"reason"})
	m.facesDetected = auto.NewCounter(m.counterOpts("faces_detected_total",
		"Face crops produced by the extractor"))
	m.detectionLatency = auto.NewHistogram(m.histogramOpts("detection_latency_milliseconds",
		"Face detection latency per frame"))
	m.frameLatency = auto.NewHistogram(m.histogramOpts("frame_processing_latency_milliseconds",
		"End to end processing latency per frame"))
	m.uploads = auto.NewCounterVec(m.counterOpts("uploads_total",
		"Crop uploads by result"), []string{"result"})
	m.uploadLatency = auto.NewHistogram(m.histogramOpts("upload_latency_milliseconds",
		"Crop upload latency"))
	m.queueDepth = auto.NewGauge(m.gaugeOpts("queue_depth",
		"Frames waiting in the in-memory queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity",
		"Capacity of the in-memory queue"))
	m.queueEnqueueTotal = auto.NewCounter(m.counterOpts("queue_enqueue_total",
		"Frames accepted by the queue"))
	m.queueRejected = auto.NewCounterVec(m.counterOpts("queue_rejected_total",
		"Frames rejected by the queue, by reason"), []string{"reason"})

	m.facesStored = auto.NewCounter(m.counterOpts("faces_stored_total",
		"Face records written to the store"))
	m.facesTotal = auto.NewGauge(m.gaugeOpts("faces",
		"Face records currently in the store"))
	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_latency_milliseconds",
		"Face store operation latency"), []string{"op"})
	m.storeErrors = auto.NewCounterVec(m.counterOpts("store_errors_total",
		"Face store failures by operation"), []string{"op"})
	m.viewersConnected = auto.NewGauge(m.gaugeOpts("viewers_connected",
		"Live viewer connections"))
	m.notifications = auto.NewCounterVec(m.counterOpts("notifications_total",
		"Viewer notifications by result"), []string{"result"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration"), []string{"endpoint", "method", "status_code"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("http_errors_total",
		"HTTP error responses by endpoint"), []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes",
		"Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count",
		"Number of goroutines"))
	gc := m.histogramOpts("system_gc_pause_time_milliseconds", "Average GC pause time")
	gc.Buckets = []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100}
	m.systemGCPauseTime = auto.NewHistogram(gc)
}

// RecordFrameConsumed counts a frame pulled from the queue.
func RecordFrameConsumed() {
	if m := active(); m != nil {
		m.framesConsumed.Inc()
	}
}

// RecordFrameDropped counts a dropped frame. Reasons: decode, detect.
func RecordFrameDropped(reason string) {
	if m := active(); m != nil {
		m.framesDropped.WithLabelValues(reason).Inc()
	}
}

// RecordFacesDetected adds n extracted crops.
func RecordFacesDetected(n int) {
	if m := active(); m != nil {
		m.facesDetected.Add(float64(n))
	}
}

// RecordDetectionLatency observes detection time in milliseconds.
func RecordDetectionLatency(ms float64) {
	if m := active(); m != nil {
		m.detectionLatency.Observe(ms)
	}
}

// RecordFrameLatency observes whole-frame processing time in milliseconds.
func RecordFrameLatency(ms float64) {
	if m := active(); m != nil {
		m.frameLatency.Observe(ms)
	}
}

// RecordUpload counts an upload attempt; result is "success", "failure" or
// "interrupted".
func RecordUpload(result string, ms float64) {
	m := active()
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
	m.uploadLatency.Observe(ms)
}

// UpdateQueueDepth sets the in-memory queue depth.
func UpdateQueueDepth(n int) {
	if m := active(); m != nil {
		m.queueDepth.Set(float64(n))
	}
}

// UpdateQueueCapacity sets the in-memory queue capacity.
func UpdateQueueCapacity(n int) {
	if m := active(); m != nil {
		m.queueCapacity.Set(float64(n))
	}
}

// RecordQueueEnqueue counts an accepted frame.
func RecordQueueEnqueue() {
	if m := active(); m != nil {
		m.queueEnqueueTotal.Inc()
	}
}

// RecordQueueRejected counts a rejected frame. Reasons: closed, full, context.
func RecordQueueRejected(reason string) {
	if m := active(); m != nil {
		m.queueRejected.WithLabelValues(reason).Inc()
	}
}

// RecordFaceStored counts a persisted face record.
func RecordFaceStored() {
	if m := active(); m != nil {
		m.facesStored.Inc()
	}
}

// UpdateFacesTotal sets the number of stored faces.
func UpdateFacesTotal(n int) {
	if m := active(); m != nil {
		m.facesTotal.Set(float64(n))
	}
}

// RecordStoreLatency observes a store operation ("insert", "get", "list").
func RecordStoreLatency(op string, ms float64) {
	m := active()
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(op).Observe(ms)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(op string) {
	if m := active(); m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}

// UpdateViewersConnected sets the number of live viewers.
func UpdateViewersConnected(n int) {
	if m := active(); m != nil {
		m.viewersConnected.Set(float64(n))
	}
}

// RecordNotification counts a per-viewer notification; result is "queued",
// "sent", "dropped" or "failed".
func RecordNotification(result string) {
	if m := active(); m != nil {
		m.notifications.WithLabelValues(result).Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	m := active()
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	m := active()
	if m == nil {
		return
	}
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error response.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	m := active()
	if m == nil {
		return
	}
	m.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if m := active(); m != nil {
		m.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if m := active(); m != nil {
		m.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if m := active(); m != nil {
		m.systemGCPauseTime.Observe(pauseMs)
	}
}

// active returns the global manager, or nil while metrics are disabled.
func active() *Manager {
	if !globalManager.enabled.Load() {
		return nil
	}
	return globalManager
}

// SetEnabled switches recording on or off process-wide.
func SetEnabled(enabled bool) { globalManager.enabled.Store(enabled) }

// Enabled reports whether the Record/Update helpers record anything.
func Enabled() bool { return globalManager.enabled.Load() }

// SetRefreshInterval changes the process-wide gauge refresh period. Values
// <= 0 are ignored.
func SetRefreshInterval(d time.Duration) {
	if d > 0 {
		globalManager.refreshInterval.Store(int64(d))
	}
}

// RefreshInterval is the period at which owners recompute periodic gauges.
func RefreshInterval() time.Duration {
	return time.Duration(globalManager.refreshInterval.Load())
}

// GetRegistry returns the registry every collector is registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
