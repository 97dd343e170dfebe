// Package metrics provides Prometheus metrics for the clipfuse pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Sampling
	framesDecoded  prometheus.Counter
	clipsSampled   *prometheus.CounterVec
	decodeLatency  prometheus.Histogram
	probeCacheHits *prometheus.CounterVec

	// Dataset / loader
	datasetSize      prometheus.Gauge
	samplesSkipped   prometheus.Counter
	decodeWorkers    prometheus.Gauge
	batchLoadLatency prometheus.Histogram

	// Training
	epoch        prometheus.Gauge
	batches      *prometheus.CounterVec
	trainingLoss prometheus.Gauge
	stepLatency  prometheus.Histogram

	// Evaluation
	accuracy      prometheus.Gauge
	predictions   *prometheus.CounterVec
	evaluationRun prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

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
		namespace:        "clipfuse",
		subsystem:        "pipeline",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// Enabled reports whether recording is active.
func (m *Manager) Enabled() bool { return m.enabled }

// RefreshInterval is how often callers should refresh gauge snapshots.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) initializeMetrics() {
	m.framesDecoded = m.counter("frames_decoded_total", "Total number of frames decoded from videos")
	m.clipsSampled = m.counterVec("clips_sampled_total", "Clips sampled, by whether they met the frame-count contract", "complete")
	m.decodeLatency = m.histogram("frame_decode_latency_milliseconds", "Latency of a single frame decode in milliseconds")
	m.probeCacheHits = m.counterVec("probe_cache_lookups_total", "Probe cache lookups by result", "result")

	m.datasetSize = m.gauge("dataset_size", "Number of video files in the dataset")
	m.samplesSkipped = m.counter("samples_skipped_total", "Samples dropped by the short-clip policy")
	m.decodeWorkers = m.gauge("decode_workers", "Number of decode workers in the batch loader")
	m.batchLoadLatency = m.histogram("batch_load_latency_milliseconds", "Time to assemble one batch in milliseconds")

	m.epoch = m.gauge("epoch", "Current training epoch (1-based)")
	m.batches = m.counterVec("batches_total", "Batches processed, by phase", "phase")
	m.trainingLoss = m.gauge("training_loss", "Mean cross-entropy loss of the most recent batch")
	m.stepLatency = m.histogram("train_step_latency_milliseconds", "Forward/backward/update latency per batch in milliseconds")

	m.accuracy = m.gauge("evaluation_accuracy_ratio", "Accuracy of the most recent evaluation in [0,1]")
	m.predictions = m.counterVec("predictions_total", "Evaluation predictions by outcome", "outcome")
	m.evaluationRun = m.counter("evaluations_total", "Number of completed evaluation passes")

	m.httpRequests = promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_requests_total", Help: "Total number of HTTP requests by endpoint and method",
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_request_duration_milliseconds", Help: "HTTP request duration in milliseconds",
		ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// RecordFrameDecoded counts one decoded frame and its latency.
func RecordFrameDecoded(latency time.Duration) {
	if !globalManager.enabled {
		return
	}
	globalManager.framesDecoded.Inc()
	globalManager.decodeLatency.Observe(ms(latency))
}

// RecordClipSampled counts a sampled clip.
func RecordClipSampled(complete bool) {
	if !globalManager.enabled {
		return
	}
	label := "false"
	if complete {
		label = "true"
	}
	globalManager.clipsSampled.WithLabelValues(label).Inc()
}

// RecordProbeCache records a probe cache hit or miss.
func RecordProbeCache(hit bool) {
	if !globalManager.enabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	globalManager.probeCacheHits.WithLabelValues(result).Inc()
}

// UpdateDatasetSize sets the number of files in the dataset.
func UpdateDatasetSize(n int) {
	if globalManager.enabled {
		globalManager.datasetSize.Set(float64(n))
	}
}

// RecordSampleSkipped counts a sample dropped by the short-clip policy.
func RecordSampleSkipped() {
	if globalManager.enabled {
		globalManager.samplesSkipped.Inc()
	}
}

// UpdateDecodeWorkers sets the loader's decode worker count.
func UpdateDecodeWorkers(n int) {
	if globalManager.enabled {
		globalManager.decodeWorkers.Set(float64(n))
	}
}

// RecordBatchLoad observes the time spent assembling a batch.
func RecordBatchLoad(latency time.Duration) {
	if globalManager.enabled {
		globalManager.batchLoadLatency.Observe(ms(latency))
	}
}

// UpdateEpoch sets the current epoch.
func UpdateEpoch(epoch int) {
	if globalManager.enabled {
		globalManager.epoch.Set(float64(epoch))
	}
}

// RecordTrainStep records one optimizer step.
func RecordTrainStep(loss float64, latency time.Duration) {
	if !globalManager.enabled {
		return
	}
	globalManager.batches.WithLabelValues("train").Inc()
	globalManager.trainingLoss.Set(loss)
	globalManager.stepLatency.Observe(ms(latency))
}

// RecordEvalBatch records one evaluation batch.
func RecordEvalBatch(correct, total int) {
	if !globalManager.enabled {
		return
	}
	globalManager.batches.WithLabelValues("eval").Inc()
	globalManager.predictions.WithLabelValues("correct").Add(float64(correct))
	globalManager.predictions.WithLabelValues("incorrect").Add(float64(total - correct))
}

// UpdateAccuracy sets the accuracy of a completed evaluation.
func UpdateAccuracy(accuracy float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.accuracy.Set(accuracy)
	globalManager.evaluationRun.Inc()
}

// RecordHTTPRequest increments the HTTP requests counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordErrorByComponent records an error for a specific component.
func RecordErrorByComponent(component, errorType string) {
	if globalManager.enabled {
		globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// UpdateSystemMemoryUsage updates system memory usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	if globalManager.enabled {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount updates the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	if globalManager.enabled {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// SetEnabled toggles recording on the global manager.
func SetEnabled(enabled bool) {
	globalManager.enabled = enabled
}

// RefreshInterval returns the global manager's gauge refresh interval.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
