package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Assembly metrics
	AssemblyRequests  *prometheus.CounterVec
	AssemblyDuration  prometheus.Histogram
	AssemblyTruncated prometheus.Counter
	AssemblyExcluded  prometheus.Counter

	// Variant selection metrics
	VariantSelections *prometheus.CounterVec
	VariantLifecycle  *prometheus.CounterVec

	// Generation metric collection
	GenerationsRecorded *prometheus.CounterVec
	FeedbackUpdates     prometheus.Counter
	FlushDuration       prometheus.Histogram
	FlushFailures       prometheus.Counter
	FlushBatchSize      prometheus.Histogram

	// Background jobs
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
}

// InitMetrics registers the Prometheus metrics with the given registerer.
// bufferDepth, when non-nil, is polled for the collector backlog gauge.
func InitMetrics(reg prometheus.Registerer, bufferDepth func() int) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		AssemblyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promptlab_assembly_requests_total",
			Help: "Total number of context assembly requests by task type",
		}, []string{"task_type"}),

		AssemblyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptlab_assembly_duration_seconds",
			Help:    "Context assembly latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		AssemblyTruncated: factory.NewCounter(prometheus.CounterOpts{
			Name: "promptlab_assembly_truncations_total",
			Help: "Total number of assemblies where at least one component was truncated",
		}),

		AssemblyExcluded: factory.NewCounter(prometheus.CounterOpts{
			Name: "promptlab_assembly_exclusions_total",
			Help: "Total number of assemblies where at least one component was dropped",
		}),

		VariantSelections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promptlab_variant_selections_total",
			Help: "Total number of variant selections by content type and status tier",
		}, []string{"content_type", "status"}),

		VariantLifecycle: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promptlab_variant_lifecycle_transitions_total",
			Help: "Total number of variant lifecycle transitions by target status",
		}, []string{"status"}),

		GenerationsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promptlab_generations_recorded_total",
			Help: "Total number of generation outcome records ingested by content type",
		}, []string{"content_type"}),

		FeedbackUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "promptlab_feedback_updates_total",
			Help: "Total number of feedback updates applied to generation records",
		}),

		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptlab_metrics_flush_duration_seconds",
			Help:    "Metric buffer flush latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),

		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "promptlab_metrics_flush_failures_total",
			Help: "Total number of metric buffer flushes that exhausted their retries",
		}),

		FlushBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptlab_metrics_flush_batch_size",
			Help:    "Number of records per flushed batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promptlab_job_runs_total",
			Help: "Total number of background job runs by job name and outcome",
		}, []string{"job", "outcome"}),

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptlab_job_duration_seconds",
			Help:    "Background job run duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"job"}),
	}

	if bufferDepth != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "promptlab_metrics_buffer_depth",
				Help: "Current number of generation records awaiting flush",
			},
			func() float64 {
				return float64(bufferDepth())
			},
		))
	}

	return metrics
}

// RecordAssembly records an assembly request and its outcome
func (m *Metrics) RecordAssembly(taskType string, seconds float64, truncated, excluded bool) {
	m.AssemblyRequests.WithLabelValues(taskType).Inc()
	m.AssemblyDuration.Observe(seconds)
	if truncated {
		m.AssemblyTruncated.Inc()
	}
	if excluded {
		m.AssemblyExcluded.Inc()
	}
}

// RecordSelection records a variant selection
func (m *Metrics) RecordSelection(contentType, status string) {
	m.VariantSelections.WithLabelValues(contentType, status).Inc()
}

// RecordLifecycle records a variant lifecycle transition
func (m *Metrics) RecordLifecycle(status string) {
	m.VariantLifecycle.WithLabelValues(status).Inc()
}

// RecordGeneration records an ingested generation outcome
func (m *Metrics) RecordGeneration(contentType string) {
	m.GenerationsRecorded.WithLabelValues(contentType).Inc()
}

// RecordFeedbackUpdate records a feedback update
func (m *Metrics) RecordFeedbackUpdate() {
	m.FeedbackUpdates.Inc()
}

// RecordJobRun records a background job run outcome
func (m *Metrics) RecordJobRun(job string, success bool, seconds float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
	m.JobDuration.WithLabelValues(job).Observe(seconds)
}

// RecordFlush records a buffer flush attempt
func (m *Metrics) RecordFlush(success bool, seconds float64, batchSize int) {
	m.FlushDuration.Observe(seconds)
	m.FlushBatchSize.Observe(float64(batchSize))
	if !success {
		m.FlushFailures.Inc()
	}
}
