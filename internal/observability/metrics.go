package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "watertag"

// Metrics holds the Prometheus counters, histograms, and gauges for the job
// worker and the recipe runner.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	JobsFailed       prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Combination metrics, labeled by new_region.
	GroupsCombined         *prometheus.CounterVec
	GroupsSkipped          *prometheus.CounterVec
	VariablesPassedThrough *prometheus.CounterVec
	StepDuration           *prometheus.HistogramVec

	// Dataset cache lookups, labeled by result={hit,miss}.
	DatasetCache *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewMetricsForRegistry creates metrics registered with reg, e.g. a private
// registry pushed to a Pushgateway by a batch run.
func NewMetricsForRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total job requests read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total job results written to the sink topic.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total jobs that produced a failed result.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the job loop is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of job requests per batch extracted from Kafka.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		GroupsCombined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_combined_total",
			Help:      "Variable groups summed into a new region.",
		}, []string{"new_region"}),
		GroupsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_skipped_total",
			Help:      "Variable groups skipped because regions were missing.",
		}, []string{"new_region"}),
		VariablesPassedThrough: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variables_passed_through_total",
			Help:      "Non-region variables copied to the output.",
		}, []string{"new_region"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of one region combination step.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60},
		}, []string{"new_region"}),
		DatasetCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_cache_total",
			Help:      "Dataset cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.MessagesConsumed,
		m.MessagesProduced,
		m.JobsFailed,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.GroupsCombined,
		m.GroupsSkipped,
		m.VariablesPassedThrough,
		m.StepDuration,
		m.DatasetCache,
	)

	return m
}
