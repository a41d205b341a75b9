package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the capture pipeline's Prometheus instruments.
type Metrics struct {
	Ticks            prometheus.Counter
	Keyframes        prometheus.Counter
	Annotations      *prometheus.CounterVec
	SkippedInstances prometheus.Counter
	SampleData       *prometheus.CounterVec
	SpawnAttempts    *prometheus.CounterVec
	UnitsCompleted   *prometheus.CounterVec
	Failures         *prometheus.CounterVec
	SceneDuration    prometheus.Histogram
	CommitDuration   prometheus.Histogram
	CursorPosition   *prometheus.GaugeVec
}

// NewMetrics registers the capture instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "scenecapture",
			Subsystem: "stepper",
			Name:      "ticks_total",
			Help:      "Simulation ticks advanced",
		}),
		Keyframes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "scenecapture",
			Subsystem: "stepper",
			Name:      "keyframes_total",
			Help:      "Keyframes sampled",
		}),
		Annotations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenecapture",
			Subsystem: "annotate",
			Name:      "annotations_total",
			Help:      "Sample annotations written by visibility level",
		}, []string{"visibility"}),
		SkippedInstances: f.NewCounter(prometheus.CounterOpts{
			Namespace: "scenecapture",
			Subsystem: "annotate",
			Name:      "invisible_instances_total",
			Help:      "Instance keyframes skipped because nothing could see them",
		}),
		SampleData: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenecapture",
			Subsystem: "stepper",
			Name:      "sample_data_total",
			Help:      "Sample data rows written by sensor modality",
		}, []string{"modality"}),
		SpawnAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenecapture",
			Subsystem: "spawner",
			Name:      "attempts_total",
			Help:      "Actor spawn attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
		UnitsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenecapture",
			Subsystem: "generator",
			Name:      "units_completed_total",
			Help:      "Units of work completed by level",
		}, []string{"level"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenecapture",
			Subsystem: "generator",
			Name:      "failures_total",
			Help:      "Units of work that failed by level",
		}, []string{"level"}),
		SceneDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scenecapture",
			Subsystem: "generator",
			Name:      "scene_duration_seconds",
			Help:      "Wall time to capture one scene repetition",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		CommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scenecapture",
			Subsystem: "store",
			Name:      "commit_duration_seconds",
			Help:      "Wall time to commit one repetition",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		CursorPosition: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scenecapture",
			Subsystem: "generator",
			Name:      "cursor_index",
			Help:      "Durable progress cursor index by level",
		}, []string{"level"}),
	}
}

// Unregistered returns instruments on a private registry, for callers that
// do not export metrics.
func Unregistered() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
