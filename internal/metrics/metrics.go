package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mickamy/queryiq/internal/model"
)

const namespace = "queryiq"

// Metrics records pipeline activity. A nil *Metrics is valid and discards
// every observation.
type Metrics struct {
	registry    *prometheus.Registry
	iterations  *prometheus.HistogramVec
	benchmarks  *prometheus.CounterVec
	improvement prometheus.Histogram
	suggestions *prometheus.CounterVec
	collected   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "iteration_duration_milliseconds",
			Help:      "Wall time of one benchmark iteration.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"variant", "outcome"}),
		benchmarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "runs_total",
			Help:      "Comprehensive benchmarks run, by success.",
		}, []string{"success"}),
		improvement: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "improvement_percent",
			Help:      "Improvement of successful rewrites over the original.",
			Buckets:   prometheus.LinearBuckets(-50, 25, 7),
		}),
		suggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "suggestions_total",
			Help:      "Suggestions generated, by type.",
		}, []string{"type"}),
		collected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "queries_total",
			Help:      "Slow queries read from pg_stat_statements.",
		}),
	}
	m.registry.MustRegister(m.iterations, m.benchmarks, m.improvement, m.suggestions, m.collected)
	return m
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveIteration(variant string, ms float64, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.iterations.WithLabelValues(variant, outcome).Observe(ms)
}

func (m *Metrics) ObserveBenchmark(r *model.BenchmarkResult) {
	if m == nil || r == nil {
		return
	}
	m.benchmarks.WithLabelValues(fmt.Sprint(r.Success)).Inc()
	if r.Success {
		m.improvement.Observe(r.ImprovementPct)
	}
}

func (m *Metrics) ObserveSuggestions(suggestions []model.Suggestion) {
	if m == nil {
		return
	}
	for _, s := range suggestions {
		m.suggestions.WithLabelValues(string(s.Type)).Inc()
	}
}

func (m *Metrics) ObserveCollected(n int) {
	if m == nil {
		return
	}
	m.collected.Add(float64(n))
}

// WriteTextfile writes every metric in the text exposition format to path,
// atomically, for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
