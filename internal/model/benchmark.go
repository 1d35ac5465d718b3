package model

import (
	"time"

	"github.com/montanaflynn/stats"
)

// BenchmarkResult is the audit record of one original-versus-rewrite run.
type BenchmarkResult struct {
	ID               string      `json:"id,omitempty"`
	QueryID          string      `json:"query_id"`
	OriginalQuery    string      `json:"original_query"`
	OptimizedQuery   string      `json:"optimized_query"`
	OriginalTimes    []float64   `json:"original_times"`
	OptimizedTimes   []float64   `json:"optimized_times"`
	OriginalAvgMs    float64     `json:"original_avg_ms"`
	OptimizedAvgMs   float64     `json:"optimized_avg_ms"`
	OriginalStats    TimingStats `json:"original_stats"`
	OptimizedStats   TimingStats `json:"optimized_stats"`
	ImprovementPct   float64     `json:"improvement_pct"`
	ImprovementMs    float64     `json:"improvement_ms"`
	Success          bool        `json:"success"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	Confidence       float64     `json:"confidence"`
	OptimizationType string      `json:"optimization_type"`
	Explanation      string      `json:"explanation,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// BenchmarkSummary aggregates every stored benchmark result.
type BenchmarkSummary struct {
	TotalBenchmarks      int64   `json:"total_benchmarks"`
	SuccessfulBenchmarks int64   `json:"successful_benchmarks"`
	AvgImprovementPct    float64 `json:"avg_improvement_pct"`
	TotalTimeSavedMs     float64 `json:"total_time_saved_ms"`
	TotalTimeSavedSec    float64 `json:"total_time_saved_seconds"`
	MaxImprovementPct    float64 `json:"max_improvement_pct"`
	AvgConfidence        float64 `json:"avg_confidence"`
	SuccessRatePct       float64 `json:"success_rate_pct"`
}

// TimingStats summarises a series of per-iteration durations in milliseconds.
type TimingStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

// Summarize computes TimingStats for times. StdDev is the sample standard
// deviation and is zero for fewer than two samples.
func Summarize(times []float64) TimingStats {
	if len(times) == 0 {
		return TimingStats{}
	}
	data := stats.Float64Data(times)

	out := TimingStats{Mean: Mean(times)}
	out.Min, _ = data.Min()
	out.Max, _ = data.Max()
	out.Median, _ = data.Median()
	if len(times) > 1 {
		out.StdDev, _ = data.StandardDeviationSample()
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for an empty series.
func Mean(times []float64) float64 {
	m, err := stats.Mean(times)
	if err != nil {
		return 0
	}
	return m
}

// Improvement returns the absolute and relative gain of optimized over
// original. The percentage is 0 when original is 0.
func Improvement(originalAvg, optimizedAvg float64) (ms, pct float64) {
	ms = originalAvg - optimizedAvg
	if originalAvg == 0 {
		return ms, 0
	}
	return ms, ms / originalAvg * 100
}
