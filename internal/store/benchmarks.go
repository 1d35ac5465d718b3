package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mickamy/queryiq/internal/model"
)

type benchmarkRow struct {
	ID               string    `db:"id"`
	QueryID          string    `db:"query_id"`
	OriginalQuery    string    `db:"original_query"`
	OptimizedQuery   string    `db:"optimized_query"`
	OriginalTimes    string    `db:"original_times"`
	OptimizedTimes   string    `db:"optimized_times"`
	OriginalAvgMs    float64   `db:"original_avg_ms"`
	OptimizedAvgMs   float64   `db:"optimized_avg_ms"`
	ImprovementPct   float64   `db:"improvement_pct"`
	ImprovementMs    float64   `db:"improvement_ms"`
	Confidence       float64   `db:"confidence"`
	OptimizationType string    `db:"optimization_type"`
	Explanation      string    `db:"explanation"`
	Success          bool      `db:"success"`
	ErrorMessage     string    `db:"error_message"`
	CreatedAt        time.Time `db:"created_at"`
}

func benchmarkRowFromModel(r *model.BenchmarkResult) (benchmarkRow, error) {
	original, err := json.Marshal(r.OriginalTimes)
	if err != nil {
		return benchmarkRow{}, fmt.Errorf("encode original times: %w", err)
	}
	optimized, err := json.Marshal(r.OptimizedTimes)
	if err != nil {
		return benchmarkRow{}, fmt.Errorf("encode optimized times: %w", err)
	}
	return benchmarkRow{
		ID:               r.ID,
		QueryID:          r.QueryID,
		OriginalQuery:    r.OriginalQuery,
		OptimizedQuery:   r.OptimizedQuery,
		OriginalTimes:    string(original),
		OptimizedTimes:   string(optimized),
		OriginalAvgMs:    r.OriginalAvgMs,
		OptimizedAvgMs:   r.OptimizedAvgMs,
		ImprovementPct:   r.ImprovementPct,
		ImprovementMs:    r.ImprovementMs,
		Confidence:       r.Confidence,
		OptimizationType: r.OptimizationType,
		Explanation:      r.Explanation,
		Success:          r.Success,
		ErrorMessage:     r.ErrorMessage,
		CreatedAt:        r.CreatedAt,
	}, nil
}

func (r benchmarkRow) toModel() (model.BenchmarkResult, error) {
	out := model.BenchmarkResult{
		ID:               r.ID,
		QueryID:          r.QueryID,
		OriginalQuery:    r.OriginalQuery,
		OptimizedQuery:   r.OptimizedQuery,
		OriginalAvgMs:    r.OriginalAvgMs,
		OptimizedAvgMs:   r.OptimizedAvgMs,
		ImprovementPct:   r.ImprovementPct,
		ImprovementMs:    r.ImprovementMs,
		Confidence:       r.Confidence,
		OptimizationType: r.OptimizationType,
		Explanation:      r.Explanation,
		Success:          r.Success,
		ErrorMessage:     r.ErrorMessage,
		CreatedAt:        r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.OriginalTimes), &out.OriginalTimes); err != nil {
		return model.BenchmarkResult{}, fmt.Errorf("decode original times: %w", err)
	}
	if err := json.Unmarshal([]byte(r.OptimizedTimes), &out.OptimizedTimes); err != nil {
		return model.BenchmarkResult{}, fmt.Errorf("decode optimized times: %w", err)
	}
	out.OriginalStats = model.Summarize(out.OriginalTimes)
	out.OptimizedStats = model.Summarize(out.OptimizedTimes)
	return out, nil
}

// SaveBenchmarkResult appends a benchmark result to the audit table.
func (s *Store) SaveBenchmarkResult(ctx context.Context, r *model.BenchmarkResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	row, err := benchmarkRowFromModel(r)
	if err != nil {
		return err
	}

	const q = `INSERT INTO benchmark_results
		(id, query_id, original_query, optimized_query, original_times, optimized_times,
		 original_avg_ms, optimized_avg_ms, improvement_pct, improvement_ms, confidence,
		 optimization_type, explanation, success, error_message, created_at)
		VALUES
		(:id, :query_id, :original_query, :optimized_query, :original_times, :optimized_times,
		 :original_avg_ms, :optimized_avg_ms, :improvement_pct, :improvement_ms, :confidence,
		 :optimization_type, :explanation, :success, :error_message, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert benchmark result: %w", err)
	}
	return nil
}

// BenchmarkResults returns the most recent results, newest first.
func (s *Store) BenchmarkResults(ctx context.Context, limit int) ([]model.BenchmarkResult, error) {
	var rows []benchmarkRow
	q := s.db.Rebind(`SELECT * FROM benchmark_results ORDER BY created_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("list benchmark results: %w", err)
	}

	out := make([]model.BenchmarkResult, 0, len(rows))
	for _, row := range rows {
		r, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("benchmark result %s: %w", row.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

const selectBenchmarkSummary = `SELECT
		COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful,
		COALESCE(AVG(CASE WHEN success THEN improvement_pct END), 0) AS avg_improvement_pct,
		COALESCE(SUM(CASE WHEN success THEN improvement_ms END), 0) AS total_saved_ms,
		COALESCE(MAX(CASE WHEN success THEN improvement_pct END), 0) AS max_improvement_pct,
		COALESCE(AVG(CASE WHEN success THEN confidence END), 0) AS avg_confidence
	FROM benchmark_results`

type summaryRow struct {
	Total             int64   `db:"total"`
	Successful        int64   `db:"successful"`
	AvgImprovementPct float64 `db:"avg_improvement_pct"`
	TotalSavedMs      float64 `db:"total_saved_ms"`
	MaxImprovementPct float64 `db:"max_improvement_pct"`
	AvgConfidence     float64 `db:"avg_confidence"`
}

// BenchmarkSummary aggregates all stored results in a single query. Averages
// and totals only consider successful runs.
func (s *Store) BenchmarkSummary(ctx context.Context) (model.BenchmarkSummary, error) {
	var row summaryRow
	if err := s.db.GetContext(ctx, &row, selectBenchmarkSummary); err != nil {
		return model.BenchmarkSummary{}, fmt.Errorf("benchmark summary: %w", err)
	}

	return model.BenchmarkSummary{
		TotalBenchmarks:      row.Total,
		SuccessfulBenchmarks: row.Successful,
		AvgImprovementPct:    round(row.AvgImprovementPct, 2),
		TotalTimeSavedMs:     round(row.TotalSavedMs, 2),
		TotalTimeSavedSec:    round(row.TotalSavedMs/1000, 2),
		MaxImprovementPct:    round(row.MaxImprovementPct, 2),
		AvgConfidence:        round(row.AvgConfidence, 3),
		SuccessRatePct:       round(float64(row.Successful)/float64(max(row.Total, 1))*100, 2),
	}, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
