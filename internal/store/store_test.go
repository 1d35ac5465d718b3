package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/queryiq/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "", nil)
	require.Error(t, err)
}

func TestQueryLogUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := model.NewQueryLog("SELECT * FROM orders WHERE user_id = $1")
	first.MeanExecTime = 1200
	first.TotalExecTime = 24000
	first.Calls = 20
	require.NoError(t, s.UpsertQueryLog(ctx, &first))

	again := model.NewQueryLog(first.QueryText)
	again.MeanExecTime = 1500
	again.TotalExecTime = 45000
	again.Calls = 30
	require.NoError(t, s.UpsertQueryLog(ctx, &again))
	assert.Equal(t, first.ID, again.ID, "same hash keeps the original identity")

	got, err := s.GetQueryLog(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, got.MeanExecTime)
	assert.Equal(t, int64(30), got.Calls)
	assert.Equal(t, first.QueryHash, got.QueryHash)

	fast := model.NewQueryLog("SELECT 1")
	fast.MeanExecTime = 2
	require.NoError(t, s.UpsertQueryLog(ctx, &fast))

	slow, err := s.SlowQueries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, slow, 2)
	assert.Equal(t, first.ID, slow[0].ID)
	assert.Equal(t, fast.ID, slow[1].ID)

	first.DBUser = "app"
	require.NoError(t, s.UpsertQueryLog(ctx, &first))
	byUser, err := s.QueriesByUser(ctx, "app")
	require.NoError(t, err)
	assert.Empty(t, byUser, "an upsert refreshes statistics only")

	report := model.NewQueryLog("SELECT count(*) FROM events")
	report.DBUser = "report"
	require.NoError(t, s.UpsertQueryLog(ctx, &report))
	byUser, err = s.QueriesByUser(ctx, "report")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, report.ID, byUser[0].ID)

	_, err = s.GetQueryLog(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestQueryFeatureRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestQueryFeature(ctx, "q1")
	require.ErrorIs(t, err, ErrNotFound)

	older := &model.QueryFeature{
		QueryID:   "q1",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		FeatureSet: model.FeatureSet{
			Query: model.QueryFeatures{NumJoins: 1},
		},
	}
	newer := &model.QueryFeature{
		QueryID: "q1",
		FeatureSet: model.FeatureSet{
			Query:            model.QueryFeatures{NumJoins: 4, HasSelectStar: true, Tables: []string{"orders", "users"}},
			Plan:             &model.PlanFeatures{TotalCost: 1520.75, HasSequentialScan: true},
			IndexedTablesPct: 50,
			IsSlowQuery:      true,
		},
	}
	require.NoError(t, s.SaveQueryFeature(ctx, older))
	require.NoError(t, s.SaveQueryFeature(ctx, newer))
	assert.NotEmpty(t, newer.ID)

	got, err := s.LatestQueryFeature(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
	assert.Equal(t, newer.FeatureSet, got.FeatureSet)
}

func TestSuggestionsKeepOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	improvement := 50.0
	in := []model.Suggestion{
		{QueryID: "q1", Type: model.SuggestionQueryRewrite, Message: "avoid star", Confidence: 0.8, Source: model.SourceRuleEngine, EstimatedImprovementMs: &improvement, ImplementationCost: model.CostLow},
		{QueryID: "q1", Type: model.SuggestionIndex, Message: "add index", Confidence: 0.8, Source: model.SourceRuleEngine, ImplementationCost: model.CostMedium},
		{QueryID: "q1", Type: model.SuggestionCaching, Message: "cache", Confidence: 0.8, Source: model.SourceRuleEngine, ImplementationCost: model.CostMedium},
	}
	require.NoError(t, s.SaveSuggestions(ctx, in))
	require.NoError(t, s.SaveSuggestions(ctx, nil))

	out, err := s.SuggestionsForQuery(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, in[i].Type, out[i].Type)
	}
	require.NotNil(t, out[0].EstimatedImprovementMs)
	assert.Equal(t, 50.0, *out[0].EstimatedImprovementMs)
	assert.Nil(t, out[1].EstimatedImprovementMs)

	none, err := s.SuggestionsForQuery(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaveSuggestionsRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := []model.Suggestion{
		{ID: "dup", QueryID: "q1", Type: model.SuggestionIndex, Message: "a", Source: model.SourceRuleEngine, ImplementationCost: model.CostLow},
		{ID: "dup", QueryID: "q1", Type: model.SuggestionIndex, Message: "b", Source: model.SourceRuleEngine, ImplementationCost: model.CostLow},
	}
	require.Error(t, s.SaveSuggestions(ctx, in))

	out, err := s.SuggestionsForQuery(ctx, "q1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSaveSuggestionsValidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := []model.Suggestion{
		{QueryID: "q1", Type: model.SuggestionIndex, Message: "a", Confidence: 0.7, Source: model.SourceRuleEngine, ImplementationCost: model.CostLow},
		{QueryID: "q1", Type: model.SuggestionIndex, Message: "b", Confidence: 1.5, Source: model.SourceRuleEngine, ImplementationCost: model.CostLow},
	}
	err := s.SaveSuggestions(ctx, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence 1.500 out of range")

	in[1].Confidence = 0.5
	in[1].ImplementationCost = "TRIVIAL"
	require.Error(t, s.SaveSuggestions(ctx, in))

	out, err := s.SuggestionsForQuery(ctx, "q1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBenchmarkResultsAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.BenchmarkSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BenchmarkSummary{}, empty)

	base := time.Now().UTC().Add(-time.Minute)
	results := []*model.BenchmarkResult{
		{QueryID: "q1", OriginalQuery: "a", OptimizedQuery: "b", OriginalTimes: []float64{100, 110, 90, 105, 95}, OptimizedTimes: []float64{60, 65, 55, 62, 58},
			OriginalAvgMs: 100, OptimizedAvgMs: 60, ImprovementPct: 40, ImprovementMs: 40, Confidence: 0.8, OptimizationType: "INDEX", Success: true, CreatedAt: base},
		{QueryID: "q2", OriginalQuery: "c", OptimizedQuery: "d", OriginalTimes: []float64{200}, OptimizedTimes: []float64{180},
			OriginalAvgMs: 200, OptimizedAvgMs: 180, ImprovementPct: 10, ImprovementMs: 20, Confidence: 0.6, OptimizationType: "REWRITE", Success: true, CreatedAt: base.Add(time.Second)},
		{QueryID: "q3", OriginalQuery: "e", OptimizedQuery: "e", OriginalTimes: []float64{0}, OptimizedTimes: []float64{0},
			OptimizationType: "FAILED", Success: false, ErrorMessage: "connection refused", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range results {
		require.NoError(t, s.SaveBenchmarkResult(ctx, r))
	}

	got, err := s.BenchmarkResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q3", got[0].QueryID)
	assert.False(t, got[0].Success)
	assert.Equal(t, "connection refused", got[0].ErrorMessage)
	assert.Equal(t, []float64{200}, got[1].OriginalTimes)
	assert.Equal(t, 200.0, got[1].OriginalStats.Mean)

	summary, err := s.BenchmarkSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.TotalBenchmarks)
	assert.Equal(t, int64(2), summary.SuccessfulBenchmarks)
	assert.Equal(t, 25.0, summary.AvgImprovementPct)
	assert.Equal(t, 60.0, summary.TotalTimeSavedMs)
	assert.Equal(t, 0.06, summary.TotalTimeSavedSec)
	assert.Equal(t, 40.0, summary.MaxImprovementPct)
	assert.Equal(t, 0.7, summary.AvgConfidence)
	assert.Equal(t, 66.67, summary.SuccessRatePct)
}
