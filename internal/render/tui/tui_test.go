package tui_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/internal/render/tui"
	"github.com/mickamy/queryiq/internal/report"
	"github.com/mickamy/queryiq/test"
)

func sampleReport(t *testing.T) *report.Analysis {
	t.Helper()
	log := model.NewQueryLog("SELECT o.* FROM orders o\n  JOIN users u ON u.id = o.user_id")
	log.MeanExecTime = 1200
	log.Calls = 12000
	return report.New(&log,
		&model.Explain{Plan: test.LoadSamplePlan(t, "orders_join.json"), PlanningTime: 0.412, ExecutionTime: 49.03},
		test.LoadSampleAnalysis(t, "orders_join.json"),
		model.FeatureSet{
			Query:            model.QueryFeatures{NumJoins: 1, NumTables: 2, HasSelectStar: true, ComplexityScore: 0.25},
			IndexedTablesPct: 50,
			AvgTableSizeMB:   1.5,
			IsSlowQuery:      true,
		},
		[]model.Suggestion{{Type: model.SuggestionIndex, Message: "Add an index on orders(user_id)", Confidence: 0.7, ImplementationCost: model.CostLow}},
	)
}

func TestRenderSampleTUI(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tui.Render(&buf, sampleReport(t), tui.Options{}))
	out := buf.String()

	assert.Contains(t, out, "| mean 1200.000 ms | calls 12,000")
	assert.Contains(t, out, "  SELECT o.* FROM orders o JOIN users u ON u.id = o.user_id\n")
	assert.Contains(t, out, "Cost 1520.75 | Execution 49.030 ms (planning 0.412 ms) | Depth 2 | Nodes 4")
	assert.Contains(t, out, "indexed tables 50.0% | avg table size 1.5 MiB | slow yes")
	assert.Contains(t, out, "INDEX: Add an index on orders(user_id)")
	assert.Contains(t, out, "Hash Join | cost 1520.75 | 100.0% | ####################")
	assert.Contains(t, out, "|-- Seq Scan on public.orders | cost 1200.00 |  78.9% |")
	assert.Contains(t, out, "    `-- Index Scan on public.users using users_pkey | cost 30.00")
	assert.Contains(t, out, "rows 431/440 (x0.98)")
	assert.NotContains(t, out, "\x1b[")
}

func TestRenderLimitsDepth(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tui.Render(&buf, sampleReport(t), tui.Options{MaxDepth: 1, HideFeatures: true}))
	out := buf.String()

	assert.Contains(t, out, "`-- ... (1 more nodes)")
	assert.NotContains(t, out, "users_pkey |")
	assert.NotContains(t, out, "Features:")
}

func TestRenderColorAndMissingPlan(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tui.Render(&buf, sampleReport(t), tui.Options{EnableColor: true}))
	assert.Contains(t, buf.String(), "\x1b[")

	buf.Reset()
	log := model.NewQueryLog("SELECT 1")
	require.NoError(t, tui.Render(&buf, report.New(&log, nil, nil, model.FeatureSet{}, nil), tui.Options{}))
	assert.Contains(t, buf.String(), "No execution plan available")

	require.Error(t, tui.Render(nil, sampleReport(t), tui.Options{}))
	require.Error(t, tui.Render(&buf, nil, tui.Options{}))
}
