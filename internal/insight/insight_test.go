package insight_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/queryiq/internal/insight"
	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/test"
)

func TestBuildMessagesForJoinPlan(t *testing.T) {
	root := test.LoadSamplePlan(t, "orders_join.json")

	msgs := insight.BuildMessages(root)
	require.Len(t, msgs, 2)

	assert.Equal(t, insight.SeverityCritical, msgs[0].Severity)
	assert.Equal(t, "Cost hot spot: Seq Scan on public.orders carries 78.9% of the plan cost", msgs[0].Text)
	assert.Equal(t, "node-0-0", msgs[0].Anchor)

	assert.Equal(t, insight.SeverityWarning, msgs[1].Severity)
	assert.Contains(t, msgs[1].Text, "reads ~50,000 rows")
	assert.Equal(t, "node-0-0", msgs[1].Anchor)
}

func TestBuildMessagesReportsDrift(t *testing.T) {
	root := &model.PlanNode{
		NodeType:  "Aggregate",
		TotalCost: 100,
		Children: []*model.PlanNode{{
			NodeType:   "Index Scan",
			ScanType:   "Index Scan",
			TableName:  "events",
			IndexName:  "events_created_at_idx",
			TotalCost:  20,
			PlanRows:   model.Float(10),
			ActualRows: model.Float(4500),
		}},
	}

	msgs := insight.BuildMessages(root)
	require.Len(t, msgs, 1)
	assert.Equal(t, "node-0-0", msgs[0].Anchor)
	assert.Contains(t, msgs[0].Text, "Estimate drift: Index Scan on events using events_created_at_idx expected 10 got 4,500 (x450.00)")

	assert.Nil(t, insight.BuildMessages(nil))
}

func TestFromSuggestions(t *testing.T) {
	msgs := insight.FromSuggestions([]model.Suggestion{
		{Type: model.SuggestionMLSlowQuery, Message: "slow", Confidence: 0.9, ImplementationCost: model.CostMedium},
		{Type: model.SuggestionIndex, Message: "add index", Confidence: 0.7, EstimatedImprovementMs: model.Float(120), ImplementationCost: model.CostLow},
		{Type: model.SuggestionCaching, Message: "cache it", Confidence: 0.6, ImplementationCost: model.CostLow},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, insight.SeverityCritical, msgs[0].Severity)
	assert.Equal(t, "INDEX: add index (~120 ms, low effort)", msgs[1].Text)
	assert.Equal(t, insight.SeverityWarning, msgs[1].Severity)
	assert.Equal(t, insight.SeverityInfo, msgs[2].Severity)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "1,234,568", insight.HumanizeRows(1234567.6))
	assert.Equal(t, "1.5 MiB", insight.HumanizeSizeMB(1.5))
	assert.Equal(t, "0 B", insight.HumanizeSizeMB(0))
	assert.Equal(t, "abcd...", insight.Truncate("abcdefghij", 7))
	assert.Equal(t, "SELECT * FROM t", insight.NormalizeWhitespace("SELECT *\n\tFROM   t"))

	assert.True(t, math.IsInf(insight.EstimateFactor(&model.PlanNode{PlanRows: model.Float(0), ActualRows: model.Float(3)}), 1))
	assert.Equal(t, 0.0, insight.EstimateFactor(&model.PlanNode{PlanRows: model.Float(3)}))
}
