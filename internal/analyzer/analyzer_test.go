package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/queryiq/internal/analyzer"
	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/test"
)

func TestAnalyzeSingleSeqScan(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "seq_scan.json")

	assert.Equal(t, 0, analysis.PlanDepth)
	assert.Equal(t, []string{"Seq Scan"}, analysis.ScanTypes)
	assert.True(t, analysis.HasSequentialScan)
	assert.False(t, analysis.HasIndexScan)
	assert.Equal(t, 100.0, analysis.TotalCost)
	require.NotNil(t, analysis.EstimatedRows)
	assert.Equal(t, 1000.0, *analysis.EstimatedRows)
}

func TestAnalyzeJoinPlan(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "orders_join.json")

	assert.Equal(t, 2, analysis.PlanDepth)
	assert.Equal(t, []string{"Index Scan", "Seq Scan"}, analysis.ScanTypes)
	assert.Equal(t, []string{"Hash Join"}, analysis.JoinTypes)
	assert.Equal(t, []string{"orders", "users"}, analysis.TablesScanned)
	assert.Equal(t, []string{"users_pkey"}, analysis.IndexesUsed)
	assert.True(t, analysis.HasSequentialScan)
	assert.True(t, analysis.HasIndexScan)
	assert.Equal(t, 4, analysis.NodeCount)
	require.NotNil(t, analysis.ActualRows)
	assert.Equal(t, 2310.0, *analysis.ActualRows)
}

func TestAnalyzeDeepPlanDeduplicates(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "deep_nested.json")

	assert.Equal(t, 6, analysis.PlanDepth)
	assert.Equal(t, []string{"Index Only Scan", "Index Scan", "Seq Scan"}, analysis.ScanTypes)
	assert.Equal(t, []string{"Merge Join"}, analysis.JoinTypes)
	assert.Equal(t, []string{"line_items", "products"}, analysis.TablesScanned)
	assert.Equal(t, []string{"products_pkey"}, analysis.IndexesUsed)
}

func TestAnalyzeDepthCountsEdges(t *testing.T) {
	leaf := &model.PlanNode{NodeType: "Seq Scan", ScanType: "Seq Scan"}
	child := &model.PlanNode{NodeType: "Sort", Children: []*model.PlanNode{leaf}}
	root := &model.PlanNode{
		NodeType: "Limit",
		Children: []*model.PlanNode{child, {NodeType: "Result"}},
	}

	analysis, err := analyzer.Analyze(root)
	require.NoError(t, err)
	assert.Equal(t, 2, analysis.PlanDepth)
}

func TestAnalyzeRepeatedSubtreesHaveNoDuplicates(t *testing.T) {
	scan := func() *model.PlanNode {
		return &model.PlanNode{NodeType: "Index Scan", ScanType: "Index Scan", TableName: "users", IndexName: "users_pkey"}
	}
	join := func() *model.PlanNode {
		return &model.PlanNode{NodeType: "Hash Join", JoinType: "Hash Join", Children: []*model.PlanNode{scan(), scan()}}
	}
	root := &model.PlanNode{NodeType: "Append", Children: []*model.PlanNode{join(), join(), join()}}

	analysis, err := analyzer.Analyze(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"Index Scan"}, analysis.ScanTypes)
	assert.Equal(t, []string{"Hash Join"}, analysis.JoinTypes)
	assert.Equal(t, []string{"users"}, analysis.TablesScanned)
	assert.Equal(t, []string{"users_pkey"}, analysis.IndexesUsed)
	assert.False(t, analysis.HasSequentialScan)
	assert.True(t, analysis.HasIndexScan)
}

func TestAnalyzeScanDetectionIsSubstringBased(t *testing.T) {
	root := &model.PlanNode{
		NodeType: "Gather",
		Children: []*model.PlanNode{
			{NodeType: "Parallel Seq Scan", ScanType: "Parallel Seq Scan", TableName: "events"},
			{NodeType: "Bitmap Heap Scan", ScanType: "Bitmap Heap Scan", TableName: "events"},
		},
	}
	analysis, err := analyzer.Analyze(root)
	require.NoError(t, err)
	assert.True(t, analysis.HasSequentialScan)
	assert.False(t, analysis.HasIndexScan)
}

func TestAnalyzeNilPlan(t *testing.T) {
	_, err := analyzer.Analyze(nil)
	require.Error(t, err)
}

func TestWalkVisitsEveryNode(t *testing.T) {
	root := test.LoadSamplePlan(t, "orders_join.json")
	var types []string
	maxDepth := 0
	analyzer.Walk(root, func(node *model.PlanNode, depth int) {
		types = append(types, node.NodeType)
		if depth > maxDepth {
			maxDepth = depth
		}
	})
	assert.Equal(t, []string{"Hash Join", "Seq Scan", "Hash", "Index Scan"}, types)
	assert.Equal(t, 2, maxDepth)
}
