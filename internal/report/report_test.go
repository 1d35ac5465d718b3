package report_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mickamy/queryiq/internal/analyzer"
	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/internal/report"
)

func sampleAnalysis(t *testing.T) *report.Analysis {
	t.Helper()
	root := &model.PlanNode{NodeType: "Seq Scan", ScanType: "Seq Scan", TableName: "orders", TotalCost: 120}
	summary, err := analyzer.Analyze(root)
	require.NoError(t, err)

	log := model.NewQueryLog("SELECT * FROM orders")
	log.MeanExecTime = 1500
	return report.New(&log,
		&model.Explain{Plan: root, PlanningTime: 0.2, ExecutionTime: 14.5},
		summary,
		model.FeatureSet{Query: model.QueryFeatures{HasSelectStar: true, NumTables: 1}},
		nil,
	)
}

func TestNew(t *testing.T) {
	a := sampleAnalysis(t)
	assert.Equal(t, "SELECT * FROM orders", a.Query)
	assert.NotEmpty(t, a.QueryID)
	assert.Equal(t, 14.5, a.ExecutionTimeMs)
	assert.NotNil(t, a.Plan)
	assert.NotNil(t, a.Suggestions, "suggestions encode as an empty list")

	bare := report.New(nil, nil, nil, model.FeatureSet{}, nil)
	assert.Nil(t, bare.Plan)
	assert.Nil(t, bare.Summary)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf, sampleAnalysis(t)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "SELECT * FROM orders", decoded["query"])
	assert.Equal(t, []any{}, decoded["suggestions"])
	assert.Contains(t, decoded, "plan")
	assert.NotContains(t, decoded, "benchmark")

	vector, ok := decoded["feature_vector"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, vector["has_select_star"])
	assert.Contains(t, vector, "total_cost")
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.WriteYAML(&buf, sampleAnalysis(t)))

	out := buf.String()
	assert.Contains(t, out, "query: SELECT * FROM orders\n")
	assert.Contains(t, out, "  has_select_star: true\n")
	assert.NotContains(t, out, "{\"", "nested objects use block style")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	summary, ok := decoded["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, summary["has_sequential_scan"])
	assert.EqualValues(t, 1500, decoded["mean_exec_time_ms"])
}
