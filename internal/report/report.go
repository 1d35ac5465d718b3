package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mickamy/queryiq/internal/analyzer"
	"github.com/mickamy/queryiq/internal/model"
)

// Analysis is everything the pipeline learned about one statement. Plan and
// Summary are nil when no execution plan was available.
type Analysis struct {
	QueryID         string                 `json:"query_id,omitempty"`
	Query           string                 `json:"query"`
	MeanExecTimeMs  float64                `json:"mean_exec_time_ms,omitempty"`
	Calls           int64                  `json:"calls,omitempty"`
	PlanningTimeMs  float64                `json:"planning_time_ms,omitempty"`
	ExecutionTimeMs float64                `json:"execution_time_ms,omitempty"`
	Plan            *model.PlanNode        `json:"plan,omitempty"`
	Summary         *analyzer.PlanAnalysis `json:"summary,omitempty"`
	Features        model.FeatureSet       `json:"features"`
	FeatureVector   map[string]float64     `json:"feature_vector"`
	Suggestions     []model.Suggestion     `json:"suggestions"`
	Benchmark       *model.BenchmarkResult `json:"benchmark,omitempty"`
	GeneratedAt     time.Time              `json:"generated_at"`
}

// New assembles an analysis for log. explain and summary may be nil.
func New(log *model.QueryLog, explain *model.Explain, summary *analyzer.PlanAnalysis, features model.FeatureSet, suggestions []model.Suggestion) *Analysis {
	a := &Analysis{
		Summary:       summary,
		Features:      features,
		FeatureVector: features.Vector(),
		Suggestions:   suggestions,
		GeneratedAt:   time.Now().UTC(),
	}
	if log != nil {
		a.QueryID = log.ID
		a.Query = log.QueryText
		a.MeanExecTimeMs = log.MeanExecTime
		a.Calls = log.Calls
	}
	if explain != nil {
		a.Plan = explain.Plan
		a.PlanningTimeMs = explain.PlanningTime
		a.ExecutionTimeMs = explain.ExecutionTime
	}
	if a.Suggestions == nil {
		a.Suggestions = []model.Suggestion{}
	}
	return a
}

// WriteJSON encodes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// WriteYAML encodes v as block-style YAML. Keys follow the JSON field names
// and order.
func WriteYAML(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func blockStyle(node *yaml.Node) {
	node.Style = 0
	for _, child := range node.Content {
		blockStyle(child)
	}
}
