package model

import (
	"fmt"
	"time"
)

// SuggestionType classifies what kind of change a suggestion proposes.
type SuggestionType string

const (
	SuggestionQueryRewrite SuggestionType = "QUERY_REWRITE"
	SuggestionIndex        SuggestionType = "INDEX"
	SuggestionPerformance  SuggestionType = "PERFORMANCE"
	SuggestionCaching      SuggestionType = "CACHING"
	SuggestionOptimization SuggestionType = "OPTIMIZATION"
	SuggestionMLSlowQuery  SuggestionType = "ML_SLOW_QUERY"
	SuggestionMLComplexity SuggestionType = "ML_COMPLEXITY"
)

// SuggestionSource identifies the component that produced a suggestion.
type SuggestionSource string

const (
	SourceRuleEngine          SuggestionSource = "RULE_ENGINE"
	SourceMLModel             SuggestionSource = "ML_MODEL"
	SourceHeuristic           SuggestionSource = "HEURISTIC"
	SourcePerformanceAnalyzer SuggestionSource = "PERFORMANCE_ANALYZER"
)

// Cost is the relative effort needed to apply a suggestion.
type Cost string

const (
	CostLow    Cost = "LOW"
	CostMedium Cost = "MEDIUM"
	CostHigh   Cost = "HIGH"
)

// Suggestion is one optimization hint attached to a query.
type Suggestion struct {
	ID                     string           `json:"id,omitempty" db:"id"`
	QueryID                string           `json:"query_id,omitempty" db:"query_id"`
	Type                   SuggestionType   `json:"suggestion_type" db:"suggestion_type"`
	Message                string           `json:"message" db:"message"`
	Confidence             float64          `json:"confidence" db:"confidence"`
	Source                 SuggestionSource `json:"source" db:"source"`
	EstimatedImprovementMs *float64         `json:"estimated_improvement_ms,omitempty" db:"estimated_improvement_ms"`
	ImplementationCost     Cost             `json:"implementation_cost" db:"implementation_cost"`
	CreatedAt              time.Time        `json:"created_at" db:"created_at"`
}

// Validate checks the confidence and improvement bounds.
func (s Suggestion) Validate() error {
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("suggestion %s: confidence %.3f out of range [0,1]", s.Type, s.Confidence)
	}
	if s.EstimatedImprovementMs != nil && *s.EstimatedImprovementMs < 0 {
		return fmt.Errorf("suggestion %s: negative estimated improvement %.3f", s.Type, *s.EstimatedImprovementMs)
	}
	switch s.ImplementationCost {
	case CostLow, CostMedium, CostHigh:
	default:
		return fmt.Errorf("suggestion %s: unknown implementation cost %q", s.Type, s.ImplementationCost)
	}
	return nil
}
