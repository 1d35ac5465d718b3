package model

import "strings"

// Explain represents the root of a PostgreSQL execution plan document.
type Explain struct {
	Plan          *PlanNode
	PlanningTime  float64
	ExecutionTime float64
	// Extra carries additional top-level fields that we do not interpret yet.
	Extra map[string]any
}

// PlanNode captures one node in the execution plan tree.
//
// ScanType, TableName and IndexName are only set on scan nodes; JoinType is
// only set on join nodes. A node exclusively owns its Children.
type PlanNode struct {
	NodeType   string      `json:"node_type"`
	TotalCost  float64     `json:"total_cost"`
	ActualTime *float64    `json:"actual_time,omitempty"`
	PlanRows   *float64    `json:"plan_rows,omitempty"`
	ActualRows *float64    `json:"actual_rows,omitempty"`
	ScanType   string      `json:"scan_type,omitempty"`
	TableName  string      `json:"table_name,omitempty"`
	IndexName  string      `json:"index_name,omitempty"`
	JoinType   string      `json:"join_type,omitempty"`
	Schema     string      `json:"schema,omitempty"`
	Children   []*PlanNode `json:"children,omitempty"`
}

// IsScan reports whether the node type denotes a scan operation.
func IsScan(nodeType string) bool {
	return strings.Contains(nodeType, "Scan")
}

// IsJoin reports whether the node type denotes a join operation.
func IsJoin(nodeType string) bool {
	return strings.Contains(nodeType, "Join")
}

// Float returns a pointer to v, for optional plan fields.
func Float(v float64) *float64 {
	return &v
}

// Value dereferences an optional float, returning 0 when unset.
func Value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
