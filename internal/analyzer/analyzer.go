package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mickamy/queryiq/internal/model"
)

// PlanAnalysis contains derived metrics for a parsed plan.
type PlanAnalysis struct {
	TotalCost         float64  `json:"total_cost"`
	ActualTime        *float64 `json:"actual_time,omitempty"`
	PlanDepth         int      `json:"plan_depth"`
	ScanTypes         []string `json:"scan_types"`
	JoinTypes         []string `json:"join_types"`
	TablesScanned     []string `json:"tables_scanned"`
	IndexesUsed       []string `json:"indexes_used"`
	HasSequentialScan bool     `json:"has_sequential_scan"`
	HasIndexScan      bool     `json:"has_index_scan"`
	EstimatedRows     *float64 `json:"estimated_rows,omitempty"`
	ActualRows        *float64 `json:"actual_rows,omitempty"`
	NodeCount         int      `json:"node_count"`
}

type collector struct {
	scans   map[string]struct{}
	joins   map[string]struct{}
	tables  map[string]struct{}
	indexes map[string]struct{}
	seqScan bool
	idxScan bool
	nodes   int
}

// Analyze derives metrics for the provided plan in a single depth-first pass.
func Analyze(root *model.PlanNode) (*PlanAnalysis, error) {
	if root == nil {
		return nil, fmt.Errorf("analyze: missing plan")
	}

	c := &collector{
		scans:   map[string]struct{}{},
		joins:   map[string]struct{}{},
		tables:  map[string]struct{}{},
		indexes: map[string]struct{}{},
	}
	depth := c.walk(root)

	return &PlanAnalysis{
		TotalCost:         root.TotalCost,
		ActualTime:        root.ActualTime,
		PlanDepth:         depth,
		ScanTypes:         sortedKeys(c.scans),
		JoinTypes:         sortedKeys(c.joins),
		TablesScanned:     sortedKeys(c.tables),
		IndexesUsed:       sortedKeys(c.indexes),
		HasSequentialScan: c.seqScan,
		HasIndexScan:      c.idxScan,
		EstimatedRows:     root.PlanRows,
		ActualRows:        root.ActualRows,
		NodeCount:         c.nodes,
	}, nil
}

// walk records node into the collector and returns the number of edges on
// the longest path from node to a leaf.
func (c *collector) walk(node *model.PlanNode) int {
	c.nodes++
	if node.ScanType != "" {
		c.scans[node.ScanType] = struct{}{}
		if !c.seqScan && strings.Contains(node.ScanType, "Seq Scan") {
			c.seqScan = true
		}
		if !c.idxScan && strings.Contains(node.ScanType, "Index Scan") {
			c.idxScan = true
		}
	}
	if node.JoinType != "" {
		c.joins[node.JoinType] = struct{}{}
	}
	if node.TableName != "" {
		c.tables[node.TableName] = struct{}{}
	}
	if node.IndexName != "" {
		c.indexes[node.IndexName] = struct{}{}
	}

	depth := 0
	for _, child := range node.Children {
		if d := 1 + c.walk(child); d > depth {
			depth = d
		}
	}
	return depth
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Walk visits every node of the tree in depth-first order.
func Walk(node *model.PlanNode, fn func(node *model.PlanNode, depth int)) {
	walkDepth(node, 0, fn)
}

func walkDepth(node *model.PlanNode, depth int, fn func(*model.PlanNode, int)) {
	if node == nil {
		return
	}
	fn(node, depth)
	for _, child := range node.Children {
		walkDepth(child, depth+1, fn)
	}
}
