package model

import "time"

// QueryFeatures are derived from SQL text alone.
type QueryFeatures struct {
	NumJoins        int      `json:"num_joins"`
	HasSelectStar   bool     `json:"has_select_star"`
	HasWhereClause  bool     `json:"has_where_clause"`
	NumSubqueries   int      `json:"num_subqueries"`
	QueryLength     int      `json:"query_length"`
	NumTables       int      `json:"num_tables"`
	Tables          []string `json:"tables,omitempty"`
	HasOrderBy      bool     `json:"has_order_by"`
	HasGroupBy      bool     `json:"has_group_by"`
	HasHaving       bool     `json:"has_having"`
	HasLimit        bool     `json:"has_limit"`
	HasDistinct     bool     `json:"has_distinct"`
	HasAggregate    bool     `json:"has_aggregate"`
	HasUnion        bool     `json:"has_union"`
	HasExistsOrIn   bool     `json:"has_exists_or_in"`
	ComplexityScore float64  `json:"complexity_score"`
	// SyntaxTree is true when the values came from a parsed syntax tree
	// rather than the keyword heuristics.
	SyntaxTree bool `json:"syntax_tree"`
}

// PlanFeatures mirror a plan analysis plus scan counts.
type PlanFeatures struct {
	TotalCost          float64  `json:"total_cost"`
	ActualTime         float64  `json:"actual_time"`
	PlanDepth          int      `json:"plan_depth"`
	ScanTypes          []string `json:"scan_types"`
	JoinTypes          []string `json:"join_types"`
	HasSequentialScan  bool     `json:"has_sequential_scan"`
	HasIndexScan       bool     `json:"has_index_scan"`
	EstimatedRows      float64  `json:"estimated_rows"`
	ActualRows         float64  `json:"actual_rows"`
	TablesScanned      []string `json:"tables_scanned"`
	IndexesUsed        []string `json:"indexes_used"`
	NumSequentialScans int      `json:"num_sequential_scans"`
	NumIndexScans      int      `json:"num_index_scans"`
}

// FeatureSet is the merged feature record for one analysis request.
// Plan is nil when no execution plan was available.
type FeatureSet struct {
	Query            QueryFeatures `json:"query"`
	Plan             *PlanFeatures `json:"plan,omitempty"`
	IndexedTablesPct float64       `json:"indexed_tables_pct"`
	AvgTableSizeMB   float64       `json:"avg_table_size_mb"`
	IsSlowQuery      bool          `json:"is_slow_query"`

	// CatalogChecked is true only when IndexedTablesPct and AvgTableSizeMB
	// came from catalog lookups; otherwise both are zero placeholders.
	CatalogChecked bool `json:"catalog_checked"`
}

// Vector flattens the feature set into named numeric features, booleans
// encoded as 0/1. Plan features are zero when no plan was merged.
func (f FeatureSet) Vector() map[string]float64 {
	q := f.Query
	out := map[string]float64{
		"num_joins":          float64(q.NumJoins),
		"has_select_star":    boolToFloat(q.HasSelectStar),
		"has_where_clause":   boolToFloat(q.HasWhereClause),
		"num_subqueries":     float64(q.NumSubqueries),
		"query_length":       float64(q.QueryLength),
		"num_tables":         float64(q.NumTables),
		"has_order_by":       boolToFloat(q.HasOrderBy),
		"has_group_by":       boolToFloat(q.HasGroupBy),
		"has_having":         boolToFloat(q.HasHaving),
		"has_limit":          boolToFloat(q.HasLimit),
		"has_distinct":       boolToFloat(q.HasDistinct),
		"has_aggregate":      boolToFloat(q.HasAggregate),
		"complexity_score":   q.ComplexityScore,
		"indexed_tables_pct": f.IndexedTablesPct,
		"avg_table_size_mb":  f.AvgTableSizeMB,
		"is_slow_query":      boolToFloat(f.IsSlowQuery),
	}
	var p PlanFeatures
	if f.Plan != nil {
		p = *f.Plan
	}
	out["total_cost"] = p.TotalCost
	out["actual_time"] = p.ActualTime
	out["plan_depth"] = float64(p.PlanDepth)
	out["has_sequential_scan"] = boolToFloat(p.HasSequentialScan)
	out["has_index_scan"] = boolToFloat(p.HasIndexScan)
	out["estimated_rows"] = p.EstimatedRows
	out["actual_rows"] = p.ActualRows
	out["num_sequential_scans"] = float64(p.NumSequentialScans)
	out["num_index_scans"] = float64(p.NumIndexScans)
	return out
}

// QueryFeature is the persisted feature record owned by a query.
type QueryFeature struct {
	ID        string    `json:"id"`
	QueryID   string    `json:"query_id"`
	CreatedAt time.Time `json:"created_at"`
	FeatureSet
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
