package rules

import (
	"fmt"
	"regexp"

	"github.com/mickamy/queryiq/internal/analyzer"
	"github.com/mickamy/queryiq/internal/model"
)

// RuleID identifies one heuristic. Rules are evaluated in RuleID order.
type RuleID int

const (
	RuleSelectStar RuleID = iota
	RuleMissingWhere
	RuleManyJoins
	RuleSubqueries
	RuleSlowMean
	RuleFrequentCalls
	RuleHighTotalTime
	RuleSequentialScan
	RuleHighCost
	RuleDeepPlan
	RuleLowIndexCoverage
	RuleWhereIndex

	ruleCount
)

// Group is the rule family a rule belongs to.
type Group string

const (
	GroupStructure   Group = "structure"
	GroupPerformance Group = "performance"
	GroupPlan        Group = "plan"
	GroupIndex       Group = "index"
)

const (
	manyJoins          = 3
	frequentCalls      = 1000
	highTotalTimeMs    = 10000
	highPlanCost       = 1000
	deepPlan           = 5
	lowIndexCoveragePc = 50
)

var selectKeyword = regexp.MustCompile(`(?i)\bSELECT\b`)

// input is everything a rule may look at. features and analysis may be nil.
type input struct {
	log        *model.QueryLog
	features   *model.FeatureSet
	analysis   *analyzer.PlanAnalysis
	slowMeanMs float64
}

// draft is the part of a suggestion a rule decides; identity, source and
// timestamps are filled in by the engine.
type draft struct {
	kind        model.SuggestionType
	message     string
	confidence  float64
	improvement float64
	cost        model.Cost
}

type rule struct {
	name  string
	group Group
	eval  func(in input) (draft, bool)
}

var table = [...]rule{
	RuleSelectStar: {
		name:  "select-star",
		group: GroupStructure,
		eval: func(in input) (draft, bool) {
			if in.features == nil || !in.features.Query.HasSelectStar {
				return draft{}, false
			}
			return draft{model.SuggestionQueryRewrite,
				"Consider replacing SELECT * with specific column names to improve performance and reduce network transfer",
				0.8, 50, model.CostLow}, true
		},
	},
	RuleMissingWhere: {
		name:  "missing-where",
		group: GroupStructure,
		eval: func(in input) (draft, bool) {
			if in.features == nil || in.features.Query.HasWhereClause || !selectKeyword.MatchString(in.log.QueryText) {
				return draft{}, false
			}
			return draft{model.SuggestionQueryRewrite,
				"Consider adding a WHERE clause to filter results and improve performance",
				0.6, 100, model.CostLow}, true
		},
	},
	RuleManyJoins: {
		name:  "many-joins",
		group: GroupStructure,
		eval: func(in input) (draft, bool) {
			if in.features == nil || in.features.Query.NumJoins <= manyJoins {
				return draft{}, false
			}
			return draft{model.SuggestionQueryRewrite,
				fmt.Sprintf("Query has %d joins. Consider breaking it into smaller queries or adding indexes", in.features.Query.NumJoins),
				0.7, 200, model.CostMedium}, true
		},
	},
	RuleSubqueries: {
		name:  "subqueries",
		group: GroupStructure,
		eval: func(in input) (draft, bool) {
			if in.features == nil || in.features.Query.NumSubqueries == 0 {
				return draft{}, false
			}
			return draft{model.SuggestionQueryRewrite,
				"Consider replacing subqueries with JOINs for better performance",
				0.6, 150, model.CostMedium}, true
		},
	},
	RuleSlowMean: {
		name:  "slow-mean",
		group: GroupPerformance,
		eval: func(in input) (draft, bool) {
			if in.log.MeanExecTime <= in.slowMeanMs {
				return draft{}, false
			}
			return draft{model.SuggestionPerformance,
				fmt.Sprintf("Query execution time (%.2fms) exceeds threshold. Consider optimization", in.log.MeanExecTime),
				0.9, in.log.MeanExecTime * 0.5, model.CostHigh}, true
		},
	},
	RuleFrequentCalls: {
		name:  "frequent-calls",
		group: GroupPerformance,
		eval: func(in input) (draft, bool) {
			if in.log.Calls <= frequentCalls {
				return draft{}, false
			}
			return draft{model.SuggestionCaching,
				fmt.Sprintf("Query called %d times. Consider implementing caching or query optimization", in.log.Calls),
				0.8, 100, model.CostMedium}, true
		},
	},
	RuleHighTotalTime: {
		name:  "high-total-time",
		group: GroupPerformance,
		eval: func(in input) (draft, bool) {
			if in.log.TotalExecTime <= highTotalTimeMs {
				return draft{}, false
			}
			return draft{model.SuggestionPerformance,
				fmt.Sprintf("Total execution time is %.2fms. This query needs optimization", in.log.TotalExecTime),
				0.9, in.log.TotalExecTime * 0.3, model.CostHigh}, true
		},
	},
	RuleSequentialScan: {
		name:  "sequential-scan",
		group: GroupPlan,
		eval: func(in input) (draft, bool) {
			if in.analysis == nil || !in.analysis.HasSequentialScan {
				return draft{}, false
			}
			return draft{model.SuggestionIndex,
				"Query uses sequential scan. Consider adding indexes on frequently queried columns",
				0.8, 300, model.CostMedium}, true
		},
	},
	RuleHighCost: {
		name:  "high-cost",
		group: GroupPlan,
		eval: func(in input) (draft, bool) {
			if in.analysis == nil || in.analysis.TotalCost <= highPlanCost {
				return draft{}, false
			}
			return draft{model.SuggestionOptimization,
				fmt.Sprintf("Execution plan has high cost (%.2f). Consider query rewrite or indexing", in.analysis.TotalCost),
				0.7, 200, model.CostHigh}, true
		},
	},
	RuleDeepPlan: {
		name:  "deep-plan",
		group: GroupPlan,
		eval: func(in input) (draft, bool) {
			if in.analysis == nil || in.analysis.PlanDepth <= deepPlan {
				return draft{}, false
			}
			return draft{model.SuggestionQueryRewrite,
				fmt.Sprintf("Execution plan is deep (%d levels). Consider simplifying the query", in.analysis.PlanDepth),
				0.6, 150, model.CostMedium}, true
		},
	},
	RuleLowIndexCoverage: {
		name:  "low-index-coverage",
		group: GroupIndex,
		eval: func(in input) (draft, bool) {
			f := in.features
			if f == nil || !f.CatalogChecked || f.Plan == nil || len(f.Plan.TablesScanned) == 0 || f.IndexedTablesPct >= lowIndexCoveragePc {
				return draft{}, false
			}
			return draft{model.SuggestionIndex,
				fmt.Sprintf("Only %.1f%% of tables have indexes. Consider adding indexes", f.IndexedTablesPct),
				0.7, 250, model.CostMedium}, true
		},
	},
	RuleWhereIndex: {
		name:  "where-index",
		group: GroupIndex,
		eval: func(in input) (draft, bool) {
			if in.features == nil || !in.features.Query.HasWhereClause {
				return draft{}, false
			}
			return draft{model.SuggestionIndex,
				"Query has WHERE clause. Ensure indexed columns are used in WHERE conditions",
				0.6, 100, model.CostLow}, true
		},
	},
}

// every RuleID needs a table entry
var _ = [1]struct{}{}[len(table)-int(ruleCount)]

// String returns the rule's short name.
func (id RuleID) String() string {
	if id < 0 || id >= ruleCount {
		return fmt.Sprintf("rule(%d)", int(id))
	}
	return table[id].name
}

// Group returns the family the rule belongs to.
func (id RuleID) Group() Group {
	if id < 0 || id >= ruleCount {
		return ""
	}
	return table[id].group
}

// evaluate runs every rule in declaration order and returns the drafts that
// fired together with their rule IDs.
func evaluate(in input) ([]RuleID, []draft) {
	var ids []RuleID
	var drafts []draft
	for id := RuleID(0); id < ruleCount; id++ {
		if d, ok := table[id].eval(in); ok {
			ids = append(ids, id)
			drafts = append(drafts, d)
		}
	}
	return ids, drafts
}
