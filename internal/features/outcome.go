package features

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/mysql"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// outcome is the result of trying to parse SQL text. Every feature is
// implemented once for a parsed syntax tree and once for raw text, so a new
// feature cannot be added without both.
type outcome interface {
	numJoins() int
	hasSelectStar() bool
	hasWhereClause() bool
	numSubqueries() int
	tables() []string
	hasAggregate() bool
	hasUnion() bool
	hasExistsOrIn() bool
	hasOrderBy() bool
	hasGroupBy() bool
	hasHaving() bool
	hasLimit() bool
	hasDistinct() bool
	syntaxTree() bool
}

var (
	_ outcome = (*parsedQuery)(nil)
	_ outcome = unparsedQuery("")
)

// parseQuery builds a syntax tree for text. The error is returned alongside
// the fallback outcome so callers can log why the tree was unavailable.
func parseQuery(text string) (outcome, error) {
	p := parser.New()
	p.SetSQLMode(mysql.ModeANSIQuotes | mysql.ModePipesAsConcat)

	stmts, _, err := p.Parse(text, "", "")
	if err != nil {
		return unparsedQuery(text), err
	}
	if len(stmts) == 0 {
		return unparsedQuery(text), errNoStatement
	}
	return newParsedQuery(stmts[0]), nil
}

// parsedQuery holds counters gathered in one walk over a statement tree.
type parsedQuery struct {
	root ast.StmtNode

	joins      int
	selects    int
	branches   int
	subqueries int
	tableSet   map[string]struct{}
	where      bool
	aggregate  bool
	union      bool
	existsOrIn bool
	orderBy    bool
	groupBy    bool
	having     bool
	limit      bool
	distinct   bool
}

func newParsedQuery(stmt ast.StmtNode) *parsedQuery {
	q := &parsedQuery{root: stmt, tableSet: map[string]struct{}{}}
	stmt.Accept(q)
	return q
}

// Enter implements ast.Visitor.
func (q *parsedQuery) Enter(n ast.Node) (ast.Node, bool) {
	switch node := n.(type) {
	case *ast.Join:
		if node.Right != nil {
			q.joins++
		}
	case *ast.SelectStmt:
		q.selects++
		if node.Where != nil {
			q.where = true
		}
		if node.OrderBy != nil {
			q.orderBy = true
		}
		if node.GroupBy != nil {
			q.groupBy = true
		}
		if node.Having != nil {
			q.having = true
		}
		if node.Limit != nil {
			q.limit = true
		}
		if node.Distinct {
			q.distinct = true
		}
		if op := node.AfterSetOperator; op != nil && (*op == ast.Union || *op == ast.UnionAll) {
			q.union = true
		}
	case *ast.SetOprSelectList:
		if n := len(node.Selects); n > 1 {
			q.branches += n - 1
		}
	case *ast.SetOprStmt:
		if node.OrderBy != nil {
			q.orderBy = true
		}
		if node.Limit != nil {
			q.limit = true
		}
	case *ast.UpdateStmt:
		if node.Where != nil {
			q.where = true
		}
	case *ast.DeleteStmt:
		if node.Where != nil {
			q.where = true
		}
	case *ast.SubqueryExpr:
		q.subqueries++
	case *ast.ExistsSubqueryExpr, *ast.PatternInExpr:
		q.existsOrIn = true
	case *ast.AggregateFuncExpr:
		switch strings.ToLower(node.F) {
		case ast.AggFuncCount, ast.AggFuncSum, ast.AggFuncAvg, ast.AggFuncMax, ast.AggFuncMin:
			q.aggregate = true
		}
	case *ast.TableName:
		name := node.Name.L
		if name == "" {
			break
		}
		if schema := node.Schema.L; schema != "" {
			name = schema + "." + name
		}
		q.tableSet[name] = struct{}{}
	}
	return n, false
}

// Leave implements ast.Visitor.
func (q *parsedQuery) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}

// numJoins counts join nodes with a right side, so the comma join in
// "FROM a, b" counts as one. The text fallback only sees the JOIN keyword and
// counts it as none.
func (q *parsedQuery) numJoins() int { return q.joins }

func (q *parsedQuery) hasSelectStar() bool {
	switch stmt := q.root.(type) {
	case *ast.SelectStmt:
		return selectHasStar(stmt)
	case *ast.SetOprStmt:
		if stmt.SelectList == nil {
			return false
		}
		for _, sel := range stmt.SelectList.Selects {
			if s, ok := sel.(*ast.SelectStmt); ok && selectHasStar(s) {
				return true
			}
		}
	}
	return false
}

func selectHasStar(stmt *ast.SelectStmt) bool {
	if stmt.Fields == nil {
		return false
	}
	for _, field := range stmt.Fields.Fields {
		if field.WildCard != nil {
			return true
		}
	}
	return false
}

func (q *parsedQuery) hasWhereClause() bool { return q.where }

// numSubqueries does not count the sibling branches of a set operation as
// nested selects.
func (q *parsedQuery) numSubqueries() int {
	return max(q.subqueries, q.selects-q.branches-1, 0)
}

func (q *parsedQuery) tables() []string { return sortedSet(q.tableSet) }

func (q *parsedQuery) hasAggregate() bool  { return q.aggregate }
func (q *parsedQuery) hasUnion() bool      { return q.union }
func (q *parsedQuery) hasExistsOrIn() bool { return q.existsOrIn }
func (q *parsedQuery) hasOrderBy() bool    { return q.orderBy }
func (q *parsedQuery) hasGroupBy() bool    { return q.groupBy }
func (q *parsedQuery) hasHaving() bool     { return q.having }
func (q *parsedQuery) hasLimit() bool      { return q.limit }
func (q *parsedQuery) hasDistinct() bool   { return q.distinct }
func (q *parsedQuery) syntaxTree() bool    { return true }

var (
	joinPattern       = regexp.MustCompile(`(?i)\bJOIN\b`)
	selectStarPattern = regexp.MustCompile(`(?i)SELECT\s*\*`)
	wherePattern      = regexp.MustCompile(`(?i)\bWHERE\b`)
	subqueryPattern   = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
	tablePattern      = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+((?:"[^"]+"|[A-Za-z_][\w$]*)(?:\.(?:"[^"]+"|[A-Za-z_][\w$]*))?)`)
	aggregatePattern  = regexp.MustCompile(`(?i)\b(?:COUNT|SUM|AVG|MAX|MIN)\s*\(`)
	unionPattern      = regexp.MustCompile(`(?i)\bUNION\b`)
	existsInPattern   = regexp.MustCompile(`(?i)\b(?:EXISTS|IN)\b`)
	orderByPattern    = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	groupByPattern    = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	havingPattern     = regexp.MustCompile(`(?i)\bHAVING\b`)
	limitPattern      = regexp.MustCompile(`(?i)\bLIMIT\b|\bFETCH\s+(?:FIRST|NEXT)\b`)
	distinctPattern   = regexp.MustCompile(`(?i)\bDISTINCT\b`)
)

// unparsedQuery answers feature questions with keyword heuristics when the
// text could not be parsed (dialect-specific syntax, placeholders, ...).
type unparsedQuery string

func (q unparsedQuery) numJoins() int {
	return len(joinPattern.FindAllStringIndex(string(q), -1))
}

func (q unparsedQuery) hasSelectStar() bool { return selectStarPattern.MatchString(string(q)) }
func (q unparsedQuery) hasWhereClause() bool { return wherePattern.MatchString(string(q)) }

func (q unparsedQuery) numSubqueries() int {
	return len(subqueryPattern.FindAllStringIndex(string(q), -1))
}

func (q unparsedQuery) tables() []string {
	set := map[string]struct{}{}
	for _, match := range tablePattern.FindAllStringSubmatch(string(q), -1) {
		name := strings.ToLower(strings.ReplaceAll(match[1], `"`, ""))
		set[name] = struct{}{}
	}
	return sortedSet(set)
}

func (q unparsedQuery) hasAggregate() bool  { return aggregatePattern.MatchString(string(q)) }
func (q unparsedQuery) hasUnion() bool      { return unionPattern.MatchString(string(q)) }
func (q unparsedQuery) hasExistsOrIn() bool { return existsInPattern.MatchString(string(q)) }
func (q unparsedQuery) hasOrderBy() bool    { return orderByPattern.MatchString(string(q)) }
func (q unparsedQuery) hasGroupBy() bool    { return groupByPattern.MatchString(string(q)) }
func (q unparsedQuery) hasHaving() bool     { return havingPattern.MatchString(string(q)) }
func (q unparsedQuery) hasLimit() bool      { return limitPattern.MatchString(string(q)) }
func (q unparsedQuery) hasDistinct() bool   { return distinctPattern.MatchString(string(q)) }
func (q unparsedQuery) syntaxTree() bool    { return false }

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
