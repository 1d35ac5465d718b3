package tui

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/fatih/color"

	"github.com/mickamy/queryiq/internal/insight"
	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/internal/report"
)

// Options controls how the TUI renderer behaves.
type Options struct {
	EnableColor bool
	MaxDepth    int
	BarWidth    int
	// HideFeatures skips the feature block.
	HideFeatures bool
}

// Render prints the analysis summary, insights and an ASCII plan tree that
// highlights where the planner spends its cost.
func Render(w io.Writer, a *report.Analysis, opts Options) error {
	if w == nil {
		return errors.New("tui: writer is nil")
	}
	if a == nil {
		return errors.New("tui: empty analysis")
	}
	if opts.BarWidth <= 0 {
		opts.BarWidth = 20
	}
	p := palette{enabled: opts.EnableColor}

	renderHeader(w, a, p)
	if !opts.HideFeatures {
		renderFeatures(w, a.Features)
	}
	renderInsights(w, a, p)

	if a.Plan == nil {
		_, _ = fmt.Fprintln(w, "No execution plan available")
		return nil
	}
	r := treeRenderer{w: w, opts: opts, palette: p, rootCost: a.Plan.TotalCost}
	_, _ = fmt.Fprintf(w, "%s\n", r.line(a.Plan))
	r.children(a.Plan, "", 0)
	return nil
}

func renderHeader(w io.Writer, a *report.Analysis, p palette) {
	head := "Query"
	if a.QueryID != "" {
		head += " " + a.QueryID
	}
	if a.MeanExecTimeMs > 0 {
		head += fmt.Sprintf(" | mean %.3f ms", a.MeanExecTimeMs)
	}
	if a.Calls > 0 {
		head += " | calls " + insight.HumanizeRows(float64(a.Calls))
	}
	_, _ = fmt.Fprintln(w, p.paint(head, color.Bold))
	_, _ = fmt.Fprintf(w, "  %s\n", insight.Truncate(insight.NormalizeWhitespace(a.Query), 120))

	if s := a.Summary; s != nil {
		line := fmt.Sprintf("Cost %.2f", s.TotalCost)
		if a.ExecutionTimeMs > 0 {
			line += fmt.Sprintf(" | Execution %.3f ms (planning %.3f ms)", a.ExecutionTimeMs, a.PlanningTimeMs)
		} else if s.ActualTime != nil {
			line += fmt.Sprintf(" | Actual %.3f ms", *s.ActualTime)
		}
		line += fmt.Sprintf(" | Depth %d | Nodes %d", s.PlanDepth, s.NodeCount)
		_, _ = fmt.Fprintln(w, line)
	}
	_, _ = fmt.Fprintln(w)
}

func renderFeatures(w io.Writer, f model.FeatureSet) {
	q := f.Query
	_, _ = fmt.Fprintln(w, "Features:")
	_, _ = fmt.Fprintf(w, "  joins %d | subqueries %d | tables %d | complexity %.2f\n",
		q.NumJoins, q.NumSubqueries, q.NumTables, q.ComplexityScore)
	_, _ = fmt.Fprintf(w, "  select * %s | where %s | order by %s | group by %s | limit %s\n",
		yesNo(q.HasSelectStar), yesNo(q.HasWhereClause), yesNo(q.HasOrderBy), yesNo(q.HasGroupBy), yesNo(q.HasLimit))
	_, _ = fmt.Fprintf(w, "  indexed tables %.1f%% | avg table size %s | slow %s\n\n",
		f.IndexedTablesPct, insight.HumanizeSizeMB(f.AvgTableSizeMB), yesNo(f.IsSlowQuery))
}

func renderInsights(w io.Writer, a *report.Analysis, p palette) {
	messages := append(insight.BuildMessages(a.Plan), insight.FromSuggestions(a.Suggestions)...)
	if len(messages) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "Insights:")
	for _, msg := range messages {
		_, _ = fmt.Fprintf(w, "  - %s %s\n", insight.Icon(msg.Severity), p.paint(msg.Text, severityColor(msg.Severity)...))
	}
	_, _ = fmt.Fprintln(w)
}

type treeRenderer struct {
	w        io.Writer
	opts     Options
	palette  palette
	rootCost float64
}

func (r treeRenderer) children(parent *model.PlanNode, prefix string, depth int) {
	for i, child := range parent.Children {
		r.branch(child, prefix, depth+1, i == len(parent.Children)-1)
	}
}

func (r treeRenderer) branch(node *model.PlanNode, prefix string, depth int, isLast bool) {
	connector := "|-- "
	childPrefix := prefix + "|   "
	if isLast {
		connector = "`-- "
		childPrefix = prefix + "    "
	}
	_, _ = fmt.Fprintf(r.w, "%s%s%s\n", prefix, connector, r.line(node))

	if r.opts.MaxDepth > 0 && depth >= r.opts.MaxDepth {
		if len(node.Children) > 0 {
			_, _ = fmt.Fprintf(r.w, "%s`-- ... (%d more nodes)\n", childPrefix, countDescendants(node))
		}
		return
	}
	r.children(node, childPrefix, depth)
}

func (r treeRenderer) line(node *model.PlanNode) string {
	share := 0.0
	if r.rootCost > 0 {
		share = node.TotalCost / r.rootCost
	}

	bar := r.palette.paint(drawBar(share, r.opts.BarWidth), shareColor(share)...)
	parts := []string{
		insight.NodeLabel(node),
		fmt.Sprintf("cost %.2f", node.TotalCost),
		fmt.Sprintf("%5.1f%%", share*100),
		bar,
	}
	if rows := formatRows(node); rows != "" {
		parts = append(parts, rows)
	}
	return strings.Join(parts, " | ")
}

func formatRows(node *model.PlanNode) string {
	switch {
	case node.ActualRows != nil && node.PlanRows != nil:
		rows := fmt.Sprintf("rows %s/%s", insight.HumanizeRows(*node.ActualRows), insight.HumanizeRows(*node.PlanRows))
		factor := insight.EstimateFactor(node)
		if math.IsInf(factor, 1) {
			return rows + " (∞)"
		}
		return rows + fmt.Sprintf(" (x%.2f)", factor)
	case node.PlanRows != nil:
		return "est rows " + insight.HumanizeRows(*node.PlanRows)
	default:
		return ""
	}
}

func drawBar(ratio float64, width int) string {
	if width <= 0 {
		return ""
	}
	clamped := min(max(ratio, 0), 1)
	fill := int(math.Round(clamped * float64(width)))
	if clamped > 0 && fill == 0 {
		fill = 1
	}
	return strings.Repeat("#", fill) + strings.Repeat("-", width-fill)
}

func shareColor(ratio float64) []color.Attribute {
	switch {
	case ratio >= 0.75:
		return []color.Attribute{color.FgRed}
	case ratio >= 0.40:
		return []color.Attribute{color.FgYellow}
	case ratio >= 0.10:
		return []color.Attribute{color.FgCyan}
	default:
		return nil
	}
}

func severityColor(sev insight.Severity) []color.Attribute {
	switch sev {
	case insight.SeverityCritical:
		return []color.Attribute{color.FgRed, color.Bold}
	case insight.SeverityWarning:
		return []color.Attribute{color.FgYellow}
	default:
		return nil
	}
}

// palette applies colors only when enabled, regardless of what the color
// package detected about the terminal.
type palette struct {
	enabled bool
}

func (p palette) paint(text string, attrs ...color.Attribute) string {
	if !p.enabled || len(attrs) == 0 {
		return text
	}
	c := color.New(attrs...)
	c.EnableColor()
	return c.Sprint(text)
}

func countDescendants(node *model.PlanNode) int {
	total := 0
	for _, child := range node.Children {
		total += 1 + countDescendants(child)
	}
	return total
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
