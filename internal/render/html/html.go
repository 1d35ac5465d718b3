package html

import (
	"fmt"
	"html/template"
	"io"
	"math"

	"github.com/mickamy/queryiq/internal/insight"
	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/internal/report"
)

// Options configures the HTML renderer.
type Options struct {
	Title         string
	IncludeStyles bool
}

var reportTpl = template.Must(template.New("report").Parse(reportTemplate))

// Render writes an HTML report with the query summary, features,
// suggestions and an annotated plan tree.
func Render(w io.Writer, a *report.Analysis, opts Options) error {
	if a == nil {
		return fmt.Errorf("html render: empty analysis")
	}
	if opts.Title == "" {
		opts.Title = "queryiq report"
	}
	if err := reportTpl.Execute(w, buildTemplateData(a, opts)); err != nil {
		return fmt.Errorf("html render: execute template: %w", err)
	}
	return nil
}

type templateData struct {
	Title         string
	IncludeStyles bool
	Query         string
	Tiles         []tileView
	Insights      []insightView
	Features      []listView
	Suggestions   []listView
	Benchmark     []listView
	Root          *nodeView
}

type tileView struct {
	Label string
	Value string
}

type listView struct {
	Label string
	Value string
	Extra string
}

type insightView struct {
	Icon     string
	Severity string
	Text     string
	Anchor   string
}

type nodeView struct {
	Label    string
	Anchor   string
	Cost     string
	Share    string
	BarWidth float64
	Heat     float64
	Rows     string
	Children []*nodeView
}

func buildTemplateData(a *report.Analysis, opts Options) templateData {
	data := templateData{
		Title:         opts.Title,
		IncludeStyles: opts.IncludeStyles,
		Query:         a.Query,
		Tiles:         buildTiles(a),
		Features:      buildFeatures(a.Features),
	}

	messages := append(insight.BuildMessages(a.Plan), insight.FromSuggestions(a.Suggestions)...)
	for _, msg := range messages {
		data.Insights = append(data.Insights, insightView{
			Icon:     insight.Icon(msg.Severity),
			Severity: string(msg.Severity),
			Text:     msg.Text,
			Anchor:   msg.Anchor,
		})
	}

	for _, s := range a.Suggestions {
		extra := fmt.Sprintf("%s effort", s.ImplementationCost)
		if s.EstimatedImprovementMs != nil {
			extra = fmt.Sprintf("~%.0f ms, %s", *s.EstimatedImprovementMs, extra)
		}
		data.Suggestions = append(data.Suggestions, listView{
			Label: fmt.Sprintf("%s: %s", s.Type, s.Message),
			Value: fmt.Sprintf("%.0f%%", s.Confidence*100),
			Extra: extra,
		})
	}

	if b := a.Benchmark; b != nil {
		data.Benchmark = []listView{
			{Label: "Original", Value: fmt.Sprintf("%.3f ms", b.OriginalAvgMs), Extra: fmt.Sprintf("median %.3f ms", b.OriginalStats.Median)},
			{Label: "Optimized", Value: fmt.Sprintf("%.3f ms", b.OptimizedAvgMs), Extra: fmt.Sprintf("median %.3f ms", b.OptimizedStats.Median)},
			{Label: "Improvement", Value: fmt.Sprintf("%.1f%%", b.ImprovementPct), Extra: fmt.Sprintf("%s, confidence %.2f", b.OptimizationType, b.Confidence)},
		}
	}

	if a.Plan != nil {
		data.Root = buildNodeView(a.Plan, a.Plan.TotalCost, insight.Anchors(a.Plan))
	}
	return data
}

func buildTiles(a *report.Analysis) []tileView {
	var tiles []tileView
	if a.MeanExecTimeMs > 0 {
		tiles = append(tiles, tileView{"Mean time", fmt.Sprintf("%.3f ms", a.MeanExecTimeMs)})
	}
	if a.Calls > 0 {
		tiles = append(tiles, tileView{"Calls", insight.HumanizeRows(float64(a.Calls))})
	}
	if s := a.Summary; s != nil {
		tiles = append(tiles,
			tileView{"Total cost", fmt.Sprintf("%.2f", s.TotalCost)},
			tileView{"Depth / Nodes", fmt.Sprintf("%d / %d", s.PlanDepth, s.NodeCount)},
		)
		if s.ActualTime != nil {
			tiles = append(tiles, tileView{"Actual time", fmt.Sprintf("%.3f ms", *s.ActualTime)})
		}
	}
	tiles = append(tiles, tileView{"Complexity", fmt.Sprintf("%.2f", a.Features.Query.ComplexityScore)})
	return tiles
}

func buildFeatures(f model.FeatureSet) []listView {
	q := f.Query
	rows := []listView{
		{Label: "Joins", Value: fmt.Sprint(q.NumJoins)},
		{Label: "Subqueries", Value: fmt.Sprint(q.NumSubqueries)},
		{Label: "Tables", Value: fmt.Sprint(q.NumTables)},
		{Label: "SELECT *", Value: yesNo(q.HasSelectStar)},
		{Label: "WHERE clause", Value: yesNo(q.HasWhereClause)},
		{Label: "Indexed tables", Value: fmt.Sprintf("%.1f%%", f.IndexedTablesPct)},
		{Label: "Average table size", Value: insight.HumanizeSizeMB(f.AvgTableSizeMB)},
		{Label: "Slow query", Value: yesNo(f.IsSlowQuery)},
	}
	if p := f.Plan; p != nil {
		rows = append(rows,
			listView{Label: "Sequential scans", Value: fmt.Sprint(p.NumSequentialScans)},
			listView{Label: "Index scans", Value: fmt.Sprint(p.NumIndexScans)},
		)
	}
	return rows
}

func buildNodeView(node *model.PlanNode, rootCost float64, anchors map[*model.PlanNode]string) *nodeView {
	share := 0.0
	if rootCost > 0 {
		share = node.TotalCost / rootCost
	}
	view := &nodeView{
		Label:    insight.NodeLabel(node),
		Anchor:   anchors[node],
		Cost:     fmt.Sprintf("cost %.2f", node.TotalCost),
		Share:    fmt.Sprintf("%.1f%%", share*100),
		BarWidth: math.Min(100, math.Max(0, share*100)),
		Heat:     math.Min(1, math.Max(0, share)),
		Rows:     formatRows(node),
	}
	for _, child := range node.Children {
		view.Children = append(view.Children, buildNodeView(child, rootCost, anchors))
	}
	return view
}

func formatRows(node *model.PlanNode) string {
	switch {
	case node.ActualRows != nil && node.PlanRows != nil:
		factor := insight.EstimateFactor(node)
		if math.IsInf(factor, 1) {
			return fmt.Sprintf("rows %s / %s (∞)", insight.HumanizeRows(*node.ActualRows), insight.HumanizeRows(*node.PlanRows))
		}
		return fmt.Sprintf("rows %s / %s (x%.2f)", insight.HumanizeRows(*node.ActualRows), insight.HumanizeRows(*node.PlanRows), factor)
	case node.PlanRows != nil:
		return "est rows " + insight.HumanizeRows(*node.PlanRows)
	default:
		return ""
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	{{- if .IncludeStyles }}
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0; background: #f5f6f8; color: #1f2430; }
		main { max-width: 980px; margin: 0 auto; padding: 28px 24px 48px; }
		header.page { background: #1d2636; color: #f5f6f8; padding: 28px 24px; }
		header.page h1 { margin: 0 0 10px; font-size: 26px; }
		header.page pre { margin: 0; white-space: pre-wrap; font-size: 13px; opacity: 0.85; }
		section { margin-top: 28px; }
		section h2 { margin-bottom: 12px; font-size: 19px; }
		.tiles { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 12px; }
		.tile { background: #fff; border-radius: 10px; padding: 14px 16px; box-shadow: 0 4px 14px rgba(13,28,39,0.10); }
		.tile strong { display: block; font-size: 12px; text-transform: uppercase; letter-spacing: 0.05em; color: #5b6b80; margin-bottom: 6px; }
		.tile span { font-size: 18px; font-weight: 600; }
		.rows { list-style: none; margin: 0; padding: 0; background: #fff; border-radius: 12px; box-shadow: 0 4px 12px rgba(13,28,39,0.08); }
		.rows li { display: grid; grid-template-columns: 1fr auto auto; gap: 14px; padding: 10px 16px; font-size: 14px; border-bottom: 1px solid rgba(91,107,128,0.15); }
		.rows li:last-child { border-bottom: none; }
		.rows li span.extra { color: #5b6b80; font-size: 13px; }
		.insights { list-style: none; margin: 0; padding: 0; display: flex; flex-direction: column; gap: 8px; }
		.insights li { background: #fff; border-radius: 10px; padding: 12px 14px; font-size: 14px; display: flex; gap: 10px; align-items: center; box-shadow: 0 3px 10px rgba(13,28,39,0.08); }
		.insights li a { color: inherit; }
		.insights li.severity-critical { border-left: 4px solid #e5484d; }
		.insights li.severity-warning { border-left: 4px solid #f5a524; }
		.insights li.severity-info { border-left: 4px solid rgba(29,38,54,0.15); }
		.plan-tree { list-style: none; margin: 0; padding: 0; }
		.node-card { background: #fff; border-radius: 10px; margin-bottom: 10px; padding: 14px 16px; position: relative; box-shadow: 0 6px 16px rgba(16,37,58,0.10); }
		.node-card::after { content: ""; position: absolute; inset: 0; border-radius: inherit; background: linear-gradient(90deg, rgba(229,72,77,var(--heat)) 0%, rgba(229,72,77,0) 70%); opacity: 0.3; pointer-events: none; }
		.node-header { display: flex; justify-content: space-between; gap: 12px; }
		.node-label { font-weight: 600; font-size: 15px; }
		.node-metrics, .node-meta { font-size: 13px; color: #5b6b80; }
		.node-bar { margin-top: 8px; background: rgba(29,38,54,0.08); border-radius: 999px; height: 7px; overflow: hidden; }
		.node-bar span { display: block; height: 100%; background: linear-gradient(90deg, #e5484d 0%, #f5a524 100%); width: calc(var(--width) * 1%); }
		.node-meta { margin-top: 8px; }
		.node-children { list-style: none; margin-left: 22px; border-left: 1px dashed rgba(29,38,54,0.18); padding-left: 18px; }
	</style>
	{{- end }}
</head>
<body>
	<header class="page">
		<h1>{{.Title}}</h1>
		<pre>{{.Query}}</pre>
	</header>
	<main>
		<section>
			<h2>Summary</h2>
			<div class="tiles">
				{{- range .Tiles }}
				<div class="tile"><strong>{{.Label}}</strong><span>{{.Value}}</span></div>
				{{- end }}
			</div>
		</section>

		{{- if .Insights }}
		<section>
			<h2>Insights</h2>
			<ul class="insights">
				{{- range .Insights }}
				<li class="severity-{{.Severity}}"><span>{{.Icon}}</span><span>
					{{- if .Anchor -}}<a href="#{{.Anchor}}">{{.Text}}</a>{{- else -}}{{.Text}}{{- end -}}
				</span></li>
				{{- end }}
			</ul>
		</section>
		{{- end }}

		<section>
			<h2>Features</h2>
			<ul class="rows">
				{{- range .Features }}
				<li><span>{{.Label}}</span><span>{{.Value}}</span><span class="extra">{{.Extra}}</span></li>
				{{- end }}
			</ul>
		</section>

		<section>
			<h2>Suggestions</h2>
			<ul class="rows">
				{{- range .Suggestions }}
				<li><span>{{.Label}}</span><span>{{.Value}}</span><span class="extra">{{.Extra}}</span></li>
				{{- else }}
				<li><span>No suggestions</span></li>
				{{- end }}
			</ul>
		</section>

		{{- if .Benchmark }}
		<section>
			<h2>Benchmark</h2>
			<ul class="rows">
				{{- range .Benchmark }}
				<li><span>{{.Label}}</span><span>{{.Value}}</span><span class="extra">{{.Extra}}</span></li>
				{{- end }}
			</ul>
		</section>
		{{- end }}

		<section>
			<h2>Plan Tree</h2>
			{{- if .Root }}
			<ul class="plan-tree">
				{{ template "node" .Root }}
			</ul>
			{{- else }}
			<p>No execution plan available</p>
			{{- end }}
		</section>
	</main>

	{{ define "node" }}
	<li>
		<div class="node-card" id="{{.Anchor}}" style="--heat: {{printf "%.3f" .Heat}};">
			<div class="node-header">
				<span class="node-label">{{.Label}}</span>
				<span class="node-metrics">{{.Cost}} · {{.Share}}</span>
			</div>
			<div class="node-bar"><span style="--width: {{printf "%.2f" .BarWidth}};"></span></div>
			{{- if .Rows }}<div class="node-meta">{{.Rows}}</div>{{- end }}
		</div>
		{{- if .Children }}
		<ul class="node-children">
			{{- range .Children }}
				{{ template "node" . }}
			{{- end }}
		</ul>
		{{- end }}
	</li>
	{{ end }}
</body>
</html>
`
