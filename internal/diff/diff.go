package diff

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mickamy/queryiq/internal/analyzer"
)

// Options configures the diff sensitivity.
type Options struct {
	// MinPercentChange is the smallest cost or time change reported as an
	// insight. Defaults to 5.
	MinPercentChange float64
}

// Report summarises the delta between two plan analyses.
type Report struct {
	Summary           SummaryDiff `json:"summary"`
	ScanTypes         SetDiff     `json:"scan_types"`
	JoinTypes         SetDiff     `json:"join_types"`
	Tables            SetDiff     `json:"tables"`
	Indexes           SetDiff     `json:"indexes"`
	SeqScanResolved   bool        `json:"seq_scan_resolved"`
	SeqScanIntroduced bool        `json:"seq_scan_introduced"`
	Insights          []Insight   `json:"insights"`
	Options           Options     `json:"-"`
}

// SummaryDiff covers plan-level differences. ActualTimeMs is only set when
// both plans were executed.
type SummaryDiff struct {
	Cost         Metric  `json:"cost"`
	ActualTimeMs *Metric `json:"actual_time_ms,omitempty"`
	Depth        Metric  `json:"depth"`
	Nodes        Metric  `json:"nodes"`
}

// Metric is one base/target pair.
type Metric struct {
	Base    float64 `json:"base"`
	Target  float64 `json:"target"`
	Delta   float64 `json:"delta"`
	Percent float64 `json:"percent"`
}

// SetDiff lists names present in only one of the plans.
type SetDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Empty reports whether both plans had the same names.
func (s SetDiff) Empty() bool {
	return len(s.Added) == 0 && len(s.Removed) == 0
}

type Insight struct {
	Severity string `json:"severity"`
	Icon     string `json:"icon"`
	Message  string `json:"message"`
}

// Compare builds a diff report for two plan analyses.
func Compare(base, target *analyzer.PlanAnalysis, opts Options) (*Report, error) {
	if base == nil {
		return nil, fmt.Errorf("diff: base analysis missing")
	}
	if target == nil {
		return nil, fmt.Errorf("diff: target analysis missing")
	}
	if opts.MinPercentChange <= 0 {
		opts.MinPercentChange = 5
	}

	report := &Report{
		Summary: SummaryDiff{
			Cost:  metric(base.TotalCost, target.TotalCost),
			Depth: metric(float64(base.PlanDepth), float64(target.PlanDepth)),
			Nodes: metric(float64(base.NodeCount), float64(target.NodeCount)),
		},
		ScanTypes:         setDiff(base.ScanTypes, target.ScanTypes),
		JoinTypes:         setDiff(base.JoinTypes, target.JoinTypes),
		Tables:            setDiff(base.TablesScanned, target.TablesScanned),
		Indexes:           setDiff(base.IndexesUsed, target.IndexesUsed),
		SeqScanResolved:   base.HasSequentialScan && !target.HasSequentialScan,
		SeqScanIntroduced: !base.HasSequentialScan && target.HasSequentialScan,
		Options:           opts,
	}
	if base.ActualTime != nil && target.ActualTime != nil {
		m := metric(*base.ActualTime, *target.ActualTime)
		report.Summary.ActualTimeMs = &m
	}
	report.Insights = synthesizeInsights(report)
	return report, nil
}

// Markdown renders the report as a Markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# queryiq diff\n\n")
	b.WriteString("## Summary\n")
	writeMetric(&b, "Cost", r.Summary.Cost, "%.2f")
	if r.Summary.ActualTimeMs != nil {
		writeMetric(&b, "Execution", *r.Summary.ActualTimeMs, "%.3f ms")
	}
	writeMetric(&b, "Depth", r.Summary.Depth, "%.0f")
	writeMetric(&b, "Nodes", r.Summary.Nodes, "%.0f")
	b.WriteString("\n")

	b.WriteString("### Insights\n")
	if len(r.Insights) == 0 {
		b.WriteString("- No notable plan changes detected\n")
	} else {
		for _, insight := range r.Insights {
			_, _ = fmt.Fprintf(&b, "- %s %s\n", insight.Icon, insight.Message)
		}
	}

	b.WriteString("\n### Plan shape\n")
	rows := []struct {
		label string
		diff  SetDiff
	}{
		{"Scan types", r.ScanTypes},
		{"Join types", r.JoinTypes},
		{"Tables", r.Tables},
		{"Indexes", r.Indexes},
	}
	var changed bool
	for _, row := range rows {
		if row.diff.Empty() {
			continue
		}
		if !changed {
			b.WriteString("| | Added | Removed |\n")
			b.WriteString("|---|---|---|\n")
			changed = true
		}
		_, _ = fmt.Fprintf(&b, "| %s | %s | %s |\n", row.label, joinOrDash(row.diff.Added), joinOrDash(row.diff.Removed))
	}
	if !changed {
		b.WriteString("- Unchanged\n")
	}
	return b.String()
}

// JSON marshals the diff report into an indented JSON document.
func (r *Report) JSON() ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil report")
	}
	type alias Report
	return json.MarshalIndent((*alias)(r), "", "  ")
}

func writeMetric(b *strings.Builder, label string, m Metric, format string) {
	_, _ = fmt.Fprintf(b, "- %s: "+format+" → "+format+" (%+.2f, %+.1f%%)\n",
		label, m.Base, m.Target, m.Delta, m.Percent)
}

func joinOrDash(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

func synthesizeInsights(r *Report) []Insight {
	var insights []Insight
	threshold := r.Options.MinPercentChange

	cost := r.Summary.Cost
	switch {
	case cost.Percent >= threshold:
		insights = append(insights, Insight{"warning", "⚠️", fmt.Sprintf("Estimated cost up %.2f (+%.1f%%)", cost.Delta, cost.Percent)})
	case cost.Percent <= -threshold:
		insights = append(insights, Insight{"improvement", "✅", fmt.Sprintf("Estimated cost down %.2f (%.1f%%)", -cost.Delta, cost.Percent)})
	}

	if t := r.Summary.ActualTimeMs; t != nil {
		switch {
		case t.Percent >= threshold:
			insights = append(insights, Insight{"critical", "🔥", fmt.Sprintf("Execution time +%.3f ms (+%.1f%%)", t.Delta, t.Percent)})
		case t.Percent <= -threshold:
			insights = append(insights, Insight{"improvement", "✅", fmt.Sprintf("Execution time %.3f ms (%.1f%%)", t.Delta, t.Percent)})
		}
	}

	if r.SeqScanResolved {
		insights = append(insights, Insight{"improvement", "✅", "Sequential scans eliminated"})
	}
	if r.SeqScanIntroduced {
		insights = append(insights, Insight{"warning", "⚠️", "Plan now uses a sequential scan"})
	}
	for _, idx := range r.Indexes.Added {
		insights = append(insights, Insight{"improvement", "✅", fmt.Sprintf("Now uses index %s", idx)})
	}
	for _, idx := range r.Indexes.Removed {
		insights = append(insights, Insight{"warning", "⚠️", fmt.Sprintf("No longer uses index %s", idx)})
	}
	return insights
}

func metric(base, target float64) Metric {
	return Metric{
		Base:    base,
		Target:  target,
		Delta:   target - base,
		Percent: percentChange(base, target),
	}
}

func setDiff(base, target []string) SetDiff {
	inBase := make(map[string]struct{}, len(base))
	for _, name := range base {
		inBase[name] = struct{}{}
	}
	inTarget := make(map[string]struct{}, len(target))
	for _, name := range target {
		inTarget[name] = struct{}{}
	}

	var d SetDiff
	for name := range inTarget {
		if _, ok := inBase[name]; !ok {
			d.Added = append(d.Added, name)
		}
	}
	for name := range inBase {
		if _, ok := inTarget[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	return d
}

func percentChange(base, target float64) float64 {
	const eps = 1e-9
	if math.Abs(base) <= eps {
		if math.Abs(target) <= eps {
			return 0
		}
		if target > 0 {
			return 100
		}
		return -100
	}
	return (target - base) / base * 100
}
