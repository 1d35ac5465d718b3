package insight

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mickamy/queryiq/internal/analyzer"
	"github.com/mickamy/queryiq/internal/model"
)

// Severity expresses the urgency of an insight message.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	largeScanRows      = 10000
	driftFactor        = 10
	costShareWarning   = 0.4
	costShareCritical  = 0.75
	maxSeqScanMessages = 3
	maxDriftMessages   = 2
	bytesPerMB         = 1024 * 1024
)

// Message represents an actionable observation about a plan or query.
type Message struct {
	Severity Severity
	Text     string
	Anchor   string
}

// BuildMessages derives insight messages for a plan tree. Anchors point at
// the IDs returned by Anchors for the same root.
func BuildMessages(root *model.PlanNode) []Message {
	if root == nil {
		return nil
	}
	anchors := Anchors(root)

	var out []Message
	if msg := costMessage(root, anchors); msg != nil {
		out = append(out, *msg)
	}
	out = append(out, seqScanMessages(root, anchors)...)
	out = append(out, driftMessages(root, anchors)...)
	return out
}

// FromSuggestions turns stored or generated suggestions into messages.
func FromSuggestions(suggestions []model.Suggestion) []Message {
	out := make([]Message, 0, len(suggestions))
	for _, s := range suggestions {
		text := fmt.Sprintf("%s: %s", s.Type, s.Message)
		if s.EstimatedImprovementMs != nil {
			text += fmt.Sprintf(" (~%.0f ms, %s effort)", *s.EstimatedImprovementMs, strings.ToLower(string(s.ImplementationCost)))
		}
		out = append(out, Message{Severity: suggestionSeverity(s), Text: text})
	}
	return out
}

func suggestionSeverity(s model.Suggestion) Severity {
	switch s.Type {
	case model.SuggestionMLSlowQuery:
		if s.Confidence >= 0.8 {
			return SeverityCritical
		}
		return SeverityWarning
	case model.SuggestionIndex, model.SuggestionPerformance:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func costMessage(root *model.PlanNode, anchors map[*model.PlanNode]string) *Message {
	if root.TotalCost <= 0 {
		return nil
	}
	var hot *model.PlanNode
	analyzer.Walk(root, func(node *model.PlanNode, _ int) {
		if node == root || len(node.Children) > 0 {
			return
		}
		if hot == nil || node.TotalCost > hot.TotalCost {
			hot = node
		}
	})
	if hot == nil {
		return nil
	}
	share := hot.TotalCost / root.TotalCost
	if share < costShareWarning {
		return nil
	}
	severity := SeverityWarning
	if share >= costShareCritical {
		severity = SeverityCritical
	}
	text := fmt.Sprintf("Cost hot spot: %s carries %.1f%% of the plan cost", CompactLabel(hot), share*100)
	return &Message{Severity: severity, Text: text, Anchor: anchors[hot]}
}

func seqScanMessages(root *model.PlanNode, anchors map[*model.PlanNode]string) []Message {
	var scans []*model.PlanNode
	analyzer.Walk(root, func(node *model.PlanNode, _ int) {
		if strings.Contains(node.ScanType, "Seq Scan") {
			scans = append(scans, node)
		}
	})
	sort.SliceStable(scans, func(i, j int) bool {
		return model.Value(scans[i].PlanRows) > model.Value(scans[j].PlanRows)
	})

	var msgs []Message
	for i, node := range scans {
		if i >= maxSeqScanMessages {
			break
		}
		rows := model.Value(node.PlanRows)
		text := fmt.Sprintf("Sequential scan: %s reads ~%s rows", CompactLabel(node), HumanizeRows(rows))
		severity := SeverityInfo
		if rows >= largeScanRows {
			severity = SeverityWarning
			text += ", consider an index on the filtered columns"
		}
		msgs = append(msgs, Message{Severity: severity, Text: text, Anchor: anchors[node]})
	}
	return msgs
}

func driftMessages(root *model.PlanNode, anchors map[*model.PlanNode]string) []Message {
	var msgs []Message
	analyzer.Walk(root, func(node *model.PlanNode, _ int) {
		if len(msgs) >= maxDriftMessages || node.PlanRows == nil || node.ActualRows == nil {
			return
		}
		factor := EstimateFactor(node)
		if factor < driftFactor && factor > 1/float64(driftFactor) {
			return
		}
		text := fmt.Sprintf("Estimate drift: %s expected %s got %s", CompactLabel(node),
			HumanizeRows(*node.PlanRows), HumanizeRows(*node.ActualRows))
		if math.IsInf(factor, 1) {
			text += " (∞)"
		} else {
			text += fmt.Sprintf(" (x%.2f)", factor)
		}
		text += ", run ANALYZE to refresh statistics"
		msgs = append(msgs, Message{Severity: SeverityWarning, Text: text, Anchor: anchors[node]})
	})
	return msgs
}

// EstimateFactor is actual rows divided by estimated rows. It is 0 when
// either side is unknown and +Inf when the planner expected no rows.
func EstimateFactor(node *model.PlanNode) float64 {
	if node == nil || node.PlanRows == nil || node.ActualRows == nil {
		return 0
	}
	if *node.PlanRows == 0 {
		if *node.ActualRows == 0 {
			return 1
		}
		return math.Inf(1)
	}
	return *node.ActualRows / *node.PlanRows
}

// Anchors assigns every node a stable element ID derived from its position
// in the tree, e.g. node-0-1 for the second child of the root.
func Anchors(root *model.PlanNode) map[*model.PlanNode]string {
	out := map[*model.PlanNode]string{}
	var walk func(node *model.PlanNode, id string)
	walk = func(node *model.PlanNode, id string) {
		if node == nil {
			return
		}
		out[node] = id
		for i, child := range node.Children {
			walk(child, id+"-"+strconv.Itoa(i))
		}
	}
	walk(root, "node-0")
	return out
}

// NodeLabel builds a descriptive label for a plan node.
func NodeLabel(node *model.PlanNode) string {
	if node == nil {
		return ""
	}
	label := node.NodeType
	if node.TableName != "" {
		table := node.TableName
		if node.Schema != "" {
			table = node.Schema + "." + table
		}
		label = fmt.Sprintf("%s on %s", label, table)
	}
	if node.IndexName != "" {
		label = fmt.Sprintf("%s using %s", label, node.IndexName)
	}
	return label
}

// CompactLabel shortens long labels for inline summaries.
func CompactLabel(node *model.PlanNode) string {
	return Truncate(NodeLabel(node), 60)
}

// HumanizeRows formats a row count with thousands separators.
func HumanizeRows(rows float64) string {
	return humanize.Comma(int64(math.Round(rows)))
}

// HumanizeSizeMB converts a size in megabytes into a readable IEC size.
func HumanizeSizeMB(mb float64) string {
	if mb <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(mb * bytesPerMB))
}

// Icon returns the glyph shown next to a message of the given severity.
func Icon(sev Severity) string {
	switch sev {
	case SeverityCritical:
		return "🔥"
	case SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// NormalizeWhitespace collapses whitespace for use in HTML or text.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
