package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/mickamy/queryiq/internal/model"
)

// DefaultMaxDepth bounds plan nesting when Options.MaxDepth is unset.
const DefaultMaxDepth = 256

// Options controls plan parsing limits.
type Options struct {
	// MaxDepth is the deepest child level accepted below the root.
	MaxDepth int
}

// MalformedPlanError reports EXPLAIN JSON whose structure cannot be turned
// into a plan tree. No partial tree accompanies it.
type MalformedPlanError struct {
	Path   string
	Reason string
}

func (e *MalformedPlanError) Error() string {
	if e.Path == "" {
		return "explain json: " + e.Reason
	}
	return fmt.Sprintf("explain json: %s: %s", e.Path, e.Reason)
}

func malformed(path, format string, args ...any) error {
	return &MalformedPlanError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Parse decodes a PostgreSQL EXPLAIN (FORMAT JSON) payload and returns the root plan node.
func Parse(data []byte, opts Options) (*model.PlanNode, error) {
	explain, err := ParseJSON(bytes.NewReader(data), opts)
	if err != nil {
		return nil, err
	}
	return explain.Plan, nil
}

// ParseJSON reads a PostgreSQL EXPLAIN (FORMAT JSON) document and produces an Explain structure.
//
// The payload may be the array EXPLAIN emits, a single entry holding a
// "Plan" key, or a bare plan node.
func ParseJSON(r io.Reader, opts Options) (*model.Explain, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil, malformed("", "decode: %v", err)
	}

	entry, err := pickFirstEntry(payload)
	if err != nil {
		return nil, err
	}

	explain := &model.Explain{Extra: map[string]any{}}
	planMap := entry
	if _, isNode := entry["Node Type"]; !isNode {
		if planVal, ok := entry["Plan"]; ok {
			planMap, err = asObject(planVal)
			if err != nil {
				return nil, malformed("Plan", "%v", err)
			}
			explain.PlanningTime = asFloat(entry["Planning Time"])
			explain.ExecutionTime = asFloat(entry["Execution Time"])
			for k, v := range entry {
				if k == "Plan" || k == "Planning Time" || k == "Execution Time" {
					continue
				}
				explain.Extra[k] = v
			}
		}
	}

	root, err := parsePlanNode(planMap, "0", 0, opts.MaxDepth)
	if err != nil {
		return nil, err
	}
	explain.Plan = root
	return explain, nil
}

func pickFirstEntry(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case []any:
		if len(v) == 0 {
			return nil, malformed("", "empty payload")
		}
		obj, err := asObject(v[0])
		if err != nil {
			return nil, malformed("", "invalid entry: %v", err)
		}
		return obj, nil
	case map[string]any:
		return v, nil
	default:
		return nil, malformed("", "unexpected top-level type %T", payload)
	}
}

func parsePlanNode(data map[string]any, path string, depth, maxDepth int) (*model.PlanNode, error) {
	if depth > maxDepth {
		return nil, malformed(path, "plan deeper than %d levels", maxDepth)
	}

	nodeType := asString(data["Node Type"])
	if nodeType == "" {
		nodeType = "Unknown"
	}

	node := &model.PlanNode{
		NodeType:   nodeType,
		TotalCost:  asFloat(data["Total Cost"]),
		ActualTime: firstOptionalFloat(data, "Actual Time", "Actual Total Time"),
		PlanRows:   optionalFloat(data["Plan Rows"]),
		ActualRows: optionalFloat(data["Actual Rows"]),
	}

	if model.IsScan(nodeType) {
		node.ScanType = nodeType
		node.TableName = asString(data["Relation Name"])
		node.IndexName = asString(data["Index Name"])
		node.Schema = asString(data["Schema"])
	}
	if model.IsJoin(nodeType) {
		node.JoinType = nodeType
	}

	children, ok := data["Plans"]
	if !ok || children == nil {
		return node, nil
	}
	childrenSlice, ok := children.([]any)
	if !ok {
		return nil, malformed(path, "Plans must be an array, got %T", children)
	}

	node.Children = make([]*model.PlanNode, 0, len(childrenSlice))
	for i, childVal := range childrenSlice {
		childPath := fmt.Sprintf("%s.%d", path, i)
		childMap, err := asObject(childVal)
		if err != nil {
			return nil, malformed(childPath, "%v", err)
		}

		child, err := parsePlanNode(childMap, childPath, depth+1, maxDepth)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	return node, nil
}

func asObject(val any) (map[string]any, error) {
	if val == nil {
		return nil, fmt.Errorf("nil object")
	}
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", val)
	}
	return obj, nil
}

func asString(val any) string {
	if val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func firstOptionalFloat(data map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		if v := optionalFloat(data[key]); v != nil {
			return v
		}
	}
	return nil
}

func optionalFloat(val any) *float64 {
	if val == nil {
		return nil
	}
	if _, ok := toFloat(val); !ok {
		return nil
	}
	return model.Float(asFloat(val))
}

func asFloat(val any) float64 {
	f, _ := toFloat(val)
	return f
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		if v == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
