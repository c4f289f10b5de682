package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Comparison operators accepted in leaf conditions. "=" and "==" are
// equivalent on the wire.
const (
	OpEq       = "="
	OpEqAlias  = "=="
	OpNe       = "!="
	OpGt       = ">"
	OpLt       = "<"
	OpGe       = ">="
	OpLe       = "<="
	GroupOpAnd = "AND"
	GroupOpOr  = "OR"
)

// Metrics is one flat snapshot of named scalar values for a single target.
// Values may be float64, int, string, or nil (backend reported the field but
// carried no value). A key that is absent behaves the same as nil during
// evaluation.
type Metrics map[string]any

// Node is one node of a rule's condition tree. The wire format is fixed:
// a JSON object containing "field" is a Leaf, anything else is a Group.
type Node interface {
	isNode()
}

// Leaf compares a single metric field against a constant.
type Leaf struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Group combines child nodes with AND/OR. An empty Group is always false:
// a rule saved with no conditions must never alert.
type Group struct {
	Op       string `json:"op"`
	Children []Node `json:"children"`
}

func (Leaf) isNode()  {}
func (Group) isNode() {}

// DecodeNode parses the wire-format condition tree.
func DecodeNode(raw []byte) (Node, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("condition node must be a JSON object: %w", err)
	}

	if _, isLeaf := probe["field"]; isLeaf {
		var leaf Leaf
		if err := json.Unmarshal(raw, &leaf); err != nil {
			return nil, err
		}
		return leaf, nil
	}

	var head struct {
		Op       string            `json:"op"`
		Children []json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	group := Group{Op: normalizeGroupOp(head.Op)}
	for _, rawChild := range head.Children {
		child, err := DecodeNode(rawChild)
		if err != nil {
			return nil, err
		}
		group.Children = append(group.Children, child)
	}
	return group, nil
}

// UnmarshalJSON lets a Group field absorb a whole condition tree.
func (g *Group) UnmarshalJSON(raw []byte) error {
	node, err := DecodeNode(raw)
	if err != nil {
		return err
	}
	switch n := node.(type) {
	case Group:
		*g = n
	case Leaf:
		// A bare leaf at the top level is wrapped so callers always hold
		// a group, matching how rules are stored.
		*g = Group{Op: GroupOpAnd, Children: []Node{n}}
	}
	return nil
}

func (g Group) MarshalJSON() ([]byte, error) {
	type wire struct {
		Op       string `json:"op"`
		Children []Node `json:"children"`
	}
	children := g.Children
	if children == nil {
		children = []Node{}
	}
	return json.Marshal(wire{Op: normalizeGroupOp(g.Op), Children: children})
}

func normalizeGroupOp(op string) string {
	if strings.EqualFold(op, GroupOpOr) {
		return GroupOpOr
	}
	return GroupOpAnd
}

// Fields returns the set of metric field names referenced anywhere in the
// tree. Handlers use it to decide which backend queries a rule needs.
func Fields(node Node) map[string]bool {
	out := map[string]bool{}
	collectFields(node, out)
	return out
}

func collectFields(node Node, out map[string]bool) {
	switch n := node.(type) {
	case Leaf:
		if n.Field != "" {
			out[n.Field] = true
		}
	case Group:
		for _, child := range n.Children {
			collectFields(child, out)
		}
	}
}

// FirstField returns the field of the first leaf in evaluation order, or "".
// VPN rules key their per-tunnel state on it.
func FirstField(node Node) string {
	switch n := node.(type) {
	case Leaf:
		return n.Field
	case Group:
		for _, child := range n.Children {
			if f := FirstField(child); f != "" {
				return f
			}
		}
	}
	return ""
}

// Evaluate runs the condition tree against one metrics snapshot. It is total:
// any malformed node, missing field, bad operator, or non-numeric value makes
// the affected leaf false rather than failing the evaluation.
func Evaluate(node Node, metrics Metrics) bool {
	switch n := node.(type) {
	case Leaf:
		return evaluateLeaf(n, metrics)
	case Group:
		if len(n.Children) == 0 {
			return false
		}
		if normalizeGroupOp(n.Op) == GroupOpOr {
			for _, child := range n.Children {
				if Evaluate(child, metrics) {
					return true
				}
			}
			return false
		}
		for _, child := range n.Children {
			if !Evaluate(child, metrics) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func evaluateLeaf(leaf Leaf, metrics Metrics) bool {
	actual, present := metrics[leaf.Field]
	if !present || actual == nil {
		return false
	}

	// String expectations only support (in)equality, compared as strings.
	if expected, isString := leaf.Value.(string); isString {
		switch leaf.Op {
		case OpEq, OpEqAlias:
			return stringify(actual) == expected
		case OpNe:
			return stringify(actual) != expected
		default:
			return false
		}
	}

	a, aOK := toFloat(actual)
	b, bOK := toFloat(leaf.Value)
	if !aOK || !bOK || math.IsNaN(a) || math.IsNaN(b) {
		return false
	}

	switch leaf.Op {
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpEq, OpEqAlias:
		return a == b
	case OpNe:
		return a != b
	default:
		return false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
