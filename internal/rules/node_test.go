package rules

import (
	"encoding/json"
	"math"
	"testing"
)

func TestDecodeNodeLeaf(t *testing.T) {
	node, err := DecodeNode([]byte(`{"field":"cpu_usage","op":">","value":90}`))
	if err != nil {
		t.Fatalf("DecodeNode: %v", err)
	}
	leaf, ok := node.(Leaf)
	if !ok {
		t.Fatalf("expected Leaf, got %T", node)
	}
	if leaf.Field != "cpu_usage" || leaf.Op != ">" {
		t.Errorf("unexpected leaf: %+v", leaf)
	}
}

func TestDecodeNodeNested(t *testing.T) {
	raw := []byte(`{
		"op": "OR",
		"children": [
			{"field": "cpu_usage", "op": ">", "value": 90},
			{"op": "AND", "children": [
				{"field": "memory_usage", "op": ">=", "value": 80},
				{"field": "disk_usage", "op": ">", "value": 95}
			]}
		]
	}`)
	node, err := DecodeNode(raw)
	if err != nil {
		t.Fatalf("DecodeNode: %v", err)
	}
	group, ok := node.(Group)
	if !ok {
		t.Fatalf("expected Group, got %T", node)
	}
	if group.Op != GroupOpOr || len(group.Children) != 2 {
		t.Fatalf("unexpected group: %+v", group)
	}
	inner, ok := group.Children[1].(Group)
	if !ok || inner.Op != GroupOpAnd || len(inner.Children) != 2 {
		t.Fatalf("unexpected inner group: %+v", group.Children[1])
	}
}

func TestDecodeNodeRejectsNonObject(t *testing.T) {
	if _, err := DecodeNode([]byte(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for JSON array")
	}
	if _, err := DecodeNode([]byte(`"nope"`)); err == nil {
		t.Fatal("expected error for JSON string")
	}
}

func TestGroupUnmarshalWrapsBareLeaf(t *testing.T) {
	var g Group
	if err := json.Unmarshal([]byte(`{"field":"status","op":"=","value":"down"}`), &g); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if g.Op != GroupOpAnd || len(g.Children) != 1 {
		t.Fatalf("bare leaf not wrapped: %+v", g)
	}
	if _, ok := g.Children[0].(Leaf); !ok {
		t.Fatalf("expected wrapped Leaf, got %T", g.Children[0])
	}
}

func TestEvaluateEmptyGroupIsFalse(t *testing.T) {
	metrics := Metrics{"cpu_usage": 99.0}
	if Evaluate(Group{Op: GroupOpAnd}, metrics) {
		t.Error("empty AND group must evaluate false")
	}
	if Evaluate(Group{Op: GroupOpOr}, metrics) {
		t.Error("empty OR group must evaluate false")
	}
}

func TestEvaluateComparisons(t *testing.T) {
	metrics := Metrics{
		"cpu":    85.0,
		"mem":    42,
		"iface":  "eth0",
		"uptime": "12345",
	}
	cases := []struct {
		name string
		leaf Leaf
		want bool
	}{
		{"gt true", Leaf{Field: "cpu", Op: ">", Value: 80.0}, true},
		{"gt false", Leaf{Field: "cpu", Op: ">", Value: 90.0}, false},
		{"ge boundary", Leaf{Field: "cpu", Op: ">=", Value: 85.0}, true},
		{"lt", Leaf{Field: "mem", Op: "<", Value: 50.0}, true},
		{"le boundary", Leaf{Field: "mem", Op: "<=", Value: 42.0}, true},
		{"eq int metric", Leaf{Field: "mem", Op: "=", Value: 42.0}, true},
		{"eq alias", Leaf{Field: "mem", Op: "==", Value: 42.0}, true},
		{"ne", Leaf{Field: "mem", Op: "!=", Value: 41.0}, true},
		{"string eq", Leaf{Field: "iface", Op: "=", Value: "eth0"}, true},
		{"string ne", Leaf{Field: "iface", Op: "!=", Value: "eth1"}, true},
		{"string ordering unsupported", Leaf{Field: "iface", Op: ">", Value: "a"}, false},
		{"numeric string metric", Leaf{Field: "uptime", Op: ">", Value: 10000.0}, true},
		{"missing field", Leaf{Field: "absent", Op: ">", Value: 0.0}, false},
		{"bad operator", Leaf{Field: "cpu", Op: "~", Value: 1.0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.leaf, metrics); got != tc.want {
				t.Errorf("Evaluate(%+v) = %v, want %v", tc.leaf, got, tc.want)
			}
		})
	}
}

func TestEvaluateNilAndNaN(t *testing.T) {
	metrics := Metrics{
		"null_field": nil,
		"nan_field":  math.NaN(),
	}
	if Evaluate(Leaf{Field: "null_field", Op: "=", Value: 0.0}, metrics) {
		t.Error("nil metric must not match")
	}
	if Evaluate(Leaf{Field: "nan_field", Op: ">", Value: 0.0}, metrics) {
		t.Error("NaN metric must not match")
	}
	if Evaluate(Leaf{Field: "nan_field", Op: "=", Value: math.NaN()}, metrics) {
		t.Error("NaN expectation must not match")
	}
}

func TestEvaluateGroupSemantics(t *testing.T) {
	metrics := Metrics{"a": 1.0, "b": 0.0}
	hit := Leaf{Field: "a", Op: "=", Value: 1.0}
	miss := Leaf{Field: "b", Op: "=", Value: 1.0}

	if !Evaluate(Group{Op: GroupOpAnd, Children: []Node{hit, hit}}, metrics) {
		t.Error("AND of matches must match")
	}
	if Evaluate(Group{Op: GroupOpAnd, Children: []Node{hit, miss}}, metrics) {
		t.Error("AND with one miss must not match")
	}
	if !Evaluate(Group{Op: GroupOpOr, Children: []Node{miss, hit}}, metrics) {
		t.Error("OR with one hit must match")
	}
	if Evaluate(Group{Op: GroupOpOr, Children: []Node{miss, miss}}, metrics) {
		t.Error("OR of misses must not match")
	}

	// Unknown group ops fall back to AND.
	if !Evaluate(Group{Op: "XOR", Children: []Node{hit}}, metrics) {
		t.Error("unknown group op must behave as AND")
	}
}

func TestFieldsAndFirstField(t *testing.T) {
	tree := Group{Op: GroupOpOr, Children: []Node{
		Leaf{Field: "tunnel_status", Op: "=", Value: "down"},
		Group{Op: GroupOpAnd, Children: []Node{
			Leaf{Field: "latency_ms", Op: ">", Value: 200.0},
			Leaf{Field: "tunnel_status", Op: "!=", Value: "up"},
		}},
	}}

	fields := Fields(tree)
	if len(fields) != 2 || !fields["tunnel_status"] || !fields["latency_ms"] {
		t.Errorf("unexpected fields: %v", fields)
	}
	if got := FirstField(tree); got != "tunnel_status" {
		t.Errorf("FirstField = %q, want tunnel_status", got)
	}
	if got := FirstField(Group{}); got != "" {
		t.Errorf("FirstField on empty group = %q, want empty", got)
	}
}

func TestGroupMarshalRoundTrip(t *testing.T) {
	in := Group{Op: "or", Children: []Node{
		Leaf{Field: "cpu", Op: ">", Value: 90.0},
	}}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Group
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Op != GroupOpOr || len(out.Children) != 1 {
		t.Fatalf("round trip lost structure: %+v", out)
	}
}
