// Package model holds the workflow document types shared by the store, the
// graph builder, and the engine: nodes, edges, and the JSON wire codec.
package model

import (
	"fmt"
	"strings"
)

// Node types form a closed set. The registry rejects anything else at
// execution time with UnknownType.
const (
	TypeManualTrigger   = "manualTrigger"
	TypeScheduleTrigger = "scheduleTrigger"
	TypeAIAgent         = "aiAgent"
	TypeLLM             = "llm"
	TypeCodeExecutor    = "codeExecutor"
	TypeHTTPRequest     = "httpRequest"
	TypeIfElse          = "ifElse"
	TypeSwitch          = "switch"
	TypeMerge           = "merge"
	TypeDelay           = "delay"
	TypeTransform       = "transform"
	TypePython          = "python"
	TypeTextToSpeech    = "textToSpeech"
	TypeImageGeneration = "imageGeneration"
	TypeOutput          = "output"
	TypeStart           = "start"
	TypeEnd             = "end"
)

// KnownTypes lists every node type the engine ships executors for, in a
// stable order.
func KnownTypes() []string {
	return []string{
		TypeManualTrigger, TypeScheduleTrigger, TypeAIAgent, TypeLLM,
		TypeCodeExecutor, TypeHTTPRequest, TypeIfElse, TypeSwitch,
		TypeMerge, TypeDelay, TypeTransform, TypePython,
		TypeTextToSpeech, TypeImageGeneration, TypeOutput, TypeStart,
		TypeEnd,
	}
}

// IsKnownType reports whether t names a built-in node type.
func IsKnownType(t string) bool {
	for _, k := range KnownTypes() {
		if k == t {
			return true
		}
	}
	return false
}

// Position is UI layout data. The engine ignores it but the codec carries it
// so documents round-trip.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one typed vertex of a workflow. ID and Type are immutable
// identity; Data is the type-specific configuration map. Extra holds unknown
// JSON keys for round-tripping.
type Node struct {
	ID       string
	Type     string
	Data     map[string]any
	Position *Position
	Extra    map[string]any
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cn := &Node{
		ID:    n.ID,
		Type:  n.Type,
		Data:  cloneMap(n.Data),
		Extra: cloneMap(n.Extra),
	}
	if n.Position != nil {
		p := *n.Position
		cn.Position = &p
	}
	return cn
}

// DataString reads a string config value, with "" when absent or not a
// string.
func (n *Node) DataString(key string) string {
	if n == nil || n.Data == nil {
		return ""
	}
	s, _ := n.Data[key].(string)
	return s
}

// DataBool reads a boolean config value.
func (n *Node) DataBool(key string) bool {
	if n == nil || n.Data == nil {
		return false
	}
	b, _ := n.Data[key].(bool)
	return b
}

// DataNumber reads a numeric config value. JSON numbers decode as float64;
// int is accepted for values set programmatically.
func (n *Node) DataNumber(key string) (float64, bool) {
	if n == nil || n.Data == nil {
		return 0, false
	}
	switch v := n.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Edge connects a source handle on one node to a target handle on another.
// The quadruple (Source, SourceHandle, Target, TargetHandle) is unique
// within a workflow.
type Edge struct {
	ID           string
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string
	Extra        map[string]any
}

// Key returns the uniqueness quadruple in a comparable form.
func (e *Edge) Key() string {
	return e.Source + "\x00" + e.SourceHandle + "\x00" + e.Target + "\x00" + e.TargetHandle
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	ce := *e
	ce.Extra = cloneMap(e.Extra)
	return &ce
}

// Workflow is the document unit of storage and execution: nodes plus edges.
type Workflow struct {
	Nodes []*Node
	Edges []*Edge
	Extra map[string]any
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// NodesOfType returns all nodes with the given type tag, in document order.
func (w *Workflow) NodesOfType(t string) []*Node {
	var out []*Node
	for _, n := range w.Nodes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// Clone deep-copies the workflow so a run can hold an immutable snapshot
// while the store keeps mutating.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := &Workflow{Extra: cloneMap(w.Extra)}
	out.Nodes = make([]*Node, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		out.Nodes = append(out.Nodes, n.Clone())
	}
	out.Edges = make([]*Edge, 0, len(w.Edges))
	for _, e := range w.Edges {
		out.Edges = append(out.Edges, e.Clone())
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Validate performs the structural checks required at load time: node id
// uniqueness and edge integrity (existing endpoints, no self-loops, no
// duplicate quadruples).
func (w *Workflow) Validate() error {
	seen := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("node with empty id")
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}
	keys := make(map[string]bool, len(w.Edges))
	for _, e := range w.Edges {
		if !seen[e.Source] {
			return fmt.Errorf("edge %q references unknown source %q", e.ID, e.Source)
		}
		if !seen[e.Target] {
			return fmt.Errorf("edge %q references unknown target %q", e.ID, e.Target)
		}
		if e.Source == e.Target {
			return fmt.Errorf("edge %q is a self-loop on %q", e.ID, e.Source)
		}
		if keys[e.Key()] {
			return fmt.Errorf("duplicate edge %s -> %s (handles %q/%q)", e.Source, e.Target, e.SourceHandle, e.TargetHandle)
		}
		keys[e.Key()] = true
	}
	return nil
}
