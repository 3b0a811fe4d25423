package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The wire format is the editor's document shape: nodes carry id/type/data
// and UI position, edges carry endpoints and handles. Unknown keys at every
// level survive a decode/encode round-trip.

func (n *Node) UnmarshalJSON(b []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*n = Node{}
	for key, val := range raw {
		switch key {
		case "id":
			if err := json.Unmarshal(val, &n.ID); err != nil {
				return fmt.Errorf("node id: %w", err)
			}
		case "type":
			if err := json.Unmarshal(val, &n.Type); err != nil {
				return fmt.Errorf("node type: %w", err)
			}
		case "data":
			if err := json.Unmarshal(val, &n.Data); err != nil {
				return fmt.Errorf("node data: %w", err)
			}
		case "position":
			if err := json.Unmarshal(val, &n.Position); err != nil {
				return fmt.Errorf("node position: %w", err)
			}
		default:
			if n.Extra == nil {
				n.Extra = map[string]any{}
			}
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			n.Extra[key] = v
		}
	}
	return nil
}

func (n *Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 4+len(n.Extra))
	for k, v := range n.Extra {
		out[k] = v
	}
	out["id"] = n.ID
	out["type"] = n.Type
	if n.Data != nil {
		out["data"] = n.Data
	}
	if n.Position != nil {
		out["position"] = n.Position
	}
	return json.Marshal(out)
}

func (e *Edge) UnmarshalJSON(b []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Edge{}
	for key, val := range raw {
		var dst *string
		switch key {
		case "id":
			dst = &e.ID
		case "source":
			dst = &e.Source
		case "target":
			dst = &e.Target
		case "sourceHandle":
			dst = &e.SourceHandle
		case "targetHandle":
			dst = &e.TargetHandle
		default:
			if e.Extra == nil {
				e.Extra = map[string]any{}
			}
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			e.Extra[key] = v
			continue
		}
		// Handles may be explicit null in editor exports.
		if bytes.Equal(bytes.TrimSpace(val), []byte("null")) {
			continue
		}
		if err := json.Unmarshal(val, dst); err != nil {
			return fmt.Errorf("edge %s: %w", key, err)
		}
	}
	return nil
}

func (e *Edge) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 5+len(e.Extra))
	for k, v := range e.Extra {
		out[k] = v
	}
	out["id"] = e.ID
	out["source"] = e.Source
	out["target"] = e.Target
	if e.SourceHandle != "" {
		out["sourceHandle"] = e.SourceHandle
	}
	if e.TargetHandle != "" {
		out["targetHandle"] = e.TargetHandle
	}
	return json.Marshal(out)
}

func (w *Workflow) UnmarshalJSON(b []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*w = Workflow{}
	for key, val := range raw {
		switch key {
		case "nodes":
			if err := json.Unmarshal(val, &w.Nodes); err != nil {
				return fmt.Errorf("nodes: %w", err)
			}
		case "edges":
			if err := json.Unmarshal(val, &w.Edges); err != nil {
				return fmt.Errorf("edges: %w", err)
			}
		default:
			if w.Extra == nil {
				w.Extra = map[string]any{}
			}
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			w.Extra[key] = v
		}
	}
	return nil
}

func (w *Workflow) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 2+len(w.Extra))
	for k, v := range w.Extra {
		out[k] = v
	}
	nodes := w.Nodes
	if nodes == nil {
		nodes = []*Node{}
	}
	edges := w.Edges
	if edges == nil {
		edges = []*Edge{}
	}
	out["nodes"] = nodes
	out["edges"] = edges
	return json.Marshal(out)
}

// Decode parses a workflow document, fills in missing edge ids, and runs the
// structural load checks.
func Decode(b []byte) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	assignEdgeIDs(&w)
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Encode renders the canonical document, indented for humans.
func Encode(w *Workflow) ([]byte, error) {
	return json.MarshalIndent(w, "", "  ")
}

// assignEdgeIDs gives deterministic ids to edges the editor left unnamed so
// edge snapshots have a stable key.
func assignEdgeIDs(w *Workflow) {
	for i, e := range w.Edges {
		if e.ID == "" {
			e.ID = fmt.Sprintf("e%d-%s-%s", i, e.Source, e.Target)
		}
	}
}
