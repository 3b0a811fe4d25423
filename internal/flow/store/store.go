// Package store holds the editable workflow document. All mutations are
// validated against the same integrity rules the codec enforces at import
// (unique node ids, no self-loops, unique edge quadruples, no dangling
// references), so the document can never drift into a state that would be
// rejected on reload.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/model"
)

// StorageKey is the top-level key the document is persisted under. It is
// part of the on-disk format and must not change.
const StorageKey = "iosans-workflow"

// Store is safe for concurrent use. Returned nodes, edges, and workflows
// are deep copies; mutating them never affects the stored document.
type Store struct {
	mu sync.RWMutex
	wf *model.Workflow
}

func New() *Store {
	return &Store{wf: &model.Workflow{}}
}

// Workflow returns a deep copy of the current document.
func (s *Store) Workflow() *model.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wf.Clone()
}

// Node returns a copy of the node with the given id, or nil.
func (s *Store) Node(id string) *model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wf.Node(id).Clone()
}

// AddNode inserts a new node. Empty and duplicate ids are rejected.
func (s *Store) AddNode(n *model.Node) error {
	if n == nil || strings.TrimSpace(n.ID) == "" {
		return fault.New(fault.InvalidInput, "store: node id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wf.Node(n.ID) != nil {
		return fault.New(fault.InvalidInput, "store: duplicate node id %q", n.ID)
	}
	next := s.wf.Clone()
	next.Nodes = append(next.Nodes, n.Clone())
	return s.replaceLocked(next)
}

// RemoveNode deletes a node and every edge touching it.
func (s *Store) RemoveNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wf.Node(id) == nil {
		return fault.New(fault.InvalidInput, "store: unknown node %q", id)
	}
	next := s.wf.Clone()
	nodes := next.Nodes[:0]
	for _, n := range next.Nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	next.Nodes = nodes
	edges := next.Edges[:0]
	for _, e := range next.Edges {
		if e.Source != id && e.Target != id {
			edges = append(edges, e)
		}
	}
	next.Edges = edges
	return s.replaceLocked(next)
}

// UpdateNodeData shallow-merges patch into the node's data map.
func (s *Store) UpdateNodeData(id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.wf.Clone()
	n := next.Node(id)
	if n == nil {
		return fault.New(fault.InvalidInput, "store: unknown node %q", id)
	}
	if n.Data == nil {
		n.Data = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		n.Data[k] = v
	}
	return s.replaceLocked(next)
}

// AddEdge inserts a new edge. Missing ids are generated; self-loops,
// duplicate quadruples, and unknown endpoints are rejected.
func (s *Store) AddEdge(e *model.Edge) error {
	if e == nil {
		return fault.New(fault.InvalidInput, "store: edge is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.wf.Clone()
	cp := e.Clone()
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("e%d-%s-%s", len(next.Edges), cp.Source, cp.Target)
	}
	next.Edges = append(next.Edges, cp)
	return s.replaceLocked(next)
}

// RemoveEdge deletes the edge with the given id.
func (s *Store) RemoveEdge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	next := s.wf.Clone()
	edges := next.Edges[:0]
	for _, e := range next.Edges {
		if e.ID == id {
			found = true
			continue
		}
		edges = append(edges, e)
	}
	if !found {
		return fault.New(fault.InvalidInput, "store: unknown edge %q", id)
	}
	next.Edges = edges
	return s.replaceLocked(next)
}

// SetNodes replaces all nodes atomically. Edges whose endpoints disappear
// are pruned, mirroring node deletion semantics.
func (s *Store) SetNodes(nodes []*model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.wf.Clone()
	next.Nodes = make([]*model.Node, 0, len(nodes))
	keep := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		next.Nodes = append(next.Nodes, n.Clone())
		if n != nil {
			keep[n.ID] = true
		}
	}
	edges := next.Edges[:0]
	for _, e := range next.Edges {
		if keep[e.Source] && keep[e.Target] {
			edges = append(edges, e)
		}
	}
	next.Edges = edges
	return s.replaceLocked(next)
}

// SetEdges replaces all edges atomically. Every edge must reference
// existing nodes; the whole batch is rejected on the first bad edge.
func (s *Store) SetEdges(edges []*model.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.wf.Clone()
	next.Edges = make([]*model.Edge, 0, len(edges))
	for i, e := range edges {
		cp := e.Clone()
		if cp != nil && cp.ID == "" {
			cp.ID = fmt.Sprintf("e%d-%s-%s", i, cp.Source, cp.Target)
		}
		next.Edges = append(next.Edges, cp)
	}
	return s.replaceLocked(next)
}

// LoadWorkflow replaces the whole document.
func (s *Store) LoadWorkflow(wf *model.Workflow) error {
	if wf == nil {
		return fault.New(fault.InvalidInput, "store: workflow is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(wf.Clone())
}

// replaceLocked validates the candidate document and commits it. The store
// never holds an invalid document: on error the previous state stays.
func (s *Store) replaceLocked(next *model.Workflow) error {
	if err := next.Validate(); err != nil {
		return fault.Wrap(fault.ValidationFailed, err)
	}
	s.wf = next
	return nil
}

// IncomingEdges returns copies of edges targeting nodeID, in document order.
func (s *Store) IncomingEdges(nodeID string) []*model.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Edge
	for _, e := range s.wf.Edges {
		if e.Target == nodeID {
			out = append(out, e.Clone())
		}
	}
	return out
}

// OutgoingEdges returns copies of edges sourced at nodeID, in document order.
func (s *Store) OutgoingEdges(nodeID string) []*model.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Edge
	for _, e := range s.wf.Edges {
		if e.Source == nodeID {
			out = append(out, e.Clone())
		}
	}
	return out
}

// UpstreamNodes returns the distinct sources feeding nodeID, in document
// order of the first edge that references them.
func (s *Store) UpstreamNodes(nodeID string) []*model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []*model.Node
	for _, e := range s.wf.Edges {
		if e.Target != nodeID || seen[e.Source] {
			continue
		}
		seen[e.Source] = true
		if n := s.wf.Node(e.Source); n != nil {
			out = append(out, n.Clone())
		}
	}
	return out
}

// DownstreamNodes returns the distinct targets fed by nodeID.
func (s *Store) DownstreamNodes(nodeID string) []*model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []*model.Node
	for _, e := range s.wf.Edges {
		if e.Source != nodeID || seen[e.Target] {
			continue
		}
		seen[e.Target] = true
		if n := s.wf.Node(e.Target); n != nil {
			out = append(out, n.Clone())
		}
	}
	return out
}

// SaveTo persists the document to path as a keyed JSON file.
func (s *Store) SaveTo(path string) error {
	s.mu.RLock()
	doc, err := model.Encode(s.wf)
	s.mu.RUnlock()
	if err != nil {
		return fault.Wrap(fault.StorageFailure, err)
	}
	payload := map[string]json.RawMessage{StorageKey: doc}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fault.Wrap(fault.StorageFailure, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fault.Wrap(fault.StorageFailure, err)
	}
	return nil
}

// LoadFrom reads a keyed JSON file written by SaveTo and replaces the
// document. A file missing the storage key is rejected.
func (s *Store) LoadFrom(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fault.Wrap(fault.StorageFailure, err)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(b, &payload); err != nil {
		return fault.Wrap(fault.StorageFailure, fmt.Errorf("parse %s: %w", path, err))
	}
	doc, ok := payload[StorageKey]
	if !ok {
		return fault.New(fault.StorageFailure, "store: %s has no %q key", path, StorageKey)
	}
	wf, err := model.Decode(doc)
	if err != nil {
		return fault.Wrap(fault.ValidationFailed, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wf = wf
	return nil
}
