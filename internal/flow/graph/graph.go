// Package graph builds the per-run adjacency view of a workflow: incoming
// and outgoing node sets, incoming edge records for handle-aware gating, and
// traversal helpers.
package graph

import (
	"sort"

	"github.com/iosans/loom/internal/flow/model"
)

// Graph is an immutable adjacency index over one workflow snapshot. Build it
// once per run.
type Graph struct {
	wf            *model.Workflow
	nodes         map[string]*model.Node
	incoming      map[string]map[string]bool
	outgoing      map[string]map[string]bool
	incomingEdges map[string][]*model.Edge
	outgoingEdges map[string][]*model.Edge
	order         []string // document order for deterministic iteration
}

// Build indexes the workflow. Edges referencing unknown nodes are assumed to
// have been rejected at load. Resource edges (tool wiring into an agent) are
// kept in the edge record lists for discovery but excluded from the
// incoming/outgoing adjacency sets, so they never gate scheduling.
func Build(wf *model.Workflow) *Graph {
	g := &Graph{
		wf:            wf,
		nodes:         make(map[string]*model.Node, len(wf.Nodes)),
		incoming:      make(map[string]map[string]bool, len(wf.Nodes)),
		outgoing:      make(map[string]map[string]bool, len(wf.Nodes)),
		incomingEdges: make(map[string][]*model.Edge),
		outgoingEdges: make(map[string][]*model.Edge),
	}
	for _, n := range wf.Nodes {
		g.nodes[n.ID] = n
		g.incoming[n.ID] = map[string]bool{}
		g.outgoing[n.ID] = map[string]bool{}
		g.order = append(g.order, n.ID)
	}
	for _, e := range wf.Edges {
		if _, ok := g.nodes[e.Source]; !ok {
			continue
		}
		if _, ok := g.nodes[e.Target]; !ok {
			continue
		}
		g.outgoingEdges[e.Source] = append(g.outgoingEdges[e.Source], e)
		g.incomingEdges[e.Target] = append(g.incomingEdges[e.Target], e)
		if model.IsResourceEdge(e) {
			continue
		}
		g.outgoing[e.Source][e.Target] = true
		g.incoming[e.Target][e.Source] = true
	}
	return g
}

// Workflow returns the snapshot the graph was built from.
func (g *Graph) Workflow() *model.Workflow { return g.wf }

// Node returns the node by id, or nil.
func (g *Graph) Node(id string) *model.Node { return g.nodes[id] }

// Len reports the node count.
func (g *Graph) Len() int { return len(g.order) }

// NodeIDs returns all node ids in document order.
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Incoming returns the upstream node ids of id, sorted.
func (g *Graph) Incoming(id string) []string { return sortedKeys(g.incoming[id]) }

// Outgoing returns the downstream node ids of id, sorted.
func (g *Graph) Outgoing(id string) []string { return sortedKeys(g.outgoing[id]) }

// IncomingEdges returns the full edge records targeting id, in document
// order. Needed for handle-aware filtering and tool discovery.
func (g *Graph) IncomingEdges(id string) []*model.Edge { return g.incomingEdges[id] }

// OutgoingEdges returns the full edge records leaving id, in document order.
func (g *Graph) OutgoingEdges(id string) []*model.Edge { return g.outgoingEdges[id] }

// StartNodes returns the ids of nodes with no incoming dataflow edges, in
// document order. These form the first execution level.
func (g *Graph) StartNodes() []string {
	var out []string
	for _, id := range g.order {
		if len(g.incoming[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// ToolSources returns the ids of nodes whose only participation in the
// graph is as the source of resource edges. They are invoked on demand by
// an agent, never scheduled by traversal.
func (g *Graph) ToolSources() map[string]bool {
	out := make(map[string]bool)
	for _, id := range g.order {
		if len(g.incoming[id]) > 0 || len(g.outgoing[id]) > 0 {
			continue
		}
		resource := false
		for _, e := range g.outgoingEdges[id] {
			if model.IsResourceEdge(e) {
				resource = true
				break
			}
		}
		if resource {
			out[id] = true
		}
	}
	return out
}

// TopoOrder returns node ids in topological order: depth-first post-order,
// reversed. With a cyclic graph the order is still a permutation of all
// nodes but carries no ordering guarantee inside a cycle; call HasCycle to
// detect that case.
func (g *Graph) TopoOrder() []string {
	visited := make(map[string]bool, len(g.order))
	var post []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, next := range g.Outgoing(id) {
			visit(next)
		}
		post = append(post, id)
	}
	for _, id := range g.order {
		visit(id)
	}
	// Reverse post-order.
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// HasCycle reports whether the graph contains a directed cycle, using the
// standard three-color DFS.
func (g *Graph) HasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.order))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range g.Outgoing(id) {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, id := range g.order {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
