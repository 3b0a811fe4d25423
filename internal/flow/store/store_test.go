package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/model"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New()
	wf := &model.Workflow{
		Nodes: []*model.Node{
			{ID: "t", Type: model.TypeManualTrigger},
			{ID: "a", Type: model.TypeTransform, Data: map[string]any{"keyPath": "x"}},
			{ID: "b", Type: model.TypeOutput},
		},
		Edges: []*model.Edge{
			{ID: "e1", Source: "t", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
		},
	}
	if err := s.LoadWorkflow(wf); err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	return s
}

func TestAddNode(t *testing.T) {
	s := seed(t)
	if err := s.AddNode(&model.Node{ID: "c", Type: model.TypeDelay}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if s.Node("c") == nil {
		t.Fatal("node c missing after AddNode")
	}

	if err := s.AddNode(&model.Node{ID: "a", Type: model.TypeDelay}); !fault.IsKind(err, fault.InvalidInput) {
		t.Fatalf("duplicate AddNode err = %v, want InvalidInput", err)
	}
	if err := s.AddNode(&model.Node{ID: "  ", Type: model.TypeDelay}); !fault.IsKind(err, fault.InvalidInput) {
		t.Fatalf("blank id AddNode err = %v, want InvalidInput", err)
	}
}

func TestRemoveNodeCascadesEdges(t *testing.T) {
	s := seed(t)
	if err := s.RemoveNode("a"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	wf := s.Workflow()
	if wf.Node("a") != nil {
		t.Fatal("node a still present")
	}
	if len(wf.Edges) != 0 {
		t.Fatalf("edges not cascaded: %d left", len(wf.Edges))
	}
	if err := s.RemoveNode("nope"); !fault.IsKind(err, fault.InvalidInput) {
		t.Fatalf("unknown RemoveNode err = %v", err)
	}
}

func TestUpdateNodeDataMerges(t *testing.T) {
	s := seed(t)
	if err := s.UpdateNodeData("a", map[string]any{"label": "step A"}); err != nil {
		t.Fatalf("UpdateNodeData: %v", err)
	}
	n := s.Node("a")
	if n.DataString("keyPath") != "x" || n.DataString("label") != "step A" {
		t.Fatalf("data = %v", n.Data)
	}
}

func TestAddEdgeRejections(t *testing.T) {
	s := seed(t)
	cases := []struct {
		name string
		edge *model.Edge
	}{
		{"self loop", &model.Edge{Source: "a", Target: "a"}},
		{"unknown source", &model.Edge{Source: "zz", Target: "b"}},
		{"unknown target", &model.Edge{Source: "a", Target: "zz"}},
		{"duplicate quadruple", &model.Edge{Source: "t", Target: "a"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := s.AddEdge(c.edge); err == nil {
				t.Fatal("expected rejection")
			}
			// The document must be untouched by the failed mutation.
			if got := len(s.Workflow().Edges); got != 2 {
				t.Fatalf("edge count = %d, want 2", got)
			}
		})
	}

	// Same endpoints with a different handle pair is a distinct quadruple.
	if err := s.AddEdge(&model.Edge{Source: "t", Target: "a", SourceHandle: "t-true"}); err != nil {
		t.Fatalf("AddEdge with handle: %v", err)
	}
}

func TestAddEdgeAssignsID(t *testing.T) {
	s := seed(t)
	if err := s.AddEdge(&model.Edge{Source: "t", Target: "b"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	wf := s.Workflow()
	last := wf.Edges[len(wf.Edges)-1]
	if last.ID == "" {
		t.Fatal("edge id not assigned")
	}
}

func TestRemoveEdge(t *testing.T) {
	s := seed(t)
	if err := s.RemoveEdge("e1"); err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	if got := len(s.Workflow().Edges); got != 1 {
		t.Fatalf("edges = %d, want 1", got)
	}
	if err := s.RemoveEdge("e1"); !fault.IsKind(err, fault.InvalidInput) {
		t.Fatalf("second RemoveEdge err = %v", err)
	}
}

func TestSetNodesPrunesDanglingEdges(t *testing.T) {
	s := seed(t)
	err := s.SetNodes([]*model.Node{
		{ID: "t", Type: model.TypeManualTrigger},
		{ID: "a", Type: model.TypeTransform},
	})
	if err != nil {
		t.Fatalf("SetNodes: %v", err)
	}
	wf := s.Workflow()
	if len(wf.Edges) != 1 || wf.Edges[0].ID != "e1" {
		t.Fatalf("edges after prune = %+v", wf.Edges)
	}
}

func TestSetEdgesValidatesBatch(t *testing.T) {
	s := seed(t)
	err := s.SetEdges([]*model.Edge{
		{Source: "t", Target: "b"},
		{Source: "b", Target: "zz"},
	})
	if !fault.IsKind(err, fault.ValidationFailed) {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}
	// Rejected batch leaves the old edges intact.
	if got := len(s.Workflow().Edges); got != 2 {
		t.Fatalf("edges = %d, want 2", got)
	}

	if err := s.SetEdges([]*model.Edge{{Source: "t", Target: "b"}}); err != nil {
		t.Fatalf("SetEdges: %v", err)
	}
	if got := len(s.Workflow().Edges); got != 1 {
		t.Fatalf("edges = %d, want 1", got)
	}
}

func TestSelectors(t *testing.T) {
	s := seed(t)
	in := s.IncomingEdges("a")
	if len(in) != 1 || in[0].Source != "t" {
		t.Fatalf("IncomingEdges = %+v", in)
	}
	out := s.OutgoingEdges("a")
	if len(out) != 1 || out[0].Target != "b" {
		t.Fatalf("OutgoingEdges = %+v", out)
	}
	up := s.UpstreamNodes("a")
	if len(up) != 1 || up[0].ID != "t" {
		t.Fatalf("UpstreamNodes = %+v", up)
	}
	down := s.DownstreamNodes("a")
	if len(down) != 1 || down[0].ID != "b" {
		t.Fatalf("DownstreamNodes = %+v", down)
	}
}

func TestReturnedCopiesAreDetached(t *testing.T) {
	s := seed(t)
	n := s.Node("a")
	n.Data["keyPath"] = "mutated"
	if s.Node("a").DataString("keyPath") != "x" {
		t.Fatal("mutation through returned copy leaked into the store")
	}
}

func TestSaveToLoadFromRoundTrip(t *testing.T) {
	s := seed(t)
	path := filepath.Join(t.TempDir(), "workflow.json")
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	// The file is keyed by the storage key.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := payload[StorageKey]; !ok {
		t.Fatalf("file missing key %q: %s", StorageKey, raw)
	}

	s2 := New()
	if err := s2.LoadFrom(path); err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	wf := s2.Workflow()
	if len(wf.Nodes) != 3 || len(wf.Edges) != 2 {
		t.Fatalf("round-trip = %d nodes, %d edges", len(wf.Nodes), len(wf.Edges))
	}
}

func TestLoadFromRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.json")
	if err := os.WriteFile(path, []byte(`{"something-else": {}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := New()
	if err := s.LoadFrom(path); !fault.IsKind(err, fault.StorageFailure) {
		t.Fatalf("err = %v, want StorageFailure", err)
	}
}
