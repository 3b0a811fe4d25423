package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iosans/loom/internal/flow/artifact"
	"github.com/iosans/loom/internal/flow/exec"
	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/model"
	"github.com/iosans/loom/internal/flow/state"
	"github.com/iosans/loom/internal/llm"
)

func wfNode(id, typ string, data map[string]any) *model.Node {
	if data == nil {
		data = map[string]any{}
	}
	return &model.Node{ID: id, Type: typ, Data: data}
}

func dataEdge(id, source, target string) *model.Edge {
	return &model.Edge{ID: id, Source: source, Target: target}
}

func handleEdge(id, source, sourceHandle, target string) *model.Edge {
	return &model.Edge{ID: id, Source: source, Target: target, SourceHandle: sourceHandle}
}

// emitExecutor outputs the node's configured value, for feeding fixtures
// into downstream nodes.
type emitExecutor struct{}

func (emitExecutor) Validate(*exec.Context) error { return nil }

func (emitExecutor) Execute(_ context.Context, ec *exec.Context) (*exec.Result, error) {
	return &exec.Result{Output: ec.Node.Data["value"]}, nil
}

// countingExecutor wraps another executor and counts Execute calls.
type countingExecutor struct {
	inner exec.Executor
	n     atomic.Int32
}

func (c *countingExecutor) Validate(ec *exec.Context) error { return c.inner.Validate(ec) }

func (c *countingExecutor) Execute(ctx context.Context, ec *exec.Context) (*exec.Result, error) {
	c.n.Add(1)
	return c.inner.Execute(ctx, ec)
}

func testRegistry() *exec.Registry {
	r := exec.NewDefaultRegistry()
	r.Register("emit", emitExecutor{})
	return r
}

func newTestEngine(opts ...Option) *Engine {
	return New(exec.Services{}, append([]Option{WithRegistry(testRegistry())}, opts...)...)
}

func TestLinearChainRun(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("t-1", model.TypeManualTrigger, nil),
			wfNode("c-1", model.TypeCodeExecutor, map[string]any{"code": "return inputs.timestamp ? 'ok' : 'no'"}),
			wfNode("o-1", model.TypeOutput, nil),
		},
		Edges: []*model.Edge{
			dataEdge("e1", "t-1", "c-1"),
			dataEdge("e2", "c-1", "o-1"),
		},
	}

	run, err := newTestEngine().Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	trig, _ := run.NodeResult("t-1")
	out, ok := trig.Output.(map[string]any)
	if !ok || out["triggered"] != true {
		t.Fatalf("trigger output = %#v", trig.Output)
	}
	if _, ok := out["timestamp"].(int64); !ok {
		t.Fatalf("trigger timestamp = %#v", out["timestamp"])
	}
	for _, id := range []string{"c-1", "o-1"} {
		res, _ := run.NodeResult(id)
		if res.Status != state.StatusSuccess || res.Output != "ok" {
			t.Fatalf("%s = (%s, %#v), want (success, ok)", id, res.Status, res.Output)
		}
	}
	if snap, ok := run.EdgeSnapshot("e2"); !ok || snap.Output != "ok" {
		t.Fatalf("edge e2 snapshot = %#v (present %v)", snap, ok)
	}
	if rep := run.Snapshot(); rep.Running || !rep.OK {
		t.Fatalf("report: running=%v ok=%v", rep.Running, rep.OK)
	}
}

func TestIfElseTrueBranchRunsFalseStaysPending(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("src", "emit", map[string]any{"value": map[string]any{"value": 42}}),
			wfNode("if-1", model.TypeIfElse, map[string]any{"field": "value", "operator": "greaterThan", "value": 10}),
			wfNode("t-out", model.TypeOutput, nil),
			wfNode("f-out", model.TypeOutput, nil),
		},
		Edges: []*model.Edge{
			dataEdge("e1", "src", "if-1"),
			handleEdge("e2", "if-1", model.TrueHandle("if-1"), "t-out"),
			handleEdge("e3", "if-1", model.FalseHandle("if-1"), "f-out"),
		},
	}

	run, err := newTestEngine().Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	tr, _ := run.NodeResult("t-out")
	if tr.Status != state.StatusSuccess || !reflect.DeepEqual(tr.Output, map[string]any{"value": 42}) {
		t.Fatalf("true branch = (%s, %#v)", tr.Status, tr.Output)
	}
	if got := run.StatusOf("f-out"); got != state.StatusPending {
		t.Fatalf("false branch = %s, want pending", got)
	}
	// Snapshots land on every outgoing edge, dark ones included.
	if _, ok := run.EdgeSnapshot("e3"); !ok {
		t.Fatalf("dark edge e3 has no snapshot")
	}
}

func TestDarkBranchesStayPendingTransitively(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("src", "emit", map[string]any{"value": map[string]any{"value": 5}}),
			wfNode("if-1", model.TypeIfElse, map[string]any{"field": "value", "operator": "greaterThan", "value": 10}),
			wfNode("a-1", model.TypeCodeExecutor, map[string]any{"code": "return 'never'"}),
			wfNode("b-1", model.TypeOutput, nil),
			wfNode("f-out", model.TypeOutput, nil),
		},
		Edges: []*model.Edge{
			dataEdge("e1", "src", "if-1"),
			handleEdge("e2", "if-1", model.TrueHandle("if-1"), "a-1"),
			dataEdge("e3", "a-1", "b-1"),
			handleEdge("e4", "if-1", model.FalseHandle("if-1"), "f-out"),
		},
	}

	run, err := newTestEngine().Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := run.StatusOf("f-out"); got != state.StatusSuccess {
		t.Fatalf("false branch = %s, want success", got)
	}
	for _, id := range []string{"a-1", "b-1"} {
		if got := run.StatusOf(id); got != state.StatusPending {
			t.Fatalf("%s = %s, want pending", id, got)
		}
	}
}

func TestMergeObjectJoinsParallelBranches(t *testing.T) {
	counter := &countingExecutor{inner: &exec.MergeExecutor{}}
	reg := testRegistry()
	reg.Register(model.TypeMerge, counter)

	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("ea", "emit", map[string]any{"value": map[string]any{"a": 1}}),
			wfNode("eb", "emit", map[string]any{"value": map[string]any{"b": 2}}),
			wfNode("X", model.TypeDelay, map[string]any{"delay": 200}),
			wfNode("Y", model.TypeDelay, map[string]any{"delay": 500}),
			wfNode("m-1", model.TypeMerge, map[string]any{"mergeStrategy": "object"}),
			wfNode("o-1", model.TypeOutput, nil),
		},
		Edges: []*model.Edge{
			dataEdge("e1", "ea", "X"),
			dataEdge("e2", "eb", "Y"),
			dataEdge("e3", "X", "m-1"),
			dataEdge("e4", "Y", "m-1"),
			dataEdge("e5", "m-1", "o-1"),
		},
	}

	start := time.Now()
	run, err := New(exec.Services{}, WithRegistry(reg)).Run(context.Background(), wf)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[string]any{"X": map[string]any{"a": 1}, "Y": map[string]any{"b": 2}}
	m, _ := run.NodeResult("m-1")
	if !reflect.DeepEqual(m.Output, want) {
		t.Fatalf("merge output = %#v, want %#v", m.Output, want)
	}
	if got := counter.n.Load(); got != 1 {
		t.Fatalf("merge executed %d times, want 1", got)
	}
	// Branches overlap: the run takes about the slower delay, not the sum.
	if elapsed >= 700*time.Millisecond {
		t.Fatalf("run took %v, branches did not overlap", elapsed)
	}
}

func TestMergeFirstFiresOnEarliestBranch(t *testing.T) {
	counter := &countingExecutor{inner: &exec.MergeExecutor{}}
	reg := testRegistry()
	reg.Register(model.TypeMerge, counter)

	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("ea", "emit", map[string]any{"value": "fast"}),
			wfNode("eb", "emit", map[string]any{"value": "slow"}),
			wfNode("X", model.TypeDelay, map[string]any{"delay": 40}),
			wfNode("Y", model.TypeDelay, map[string]any{"delay": 400}),
			wfNode("m-1", model.TypeMerge, map[string]any{"mergeStrategy": "first"}),
			wfNode("o-1", model.TypeOutput, nil),
		},
		Edges: []*model.Edge{
			dataEdge("e1", "ea", "X"),
			dataEdge("e2", "eb", "Y"),
			dataEdge("e3", "X", "m-1"),
			dataEdge("e4", "Y", "m-1"),
			dataEdge("e5", "m-1", "o-1"),
		},
	}

	run, err := New(exec.Services{}, WithRegistry(reg)).Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, id := range []string{"m-1", "o-1"} {
		res, _ := run.NodeResult(id)
		if res.Status != state.StatusSuccess || res.Output != "fast" {
			t.Fatalf("%s = (%s, %#v), want (success, fast)", id, res.Status, res.Output)
		}
	}
	if got := run.StatusOf("Y"); got != state.StatusSuccess {
		t.Fatalf("slow branch = %s, want success", got)
	}
	if got := counter.n.Load(); got != 1 {
		t.Fatalf("merge executed %d times, want 1", got)
	}
}

func TestAbortMarksInFlightDelayAborted(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("t-1", model.TypeManualTrigger, nil),
			wfNode("d-1", model.TypeDelay, map[string]any{"delay": 5000}),
			wfNode("o-1", model.TypeOutput, nil),
		},
		Edges: []*model.Edge{
			dataEdge("e1", "t-1", "d-1"),
			dataEdge("e2", "d-1", "o-1"),
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(100*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	run, err := newTestEngine().Run(ctx, wf)
	elapsed := time.Since(start)

	if fault.KindOf(err) != fault.Cancelled {
		t.Fatalf("run error = %v, want Cancelled", err)
	}
	if elapsed >= 500*time.Millisecond {
		t.Fatalf("abort took %v", elapsed)
	}
	d, _ := run.NodeResult("d-1")
	if d.Status != state.StatusError || d.Error != "Execution aborted" {
		t.Fatalf("delay node = (%s, %q)", d.Status, d.Error)
	}
	if got := run.StatusOf("o-1"); got != state.StatusPending {
		t.Fatalf("downstream = %s, want pending", got)
	}
	rep := run.Snapshot()
	if rep.Running || rep.OK {
		t.Fatalf("report: running=%v ok=%v", rep.Running, rep.OK)
	}
	if rep.EndedAt.Sub(rep.StartedAt) >= 500*time.Millisecond {
		t.Fatalf("run lasted %v", rep.EndedAt.Sub(rep.StartedAt))
	}
}

func TestUnknownTypeFailsFast(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("t-1", model.TypeManualTrigger, nil),
			wfNode("x-1", "mystery", nil),
			wfNode("o-1", model.TypeOutput, nil),
		},
		Edges: []*model.Edge{
			dataEdge("e1", "t-1", "x-1"),
			dataEdge("e2", "x-1", "o-1"),
		},
	}

	run, err := newTestEngine().Run(context.Background(), wf)
	if fault.KindOf(err) != fault.UnknownType {
		t.Fatalf("run error = %v, want UnknownType", err)
	}
	res, _ := run.NodeResult("x-1")
	if res.Status != state.StatusError || res.Error != `no executor registered for node type "mystery"` {
		t.Fatalf("node = (%s, %q)", res.Status, res.Error)
	}
	if got := run.StatusOf("o-1"); got != state.StatusPending {
		t.Fatalf("downstream = %s, want pending", got)
	}
}

func TestValidatorFailureSkipsExecution(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("t-1", model.TypeManualTrigger, nil),
			wfNode("c-1", model.TypeCodeExecutor, map[string]any{"code": "   "}),
		},
		Edges: []*model.Edge{dataEdge("e1", "t-1", "c-1")},
	}

	run, err := newTestEngine().Run(context.Background(), wf)
	if fault.KindOf(err) != fault.InvalidInput {
		t.Fatalf("run error = %v, want InvalidInput", err)
	}
	res, _ := run.NodeResult("c-1")
	if res.Status != state.StatusError || res.Error != "codeExecutor needs a code string" {
		t.Fatalf("node = (%s, %q)", res.Status, res.Error)
	}
}

func TestInputGatheringUnwrapsSingleSource(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("solo", "emit", map[string]any{"value": "alone"}),
			wfNode("c-1", model.TypeCodeExecutor, map[string]any{"code": "return inputs"}),
			wfNode("ea", "emit", map[string]any{"value": 1}),
			wfNode("eb", "emit", map[string]any{"value": 2}),
			wfNode("c-2", model.TypeCodeExecutor, map[string]any{"code": "return inputs"}),
		},
		Edges: []*model.Edge{
			dataEdge("e1", "solo", "c-1"),
			dataEdge("e2", "ea", "c-2"),
			dataEdge("e3", "eb", "c-2"),
		},
	}

	run, err := newTestEngine().Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	one, _ := run.NodeResult("c-1")
	if one.Output != "alone" {
		t.Fatalf("single source not unwrapped: %#v", one.Output)
	}
	two, _ := run.NodeResult("c-2")
	if want := map[string]any{"ea": 1, "eb": 2}; !reflect.DeepEqual(two.Output, want) {
		t.Fatalf("multi source inputs = %#v, want %#v", two.Output, want)
	}
}

func TestPauseHoldsNodesAtBoundary(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("t-1", model.TypeManualTrigger, nil),
			wfNode("o-1", model.TypeOutput, nil),
		},
		Edges: []*model.Edge{dataEdge("e1", "t-1", "o-1")},
	}

	x, err := newTestEngine().Prepare(wf)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	x.State().Pause()

	errc := make(chan error, 1)
	go func() { errc <- x.Execute(context.Background()) }()

	time.Sleep(80 * time.Millisecond)
	if got := x.State().StatusOf("t-1"); got != state.StatusPending {
		t.Fatalf("node advanced to %s while paused", got)
	}

	x.State().Resume()
	if err := <-errc; err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, id := range []string{"t-1", "o-1"} {
		if got := x.State().StatusOf(id); got != state.StatusSuccess {
			t.Fatalf("%s = %s after resume", id, got)
		}
	}
}

func TestAbortWhilePausedLeavesNodesPending(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("t-1", model.TypeManualTrigger, nil),
			wfNode("o-1", model.TypeOutput, nil),
		},
		Edges: []*model.Edge{dataEdge("e1", "t-1", "o-1")},
	}

	x, err := newTestEngine().Prepare(wf)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	x.State().Pause()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- x.Execute(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute = %v, want context.Canceled", err)
	}
	for _, id := range []string{"t-1", "o-1"} {
		if got := x.State().StatusOf(id); got != state.StatusPending {
			t.Fatalf("%s = %s, want pending", id, got)
		}
	}
	if rep := x.State().Snapshot(); rep.Running {
		t.Fatalf("run still marked running")
	}
}

func TestCycleMembersAreNeverScheduled(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("t-1", model.TypeManualTrigger, nil),
			wfNode("a-1", model.TypeCodeExecutor, map[string]any{"code": "return 1"}),
			wfNode("b-1", model.TypeCodeExecutor, map[string]any{"code": "return 2"}),
		},
		Edges: []*model.Edge{
			dataEdge("e1", "t-1", "a-1"),
			dataEdge("e2", "a-1", "b-1"),
			dataEdge("e3", "b-1", "a-1"),
		},
	}

	run, err := newTestEngine().Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := run.StatusOf("t-1"); got != state.StatusSuccess {
		t.Fatalf("trigger = %s", got)
	}
	for _, id := range []string{"a-1", "b-1"} {
		if got := run.StatusOf(id); got != state.StatusPending {
			t.Fatalf("cycle member %s = %s, want pending", id, got)
		}
	}
}

func TestPrepareRejectsGraphsWithoutEntry(t *testing.T) {
	cases := []struct {
		name string
		wf   *model.Workflow
	}{
		{"nil workflow", nil},
		{"no nodes", &model.Workflow{}},
		{"pure cycle", &model.Workflow{
			Nodes: []*model.Node{
				wfNode("a", model.TypeCodeExecutor, map[string]any{"code": "return 1"}),
				wfNode("b", model.TypeCodeExecutor, map[string]any{"code": "return 2"}),
			},
			Edges: []*model.Edge{
				dataEdge("e1", "a", "b"),
				dataEdge("e2", "b", "a"),
			},
		}},
	}
	eng := newTestEngine()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := eng.Prepare(tc.wf); fault.KindOf(err) != fault.NoEntry {
				t.Fatalf("Prepare = %v, want NoEntry", err)
			}
		})
	}
}

func TestExecuteNodeLeavesStatusUntouched(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("t-1", model.TypeManualTrigger, nil),
			wfNode("c-1", model.TypeCodeExecutor, map[string]any{"code": "return inputs.n * 2"}),
		},
		Edges: []*model.Edge{dataEdge("e1", "t-1", "c-1")},
	}

	x, err := newTestEngine().Prepare(wf)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	out, err := x.ExecuteNode(context.Background(), "c-1", map[string]any{"n": 21})
	if err != nil {
		t.Fatalf("ExecuteNode: %v", err)
	}
	if out != float64(42) {
		t.Fatalf("output = %#v, want 42", out)
	}
	for _, id := range []string{"t-1", "c-1"} {
		if got := x.State().StatusOf(id); got != state.StatusPending {
			t.Fatalf("%s = %s, re-entry must not move statuses", id, got)
		}
	}

	var logged bool
	for _, entry := range x.State().Snapshot().Log {
		if entry.NodeID == "c-1" && entry.Level == state.LevelAction {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("re-entry left no action log entry")
	}

	if _, err := x.ExecuteNode(context.Background(), "ghost", nil); fault.KindOf(err) != fault.InvalidInput {
		t.Fatalf("unknown node = %v, want InvalidInput", err)
	}
}

// scriptedChat replays canned replies for the agent loop.
type scriptedChat struct {
	replies []string
	calls   int
}

func (s *scriptedChat) Complete(_ context.Context, _ llm.Request) (llm.Response, error) {
	if s.calls >= len(s.replies) {
		return llm.Response{}, fmt.Errorf("scripted chat exhausted after %d calls", s.calls)
	}
	reply := s.replies[s.calls]
	s.calls++
	return llm.Response{Text: reply, Model: "scripted"}, nil
}

// recordingRunner is a python stand-in that records the code it ran.
type recordingRunner struct {
	output  any
	gotCode string
	calls   int
}

func (r *recordingRunner) Run(_ context.Context, code string, _ map[string]any) (any, error) {
	r.calls++
	r.gotCode = code
	return r.output, nil
}

func TestAgentDispatchesToolThroughReentry(t *testing.T) {
	chat := &scriptedChat{replies: []string{
		"Thought: I must call python.\nAction: python_py_1\nAction Input: {\"x\":21}",
		"Thought: Got 42.\nFinal Answer: 42",
	}}
	runner := &recordingRunner{output: 42}
	services := exec.Services{
		Artifacts: artifact.NewMemory(),
		LLM:       chat,
		Python:    runner,
	}

	wf := &model.Workflow{
		Nodes: []*model.Node{
			wfNode("src", "emit", map[string]any{"value": "Double 21 then give the final answer."}),
			wfNode("py-1", model.TypePython, map[string]any{"code": "return inputs['x']*2"}),
			wfNode("ag-1", model.TypeAIAgent, nil),
		},
		Edges: []*model.Edge{
			dataEdge("e1", "src", "ag-1"),
			{ID: "e2", Source: "py-1", Target: "ag-1", TargetHandle: "ag-1-resource-1"},
		},
	}

	run, err := New(services, WithRegistry(testRegistry())).Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ag, _ := run.NodeResult("ag-1")
	out, ok := ag.Output.(map[string]any)
	if !ok || out["response"] != "42" {
		t.Fatalf("agent output = %#v", ag.Output)
	}
	// thought, action, observation, answer.
	if steps := reflect.ValueOf(out["trace"]); steps.Len() != 4 {
		t.Fatalf("trace has %d steps, want 4", steps.Len())
	}
	if runner.calls != 1 || runner.gotCode != "return inputs['x']*2" {
		t.Fatalf("python ran %d times with code %q", runner.calls, runner.gotCode)
	}
	// The tool node ran through re-entry: log yes, status no.
	if got := run.StatusOf("py-1"); got != state.StatusPending {
		t.Fatalf("tool node = %s, want pending", got)
	}
	var toolLogged bool
	for _, entry := range run.Snapshot().Log {
		if entry.NodeID == "py-1" && entry.Level == state.LevelAction {
			toolLogged = true
		}
	}
	if !toolLogged {
		t.Fatalf("tool dispatch left no action log entry")
	}
}

func TestRunReportWrittenAtEnd(t *testing.T) {
	wf := &model.Workflow{
		Nodes: []*model.Node{wfNode("t-1", model.TypeManualTrigger, nil)},
	}

	dir := t.TempDir()
	run, err := newTestEngine(WithRunsDir(dir)).Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rep, err := state.ReadReport(dir, run.ID())
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if rep.RunID != run.ID() || !rep.OK {
		t.Fatalf("report = %+v", rep)
	}
}
