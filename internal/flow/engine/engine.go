// Package engine executes workflows. It builds the dependency graph and
// schedules each node the moment its upstream dependencies are satisfied,
// running ready nodes concurrently under a parallelism cap. The engine
// gathers node inputs from upstream outputs, applies conditional routing,
// and records every transition on a state.Run. Executors stay pure behind
// the exec contract; the engine owns scheduling, statuses, edge snapshots,
// and teardown.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iosans/loom/internal/flow/exec"
	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/graph"
	"github.com/iosans/loom/internal/flow/model"
	"github.com/iosans/loom/internal/flow/state"
)

const (
	defaultMaxParallel = 8

	// pausePoll is the busy-wait backoff while a run sits paused. The flag
	// is checked at node boundaries only; executor bodies are never
	// interrupted by pause.
	pausePoll = 25 * time.Millisecond
)

// abortedMessage is recorded on every node that was in flight when the run
// got cancelled.
const abortedMessage = "Execution aborted"

// Engine turns workflows into runs. It is stateless across runs and safe
// for concurrent use; per-run bookkeeping lives on the Execution.
type Engine struct {
	registry    *exec.Registry
	services    exec.Services
	maxParallel int
	runsDir     string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry swaps the executor registry, usually to stub node types in
// tests.
func WithRegistry(r *exec.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithMaxParallel caps how many nodes run concurrently.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithRunsDir enables run reports: every finished run is written to
// <dir>/<runID>/run.json.
func WithRunsDir(dir string) Option {
	return func(e *Engine) { e.runsDir = dir }
}

// New builds an engine over the default executor registry.
func New(services exec.Services, opts ...Option) *Engine {
	e := &Engine{
		registry:    exec.NewDefaultRegistry(),
		services:    services,
		maxParallel: defaultMaxParallel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes wf to completion and returns its final state. Callers that
// need live access to the run while it executes (SSE, abort, pause) use
// Prepare and drive the Execution themselves.
func (e *Engine) Run(ctx context.Context, wf *model.Workflow) (*state.Run, error) {
	x, err := e.Prepare(wf)
	if err != nil {
		return nil, err
	}
	return x.State(), x.Execute(ctx)
}

// Execution is one traversal of one workflow. It owns the run state plus
// the routing bookkeeping that outlives individual nodes, and doubles as
// the re-entry point agents dispatch tool calls through.
type Execution struct {
	eng    *Engine
	graph  *graph.Graph
	run    *state.Run
	svcs   *exec.Services
	tools  map[string]bool
	starts []string

	mu      sync.Mutex
	decided map[string][]string // node id -> active handles; presence means the node routed
}

// Prepare builds the traversal for wf without starting it: the graph, the
// all-pending run state, and the start set. Tool sources are never
// scheduled by traversal; a workflow with nothing else to run is NoEntry.
func (e *Engine) Prepare(wf *model.Workflow) (*Execution, error) {
	if wf == nil || len(wf.Nodes) == 0 {
		return nil, fault.New(fault.NoEntry, "workflow has no nodes")
	}
	g := graph.Build(wf)
	tools := g.ToolSources()
	var starts []string
	for _, id := range g.StartNodes() {
		if !tools[id] {
			starts = append(starts, id)
		}
	}
	if len(starts) == 0 {
		return nil, fault.New(fault.NoEntry, "workflow has no entry point")
	}
	x := &Execution{
		eng:     e,
		graph:   g,
		run:     state.NewRun(g.NodeIDs()),
		tools:   tools,
		starts:  starts,
		decided: make(map[string][]string),
	}
	svcs := e.services
	svcs.Invoker = x
	x.svcs = &svcs
	return x, nil
}

// State exposes the live run for observers and control.
func (x *Execution) State() *state.Run { return x.run }

// Workflow returns the snapshot this execution traverses.
func (x *Execution) Workflow() *model.Workflow { return x.graph.Workflow() }

// Execute drives the traversal to completion, finalizes the run, and writes
// the report when the engine carries a runs directory. The returned error
// is the first node failure, or the cancellation that stopped the run.
func (x *Execution) Execute(ctx context.Context) error {
	err := x.traverse(ctx)
	x.run.Finish(err == nil)
	if x.eng.runsDir != "" {
		if _, werr := x.run.WriteReport(x.eng.runsDir); werr != nil {
			x.run.Log("", state.LevelWarn, "run report not written", map[string]any{"error": werr.Error()})
		}
	}
	return err
}

// nodeDone is the dispatcher's completion record for one node.
type nodeDone struct {
	id  string
	err error
}

// traverse is a completion-driven dispatcher: start nodes launch first, and
// every completion re-scans readiness so newly satisfied nodes start
// immediately. Workers run under the parallelism cap; the first failure
// cancels the group, which aborts in-flight siblings and stops scheduling.
func (x *Execution) traverse(ctx context.Context) error {
	// Buffered to the node count so workers never block on reporting, even
	// while the dispatcher waits for a free worker slot.
	done := make(chan nodeDone, x.graph.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.eng.maxParallel)

	scheduled := make(map[string]bool, x.graph.Len())
	inFlight := 0
	launch := func(id string) {
		scheduled[id] = true
		inFlight++
		g.Go(func() error {
			err := x.runNode(gctx, id)
			done <- nodeDone{id: id, err: err}
			return err
		})
	}

	for _, id := range x.starts {
		launch(id)
	}
	failed := false
	for inFlight > 0 {
		d := <-done
		inFlight--
		if d.err != nil {
			failed = true
			continue
		}
		if failed || gctx.Err() != nil {
			continue
		}
		for _, id := range x.nextReady(scheduled) {
			launch(id)
		}
	}
	return g.Wait()
}

// runNode executes one scheduled node end to end: pause gate, input
// gathering, validation, execution, then status, routing bookkeeping, and
// edge snapshots. A node cancelled before it started stays pending.
func (x *Execution) runNode(ctx context.Context, id string) error {
	if err := x.waitIfPaused(ctx); err != nil {
		return err
	}
	node := x.graph.Node(id)
	ex, err := x.eng.registry.Resolve(node.Type)
	if err != nil {
		return x.fail(id, err)
	}
	x.run.SetRunning(id)
	x.run.Log(id, state.LevelInfo, "executing "+node.Type+" node", nil)

	inputs, sources := x.gatherInputs(id)
	ec := x.nodeContext(node, inputs, sources)
	if err := ex.Validate(ec); err != nil {
		return x.fail(id, err)
	}
	res, err := ex.Execute(ctx, ec)
	if err != nil {
		if fault.IsCancelled(err) || ctx.Err() != nil {
			x.run.SetError(id, abortedMessage)
			x.run.Log(id, state.LevelError, abortedMessage, nil)
			return fault.At(id, err)
		}
		return x.fail(id, err)
	}

	var output any
	if res != nil {
		output = res.Output
	}
	if handles, ok := exec.ActiveHandles(res); ok {
		x.mu.Lock()
		x.decided[id] = handles
		x.mu.Unlock()
	}
	for _, e := range x.graph.OutgoingEdges(id) {
		if model.IsResourceEdge(e) {
			continue
		}
		x.run.SetEdgeSnapshot(e.ID, output)
	}
	x.run.SetSuccess(id, output)
	x.run.Log(id, state.LevelSuccess, "completed", nil)
	return nil
}

// fail marks the node errored and returns the node-scoped fault.
func (x *Execution) fail(id string, err error) error {
	msg := fault.Message(err)
	x.run.SetError(id, msg)
	x.run.Log(id, state.LevelError, msg, map[string]any{"kind": string(fault.KindOf(err))})
	return fault.At(id, err)
}

// gatherInputs collects {sourceId: output} over live incoming edges whose
// source succeeded. Exactly one source unwraps to the bare value.
func (x *Execution) gatherInputs(id string) (any, map[string]any) {
	sources := map[string]any{}
	for _, e := range x.graph.IncomingEdges(id) {
		if model.IsResourceEdge(e) || !x.edgeActive(e) {
			continue
		}
		if _, ok := sources[e.Source]; ok {
			continue
		}
		res, ok := x.run.NodeResult(e.Source)
		if !ok || res.Status != state.StatusSuccess {
			continue
		}
		sources[e.Source] = res.Output
	}
	if len(sources) == 1 {
		for _, v := range sources {
			return v, sources
		}
	}
	if len(sources) == 0 {
		return nil, sources
	}
	return sources, sources
}

// nodeContext assembles the per-node view handed to an executor. Logs and
// progress reports land on the run under the node's id.
func (x *Execution) nodeContext(node *model.Node, inputs any, sources map[string]any) *exec.Context {
	id := node.ID
	return &exec.Context{
		NodeID:   id,
		Node:     node,
		Inputs:   inputs,
		Sources:  sources,
		Workflow: x.graph.Workflow(),
		Services: x.svcs,
		LogFn: func(level state.LogLevel, message string, data map[string]any) {
			x.run.Log(id, level, message, data)
		},
		ProgressFn: func(status string, pct float64) {
			x.run.Log(id, state.LevelInfo, status, map[string]any{"pct": pct})
		},
	}
}

// edgeActive reports whether routing lets values flow over e. A source that
// made no routing decision keeps all its edges live; a decision keeps only
// the edges whose sourceHandle it named.
func (x *Execution) edgeActive(e *model.Edge) bool {
	x.mu.Lock()
	handles, routed := x.decided[e.Source]
	x.mu.Unlock()
	if !routed {
		return true
	}
	for _, h := range handles {
		if h == e.SourceHandle {
			return true
		}
	}
	return false
}

// nextReady scans for unscheduled nodes whose readiness rule is satisfied.
// Only the dispatcher calls it, so the scheduled set needs no lock; it is
// what makes "exactly once" hold for any-one merges, whose rule stays
// satisfied after they fire.
func (x *Execution) nextReady(scheduled map[string]bool) []string {
	var out []string
	for _, id := range x.graph.NodeIDs() {
		if scheduled[id] || x.tools[id] {
			continue
		}
		if x.ready(id) {
			out = append(out, id)
		}
	}
	return out
}

// ready applies the scheduling rule for one pending node. Merge nodes
// follow their strategy: wait-all for object, array and concat, any-one for
// first. Everything else waits for every live incoming edge. Dark edges
// neither gate nor satisfy, so a node whose every input went dark is never
// scheduled and stays pending for the whole run.
func (x *Execution) ready(id string) bool {
	node := x.graph.Node(id)
	anyOne := node.Type == model.TypeMerge && node.DataString("mergeStrategy") == exec.MergeFirst
	delivered := 0
	for _, e := range x.graph.IncomingEdges(id) {
		if model.IsResourceEdge(e) || !x.edgeActive(e) {
			continue
		}
		if x.run.StatusOf(e.Source) == state.StatusSuccess {
			delivered++
			continue
		}
		if !anyOne {
			return false
		}
	}
	return delivered > 0
}

// waitIfPaused blocks while the run is paused, polling with a small
// backoff. Cancellation wins over pause, and the final Err check doubles as
// the cancelled-while-queued gate.
func (x *Execution) waitIfPaused(ctx context.Context) error {
	for x.run.Paused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePoll):
		}
	}
	return ctx.Err()
}

// ExecuteNode runs a single node outside the traversal, on behalf of an
// agent dispatching a tool call. It validates and executes with the run's
// services and returns the output without touching node status, so tool
// calls never disturb the run's picture of the graph; the call is visible
// in the action log. Cancellation inherits from ctx.
func (x *Execution) ExecuteNode(ctx context.Context, nodeID string, inputs any) (any, error) {
	node := x.graph.Node(nodeID)
	if node == nil {
		return nil, fault.At(nodeID, fault.New(fault.InvalidInput, "node %q not in workflow", nodeID))
	}
	ex, err := x.eng.registry.Resolve(node.Type)
	if err != nil {
		return nil, fault.At(nodeID, err)
	}
	x.run.Log(nodeID, state.LevelAction, "executing "+node.Type+" node", nil)
	ec := x.nodeContext(node, inputs, nil)
	if err := ex.Validate(ec); err != nil {
		return nil, fault.At(nodeID, err)
	}
	res, err := ex.Execute(ctx, ec)
	if err != nil {
		return nil, fault.At(nodeID, err)
	}
	if res == nil {
		return nil, nil
	}
	return res.Output, nil
}
