// Package exec defines the node executor contract and the built-in
// executors behind every workflow node type. The engine assembles a Context
// per node (gathered inputs, the node record, a workflow snapshot, shared
// services) and hands it to the registered Executor; the Result's Meta may
// carry routing decisions under the activeHandles key. Executors never
// touch run state directly, the engine owns status transitions and edge
// snapshots.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/iosans/loom/internal/flow/artifact"
	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/model"
	"github.com/iosans/loom/internal/flow/state"
	"github.com/iosans/loom/internal/llm"
	"github.com/iosans/loom/internal/media"
)

// Executor runs one node. Validate is a cheap pre-run check; a non-nil
// error marks the node failed without Execute being called.
type Executor interface {
	Validate(ec *Context) error
	Execute(ctx context.Context, ec *Context) (*Result, error)
}

// ChatService is the slice of the llm client executors depend on.
type ChatService interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

// PythonRunner executes a snippet with inputs bound and returns the decoded
// result.
type PythonRunner interface {
	Run(ctx context.Context, code string, inputs map[string]any) (any, error)
}

// NodeInvoker re-enters the engine to run a single node outside the normal
// schedule. The agent executor uses it to dispatch tool calls.
type NodeInvoker interface {
	ExecuteNode(ctx context.Context, nodeID string, inputs any) (any, error)
}

// Services bundles the shared dependencies executors draw on. A field left
// nil means the deployment does not provide that capability; executors that
// need a missing service fail with ServiceUnavailable.
type Services struct {
	Artifacts *artifact.Store
	LLM       ChatService
	Python    PythonRunner
	Speech    media.Synthesizer
	Images    media.Generator
	Invoker   NodeInvoker
}

// Context is the per-node view an executor works against. Inputs is the
// gathered upstream data, unwrapped when exactly one source fed the node;
// Sources keeps the raw source-id to output map merge needs.
type Context struct {
	NodeID   string
	Node     *model.Node
	Inputs   any
	Sources  map[string]any
	Workflow *model.Workflow
	Services *Services

	LogFn      func(level state.LogLevel, message string, data map[string]any)
	ProgressFn func(status string, pct float64)
}

// Log records an action-log line for this node. Safe on a nil hook.
func (ec *Context) Log(level state.LogLevel, message string, data map[string]any) {
	if ec.LogFn != nil {
		ec.LogFn(level, message, data)
	}
}

// Progress reports coarse completion for long-running executors.
func (ec *Context) Progress(status string, pct float64) {
	if ec.ProgressFn != nil {
		ec.ProgressFn(status, pct)
	}
}

// InputMap coerces Inputs to an object, returning nil when the shape
// differs.
func (ec *Context) InputMap() map[string]any {
	m, _ := ec.Inputs.(map[string]any)
	return m
}

// InputText renders Inputs as text: strings pass through, everything else
// is JSON-encoded.
func (ec *Context) InputText() string {
	return Stringify(ec.Inputs)
}

// sourceValue pairs a source node id with the output it delivered.
type sourceValue struct {
	id    string
	value any
}

// orderedSources returns Sources in the workflow's edge declaration order
// so array and concat merges are deterministic. Sources without a matching
// edge fall back to sorted-id order at the end.
func (ec *Context) orderedSources() []sourceValue {
	seen := make(map[string]bool, len(ec.Sources))
	out := make([]sourceValue, 0, len(ec.Sources))
	if ec.Workflow != nil {
		for _, e := range ec.Workflow.Edges {
			if e.Target != ec.NodeID || model.IsResourceEdge(e) || seen[e.Source] {
				continue
			}
			if v, ok := ec.Sources[e.Source]; ok {
				seen[e.Source] = true
				out = append(out, sourceValue{id: e.Source, value: v})
			}
		}
	}
	rest := make([]string, 0, len(ec.Sources))
	for id := range ec.Sources {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, sourceValue{id: id, value: ec.Sources[id]})
	}
	return out
}

// Result is what an executor hands back. Meta is optional; the engine only
// interprets the activeHandles key.
type Result struct {
	Output any
	Meta   map[string]any
}

// MetaActiveHandles is the Meta key carrying an executor's routing
// decision: the source handles whose edges stay live downstream.
const MetaActiveHandles = "activeHandles"

// WithHandles builds a Result that routes only the named handles. Called
// with no handles it routes nothing, going dark downstream.
func WithHandles(output any, handles ...string) *Result {
	if handles == nil {
		handles = []string{}
	}
	return &Result{Output: output, Meta: map[string]any{MetaActiveHandles: handles}}
}

// ActiveHandles extracts the routing decision from a result. ok reports
// whether the executor made one at all; a present but empty list means "no
// branch".
func ActiveHandles(res *Result) ([]string, bool) {
	if res == nil || res.Meta == nil {
		return nil, false
	}
	v, present := res.Meta[MetaActiveHandles]
	if !present {
		return nil, false
	}
	switch h := v.(type) {
	case []string:
		return h, true
	case []any:
		out := make([]string, 0, len(h))
		for _, item := range h {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

// Stringify renders a value the way templates, prompts and comparisons need
// it: strings unchanged, nil empty, everything else compact JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Registry maps node types to executors. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: map[string]Executor{}}
}

// NewDefaultRegistry returns a registry with every built-in node type
// wired. Triggers share one executor, as do the end/output sinks.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	trigger := &TriggerExecutor{}
	r.Register(model.TypeStart, trigger)
	r.Register(model.TypeManualTrigger, trigger)
	r.Register(model.TypeScheduleTrigger, trigger)
	sink := &PassthroughExecutor{}
	r.Register(model.TypeEnd, sink)
	r.Register(model.TypeOutput, sink)
	r.Register(model.TypeMerge, &MergeExecutor{})
	r.Register(model.TypeSwitch, &SwitchExecutor{})
	r.Register(model.TypeIfElse, &IfElseExecutor{})
	r.Register(model.TypeDelay, &DelayExecutor{})
	r.Register(model.TypeTransform, &TransformExecutor{})
	r.Register(model.TypeCodeExecutor, &CodeExecutor{})
	r.Register(model.TypeHTTPRequest, &HTTPRequestExecutor{})
	r.Register(model.TypePython, &PythonExecutor{})
	r.Register(model.TypeTextToSpeech, &TextToSpeechExecutor{})
	r.Register(model.TypeImageGeneration, &ImageGenerationExecutor{})
	r.Register(model.TypeLLM, &LLMExecutor{})
	r.Register(model.TypeAIAgent, &AgentExecutor{})
	return r
}

func (r *Registry) Register(nodeType string, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = ex
}

// Resolve returns the executor for a node type.
func (r *Registry) Resolve(nodeType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[nodeType]
	if !ok {
		return nil, fault.New(fault.UnknownType, "no executor registered for node type %q", nodeType)
	}
	return ex, nil
}

// KnownTypes returns the registered type strings, sorted.
func (r *Registry) KnownTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
