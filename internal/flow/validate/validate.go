// Package validate lints workflow documents before execution. Rules are
// split by severity: errors name documents the engine would reject or that
// cannot terminate, warnings name constructions that run but probably do
// not mean what the author intended.
package validate

import (
	"fmt"
	"strings"

	"github.com/iosans/loom/internal/flow/cron"
	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/graph"
	"github.com/iosans/loom/internal/flow/model"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

type Diagnostic struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"node_id,omitempty"`
	EdgeID   string   `json:"edge_id,omitempty"`
	Fix      string   `json:"fix,omitempty"`
}

// Rule is the hook for custom lint rules appended after the built-ins.
type Rule interface {
	Name() string
	Apply(wf *model.Workflow) []Diagnostic
}

// Validate runs all built-in rules and any extra rules against the document.
func Validate(wf *model.Workflow, extra ...Rule) []Diagnostic {
	if wf == nil {
		return []Diagnostic{{Rule: "workflow_nil", Severity: SeverityError, Message: "workflow is nil"}}
	}
	var diags []Diagnostic
	diags = append(diags, lintNonEmpty(wf)...)
	diags = append(diags, lintNodeTypes(wf)...)
	diags = append(diags, lintEdgeIntegrity(wf)...)
	diags = append(diags, lintEntryPoint(wf)...)
	diags = append(diags, lintCycle(wf)...)
	diags = append(diags, lintReachability(wf)...)
	diags = append(diags, lintCronExpressions(wf)...)
	diags = append(diags, lintMergeStrategy(wf)...)
	diags = append(diags, lintBranchConfig(wf)...)
	diags = append(diags, lintAgentTools(wf)...)

	for _, r := range extra {
		if r != nil {
			diags = append(diags, r.Apply(wf)...)
		}
	}
	return diags
}

// ValidateOrError collapses error-severity diagnostics into a single
// ValidationFailed fault, nil when the document is clean enough to run.
func ValidateOrError(wf *model.Workflow, extra ...Rule) error {
	var errs []string
	for _, d := range Validate(wf, extra...) {
		if d.Severity == SeverityError {
			errs = append(errs, d.Rule+": "+d.Message)
		}
	}
	if len(errs) > 0 {
		return fault.New(fault.ValidationFailed, "validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func lintNonEmpty(wf *model.Workflow) []Diagnostic {
	if len(wf.Nodes) == 0 {
		return []Diagnostic{{
			Rule:     "workflow_empty",
			Severity: SeverityError,
			Message:  "workflow has no nodes",
		}}
	}
	return nil
}

func lintNodeTypes(wf *model.Workflow) []Diagnostic {
	var diags []Diagnostic
	for _, n := range wf.Nodes {
		if !model.IsKnownType(n.Type) {
			diags = append(diags, Diagnostic{
				Rule:     "node_type_known",
				Severity: SeverityError,
				Message:  fmt.Sprintf("node type %q has no executor", n.Type),
				NodeID:   n.ID,
			})
		}
	}
	return diags
}

// lintEdgeIntegrity re-checks the codec's load rules for documents built
// programmatically: unknown endpoints, self-loops, duplicate quadruples.
func lintEdgeIntegrity(wf *model.Workflow) []Diagnostic {
	ids := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		ids[n.ID] = true
	}
	var diags []Diagnostic
	seen := make(map[string]string, len(wf.Edges))
	for _, e := range wf.Edges {
		if !ids[e.Source] {
			diags = append(diags, Diagnostic{
				Rule: "edge_integrity", Severity: SeverityError, EdgeID: e.ID,
				Message: fmt.Sprintf("edge references unknown source %q", e.Source),
			})
		}
		if !ids[e.Target] {
			diags = append(diags, Diagnostic{
				Rule: "edge_integrity", Severity: SeverityError, EdgeID: e.ID,
				Message: fmt.Sprintf("edge references unknown target %q", e.Target),
			})
		}
		if e.Source == e.Target {
			diags = append(diags, Diagnostic{
				Rule: "edge_integrity", Severity: SeverityError, EdgeID: e.ID,
				Message: fmt.Sprintf("self-loop on %q", e.Source),
			})
		}
		if prev, dup := seen[e.Key()]; dup {
			diags = append(diags, Diagnostic{
				Rule: "edge_integrity", Severity: SeverityError, EdgeID: e.ID,
				Message: fmt.Sprintf("duplicate of edge %q (same source, handles, target)", prev),
			})
		} else {
			seen[e.Key()] = e.ID
		}
	}
	return diags
}

func lintEntryPoint(wf *model.Workflow) []Diagnostic {
	if len(wf.Nodes) == 0 {
		return nil
	}
	g := graph.Build(wf)
	tools := g.ToolSources()
	for _, id := range g.StartNodes() {
		if !tools[id] {
			return nil
		}
	}
	return []Diagnostic{{
		Rule:     "entry_point",
		Severity: SeverityError,
		Message:  "workflow has no entry node (every node has incoming edges)",
		Fix:      "add a trigger node or remove a cycle",
	}}
}

func lintCycle(wf *model.Workflow) []Diagnostic {
	if graph.Build(wf).HasCycle() {
		return []Diagnostic{{
			Rule:     "acyclic",
			Severity: SeverityError,
			Message:  "workflow contains a cycle and cannot terminate",
		}}
	}
	return nil
}

func lintReachability(wf *model.Workflow) []Diagnostic {
	if len(wf.Nodes) == 0 {
		return nil
	}
	g := graph.Build(wf)
	tools := g.ToolSources()
	seen := make(map[string]bool)
	var queue []string
	for _, id := range g.StartNodes() {
		if tools[id] {
			continue
		}
		seen[id] = true
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		// Full edge records: a tool wired to a reachable agent counts as
		// reachable even though resource edges carry no dataflow.
		for _, e := range g.OutgoingEdges(cur) {
			if !seen[e.Target] {
				seen[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
		for _, e := range g.IncomingEdges(cur) {
			if model.IsResourceEdge(e) && !seen[e.Source] {
				seen[e.Source] = true
				queue = append(queue, e.Source)
			}
		}
	}
	var diags []Diagnostic
	for _, n := range wf.Nodes {
		if !seen[n.ID] {
			diags = append(diags, Diagnostic{
				Rule:     "reachability",
				Severity: SeverityWarning,
				Message:  "node is not reachable from any entry node",
				NodeID:   n.ID,
			})
		}
	}
	return diags
}

func lintCronExpressions(wf *model.Workflow) []Diagnostic {
	var diags []Diagnostic
	for _, n := range wf.NodesOfType(model.TypeScheduleTrigger) {
		expr := strings.TrimSpace(n.DataString("cronExpression"))
		if expr == "" {
			diags = append(diags, Diagnostic{
				Rule:     "cron_syntax",
				Severity: SeverityWarning,
				Message:  "schedule trigger has no cron expression and will never fire",
				NodeID:   n.ID,
			})
			continue
		}
		if _, err := cron.Parse(expr); err != nil {
			diags = append(diags, Diagnostic{
				Rule:     "cron_syntax",
				Severity: SeverityError,
				Message:  err.Error(),
				NodeID:   n.ID,
			})
		}
	}
	return diags
}

func lintMergeStrategy(wf *model.Workflow) []Diagnostic {
	valid := map[string]bool{"object": true, "array": true, "concat": true, "first": true}
	var diags []Diagnostic
	for _, n := range wf.NodesOfType(model.TypeMerge) {
		s := strings.TrimSpace(n.DataString("mergeStrategy"))
		switch {
		case s == "":
			diags = append(diags, Diagnostic{
				Rule:     "merge_strategy",
				Severity: SeverityWarning,
				Message:  "merge node has no strategy; the engine defaults to object",
				NodeID:   n.ID,
				Fix:      "set data.mergeStrategy to object, array, concat, or first",
			})
		case !valid[s]:
			diags = append(diags, Diagnostic{
				Rule:     "merge_strategy",
				Severity: SeverityError,
				Message:  fmt.Sprintf("unknown merge strategy %q", s),
				NodeID:   n.ID,
			})
		}
	}
	return diags
}

func lintBranchConfig(wf *model.Workflow) []Diagnostic {
	var diags []Diagnostic
	for _, n := range wf.NodesOfType(model.TypeIfElse) {
		if strings.TrimSpace(n.DataString("operator")) == "" {
			diags = append(diags, Diagnostic{
				Rule:     "branch_config",
				Severity: SeverityWarning,
				Message:  "ifElse node has no operator; the condition always evaluates false",
				NodeID:   n.ID,
			})
		}
	}
	for _, n := range wf.NodesOfType(model.TypeSwitch) {
		if strings.TrimSpace(n.DataString("switchKey")) == "" {
			diags = append(diags, Diagnostic{
				Rule:     "branch_config",
				Severity: SeverityWarning,
				Message:  "switch node has no switchKey; every input routes to default",
				NodeID:   n.ID,
			})
		}
	}
	return diags
}

func lintAgentTools(wf *model.Workflow) []Diagnostic {
	var diags []Diagnostic
	for _, n := range wf.NodesOfType(model.TypeAIAgent) {
		hasTool := false
		for _, e := range wf.Edges {
			if e.Target == n.ID && model.IsResourceEdge(e) {
				hasTool = true
				break
			}
		}
		if !hasTool {
			diags = append(diags, Diagnostic{
				Rule:     "agent_tools",
				Severity: SeverityInfo,
				Message:  "agent has no tools wired to a resource handle; it can only answer directly",
				NodeID:   n.ID,
			})
		}
	}
	return diags
}
