package exec

import (
	"context"

	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/model"
	"github.com/iosans/loom/internal/flow/state"
)

// Merge strategies.
const (
	MergeObject = "object"
	MergeArray  = "array"
	MergeConcat = "concat"
	MergeFirst  = "first"
)

// MergeExecutor fans multiple branches back into one value. The engine
// guarantees readiness before scheduling: every upstream branch for
// object/array/concat, exactly one for first. Missing strategy means
// object.
type MergeExecutor struct{}

func (*MergeExecutor) Validate(ec *Context) error {
	switch s := ec.Node.DataString("mergeStrategy"); s {
	case "", MergeObject, MergeArray, MergeConcat, MergeFirst:
		return nil
	default:
		return fault.New(fault.InvalidInput, "unknown merge strategy %q", s)
	}
}

func (*MergeExecutor) Execute(_ context.Context, ec *Context) (*Result, error) {
	strategy := ec.Node.DataString("mergeStrategy")
	if strategy == "" {
		strategy = MergeObject
	}
	ordered := ec.orderedSources()
	switch strategy {
	case MergeObject:
		out := make(map[string]any, len(ordered))
		for _, sv := range ordered {
			out[sv.id] = sv.value
		}
		return &Result{Output: out}, nil
	case MergeArray:
		vals := make([]any, 0, len(ordered))
		for _, sv := range ordered {
			vals = append(vals, sv.value)
		}
		return &Result{Output: vals}, nil
	case MergeConcat:
		vals := make([]any, 0, len(ordered))
		for _, sv := range ordered {
			if arr, ok := sv.value.([]any); ok {
				vals = append(vals, arr...)
			} else {
				vals = append(vals, sv.value)
			}
		}
		return &Result{Output: vals}, nil
	default: // MergeFirst
		for _, sv := range ordered {
			return &Result{Output: sv.value}, nil
		}
		return &Result{Output: nil}, nil
	}
}

// SwitchExecutor routes by matching inputs[switchKey], string-coerced,
// against the node's cases. Falls back to the "default" case when present;
// no match at all leaves every branch dark.
type SwitchExecutor struct{}

func (*SwitchExecutor) Validate(*Context) error { return nil }

func (*SwitchExecutor) Execute(_ context.Context, ec *Context) (*Result, error) {
	var raw any
	if m := ec.InputMap(); m != nil {
		raw = m[ec.Node.DataString("switchKey")]
	}
	val := Stringify(raw)

	cases := dataStringList(ec.Node, "cases")
	match, matched := "", false
	for _, c := range cases {
		if c == val {
			match, matched = val, true
			break
		}
	}
	if !matched {
		for _, c := range cases {
			if c == "default" {
				match, matched = "default", true
				break
			}
		}
	}
	if !matched {
		ec.Log(state.LevelInfo, "switch matched no case", map[string]any{"value": val})
		return WithHandles(ec.Inputs), nil
	}
	return WithHandles(ec.Inputs, model.CaseHandle(ec.NodeID, match)), nil
}

// dataStringList reads a node data key as a list of string-coerced entries.
func dataStringList(n *model.Node, key string) []string {
	raw, ok := n.Data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, Stringify(v))
	}
	return out
}

// IfElseExecutor evaluates one comparison between inputs[field] and the
// configured value, then lights either the true or the false handle.
// Evaluation problems (bad regex, non-numeric operands) route false with a
// warning instead of failing the node.
type IfElseExecutor struct{}

func (*IfElseExecutor) Validate(*Context) error { return nil }

func (*IfElseExecutor) Execute(_ context.Context, ec *Context) (*Result, error) {
	field := ec.Node.DataString("field")
	var got any
	if m := ec.InputMap(); m != nil {
		got = m[field]
	} else if field == "" {
		got = ec.Inputs
	}

	verdict, err := evalCondition(ec.Node.DataString("operator"), got, ec.Node.Data["value"])
	if err != nil {
		ec.Log(state.LevelWarn, "condition evaluation failed, routing false", map[string]any{
			"error": err.Error(),
			"field": field,
		})
		verdict = false
	}

	handle := model.FalseHandle(ec.NodeID)
	if verdict {
		handle = model.TrueHandle(ec.NodeID)
	}
	return WithHandles(ec.Inputs, handle), nil
}
