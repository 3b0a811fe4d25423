package exec

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/script"
)

// TriggerExecutor backs start, manualTrigger and scheduleTrigger nodes.
// Entry nodes take no upstream data; they emit a fire record.
type TriggerExecutor struct{}

func (*TriggerExecutor) Validate(*Context) error { return nil }

func (*TriggerExecutor) Execute(_ context.Context, _ *Context) (*Result, error) {
	return &Result{Output: map[string]any{
		"triggered": true,
		"timestamp": time.Now().UnixMilli(),
	}}, nil
}

// PassthroughExecutor backs end and output nodes: the gathered inputs are
// the node's output, untouched.
type PassthroughExecutor struct{}

func (*PassthroughExecutor) Validate(*Context) error { return nil }

func (*PassthroughExecutor) Execute(_ context.Context, ec *Context) (*Result, error) {
	return &Result{Output: ec.Inputs}, nil
}

const defaultDelayMS = 1000

// DelayExecutor waits the configured number of milliseconds, honoring
// cancellation, then passes inputs through.
type DelayExecutor struct{}

func (*DelayExecutor) Validate(ec *Context) error {
	if v, ok := ec.Node.DataNumber("delay"); ok && v < 0 {
		return fault.New(fault.InvalidInput, "delay must be >= 0, got %v", v)
	}
	return nil
}

func (*DelayExecutor) Execute(ctx context.Context, ec *Context) (*Result, error) {
	d := defaultDelayMS * time.Millisecond
	if v, ok := ec.Node.DataNumber("delay"); ok && v >= 0 {
		d = time.Duration(v) * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return &Result{Output: ec.Inputs}, nil
}

// TransformExecutor reshapes data between nodes. Unknown transformType
// passes inputs through untouched.
type TransformExecutor struct{}

func (*TransformExecutor) Validate(*Context) error { return nil }

func (*TransformExecutor) Execute(_ context.Context, ec *Context) (*Result, error) {
	switch t := ec.Node.DataString("transformType"); t {
	case "json-parse":
		var out any
		if err := json.Unmarshal([]byte(ec.InputText()), &out); err != nil {
			return nil, fault.New(fault.InvalidInput, "json-parse: %v", err)
		}
		return &Result{Output: out}, nil
	case "json-stringify":
		b, err := json.Marshal(ec.Inputs)
		if err != nil {
			return nil, fault.New(fault.InvalidInput, "json-stringify: %v", err)
		}
		return &Result{Output: string(b)}, nil
	case "extract":
		m := ec.InputMap()
		if m == nil {
			return nil, fault.New(fault.InvalidInput, "extract needs an object input")
		}
		return &Result{Output: m[ec.Node.DataString("key")]}, nil
	case "template":
		return &Result{Output: renderTemplate(ec.Node.DataString("template"), ec.InputMap())}, nil
	default:
		return &Result{Output: ec.Inputs}, nil
	}
}

var templateVar = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// renderTemplate substitutes {{name}} markers from the input map. Unknown
// names render empty.
func renderTemplate(tpl string, vars map[string]any) string {
	return templateVar.ReplaceAllStringFunc(tpl, func(marker string) string {
		name := strings.TrimSpace(marker[2 : len(marker)-2])
		v, ok := vars[name]
		if !ok {
			return ""
		}
		return Stringify(v)
	})
}

// CodeExecutor runs the expression dialect in internal/flow/script with
// `inputs` bound. The script's return value, or its `output` variable if
// assigned, becomes the node output. The dialect has no filesystem,
// network or process reach.
type CodeExecutor struct{}

func (*CodeExecutor) Validate(ec *Context) error {
	code := ec.Node.DataString("code")
	if strings.TrimSpace(code) == "" {
		return fault.New(fault.InvalidInput, "codeExecutor needs a code string")
	}
	if _, err := script.Compile(code); err != nil {
		return fault.New(fault.InvalidInput, "code does not compile: %v", err)
	}
	return nil
}

func (*CodeExecutor) Execute(_ context.Context, ec *Context) (*Result, error) {
	out, err := script.Eval(ec.Node.DataString("code"), map[string]any{"inputs": ec.Inputs})
	if err != nil {
		return nil, fault.New(fault.InvalidInput, "code evaluation failed: %v", err)
	}
	return &Result{Output: out}, nil
}
