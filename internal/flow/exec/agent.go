package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/model"
	"github.com/iosans/loom/internal/flow/react"
	"github.com/iosans/loom/internal/flow/state"
	"github.com/iosans/loom/internal/llm"
)

// AgentExecutor runs the ReAct loop behind aiAgent nodes: the model
// reasons in text, asks for tool invocations against nodes wired on
// resource handles, and observations feed back until it produces a final
// answer. Node-backed tools dispatch through engine re-entry so their
// results land in the action log like any other execution.
type AgentExecutor struct{}

func (*AgentExecutor) Validate(ec *Context) error {
	if ec.Services == nil || ec.Services.LLM == nil {
		return fault.New(fault.ServiceUnavailable, "llm client not configured")
	}
	return nil
}

func (*AgentExecutor) Execute(ctx context.Context, ec *Context) (*Result, error) {
	prompt := agentPrompt(ec)
	maxIter := react.DefaultMaxIterations
	if v, ok := ec.Node.DataNumber("maxIterations"); ok && v > 0 {
		maxIter = int(v)
	}

	loop := &react.Loop{
		Tools:         react.DiscoverTools(ec.Workflow, ec.NodeID),
		MaxIterations: maxIter,
		Complete:      ec.agentComplete,
		Dispatch:      ec.dispatchTool,
		Log: func(level, message string, data map[string]any) {
			ec.Log(state.LogLevel(level), message, data)
		},
		OnIteration: func(i, max int) {
			ec.Progress(fmt.Sprintf("iteration %d/%d", i, max), float64(i-1)/float64(max))
		},
	}
	if ec.Services.Python != nil {
		loop.Builtins = []react.Tool{react.BuiltinPython()}
	}

	answer, steps, err := loop.Run(ctx, prompt)
	if err != nil {
		return nil, wrapLLMErr(err)
	}
	ec.Progress("done", 1)
	return &Result{Output: map[string]any{"response": answer, "trace": steps}}, nil
}

// agentComplete sends one protocol exchange through the chat client using
// the agent node's model configuration.
func (ec *Context) agentComplete(ctx context.Context, system, user string) (string, error) {
	req := llm.Request{
		Model:    ec.Node.DataString("modelId"),
		Messages: []llm.Message{llm.System(system), llm.User(user)},
	}
	if v, ok := ec.Node.DataNumber("temperature"); ok {
		t := v
		req.Temperature = &t
	}
	if v, ok := ec.Node.DataNumber("maxTokens"); ok {
		req.MaxTokens = int(v)
	}
	resp, err := ec.Services.LLM.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// dispatchTool routes a tool call: node-backed tools re-enter the engine,
// builtins go straight to the matching service.
func (ec *Context) dispatchTool(ctx context.Context, tool react.Tool, args map[string]any) (any, error) {
	if tool.NodeID != "" {
		if ec.Services.Invoker == nil {
			return nil, fault.New(fault.ServiceUnavailable, "engine re-entry not available")
		}
		return ec.Services.Invoker.ExecuteNode(ctx, tool.NodeID, args)
	}
	switch tool.Type {
	case model.TypePython:
		if ec.Services.Python == nil {
			return nil, fault.New(fault.ServiceUnavailable, "python runner not configured")
		}
		code, _ := args["code"].(string)
		if strings.TrimSpace(code) == "" {
			return nil, fault.New(fault.InvalidInput, "python tool needs code")
		}
		inputs, _ := args["inputs"].(map[string]any)
		return ec.Services.Python.Run(ctx, code, inputs)
	default:
		return nil, fault.New(fault.UnknownType, "no dispatcher for tool %q", tool.Name)
	}
}

// agentPrompt extracts the user task: a string input as-is, inputs.prompt
// when present, otherwise the JSON rendering of whatever arrived.
func agentPrompt(ec *Context) string {
	if s, ok := ec.Inputs.(string); ok {
		return s
	}
	if m := ec.InputMap(); m != nil {
		if v, ok := m["prompt"]; ok {
			return Stringify(v)
		}
	}
	return ec.InputText()
}
