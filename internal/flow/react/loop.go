package react

import (
	"context"
	"fmt"
	"strings"
)

// DefaultMaxIterations bounds the loop when the agent node sets no budget
// of its own.
const DefaultMaxIterations = 10

// Step types recorded in the trace.
const (
	StepThought     = "thought"
	StepAction      = "action"
	StepObservation = "observation"
	StepAnswer      = "answer"
)

// ToolCall records what the model asked for.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// Step is one entry of the agent trace.
type Step struct {
	Type     string    `json:"type"`
	Content  string    `json:"content"`
	ToolCall *ToolCall `json:"toolCall,omitempty"`
	Result   any       `json:"result,omitempty"`
}

// Loop drives the protocol. Complete sends one system+user exchange and
// returns the raw model reply; Dispatch invokes a resolved tool. Both are
// required. Builtins are consulted after Tools when resolving an action
// name.
type Loop struct {
	Tools         []Tool
	Builtins      []Tool
	MaxIterations int

	Complete    func(ctx context.Context, system, user string) (string, error)
	Dispatch    func(ctx context.Context, tool Tool, args map[string]any) (any, error)
	Log         func(level, message string, data map[string]any)
	OnIteration func(iteration, max int)
}

// Run iterates until the model produces a final answer or the budget runs
// out. An exhausted budget synthesizes the answer from the last thought
// and logs a warning; it is not an error. The trace records every thought,
// action, observation and the answer in order.
func (l *Loop) Run(ctx context.Context, prompt string) (string, []Step, error) {
	system := SystemPrompt(append(append([]Tool(nil), l.Tools...), l.Builtins...))
	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	var steps []Step
	scratchpad := ""
	lastThought := ""
	for i := 0; i < maxIter; i++ {
		if err := ctx.Err(); err != nil {
			return "", steps, err
		}
		if l.OnIteration != nil {
			l.OnIteration(i+1, maxIter)
		}

		user := prompt
		if scratchpad != "" {
			user = prompt + "\n\n" + scratchpad
		}
		reply, err := l.Complete(ctx, system, user)
		if err != nil {
			return "", steps, err
		}

		thought := parseThought(reply)
		if thought != "" {
			lastThought = thought
		}
		// A final answer subsumes the thought that led to it: the reply
		// contributes a single answer step.
		if answer, ok := parseFinalAnswer(reply); ok {
			steps = append(steps, Step{Type: StepAnswer, Content: answer})
			return answer, steps, nil
		}
		if thought != "" {
			steps = append(steps, Step{Type: StepThought, Content: thought})
		}
		action, ok := parseAction(reply)
		if !ok {
			// No protocol line at all: the reply itself is the answer.
			answer := strings.TrimSpace(reply)
			steps = append(steps, Step{Type: StepAnswer, Content: answer})
			return answer, steps, nil
		}

		args := parseActionInput(reply)
		steps = append(steps, Step{
			Type:     StepAction,
			Content:  action,
			ToolCall: &ToolCall{Tool: action, Args: args},
		})

		result, dispatchErr := l.dispatch(ctx, action, args)
		obs := FormatObservation(result, dispatchErr)
		step := Step{Type: StepObservation, Content: obs}
		if dispatchErr == nil {
			step.Result = result
		}
		steps = append(steps, step)

		scratchpad += strings.TrimSpace(reply) + "\nObservation: " + obs + "\n\n"
	}

	answer := lastThought
	if answer == "" {
		answer = "Reached the iteration limit before finding a final answer."
	}
	l.logf("warn", fmt.Sprintf("agent stopped after %d iterations, answering from last thought", maxIter),
		map[string]any{"maxIterations": maxIter})
	steps = append(steps, Step{Type: StepAnswer, Content: answer})
	return answer, steps, nil
}

// dispatch resolves the action name, validates the arguments, and hands
// off. Every failure returns an error for the observation; the loop never
// aborts on a bad tool call.
func (l *Loop) dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	tool, ok := l.tool(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if err := tool.Schema.Validate(args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %v", name, err)
	}
	if l.Dispatch == nil {
		return nil, fmt.Errorf("no dispatcher configured")
	}
	return l.Dispatch(ctx, tool, args)
}

func (l *Loop) tool(name string) (Tool, bool) {
	for _, t := range l.Tools {
		if t.Name == name {
			return t, true
		}
	}
	for _, t := range l.Builtins {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func (l *Loop) logf(level, message string, data map[string]any) {
	if l.Log != nil {
		l.Log(level, message, data)
	}
}

// SystemPrompt renders the tool catalog and the protocol contract the
// model must follow.
func SystemPrompt(tools []Tool) string {
	var b strings.Builder
	b.WriteString("You are an agent that reasons step by step and can use tools.\n")
	if len(tools) > 0 {
		b.WriteString("\n## Available tools\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "\n### %s\n%s\n", t.Name, t.Description)
			if t.Schema != nil && len(t.Schema.Properties) > 0 {
				b.WriteString("Parameters:\n")
				for _, p := range t.Schema.Properties {
					desc := p.Description
					if p.Required {
						desc += " (required)"
					}
					fmt.Fprintf(&b, "- %s: %s\n", p.Name, strings.TrimSpace(desc))
				}
			}
		}
	}
	b.WriteString(`
## Protocol

Respond with exactly one of the two forms below.

To use a tool:

Thought: why this tool helps
Action: <tool name>
Action Input: <arguments as a single-line JSON object>

Stop there. An Observation line with the result will be appended for your
next turn.

When you can answer:

Thought: how the answer follows
Final Answer: <your answer>
`)
	return b.String()
}
