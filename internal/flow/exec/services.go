package exec

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/llm"
	"github.com/iosans/loom/internal/media"
)

// PythonExecutor hands the node's code to the configured interpreter with
// the input map bound as `inputs`. Structured results (objects, arrays) are
// persisted as JSON artifacts so large payloads never sit in run state;
// scalars come back directly.
type PythonExecutor struct{}

func (*PythonExecutor) Validate(ec *Context) error {
	if ec.Services == nil || ec.Services.Python == nil {
		return fault.New(fault.ServiceUnavailable, "python runner not configured")
	}
	if ec.Services.Artifacts == nil {
		return fault.New(fault.ServiceUnavailable, "artifact store not configured")
	}
	if strings.TrimSpace(ec.Node.DataString("code")) == "" {
		return fault.New(fault.InvalidInput, "python needs a code string")
	}
	return nil
}

func (*PythonExecutor) Execute(ctx context.Context, ec *Context) (*Result, error) {
	out, err := ec.Services.Python.Run(ctx, ec.Node.DataString("code"), pythonInputs(ec))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fault.Wrap(fault.ExternalError, err)
	}
	switch out.(type) {
	case map[string]any, []any:
		blob, err := json.Marshal(out)
		if err != nil {
			return nil, fault.New(fault.InvalidInput, "encode result: %v", err)
		}
		meta, err := ec.Services.Artifacts.SaveWithHint(blob, "json", "json")
		if err != nil {
			return nil, err
		}
		return &Result{Output: map[string]any{"artifactId": meta.ID, "type": "json"}}, nil
	default:
		return &Result{Output: out}, nil
	}
}

// pythonInputs shapes the node's gathered inputs for the harness. A lone
// "inputs" key (the tool-call convention) unwraps; scalar inputs are bound
// under "input".
func pythonInputs(ec *Context) map[string]any {
	m := ec.InputMap()
	if m == nil {
		if ec.Inputs == nil {
			return map[string]any{}
		}
		return map[string]any{"input": ec.Inputs}
	}
	if inner, ok := m["inputs"].(map[string]any); ok && len(m) == 1 {
		return inner
	}
	return m
}

// TextToSpeechExecutor synthesizes the input text and stores the audio as
// an artifact. Text comes from a string input, inputs.text, or data.text,
// in that order.
type TextToSpeechExecutor struct{}

func (*TextToSpeechExecutor) Validate(ec *Context) error {
	if ec.Services == nil || ec.Services.Speech == nil {
		return fault.New(fault.ServiceUnavailable, "speech synthesizer not configured")
	}
	if ec.Services.Artifacts == nil {
		return fault.New(fault.ServiceUnavailable, "artifact store not configured")
	}
	return nil
}

func (*TextToSpeechExecutor) Execute(ctx context.Context, ec *Context) (*Result, error) {
	text := speechText(ec)
	if strings.TrimSpace(text) == "" {
		return nil, fault.New(fault.InvalidInput, "no text to synthesize")
	}
	req := media.SpeechRequest{Text: text, Voice: ec.Node.DataString("voice")}
	if m := ec.InputMap(); m != nil {
		if v, ok := m["voice"].(string); ok && v != "" {
			req.Voice = v
		}
	}
	if v, ok := ec.Node.DataNumber("rate"); ok {
		req.Rate = v
	}
	if v, ok := ec.Node.DataNumber("pitch"); ok {
		req.Pitch = v
	}

	blob, mime, err := ec.Services.Speech.Synthesize(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fault.Wrap(fault.ServiceUnavailable, err)
	}
	meta, err := ec.Services.Artifacts.SaveWithHint(blob, "audio", mime)
	if err != nil {
		return nil, err
	}
	return &Result{Output: map[string]any{"artifactId": meta.ID, "type": mime}}, nil
}

func speechText(ec *Context) string {
	if s, ok := ec.Inputs.(string); ok {
		return s
	}
	if m := ec.InputMap(); m != nil {
		if v, ok := m["text"]; ok {
			return Stringify(v)
		}
	}
	return ec.Node.DataString("text")
}

// ImageGenerationExecutor renders an image for the prompt and stores it as
// an artifact. Prompt comes from a string input, inputs.prompt, or
// data.prompt.
type ImageGenerationExecutor struct{}

func (*ImageGenerationExecutor) Validate(ec *Context) error {
	if ec.Services == nil || ec.Services.Images == nil {
		return fault.New(fault.ServiceUnavailable, "image generator not configured")
	}
	if ec.Services.Artifacts == nil {
		return fault.New(fault.ServiceUnavailable, "artifact store not configured")
	}
	return nil
}

func (*ImageGenerationExecutor) Execute(ctx context.Context, ec *Context) (*Result, error) {
	prompt := imagePrompt(ec)
	if strings.TrimSpace(prompt) == "" {
		return nil, fault.New(fault.InvalidInput, "no prompt to render")
	}
	req := media.ImageRequest{Prompt: prompt, Style: ec.Node.DataString("style")}
	if m := ec.InputMap(); m != nil {
		if v, ok := m["style"].(string); ok && v != "" {
			req.Style = v
		}
	}
	if v, ok := ec.Node.DataNumber("width"); ok {
		req.Width = int(v)
	}
	if v, ok := ec.Node.DataNumber("height"); ok {
		req.Height = int(v)
	}

	blob, mime, err := ec.Services.Images.Generate(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fault.Wrap(fault.ServiceUnavailable, err)
	}
	meta, err := ec.Services.Artifacts.SaveWithHint(blob, "image", mime)
	if err != nil {
		return nil, err
	}
	return &Result{Output: map[string]any{"artifactId": meta.ID, "type": mime}}, nil
}

func imagePrompt(ec *Context) string {
	if s, ok := ec.Inputs.(string); ok {
		return s
	}
	if m := ec.InputMap(); m != nil {
		if v, ok := m["prompt"]; ok {
			return Stringify(v)
		}
	}
	return ec.Node.DataString("prompt")
}

// LLMExecutor performs a single chat completion through the injected
// client. Inputs may be a message list, an object with prompt, or plain
// text.
type LLMExecutor struct{}

func (*LLMExecutor) Validate(ec *Context) error {
	if ec.Services == nil || ec.Services.LLM == nil {
		return fault.New(fault.ServiceUnavailable, "llm client not configured")
	}
	return nil
}

func (*LLMExecutor) Execute(ctx context.Context, ec *Context) (*Result, error) {
	req := llm.Request{
		Model:    ec.Node.DataString("modelId"),
		Messages: chatMessages(ec),
	}
	if v, ok := ec.Node.DataNumber("temperature"); ok {
		t := v
		req.Temperature = &t
	}
	if v, ok := ec.Node.DataNumber("top_p"); ok {
		p := v
		req.TopP = &p
	}
	if v, ok := ec.Node.DataNumber("maxTokens"); ok {
		req.MaxTokens = int(v)
	}

	resp, err := ec.Services.LLM.Complete(ctx, req)
	if err != nil {
		return nil, wrapLLMErr(err)
	}
	return &Result{
		Output: map[string]any{"response": resp.Text, "model": resp.Model},
		Meta:   map[string]any{"usage": resp.Usage},
	}, nil
}

// chatMessages builds the request message list: a well-formed message list
// input passes through, an object contributes inputs.prompt, anything else
// becomes a single user message. data.systemPrompt, when set, leads.
func chatMessages(ec *Context) []llm.Message {
	var msgs []llm.Message
	if sp := ec.Node.DataString("systemPrompt"); sp != "" {
		msgs = append(msgs, llm.System(sp))
	}
	if list, ok := ec.Inputs.([]any); ok {
		if parsed := parseMessageList(list); len(parsed) > 0 {
			return append(msgs, parsed...)
		}
	}
	if m := ec.InputMap(); m != nil {
		if v, ok := m["prompt"]; ok {
			return append(msgs, llm.User(Stringify(v)))
		}
		if list, ok := m["messages"].([]any); ok {
			if parsed := parseMessageList(list); len(parsed) > 0 {
				return append(msgs, parsed...)
			}
		}
	}
	text := ec.InputText()
	if text == "" {
		text = ec.Node.DataString("prompt")
	}
	return append(msgs, llm.User(text))
}

func parseMessageList(list []any) []llm.Message {
	msgs := make([]llm.Message, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		if role == "" {
			role = string(llm.RoleUser)
		}
		msgs = append(msgs, llm.Message{Role: llm.Role(role), Content: Stringify(m["content"])})
	}
	return msgs
}

// wrapLLMErr maps client errors onto the fault taxonomy: timeouts stay
// timeouts, configuration and auth problems read as the service being
// unavailable, the rest is the provider's fault.
func wrapLLMErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, err)
	}
	var timeoutErr *llm.RequestTimeoutError
	if errors.As(err, &timeoutErr) {
		return fault.Wrap(fault.Timeout, err)
	}
	var confErr *llm.ConfigurationError
	if errors.As(err, &confErr) || llm.IsAuthenticationError(err) {
		return fault.Wrap(fault.ServiceUnavailable, err)
	}
	return fault.Wrap(fault.ExternalError, err)
}
