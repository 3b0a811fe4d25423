package exec

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/iosans/loom/internal/flow/artifact"
	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/model"
	"github.com/iosans/loom/internal/llm"
	"github.com/iosans/loom/internal/media"
)

type stubRunner struct {
	result    any
	err       error
	gotCode   string
	gotInputs map[string]any
}

func (s *stubRunner) Run(_ context.Context, code string, inputs map[string]any) (any, error) {
	s.gotCode, s.gotInputs = code, inputs
	return s.result, s.err
}

type stubSynth struct {
	blob []byte
	mime string
	err  error
	got  media.SpeechRequest
}

func (s *stubSynth) Synthesize(_ context.Context, req media.SpeechRequest) ([]byte, string, error) {
	s.got = req
	return s.blob, s.mime, s.err
}

type stubImages struct {
	blob []byte
	mime string
	err  error
	got  media.ImageRequest
}

func (s *stubImages) Generate(_ context.Context, req media.ImageRequest) ([]byte, string, error) {
	s.got = req
	return s.blob, s.mime, s.err
}

type stubChat struct {
	resp llm.Response
	err  error
	got  llm.Request
}

func (s *stubChat) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.got = req
	if s.err != nil {
		return llm.Response{}, s.err
	}
	return s.resp, nil
}

func TestPythonScalarResultPassesThrough(t *testing.T) {
	runner := &stubRunner{result: float64(5)}
	store := artifact.NewMemory()
	ec := testContext(node("py", model.TypePython, map[string]any{"code": "inputs['x'] + 1"}), map[string]any{"x": float64(4)})
	ec.Services = &Services{Python: runner, Artifacts: store}

	res, err := (&PythonExecutor{}).Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != float64(5) {
		t.Fatalf("output = %v, want 5", res.Output)
	}
	if runner.gotCode != "inputs['x'] + 1" {
		t.Fatalf("runner got code %q", runner.gotCode)
	}
	if runner.gotInputs["x"] != float64(4) {
		t.Fatalf("runner got inputs %v", runner.gotInputs)
	}
	if store.Stats().Count != 0 {
		t.Fatalf("scalar result stored an artifact")
	}
}

func TestPythonStructuredResultBecomesArtifact(t *testing.T) {
	runner := &stubRunner{result: map[string]any{"k": "v"}}
	store := artifact.NewMemory()
	ec := testContext(node("py", model.TypePython, map[string]any{"code": "x"}), nil)
	ec.Services = &Services{Python: runner, Artifacts: store}

	res, err := (&PythonExecutor{}).Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out, ok := res.Output.(map[string]any)
	if !ok || out["type"] != "json" {
		t.Fatalf("output = %v, want artifact reference", res.Output)
	}
	id, _ := out["artifactId"].(string)
	meta, blob, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	if string(blob) != `{"k":"v"}` {
		t.Fatalf("blob = %s", blob)
	}
	if meta.MimeType != "application/json" {
		t.Fatalf("mime = %s, want application/json", meta.MimeType)
	}
	if meta.Category != "json" {
		t.Fatalf("category = %s, want json", meta.Category)
	}
}

func TestPythonInputShaping(t *testing.T) {
	cases := []struct {
		name   string
		inputs any
		want   map[string]any
	}{
		{
			name:   "lone inputs key unwraps",
			inputs: map[string]any{"inputs": map[string]any{"x": float64(1)}},
			want:   map[string]any{"x": float64(1)},
		},
		{
			name:   "plain map passes through",
			inputs: map[string]any{"a": "b"},
			want:   map[string]any{"a": "b"},
		},
		{
			name:   "scalar binds as input",
			inputs: "hello",
			want:   map[string]any{"input": "hello"},
		},
		{
			name:   "nil binds nothing",
			inputs: nil,
			want:   map[string]any{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ec := testContext(node("py", model.TypePython, map[string]any{"code": "x"}), tc.inputs)
			if got := pythonInputs(ec); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("pythonInputs = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPythonRunnerErrorIsExternal(t *testing.T) {
	runner := &stubRunner{err: fmt.Errorf("python: ZeroDivisionError: division by zero")}
	ec := testContext(node("py", model.TypePython, map[string]any{"code": "1/0"}), nil)
	ec.Services = &Services{Python: runner, Artifacts: artifact.NewMemory()}
	_, err := (&PythonExecutor{}).Execute(context.Background(), ec)
	if !fault.IsKind(err, fault.ExternalError) {
		t.Fatalf("kind = %v, want ExternalError", fault.KindOf(err))
	}
}

func TestPythonValidate(t *testing.T) {
	ec := testContext(node("py", model.TypePython, map[string]any{"code": ""}), nil)
	ec.Services = &Services{Python: &stubRunner{}, Artifacts: artifact.NewMemory()}
	if err := (&PythonExecutor{}).Validate(ec); !fault.IsKind(err, fault.InvalidInput) {
		t.Fatalf("empty code kind = %v, want InvalidInput", fault.KindOf(err))
	}
	ec = testContext(node("py", model.TypePython, map[string]any{"code": "x"}), nil)
	ec.Services = &Services{Artifacts: artifact.NewMemory()}
	if err := (&PythonExecutor{}).Validate(ec); !fault.IsKind(err, fault.ServiceUnavailable) {
		t.Fatalf("missing runner kind = %v, want ServiceUnavailable", fault.KindOf(err))
	}
}

func TestTextToSpeech(t *testing.T) {
	synth := &stubSynth{blob: []byte("RIFFfake"), mime: "audio/wav"}
	store := artifact.NewMemory()
	ec := testContext(node("tts", model.TypeTextToSpeech, map[string]any{
		"voice": "alto",
		"rate":  float64(1.5),
		"pitch": float64(0.8),
	}), "read this aloud")
	ec.Services = &Services{Speech: synth, Artifacts: store}

	res, err := (&TextToSpeechExecutor{}).Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := res.Output.(map[string]any)
	if out["type"] != "audio/wav" {
		t.Fatalf("type = %v, want audio/wav", out["type"])
	}
	if _, err := store.Meta(out["artifactId"].(string)); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if synth.got.Text != "read this aloud" || synth.got.Voice != "alto" {
		t.Fatalf("synth request = %+v", synth.got)
	}
	if synth.got.Rate != 1.5 || synth.got.Pitch != 0.8 {
		t.Fatalf("rate/pitch = %v/%v", synth.got.Rate, synth.got.Pitch)
	}
}

func TestTextToSpeechTextSources(t *testing.T) {
	cases := []struct {
		name   string
		inputs any
		data   map[string]any
		want   string
	}{
		{name: "string input", inputs: "from input", want: "from input"},
		{name: "inputs.text", inputs: map[string]any{"text": "from field"}, want: "from field"},
		{name: "data.text fallback", inputs: map[string]any{"other": 1}, data: map[string]any{"text": "from config"}, want: "from config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ec := testContext(node("tts", model.TypeTextToSpeech, tc.data), tc.inputs)
			if got := speechText(ec); got != tc.want {
				t.Fatalf("speechText = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTextToSpeechNoText(t *testing.T) {
	ec := testContext(node("tts", model.TypeTextToSpeech, nil), nil)
	ec.Services = &Services{Speech: &stubSynth{blob: []byte("x"), mime: "audio/wav"}, Artifacts: artifact.NewMemory()}
	_, err := (&TextToSpeechExecutor{}).Execute(context.Background(), ec)
	if !fault.IsKind(err, fault.InvalidInput) {
		t.Fatalf("kind = %v, want InvalidInput", fault.KindOf(err))
	}
}

func TestImageGeneration(t *testing.T) {
	gen := &stubImages{blob: []byte{0x89, 'P', 'N', 'G'}, mime: "image/png"}
	store := artifact.NewMemory()
	ec := testContext(node("img", model.TypeImageGeneration, map[string]any{
		"width":  float64(64),
		"height": float64(32),
		"style":  "sketch",
	}), map[string]any{"prompt": "a lighthouse"})
	ec.Services = &Services{Images: gen, Artifacts: store}

	res, err := (&ImageGenerationExecutor{}).Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := res.Output.(map[string]any)
	if out["type"] != "image/png" {
		t.Fatalf("type = %v, want image/png", out["type"])
	}
	if gen.got.Prompt != "a lighthouse" || gen.got.Width != 64 || gen.got.Height != 32 || gen.got.Style != "sketch" {
		t.Fatalf("generate request = %+v", gen.got)
	}
	meta, err := store.Meta(out["artifactId"].(string))
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if meta.Category != "image" {
		t.Fatalf("category = %s, want image", meta.Category)
	}
}

func TestImageGenerationNoPrompt(t *testing.T) {
	ec := testContext(node("img", model.TypeImageGeneration, nil), nil)
	ec.Services = &Services{Images: &stubImages{}, Artifacts: artifact.NewMemory()}
	_, err := (&ImageGenerationExecutor{}).Execute(context.Background(), ec)
	if !fault.IsKind(err, fault.InvalidInput) {
		t.Fatalf("kind = %v, want InvalidInput", fault.KindOf(err))
	}
}

func TestLLMExecutor(t *testing.T) {
	chat := &stubChat{resp: llm.Response{
		Text:  "the answer",
		Model: "claude-sonnet-4-20250514",
		Usage: llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}}
	ec := testContext(node("llm", model.TypeLLM, map[string]any{
		"modelId":      "claude-sonnet-4-20250514",
		"systemPrompt": "be terse",
		"temperature":  float64(0.2),
		"maxTokens":    float64(128),
	}), "what is the answer?")
	ec.Services = &Services{LLM: chat}

	res, err := (&LLMExecutor{}).Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := res.Output.(map[string]any)
	if out["response"] != "the answer" || out["model"] != "claude-sonnet-4-20250514" {
		t.Fatalf("output = %v", out)
	}
	usage, ok := res.Meta["usage"].(llm.Usage)
	if !ok || usage.TotalTokens != 15 {
		t.Fatalf("usage = %v", res.Meta["usage"])
	}

	if chat.got.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("model = %q", chat.got.Model)
	}
	if chat.got.Temperature == nil || *chat.got.Temperature != 0.2 {
		t.Fatalf("temperature = %v", chat.got.Temperature)
	}
	if chat.got.MaxTokens != 128 {
		t.Fatalf("maxTokens = %d", chat.got.MaxTokens)
	}
	if len(chat.got.Messages) != 2 || chat.got.Messages[0].Role != llm.RoleSystem || chat.got.Messages[1].Content != "what is the answer?" {
		t.Fatalf("messages = %+v", chat.got.Messages)
	}
}

func TestLLMExecutorMessageListInput(t *testing.T) {
	chat := &stubChat{resp: llm.Response{Text: "ok"}}
	ec := testContext(node("llm", model.TypeLLM, nil), []any{
		map[string]any{"role": "user", "content": "first"},
		map[string]any{"role": "assistant", "content": "second"},
		map[string]any{"role": "user", "content": "third"},
	})
	ec.Services = &Services{LLM: chat}
	if _, err := (&LLMExecutor{}).Execute(context.Background(), ec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(chat.got.Messages) != 3 {
		t.Fatalf("messages = %+v", chat.got.Messages)
	}
	if chat.got.Messages[1].Role != llm.RoleAssistant || chat.got.Messages[1].Content != "second" {
		t.Fatalf("message[1] = %+v", chat.got.Messages[1])
	}
}

func TestWrapLLMErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: fault.Timeout},
		{name: "provider timeout", err: llm.NewRequestTimeoutError("anthropic", "request timed out"), want: fault.Timeout},
		{name: "auth", err: llm.ErrorFromHTTPStatus("anthropic", 401, "bad key", nil), want: fault.ServiceUnavailable},
		{name: "server", err: llm.ErrorFromHTTPStatus("openai", 500, "boom", nil), want: fault.ExternalError},
		{name: "rate limit", err: llm.ErrorFromHTTPStatus("openai", 429, "slow down", nil), want: fault.ExternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := fault.KindOf(wrapLLMErr(tc.err)); got != tc.want {
				t.Fatalf("kind = %v, want %v", got, tc.want)
			}
		})
	}
	if err := wrapLLMErr(context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation should pass through, got %v", err)
	}
}
