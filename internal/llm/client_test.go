package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeAdapter struct {
	name  string
	calls int
	reply func(req Request) (Response, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Complete(_ context.Context, req Request) (Response, error) {
	f.calls++
	if f.reply != nil {
		return f.reply(req)
	}
	return Response{Provider: f.name, Model: req.Model, Text: "ok", Finish: "stop"}, nil
}

func TestClientDispatch(t *testing.T) {
	ant := &fakeAdapter{name: "anthropic"}
	oai := &fakeAdapter{name: "openai"}
	c := NewClient()
	c.Register(ant)
	c.Register(oai)
	c.SetDefaultModel("claude-sonnet-4-20250514")

	cases := []struct {
		name     string
		req      Request
		wantProv *fakeAdapter
	}{
		{
			name:     "explicit provider",
			req:      Request{Provider: "openai", Model: "gpt-4o", Messages: []Message{User("hi")}},
			wantProv: oai,
		},
		{
			name:     "provider alias",
			req:      Request{Provider: "Claude", Model: "claude-3-5-haiku", Messages: []Message{User("hi")}},
			wantProv: ant,
		},
		{
			name:     "routed by model id",
			req:      Request{Model: "gpt-4o-mini", Messages: []Message{User("hi")}},
			wantProv: oai,
		},
		{
			name:     "default provider and model",
			req:      Request{Messages: []Message{User("hi")}},
			wantProv: ant,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := tc.wantProv.calls
			if _, err := c.Complete(context.Background(), tc.req); err != nil {
				t.Fatal(err)
			}
			if tc.wantProv.calls != before+1 {
				t.Fatalf("adapter %s not called", tc.wantProv.name)
			}
		})
	}
}

func TestClientRejections(t *testing.T) {
	c := NewClient()
	var cfgErr *ConfigurationError

	_, err := c.Complete(context.Background(), Request{Messages: []Message{User("hi")}, Model: "m"})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("no providers: got %v", err)
	}

	c.Register(&fakeAdapter{name: "anthropic"})
	_, err = c.Complete(context.Background(), Request{Provider: "mistral", Model: "m", Messages: []Message{User("hi")}})
	if !errors.As(err, &cfgErr) || !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("unknown provider: got %v", err)
	}

	_, err = c.Complete(context.Background(), Request{Provider: "anthropic", Messages: []Message{User("hi")}})
	if !errors.As(err, &cfgErr) || !strings.Contains(err.Error(), "no model") {
		t.Fatalf("missing model: got %v", err)
	}

	_, err = c.Complete(context.Background(), Request{Provider: "anthropic", Model: "m"})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("empty messages: got %v", err)
	}
}

func TestRequestValidate(t *testing.T) {
	bad := func(v float64) *float64 { return &v }
	cases := []struct {
		name string
		req  Request
	}{
		{"no messages", Request{}},
		{"bad role", Request{Messages: []Message{{Role: "tool", Content: "x"}}}},
		{"temperature range", Request{Messages: []Message{User("x")}, Temperature: bad(3)}},
		{"top_p range", Request{Messages: []Message{User("x")}, TopP: bad(1.5)}},
		{"negative max tokens", Request{Messages: []Message{User("x")}, MaxTokens: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.req.Validate() == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	ok := Request{Messages: []Message{System("s"), User("u"), Assistant("a")}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mk := func(tag string) Middleware {
		return func(next CompleteFunc) CompleteFunc {
			return func(ctx context.Context, req Request) (Response, error) {
				order = append(order, tag+"-in")
				resp, err := next(ctx, req)
				order = append(order, tag+"-out")
				return resp, err
			}
		}
	}
	c := NewClient()
	c.Register(&fakeAdapter{name: "anthropic"})
	c.Use(mk("a"), mk("b"))
	if _, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{User("x")}}); err != nil {
		t.Fatal(err)
	}
	want := []string{"a-in", "b-in", "b-out", "a-out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSplitSystem(t *testing.T) {
	sys, rest := SplitSystem([]Message{
		System("first"),
		User("q"),
		System("second"),
		Assistant("a"),
	})
	if sys != "first\n\nsecond" {
		t.Fatalf("system = %q", sys)
	}
	if len(rest) != 2 || rest[0].Role != RoleUser || rest[1].Role != RoleAssistant {
		t.Fatalf("rest = %+v", rest)
	}
}
