package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iosans/loom/internal/llm"
)

func TestCompleteRequestAndResponse(t *testing.T) {
	var got struct {
		Model     string           `json:"model"`
		MaxTokens int              `json:"max_tokens"`
		System    string           `json:"system"`
		Messages  []map[string]any `json:"messages"`
		Temp      *float64         `json:"temperature"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_01",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	a := NewAdapter(Config{APIKey: "sk-test", BaseURL: srv.URL})
	temp := 0.2
	resp, err := a.Complete(context.Background(), llm.Request{
		Model:       "claude-sonnet-4-20250514",
		Messages:    []llm.Message{llm.System("be brief"), llm.User("hi")},
		Temperature: &temp,
	})
	if err != nil {
		t.Fatal(err)
	}

	if got.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("sent model = %q", got.Model)
	}
	if got.MaxTokens != 4096 {
		t.Fatalf("default max_tokens = %d", got.MaxTokens)
	}
	if got.System != "be brief" {
		t.Fatalf("system = %q", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0]["role"] != "user" {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if got.Temp == nil || *got.Temp != 0.2 {
		t.Fatalf("temperature = %v", got.Temp)
	}

	if resp.Text != "Hello there" {
		t.Fatalf("text = %q", resp.Text)
	}
	if resp.Finish != "stop" {
		t.Fatalf("finish = %q", resp.Finish)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
	if resp.Provider != "anthropic" || resp.ID != "msg_01" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCompleteErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "rate limited"}}`))
	}))
	defer srv.Close()

	a := NewAdapter(Config{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := a.Complete(context.Background(), llm.Request{
		Model:    "claude-3-5-haiku",
		Messages: []llm.Message{llm.User("hi")},
	})
	var rle *llm.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("got %T: %v", err, err)
	}
	if !rle.Retryable() {
		t.Fatal("429 must be retryable")
	}
	if ra := rle.RetryAfter(); ra == nil || ra.Seconds() != 2 {
		t.Fatalf("retry-after = %v", ra)
	}
}

func TestCompleteAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid x-api-key"}}`))
	}))
	defer srv.Close()

	a := NewAdapter(Config{APIKey: "bad", BaseURL: srv.URL})
	_, err := a.Complete(context.Background(), llm.Request{
		Model:    "claude-3-5-haiku",
		Messages: []llm.Message{llm.User("hi")},
	})
	if !llm.IsAuthenticationError(err) {
		t.Fatalf("got %v", err)
	}
}

func TestMaxTokensOverride(t *testing.T) {
	var maxTokens int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MaxTokens int `json:"max_tokens"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		maxTokens = body.MaxTokens
		w.Write([]byte(`{"content": [{"type": "text", "text": "ok"}], "stop_reason": "end_turn", "usage": {}}`))
	}))
	defer srv.Close()

	a := NewAdapter(Config{APIKey: "k", BaseURL: srv.URL})
	if _, err := a.Complete(context.Background(), llm.Request{
		Model:     "claude-3-5-haiku",
		Messages:  []llm.Message{llm.User("hi")},
		MaxTokens: 64,
	}); err != nil {
		t.Fatal(err)
	}
	if maxTokens != 64 {
		t.Fatalf("max_tokens = %d", maxTokens)
	}
}
