// Package llm is the chat-completion client shared by the llm executor and
// the agent loop. One request type covers every provider; adapters translate
// it to the provider wire format and normalize the response back. Errors
// carry HTTP status classification so the retry middleware can decide
// without string matching.
package llm

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(text string) Message    { return Message{Role: RoleSystem, Content: text} }
func User(text string) Message      { return Message{Role: RoleUser, Content: text} }
func Assistant(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// Request is a provider-neutral completion request. Provider and Model may
// be empty; the client fills them from its defaults before dispatch.
type Request struct {
	Provider    string
	Model       string
	Messages    []Message
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return &ConfigurationError{Message: "request has no messages"}
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return &ConfigurationError{Message: fmt.Sprintf("message %d has invalid role %q", i, m.Role)}
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return &ConfigurationError{Message: "temperature must be in [0,2]"}
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return &ConfigurationError{Message: "top_p must be in [0,1]"}
	}
	if r.MaxTokens < 0 {
		return &ConfigurationError{Message: "max_tokens must be >= 0"}
	}
	return nil
}

// SplitSystem separates system text from the chat turns. Providers that
// carry the system prompt out of band use this.
func SplitSystem(msgs []Message) (system string, rest []Message) {
	var sys []string
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if strings.TrimSpace(m.Content) != "" {
				sys = append(sys, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage across calls (the agent loop sums per-iteration
// usage into the node result).
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

// Response is the normalized completion. Text is the concatenated assistant
// text; Finish is the normalized stop reason (stop, max_tokens, filter, or
// the provider raw value lowercased).
type Response struct {
	ID       string `json:"id,omitempty"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Text     string `json:"text"`
	Finish   string `json:"finish"`
	Usage    Usage  `json:"usage"`
}

