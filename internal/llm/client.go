package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ProviderAdapter translates the neutral request to one provider's wire
// format. Adapters are registered once at startup and must be safe for
// concurrent use.
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// CompleteFunc is the handler signature middleware wraps.
type CompleteFunc func(ctx context.Context, req Request) (Response, error)

// Middleware wraps a completion handler. Registration order is outermost
// first: the first middleware added sees the request first.
type Middleware func(next CompleteFunc) CompleteFunc

type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	defaultModel    string
	middleware      []Middleware
}

func NewClient() *Client {
	return &Client{providers: map[string]ProviderAdapter{}}
}

// Register adds an adapter. The first registered adapter becomes the
// default provider.
func (c *Client) Register(adapter ProviderAdapter) {
	if c.providers == nil {
		c.providers = map[string]ProviderAdapter{}
	}
	c.providers[normalizeProviderName(adapter.Name())] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = normalizeProviderName(adapter.Name())
	}
}

func (c *Client) SetDefaultProvider(name string) {
	c.defaultProvider = normalizeProviderName(name)
}

// SetDefaultModel sets the model used when a request leaves Model empty.
func (c *Client) SetDefaultModel(model string) {
	c.defaultModel = strings.TrimSpace(model)
}

func (c *Client) ProviderNames() []string {
	if c == nil || len(c.providers) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.providers))
	for k := range c.providers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Use appends middleware. Request-phase order follows registration order.
func (c *Client) Use(mw ...Middleware) {
	if c == nil {
		return
	}
	c.middleware = append(c.middleware, mw...)
}

// Complete validates, resolves provider and model defaults, and dispatches
// through the middleware chain to the adapter.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(req.Model) == "" {
		req.Model = c.defaultModel
	}
	prov := normalizeProviderName(req.Provider)
	if prov == "" && req.Model != "" {
		prov = DefaultCatalog().ProviderFor(req.Model)
	}
	if prov == "" {
		prov = c.defaultProvider
	}
	if prov == "" {
		return Response{}, &ConfigurationError{Message: "no provider specified and no default provider configured"}
	}
	adapter, ok := c.providers[prov]
	if !ok {
		return Response{}, &ConfigurationError{Message: fmt.Sprintf("unknown provider: %s", prov)}
	}
	if strings.TrimSpace(req.Model) == "" {
		return Response{}, &ConfigurationError{Message: "no model specified and no default model configured"}
	}
	req.Provider = prov

	base := func(ctx context.Context, req Request) (Response, error) {
		return adapter.Complete(ctx, req)
	}
	handler := applyMiddleware(base, c.middleware)
	return handler(ctx, req)
}

func applyMiddleware(base CompleteFunc, mws []Middleware) CompleteFunc {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

var providerAliases = map[string]string{
	"claude":            "anthropic",
	"openai-compatible": "openai",
	"oai":               "openai",
}

func normalizeProviderName(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := providerAliases[k]; ok {
		return canonical
	}
	return k
}
