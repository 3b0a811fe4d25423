package llm

import (
	"sort"
	"strings"
)

// ModelInfo is normalized model metadata. The catalog routes bare model ids
// to providers and supplies output-token ceilings; it is never a call path.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     int      `json:"max_output_tokens"`
	Aliases       []string `json:"aliases,omitempty"`
}

type Catalog struct {
	Models []ModelInfo
	byID   map[string]ModelInfo
}

// builtinModels covers the ids the executors name out of the box. Unknown
// ids still work; they just need an explicit provider.
var builtinModels = []ModelInfo{
	{ID: "claude-opus-4-1", Provider: "anthropic", ContextWindow: 200000, MaxOutput: 32000},
	{ID: "claude-sonnet-4-20250514", Provider: "anthropic", ContextWindow: 200000, MaxOutput: 64000, Aliases: []string{"claude-sonnet-4"}},
	{ID: "claude-3-5-haiku-20241022", Provider: "anthropic", ContextWindow: 200000, MaxOutput: 8192, Aliases: []string{"claude-3-5-haiku"}},
	{ID: "gpt-4o", Provider: "openai", ContextWindow: 128000, MaxOutput: 16384},
	{ID: "gpt-4o-mini", Provider: "openai", ContextWindow: 128000, MaxOutput: 16384},
	{ID: "o3-mini", Provider: "openai", ContextWindow: 200000, MaxOutput: 100000},
}

var defaultCatalog = NewCatalog(builtinModels)

func DefaultCatalog() *Catalog { return defaultCatalog }

func NewCatalog(models []ModelInfo) *Catalog {
	c := &Catalog{Models: append([]ModelInfo{}, models...)}
	c.buildIndex()
	return c
}

func (c *Catalog) buildIndex() {
	by := make(map[string]ModelInfo, len(c.Models))
	for _, m := range c.Models {
		if _, exists := by[m.ID]; !exists {
			by[m.ID] = m
		}
		for _, a := range m.Aliases {
			if _, exists := by[a]; !exists {
				by[a] = m
			}
		}
	}
	c.byID = by
}

// Lookup resolves a model id or alias. Nil when unknown.
func (c *Catalog) Lookup(modelID string) *ModelInfo {
	if c == nil {
		return nil
	}
	if mi, ok := c.byID[strings.TrimSpace(modelID)]; ok {
		out := mi
		return &out
	}
	return nil
}

// ProviderFor routes a model id to its provider: catalog entry first, id
// prefix heuristic second, "" when neither matches.
func (c *Catalog) ProviderFor(modelID string) string {
	if mi := c.Lookup(modelID); mi != nil {
		return mi.Provider
	}
	id := strings.ToLower(strings.TrimSpace(modelID))
	switch {
	case strings.HasPrefix(id, "claude"):
		return "anthropic"
	case strings.HasPrefix(id, "gpt"), strings.HasPrefix(id, "o1"),
		strings.HasPrefix(id, "o3"), strings.HasPrefix(id, "o4"):
		return "openai"
	}
	return ""
}

func (c *Catalog) ListModels(provider string) []ModelInfo {
	if c == nil {
		return nil
	}
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		return append([]ModelInfo{}, c.Models...)
	}
	var out []ModelInfo
	for _, m := range c.Models {
		if strings.ToLower(m.Provider) == p {
			out = append(out, m)
		}
	}
	return out
}

// Latest picks the largest-context model for a provider, lexical id
// descending as the tie-break.
func (c *Catalog) Latest(provider string) *ModelInfo {
	models := c.ListModels(provider)
	if len(models) == 0 {
		return nil
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].ContextWindow != models[j].ContextWindow {
			return models[i].ContextWindow > models[j].ContextWindow
		}
		return models[i].ID > models[j].ID
	})
	out := models[0]
	return &out
}
