// Package react implements the agent tool-calling protocol: tool discovery
// over resource edges, the prompt the model sees, the Thought / Action /
// Observation / Final Answer wire format, and the bounded loop that drives
// it. The package knows nothing about executors; the caller supplies a
// completion function and a dispatcher.
package react

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/iosans/loom/internal/flow/model"
)

// Tool is one capability advertised to the model. NodeID is empty for
// builtins that dispatch without a workflow node.
type Tool struct {
	Name        string
	NodeID      string
	Type        string
	Description string
	Schema      *Schema
}

// Property is one named parameter of a tool. An empty Type accepts any
// JSON value.
type Property struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Schema is the advertised parameter set of a tool. Arguments are checked
// against it before dispatch so bad calls come back as observations the
// model can correct.
type Schema struct {
	Properties []Property

	once       sync.Once
	compiled   *jsonschema.Schema
	compileErr error
}

func (s *Schema) document() ([]byte, error) {
	props := make(map[string]any, len(s.Properties))
	var required []string
	for _, p := range s.Properties {
		spec := map[string]any{}
		if p.Type != "" {
			spec["type"] = p.Type
		}
		if p.Description != "" {
			spec["description"] = p.Description
		}
		props[p.Name] = spec
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

// Validate checks args against the schema. Compilation happens once per
// schema and is cached.
func (s *Schema) Validate(args map[string]any) error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		raw, err := s.document()
		if err != nil {
			s.compileErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
			s.compileErr = err
			return
		}
		s.compiled, s.compileErr = c.Compile("schema.json")
	})
	if s.compileErr != nil {
		return s.compileErr
	}
	if args == nil {
		args = map[string]any{}
	}
	return s.compiled.Validate(map[string]any(args))
}

var toolSchemas = map[string]*Schema{
	model.TypeImageGeneration: {Properties: []Property{
		{Name: "prompt", Type: "string", Description: "Image description to render", Required: true},
		{Name: "style", Type: "string", Description: "Optional rendering style"},
	}},
	model.TypePython: {Properties: []Property{
		{Name: "inputs", Type: "object", Description: "Variables bound for the snippet"},
	}},
	model.TypeHTTPRequest: {Properties: []Property{
		{Name: "body", Type: "object", Description: "Request body to send"},
		{Name: "queryParams", Type: "object", Description: "Query parameters appended to the url"},
	}},
	model.TypeTextToSpeech: {Properties: []Property{
		{Name: "text", Type: "string", Description: "Text to speak", Required: true},
		{Name: "voice", Type: "string", Description: "Optional voice name"},
	}},
	model.TypeLLM: {Properties: []Property{
		{Name: "prompt", Type: "string", Description: "Prompt for the model", Required: true},
	}},
	model.TypeCodeExecutor: {Properties: []Property{
		{Name: "inputs", Type: "object", Description: "Variables bound for the code"},
	}},
	model.TypeTransform: {Properties: []Property{
		{Name: "input", Description: "Value to transform"},
	}},
}

var defaultSchema = &Schema{Properties: []Property{
	{Name: "input", Description: "Tool input"},
}}

// SchemaFor returns the advertised parameter schema for a node type.
// Unlisted types share a single free-form input parameter.
func SchemaFor(nodeType string) *Schema {
	if s, ok := toolSchemas[nodeType]; ok {
		return s
	}
	return defaultSchema
}

// ToolName derives the wire name the model must use to call a node.
func ToolName(nodeType, nodeID string) string {
	return nodeType + "_" + strings.ReplaceAll(nodeID, "-", "_")
}

// DiscoverTools collects the tools wired to an agent: sources of edges
// targeting the agent on a resource handle, in edge declaration order.
func DiscoverTools(wf *model.Workflow, agentID string) []Tool {
	if wf == nil {
		return nil
	}
	var tools []Tool
	seen := map[string]bool{}
	for _, e := range wf.Edges {
		if e.Target != agentID || !model.IsResourceEdge(e) {
			continue
		}
		if e.Source == agentID || seen[e.Source] {
			continue
		}
		n := wf.Node(e.Source)
		if n == nil {
			continue
		}
		seen[e.Source] = true
		tools = append(tools, Tool{
			Name:        ToolName(n.Type, n.ID),
			NodeID:      n.ID,
			Type:        n.Type,
			Description: toolDescription(n),
			Schema:      SchemaFor(n.Type),
		})
	}
	return tools
}

func toolDescription(n *model.Node) string {
	if d := n.DataString("description"); d != "" {
		return d
	}
	if l := n.DataString("label"); l != "" {
		return l
	}
	return fmt.Sprintf("Invoke the %s node %q.", n.Type, n.ID)
}

// BuiltinPython is the tool offered when the deployment has an interpreter
// but the workflow wires no python node: code and inputs both come from
// the model.
func BuiltinPython() Tool {
	return Tool{
		Name:        "python",
		Type:        model.TypePython,
		Description: "Run a Python snippet and return its result.",
		Schema: &Schema{Properties: []Property{
			{Name: "code", Type: "string", Description: "Python source to run", Required: true},
			{Name: "inputs", Type: "object", Description: "Variables bound for the snippet"},
		}},
	}
}
