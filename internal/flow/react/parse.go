package react

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Protocol anchors. The thought pattern consumes up to the next protocol
// line or the end of the reply; RE2 has no lookahead, so the terminator is
// part of the match and the capture group stops before it.
var (
	actionRe      = regexp.MustCompile(`(?m)^Action:\s*(.+)$`)
	actionInputRe = regexp.MustCompile(`(?m)^Action Input:\s*(.+)$`)
	finalAnswerRe = regexp.MustCompile(`(?m)^Final Answer:\s*([\s\S]+)`)
	thoughtRe     = regexp.MustCompile(`(?m)^Thought:\s*([\s\S]+?)(?:\n(?:Action|Final Answer)|\z)`)
)

func parseThought(reply string) string {
	m := thoughtRe.FindStringSubmatch(reply)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func parseAction(reply string) (string, bool) {
	m := actionRe.FindStringSubmatch(reply)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func parseFinalAnswer(reply string) (string, bool) {
	m := finalAnswerRe.FindStringSubmatch(reply)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// parseActionInput reads the arguments line as a strict JSON object.
// Anything else, including well-formed non-object JSON, is wrapped as
// {input: <raw>}. A missing line means no arguments.
func parseActionInput(reply string) map[string]any {
	m := actionInputRe.FindStringSubmatch(reply)
	if m == nil {
		return map[string]any{}
	}
	raw := strings.TrimSpace(m[1])
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err == nil && out != nil {
		return out
	}
	return map[string]any{"input": raw}
}

// FormatObservation renders a dispatch outcome for the scratchpad.
// Artifact-shaped results surface the id and type, errors keep their
// message, everything else is JSON.
func FormatObservation(result any, err error) string {
	if err != nil {
		return "Error: " + err.Error()
	}
	if m, ok := result.(map[string]any); ok {
		if id, ok := m["artifactId"].(string); ok && id != "" {
			typ, _ := m["type"].(string)
			return fmt.Sprintf("Success. Artifact created: %s (type: %s)", id, typ)
		}
	}
	b, encErr := json.Marshal(result)
	if encErr != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}
