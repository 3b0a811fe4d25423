package model

import (
	"fmt"
	"io"
	"strings"
)

// WriteDOT renders the workflow as a Graphviz digraph for documentation and
// debugging. Node shape encodes the type family; edge labels carry handles.
func WriteDOT(w io.Writer, wf *Workflow, name string) error {
	if strings.TrimSpace(name) == "" {
		name = "workflow"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", dotQuote(name))
	b.WriteString("  rankdir=LR;\n")
	for _, n := range wf.Nodes {
		fmt.Fprintf(&b, "  %s [label=%s, shape=%s];\n",
			dotQuote(n.ID), dotQuote(n.ID+"\n"+n.Type), dotShape(n.Type))
	}
	for _, e := range wf.Edges {
		label := edgeLabel(e)
		if label == "" {
			fmt.Fprintf(&b, "  %s -> %s;\n", dotQuote(e.Source), dotQuote(e.Target))
			continue
		}
		fmt.Fprintf(&b, "  %s -> %s [label=%s];\n",
			dotQuote(e.Source), dotQuote(e.Target), dotQuote(label))
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func edgeLabel(e *Edge) string {
	switch {
	case e.SourceHandle != "" && e.TargetHandle != "":
		return e.SourceHandle + " -> " + e.TargetHandle
	case e.SourceHandle != "":
		return e.SourceHandle
	case e.TargetHandle != "":
		return e.TargetHandle
	}
	return ""
}

func dotShape(nodeType string) string {
	switch nodeType {
	case TypeStart, TypeManualTrigger, TypeScheduleTrigger:
		return "circle"
	case TypeEnd, TypeOutput:
		return "doublecircle"
	case TypeIfElse, TypeSwitch:
		return "diamond"
	case TypeMerge:
		return "invtriangle"
	default:
		return "box"
	}
}

func dotQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\\':
			// Preserve escapes already present (the label writer emits \n).
			b.WriteByte('\\')
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
