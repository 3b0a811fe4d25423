package model

import "strings"

// Edge handles carry routing and wiring conventions:
//
//   - ifElse sources emit on "<nodeId>-true" / "<nodeId>-false"
//   - switch sources emit on "<nodeId>-case-<match>"
//   - agent resource slots are target handles containing "resource";
//     those edges wire tools to an agent and never carry dataflow

// TrueHandle is the ifElse source handle for the true branch.
func TrueHandle(nodeID string) string { return nodeID + "-true" }

// FalseHandle is the ifElse source handle for the false branch.
func FalseHandle(nodeID string) string { return nodeID + "-false" }

// CaseHandle is the switch source handle for a matched case. The default
// branch uses the literal match "default".
func CaseHandle(nodeID, match string) string { return nodeID + "-case-" + match }

// IsResourceHandle reports whether a target handle names a resource slot.
func IsResourceHandle(handle string) bool {
	return strings.Contains(strings.ToLower(handle), "resource")
}

// IsResourceEdge reports whether e wires a resource (tool) into its target
// rather than carrying dataflow.
func IsResourceEdge(e *Edge) bool {
	return e != nil && IsResourceHandle(e.TargetHandle)
}
