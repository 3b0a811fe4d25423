// Package fault defines the error taxonomy shared by the workflow engine,
// its executors, and the surrounding services. Every failure that crosses a
// component boundary is tagged with a Kind so callers can branch on the class
// of failure without string matching.
package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure. The set is closed; new kinds require a
// corresponding propagation policy in the engine.
type Kind string

const (
	InvalidInput       Kind = "InvalidInput"
	UnknownType        Kind = "UnknownType"
	ValidationFailed   Kind = "ValidationFailed"
	Cancelled          Kind = "Cancelled"
	Timeout            Kind = "Timeout"
	ServiceUnavailable Kind = "ServiceUnavailable"
	ExternalError      Kind = "ExternalError"
	StorageFailure     Kind = "StorageFailure"
	MaxIterations      Kind = "MaxIterations"
	CycleDetected      Kind = "CycleDetected"
	NoEntry            Kind = "NoEntry"
)

// Error is a kind-tagged failure, optionally scoped to a node.
type Error struct {
	Kind    Kind
	NodeID  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "failed"
	}
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.NodeID, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a fault of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind. A nil err yields nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// At scopes an error to a node id, preserving its kind. Errors that are not
// faults are classified first.
func At(nodeID string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.NodeID == nodeID {
			return err
		}
		return &Error{Kind: fe.Kind, NodeID: nodeID, Message: fe.Message, Err: fe.Err}
	}
	return &Error{Kind: KindOf(err), NodeID: nodeID, Err: err}
}

// KindOf reports the kind of err. Context cancellation and deadline errors
// classify as Cancelled and Timeout even when untagged; everything else
// untagged is ExternalError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}
	return ExternalError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// IsCancelled reports whether err is a cancellation, tagged or raw.
func IsCancelled(err error) bool { return KindOf(err) == Cancelled }

// Message extracts the human-readable message without the kind prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		if m := strings.TrimSpace(fe.Message); m != "" {
			return m
		}
		if fe.Err != nil {
			return fe.Err.Error()
		}
		return "failed"
	}
	return err.Error()
}
