package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind and message", New(InvalidInput, "missing %s", "url"), "[InvalidInput] missing url"},
		{"node scoped", &Error{Kind: Timeout, NodeID: "n1", Message: "deadline"}, "[Timeout] n1: deadline"},
		{"wrapped only", &Error{Kind: StorageFailure, Err: errors.New("disk full")}, "[StorageFailure] disk full"},
		{"empty", &Error{Kind: ExternalError}, "[ExternalError] failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("Error()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"tagged", New(NoEntry, "empty graph"), NoEntry},
		{"wrapped tag", fmt.Errorf("run: %w", New(CycleDetected, "loop")), CycleDetected},
		{"context canceled", context.Canceled, Cancelled},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), Timeout},
		{"plain", errors.New("boom"), ExternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf(%v)=%q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapPreservesExistingKind(t *testing.T) {
	orig := New(Timeout, "slow")
	wrapped := Wrap(Timeout, orig)
	if wrapped != orig {
		t.Fatalf("Wrap re-wrapped an error that already carried the kind")
	}
	if Wrap(Timeout, nil) != nil {
		t.Fatalf("Wrap(nil) != nil")
	}
	other := Wrap(StorageFailure, errors.New("io"))
	if KindOf(other) != StorageFailure {
		t.Fatalf("KindOf(wrapped)=%q, want StorageFailure", KindOf(other))
	}
}

func TestAt(t *testing.T) {
	err := At("node-7", New(InvalidInput, "no text"))
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("At result is not a fault")
	}
	if fe.NodeID != "node-7" || fe.Kind != InvalidInput {
		t.Fatalf("At: got kind=%q node=%q", fe.Kind, fe.NodeID)
	}
	// Raw cancellation gets classified on the way in.
	err = At("node-8", context.Canceled)
	if KindOf(err) != Cancelled {
		t.Fatalf("At(context.Canceled): kind=%q, want Cancelled", KindOf(err))
	}
	if At("n", nil) != nil {
		t.Fatalf("At(nil) != nil")
	}
}

func TestMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"fault message", New(ExternalError, "HTTP 503: Service Unavailable"), "HTTP 503: Service Unavailable"},
		{"fault wrapping", &Error{Kind: StorageFailure, Err: errors.New("disk full")}, "disk full"},
		{"plain", errors.New("boom"), "boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Message(tc.err); got != tc.want {
				t.Fatalf("Message()=%q, want %q", got, tc.want)
			}
		})
	}
}
