// Package cron parses and evaluates 5-field cron expressions:
//
//	<minute> <hour> <dayOfMonth> <month> <dayOfWeek>
//
// with field ranges [0,59] [0,23] [1,31] [1,12] [0,6] (0=Sunday). A field is
// `*`, a literal, a range `a-b`, a step `*/n` or `a-b/n`, or a comma list of
// those. Evaluation is in the timestamp's location (process local time for
// the scheduler).
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type bounds struct {
	name string
	min  int
	max  int
}

var fieldBounds = [5]bounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"dayOfMonth", 1, 31},
	{"month", 1, 12},
	{"dayOfWeek", 0, 6},
}

// Schedule is a parsed expression: one allowed-value bitmask per field.
type Schedule struct {
	fields [5]uint64
}

// Parse compiles an expression, reporting the first grammar or range
// violation. Callers that only need a boolean use Matches.
func Parse(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(parts))
	}
	var s Schedule
	for i, part := range parts {
		mask, err := parseField(part, fieldBounds[i])
		if err != nil {
			return nil, err
		}
		s.fields[i] = mask
	}
	return &s, nil
}

// Matches reports whether t satisfies expr. Malformed expressions yield
// false; the matcher never panics (validation is the caller's concern).
func Matches(expr string, t time.Time) bool {
	s, err := Parse(expr)
	if err != nil {
		return false
	}
	return s.Matches(t)
}

// Matches reports whether every field of the schedule matches the
// corresponding component of t.
func (s *Schedule) Matches(t time.Time) bool {
	return s.has(0, t.Minute()) &&
		s.has(1, t.Hour()) &&
		s.has(2, t.Day()) &&
		s.has(3, int(t.Month())) &&
		s.has(4, int(t.Weekday()))
}

func (s *Schedule) has(field, v int) bool {
	return s.fields[field]&(1<<uint(v)) != 0
}

// parseField compiles one field into a bitmask of allowed values.
func parseField(field string, b bounds) (uint64, error) {
	var mask uint64
	for _, item := range strings.Split(field, ",") {
		m, err := parseItem(item, b)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

// parseItem handles one comma-separated element: `*`, `n`, `a-b`, `*/s`,
// `a-b/s`.
func parseItem(item string, b bounds) (uint64, error) {
	if item == "" {
		return 0, fmt.Errorf("cron: empty %s item", b.name)
	}
	rangePart := item
	step := 1
	if base, stepStr, ok := strings.Cut(item, "/"); ok {
		rangePart = base
		n, err := parseInt(stepStr, b.name+" step")
		if err != nil {
			return 0, err
		}
		if n <= 0 {
			return 0, fmt.Errorf("cron: %s step must be positive, got %d", b.name, n)
		}
		if rangePart != "*" && !strings.Contains(rangePart, "-") {
			return 0, fmt.Errorf("cron: %s step requires * or a-b base, got %q", b.name, item)
		}
		step = n
	}

	lo, hi := b.min, b.max
	switch {
	case rangePart == "*":
		// full range
	case strings.Contains(rangePart, "-"):
		aStr, bStr, _ := strings.Cut(rangePart, "-")
		a, err := parseInt(aStr, b.name)
		if err != nil {
			return 0, err
		}
		z, err := parseInt(bStr, b.name)
		if err != nil {
			return 0, err
		}
		if a > z {
			return 0, fmt.Errorf("cron: %s range %d-%d is reversed", b.name, a, z)
		}
		lo, hi = a, z
	default:
		n, err := parseInt(rangePart, b.name)
		if err != nil {
			return 0, err
		}
		lo, hi = n, n
	}
	if lo < b.min || hi > b.max {
		return 0, fmt.Errorf("cron: %s value out of range [%d,%d]: %q", b.name, b.min, b.max, item)
	}

	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= 1 << uint(v)
	}
	return mask, nil
}

func parseInt(s, what string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("cron: bad %s %q", what, s)
	}
	return n, nil
}
