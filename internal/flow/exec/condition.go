package exec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// evalCondition applies one ifElse comparison between an input value and
// the configured constant. Equality is loose (numbers compare numerically,
// everything else by string coercion); contains is substring on string
// coercions; greaterThan/lessThan require both sides numeric; regex
// compiles want as the pattern. Errors describe the operand problem, the
// caller decides whether they fail the node.
func evalCondition(op string, got, want any) (bool, error) {
	switch op {
	case "equals":
		return looseEquals(got, want), nil
	case "notEquals":
		return !looseEquals(got, want), nil
	case "contains":
		return strings.Contains(Stringify(got), Stringify(want)), nil
	case "greaterThan", "lessThan":
		a, aok := toNumber(got)
		b, bok := toNumber(want)
		if !aok || !bok {
			return false, fmt.Errorf("%s needs numeric operands, got %v and %v", op, got, want)
		}
		if op == "greaterThan" {
			return a > b, nil
		}
		return a < b, nil
	case "regex":
		re, err := regexp.Compile(Stringify(want))
		if err != nil {
			return false, fmt.Errorf("bad pattern %q: %v", Stringify(want), err)
		}
		return re.MatchString(Stringify(got)), nil
	case "":
		return false, fmt.Errorf("missing operator")
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// looseEquals compares numerically when both sides coerce to numbers,
// boolean when both are bools, otherwise by string coercion.
func looseEquals(a, b any) bool {
	if na, aok := toNumber(a); aok {
		if nb, bok := toNumber(b); bok {
			return na == nb
		}
	}
	if ba, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ba == bb
		}
	}
	return Stringify(a) == Stringify(b)
}

// toNumber coerces JSON-shaped values to float64. Bools count as 0/1,
// numeric strings parse, everything else refuses.
func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
