package script

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Run evaluates the program against env. env is copied, so caller bindings
// are never mutated. The result is, in order of preference: the value of an
// explicit `return`, the final value of the `output` variable if assigned,
// or the value of the last statement.
func (p *Program) Run(env map[string]any) (any, error) {
	vars := make(map[string]any, len(env)+2)
	for k, v := range env {
		vars[k] = v
	}
	var last any
	outputSet := false
	for _, s := range p.stmts {
		var val any
		var err error
		if s.x != nil {
			val, err = eval(s.x, vars)
			if err != nil {
				return nil, err
			}
		}
		switch {
		case s.ret:
			return val, nil
		case s.assign != "":
			vars[s.assign] = val
			if s.assign == "output" {
				outputSet = true
			}
		default:
			last = val
		}
	}
	if outputSet {
		return vars["output"], nil
	}
	return last, nil
}

// Eval is the one-shot helper: compile and run.
func Eval(src string, env map[string]any) (any, error) {
	prog, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return prog.Run(env)
}

func eval(x expr, vars map[string]any) (any, error) {
	switch e := x.(type) {
	case literalExpr:
		return e.value, nil
	case identExpr:
		v, ok := vars[e.name]
		if !ok {
			return nil, fmt.Errorf("script: undefined variable %q", e.name)
		}
		return v, nil
	case unaryExpr:
		v, err := eval(e.x, vars)
		if err != nil {
			return nil, err
		}
		switch e.op {
		case "!":
			return !Truthy(v), nil
		case "-":
			return -toNumber(v), nil
		case "+":
			return toNumber(v), nil
		}
		return nil, fmt.Errorf("script: unknown unary %q", e.op)
	case binaryExpr:
		return evalBinary(e, vars)
	case ternaryExpr:
		cond, err := eval(e.cond, vars)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return eval(e.then, vars)
		}
		return eval(e.els, vars)
	case memberExpr:
		v, err := eval(e.x, vars)
		if err != nil {
			return nil, err
		}
		return member(v, e.name)
	case indexExpr:
		v, err := eval(e.x, vars)
		if err != nil {
			return nil, err
		}
		idx, err := eval(e.idx, vars)
		if err != nil {
			return nil, err
		}
		return index(v, idx)
	case callExpr:
		return evalCall(e, vars)
	case arrayExpr:
		out := make([]any, 0, len(e.elems))
		for _, el := range e.elems {
			v, err := eval(el, vars)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case objectExpr:
		out := make(map[string]any, len(e.keys))
		for i, k := range e.keys {
			v, err := eval(e.values[i], vars)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("script: unhandled expression %T", x)
}

func evalBinary(e binaryExpr, vars map[string]any) (any, error) {
	// && and || short-circuit and yield the deciding operand's value.
	if e.op == "&&" || e.op == "||" {
		left, err := eval(e.x, vars)
		if err != nil {
			return nil, err
		}
		if e.op == "&&" && !Truthy(left) {
			return left, nil
		}
		if e.op == "||" && Truthy(left) {
			return left, nil
		}
		return eval(e.y, vars)
	}

	left, err := eval(e.x, vars)
	if err != nil {
		return nil, err
	}
	right, err := eval(e.y, vars)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case "+":
		if ls, ok := left.(string); ok {
			return ls + ToString(right), nil
		}
		if rs, ok := right.(string); ok {
			return ToString(left) + rs, nil
		}
		return toNumber(left) + toNumber(right), nil
	case "-":
		return toNumber(left) - toNumber(right), nil
	case "*":
		return toNumber(left) * toNumber(right), nil
	case "/":
		d := toNumber(right)
		if d == 0 {
			return nil, fmt.Errorf("script: division by zero")
		}
		return toNumber(left) / d, nil
	case "%":
		d := toNumber(right)
		if d == 0 {
			return nil, fmt.Errorf("script: division by zero")
		}
		return math.Mod(toNumber(left), d), nil
	case "==":
		return looseEquals(left, right), nil
	case "!=":
		return !looseEquals(left, right), nil
	case "===":
		return strictEquals(left, right), nil
	case "!==":
		return !strictEquals(left, right), nil
	case "<", ">", "<=", ">=":
		return compare(e.op, left, right), nil
	}
	return nil, fmt.Errorf("script: unknown operator %q", e.op)
}

func evalCall(e callExpr, vars map[string]any) (any, error) {
	args := make([]any, 0, len(e.args))
	for _, a := range e.args {
		v, err := eval(a, vars)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	arity := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("script: %s expects %d argument(s), got %d", e.fn, n, len(args))
		}
		return nil
	}
	switch e.fn {
	case "len":
		if err := arity(1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		case nil:
			return float64(0), nil
		}
		return nil, fmt.Errorf("script: len of %T", args[0])
	case "str":
		if err := arity(1); err != nil {
			return nil, err
		}
		return ToString(args[0]), nil
	case "num":
		if err := arity(1); err != nil {
			return nil, err
		}
		return toNumber(args[0]), nil
	case "keys":
		if err := arity(1); err != nil {
			return nil, err
		}
		m, ok := args[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("script: keys of %T", args[0])
		}
		out := make([]any, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].(string) < out[j].(string) })
		return out, nil
	}
	return nil, fmt.Errorf("script: unknown function %q", e.fn)
}

func member(v any, name string) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return t[name], nil
	case string:
		if name == "length" {
			return float64(len(t)), nil
		}
	case []any:
		if name == "length" {
			return float64(len(t)), nil
		}
	case nil:
		return nil, fmt.Errorf("script: cannot read property %q of null", name)
	}
	return nil, fmt.Errorf("script: cannot read property %q of %T", name, v)
}

func index(v, idx any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return t[ToString(idx)], nil
	case []any:
		i := int(toNumber(idx))
		if i < 0 || i >= len(t) {
			return nil, nil
		}
		return t[i], nil
	case string:
		i := int(toNumber(idx))
		if i < 0 || i >= len(t) {
			return nil, nil
		}
		return string(t[i]), nil
	case nil:
		return nil, fmt.Errorf("script: cannot index null")
	}
	return nil, fmt.Errorf("script: cannot index %T", v)
}

// Truthy follows the editor language's rules: null, false, zero, NaN, and
// the empty string are falsy; every other value, including empty arrays and
// objects, is truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

func toNumber(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if t {
			return 1
		}
		return 0
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// ToString renders a value the way the editor language prints it.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return formatNumber(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func looseEquals(a, b any) bool {
	if strictEquals(a, b) {
		return true
	}
	// Numeric coercion when one side is a number and the other a numeric
	// string or bool.
	an, aIsNum := numericValue(a)
	bn, bIsNum := numericValue(b)
	if aIsNum && bIsNum {
		return an == bn
	}
	return false
}

func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64, int, int64, bool:
		return toNumber(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func strictEquals(a, b any) bool {
	switch at := a.(type) {
	case nil:
		return b == nil
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case float64, int, int64:
		switch b.(type) {
		case float64, int, int64:
			return toNumber(a) == toNumber(b)
		}
		return false
	}
	return false
}

func compare(op string, a, b any) bool {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch op {
			case "<":
				return as < bs
			case ">":
				return as > bs
			case "<=":
				return as <= bs
			case ">=":
				return as >= bs
			}
		}
	}
	an, bn := toNumber(a), toNumber(b)
	if math.IsNaN(an) || math.IsNaN(bn) {
		return false
	}
	switch op {
	case "<":
		return an < bn
	case ">":
		return an > bn
	case "<=":
		return an <= bn
	case ">=":
		return an >= bn
	}
	return false
}
