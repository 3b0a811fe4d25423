package script

import (
	"reflect"
	"strings"
	"testing"
)

func TestEvalExpressions(t *testing.T) {
	env := map[string]any{
		"inputs": map[string]any{
			"timestamp": "2024-05-01T12:00:00Z",
			"count":     float64(3),
			"items":     []any{"a", "b", "c"},
			"flags":     map[string]any{"ready": true},
		},
	}

	cases := []struct {
		name string
		src  string
		want any
	}{
		{"ternary truthy", "return inputs.timestamp ? 'ok' : 'no'", "ok"},
		{"ternary falsy", "return inputs.missing ? 'ok' : 'no'", "no"},
		{"arithmetic", "return 2 + 3 * 4", float64(14)},
		{"string concat", "return 'n=' + inputs.count", "n=3"},
		{"concat number left", "return 1 + '2'", "12"},
		{"modulo", "return 7 % 3", float64(1)},
		{"comparison", "return inputs.count > 2", true},
		{"loose equals", "return inputs.count == '3'", true},
		{"strict equals", "return inputs.count === '3'", false},
		{"not equals", "return inputs.count != 4", true},
		{"and yields deciding operand", "return 0 && 'never'", float64(0)},
		{"or yields deciding operand", "return '' || 'fallback'", "fallback"},
		{"not", "return !inputs.flags.ready", false},
		{"unary minus", "return -inputs.count", float64(-3)},
		{"member access", "return inputs.flags.ready", true},
		{"index access", "return inputs.items[1]", "b"},
		{"index out of range", "return inputs.items[9]", nil},
		{"length property", "return inputs.items.length", float64(3)},
		{"string length", "return inputs.timestamp.length > 0", true},
		{"array literal", "return [1, 2][0]", float64(1)},
		{"object literal", "return {x: 1}.x", float64(1)},
		{"len builtin", "return len(inputs.items)", float64(3)},
		{"str builtin", "return str(42)", "42"},
		{"num builtin", "return num('3.5')", float64(3.5)},
		{"keys builtin", "return keys({b: 1, a: 2})", []any{"a", "b"}},
		{"nested ternary", "return inputs.count > 5 ? 'big' : inputs.count > 1 ? 'mid' : 'small'", "mid"},
		{"last statement value", "1 + 1\n'done'", "done"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Eval(c.src, env)
			if err != nil {
				t.Fatalf("Eval(%q): %v", c.src, err)
			}
			if !reflect.DeepEqual(got, c.want) {
				t.Fatalf("Eval(%q) = %#v, want %#v", c.src, got, c.want)
			}
		})
	}
}

func TestEvalOutputVariable(t *testing.T) {
	// An assigned `output` variable wins over the last statement value when
	// there is no explicit return.
	got, err := Eval("output = inputs.count * 2\n'ignored'", map[string]any{
		"inputs": map[string]any{"count": float64(4)},
	})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got != float64(8) {
		t.Fatalf("output = %v, want 8", got)
	}
}

func TestEvalReturnBeatsOutput(t *testing.T) {
	got, err := Eval("output = 1\nreturn 2\noutput = 3", nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got != float64(2) {
		t.Fatalf("got %v, want 2 (return short-circuits)", got)
	}
}

func TestEvalDeclarationKeywords(t *testing.T) {
	// var/let/const prefixes are tolerated and behave as plain assignment.
	for _, kw := range []string{"var", "let", "const"} {
		src := kw + " x = 5\nreturn x + 1"
		got, err := Eval(src, nil)
		if err != nil {
			t.Fatalf("Eval(%q): %v", src, err)
		}
		if got != float64(6) {
			t.Fatalf("Eval(%q) = %v, want 6", src, got)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"undefined variable", "return nothere", "undefined variable"},
		{"unknown function", "return eval('1')", "unknown function"},
		{"division by zero", "return 1 / 0", "division by zero"},
		{"member of null", "return inputs.a.b", "of null"},
		{"index null", "return inputs.a[0]", "cannot index null"},
		{"len arity", "return len()", "expects 1 argument"},
		{"keys of non-object", "return keys(1)", "keys of"},
		{"unterminated string", "return 'abc", ""},
		{"dangling operator", "return 1 +", ""},
	}
	env := map[string]any{"inputs": map[string]any{"a": nil}}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Eval(c.src, env)
			if err == nil {
				t.Fatalf("Eval(%q): expected error", c.src)
			}
			if c.want != "" && !strings.Contains(err.Error(), c.want) {
				t.Fatalf("Eval(%q) error = %q, want substring %q", c.src, err, c.want)
			}
		})
	}
}

func TestRunDoesNotMutateEnv(t *testing.T) {
	prog, err := Compile("inputs = 'clobbered'\nreturn inputs")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	env := map[string]any{"inputs": "original"}
	got, err := prog.Run(env)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "clobbered" {
		t.Fatalf("got %v, want clobbered", got)
	}
	if env["inputs"] != "original" {
		t.Fatalf("caller env mutated: %v", env["inputs"])
	}
}

func TestCompileDepthLimit(t *testing.T) {
	src := "return " + strings.Repeat("(", 300) + "1" + strings.Repeat(")", 300)
	if _, err := Compile(src); err == nil {
		t.Fatal("expected depth limit error")
	}
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, false},
		{"false", false, false},
		{"zero", float64(0), false},
		{"empty string", "", false},
		{"nonzero", float64(1), true},
		{"string", "x", true},
		{"empty array", []any{}, true},
		{"empty object", map[string]any{}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Truthy(c.v); got != c.want {
				t.Fatalf("Truthy(%#v) = %v, want %v", c.v, got, c.want)
			}
		})
	}
}
