// Package pyrun executes python snippets in a subprocess. The harness binds
// the node's gathered inputs, evaluates the snippet as an expression first
// and falls back to wrapping it in a function body (so both `inputs['x']*2`
// and `return inputs['x']*2` work), and reports the JSON-encoded result on
// the final stdout line. Cancellation kills the whole process group.
package pyrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/iosans/loom/internal/procutil"
)

const killGrace = 500 * time.Millisecond

// harness is the python side of the contract: payload on stdin, result as
// the last stdout line. It exits 0 for snippet errors too; the ok flag
// distinguishes them from interpreter failures.
const harness = `
import json, keyword, sys

def _jsonable(v):
    try:
        json.dumps(v)
        return v
    except (TypeError, ValueError):
        return repr(v)

def _run():
    payload = json.load(sys.stdin)
    code = payload.get("code") or ""
    inputs = payload.get("inputs") or {}
    env = {"inputs": inputs}
    for k, v in inputs.items():
        if isinstance(k, str) and k.isidentifier() and not keyword.iskeyword(k):
            env.setdefault(k, v)
    try:
        result = eval(compile(code, "<node>", "eval"), env)
    except SyntaxError:
        lines = ["def _loom_fn():"]
        for ln in code.splitlines() or [""]:
            lines.append("    " + ln)
        exec(compile("\n".join(lines), "<node>", "exec"), env)
        result = env["_loom_fn"]()
    return result

try:
    _result = _run()
    print(json.dumps({"ok": True, "result": _jsonable(_result)}))
except BaseException as e:
    print(json.dumps({"ok": False, "error": "%s: %s" % (type(e).__name__, e)}))
`

// Runner invokes one interpreter per call. Safe for concurrent use.
type Runner struct {
	Binary  string
	Timeout time.Duration
}

func New(binary string, timeout time.Duration) *Runner {
	if strings.TrimSpace(binary) == "" {
		binary = "python3"
	}
	return &Runner{Binary: binary, Timeout: timeout}
}

type payload struct {
	Code   string         `json:"code"`
	Inputs map[string]any `json:"inputs"`
}

type result struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result"`
	Error  string `json:"error"`
}

// Run executes code with inputs bound and returns the decoded result.
func (r *Runner) Run(ctx context.Context, code string, inputs map[string]any) (any, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("python: empty code")
	}
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	in, err := json.Marshal(payload{Code: code, Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("python: encode inputs: %w", err)
	}

	cmd := exec.Command(r.Binary, "-c", harness)
	procutil.SetGroup(cmd)
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("python: start %s: %w", r.Binary, err)
	}
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		if err := procutil.Terminate(cmd, waitCh, killGrace); err != nil {
			return nil, fmt.Errorf("python: %v (after %w)", err, runCtx.Err())
		}
		return nil, fmt.Errorf("python: %w", runCtx.Err())
	case err := <-waitCh:
		if err != nil {
			return nil, fmt.Errorf("python: %w: %s", err, tail(stderr.String()))
		}
	}

	line := lastNonEmptyLine(stdout.String())
	if line == "" {
		return nil, fmt.Errorf("python: no result on stdout: %s", tail(stderr.String()))
	}
	var res result
	if err := json.Unmarshal([]byte(line), &res); err != nil {
		return nil, fmt.Errorf("python: malformed result %q: %v", line, err)
	}
	if !res.OK {
		return nil, fmt.Errorf("python: %s", res.Error)
	}
	return res.Result, nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
