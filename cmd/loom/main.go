package main

import (
	"fmt"
	"io"
	"os"

	"github.com/iosans/loom/internal/flow/config"
	"github.com/iosans/loom/internal/flow/model"
	"github.com/iosans/loom/internal/flow/validate"
)

const (
	exitOK          = 0
	exitValidation  = 1
	exitRuntime     = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return exitValidation
	}
	switch args[0] {
	case "run":
		return cmdRun(args[1:], stdout, stderr)
	case "validate":
		return cmdValidate(args[1:], stdout, stderr)
	case "export":
		return cmdExport(args[1:], stdout, stderr)
	case "import":
		return cmdImport(args[1:], stdout, stderr)
	case "schedule":
		return cmdSchedule(args[1:], stdout, stderr)
	case "serve":
		return cmdServe(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		usage(stderr)
		return exitValidation
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  loom run [--config <file>] [--quiet] <workflow.json>")
	fmt.Fprintln(w, "  loom validate <workflow.json>")
	fmt.Fprintln(w, "  loom export [--dot] [--output <file>] [--config <file>]")
	fmt.Fprintln(w, "  loom import [--config <file>] <workflow.json>")
	fmt.Fprintln(w, "  loom schedule [--config <file>] <workflow.json>")
	fmt.Fprintln(w, "  loom serve [--addr <host:port>] [--config <file>]")
}

// loadConfig resolves the runtime configuration: defaults when no file is
// given, strict decode otherwise.
func loadConfig(path string, stderr io.Writer) (*config.Config, bool) {
	if path == "" {
		return config.Default(), true
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return nil, false
	}
	return cfg, true
}

func loadWorkflowFile(path string, stderr io.Writer) (*model.Workflow, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return nil, false
	}
	wf, err := model.Decode(b)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return nil, false
	}
	return wf, true
}

func printDiagnostics(w io.Writer, diags []validate.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintf(w, "%s: %s (%s)\n", d.Severity, d.Message, d.Rule)
	}
}

func hasErrors(diags []validate.Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == validate.SeverityError {
			return true
		}
	}
	return false
}
