package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/store"
	"github.com/iosans/loom/internal/flow/validate"
)

// cmdImport validates a workflow document and persists it as the stored
// workflow.
func cmdImport(args []string, stdout, stderr io.Writer) int {
	var configPath string
	var workflowPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--config requires a value")
				return exitValidation
			}
			configPath = args[i]
		default:
			if strings.HasPrefix(args[i], "-") {
				fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
				return exitValidation
			}
			if workflowPath != "" {
				fmt.Fprintln(stderr, "import takes a single workflow file")
				return exitValidation
			}
			workflowPath = args[i]
		}
	}
	if workflowPath == "" {
		usage(stderr)
		return exitValidation
	}

	wf, ok := loadWorkflowFile(workflowPath, stderr)
	if !ok {
		return exitValidation
	}
	diags := validate.Validate(wf)
	if hasErrors(diags) {
		printDiagnostics(stderr, diags)
		return exitValidation
	}
	printDiagnostics(stderr, diags)

	cfg, ok := loadConfig(configPath, stderr)
	if !ok {
		return exitValidation
	}

	st := store.New()
	if err := st.LoadWorkflow(wf); err != nil {
		fmt.Fprintln(stderr, fault.Message(err))
		return exitValidation
	}
	if err := st.SaveTo(cfg.Paths.Store); err != nil {
		fmt.Fprintln(stderr, fault.Message(err))
		return exitRuntime
	}

	fmt.Fprintf(stdout, "stored=%s\n", cfg.Paths.Store)
	fmt.Fprintf(stdout, "nodes=%d\n", len(wf.Nodes))
	fmt.Fprintf(stdout, "edges=%d\n", len(wf.Edges))
	return exitOK
}
