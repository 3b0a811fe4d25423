package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/iosans/loom/internal/flow/validate"
)

func cmdValidate(args []string, stdout, stderr io.Writer) int {
	var workflowPath string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
			return exitValidation
		}
		if workflowPath != "" {
			fmt.Fprintln(stderr, "validate takes a single workflow file")
			return exitValidation
		}
		workflowPath = args[i]
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
	fmt.Fprintf(stdout, "ok: %s\n", filepath.Base(workflowPath))
	printDiagnostics(stdout, diags)
	return exitOK
}
