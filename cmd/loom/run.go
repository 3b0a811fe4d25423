package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/state"
	"github.com/iosans/loom/internal/flow/validate"
)

func cmdRun(args []string, stdout, stderr io.Writer) int {
	var configPath string
	var workflowPath string
	var quiet bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--config requires a value")
				return exitValidation
			}
			configPath = args[i]
		case "--quiet":
			quiet = true
		default:
			if strings.HasPrefix(args[i], "-") {
				fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
				return exitValidation
			}
			if workflowPath != "" {
				fmt.Fprintln(stderr, "run takes a single workflow file")
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
	eng, cleanup, err := buildEngine(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitRuntime
	}
	defer cleanup()

	x, err := eng.Prepare(wf)
	if err != nil {
		fmt.Fprintln(stderr, fault.Message(err))
		return exitValidation
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !quiet {
		unsub := x.State().Subscribe(func(ev state.Event) { printRunEvent(stderr, ev) })
		defer unsub()
	}

	runErr := x.Execute(ctx)

	rep := x.State().Snapshot()
	fmt.Fprintf(stdout, "run_id=%s\n", rep.RunID)
	fmt.Fprintf(stdout, "report=%s\n", filepath.Join(cfg.Paths.Runs, rep.RunID, "run.json"))
	if rep.OK {
		fmt.Fprintln(stdout, "status=success")
		return exitOK
	}
	fmt.Fprintln(stdout, "status=error")
	if ctx.Err() != nil {
		fmt.Fprintln(stderr, "interrupted")
		return exitInterrupted
	}
	if runErr != nil {
		fmt.Fprintln(stderr, fault.Message(runErr))
	}
	return exitRuntime
}

// printRunEvent renders run events for the terminal. Only the action log
// and the pause lifecycle are printed; node status flips already show up
// as log entries.
func printRunEvent(w io.Writer, ev state.Event) {
	switch ev["event"] {
	case "log":
		if node, _ := ev["node_id"].(string); node != "" {
			fmt.Fprintf(w, "[%s] %s: %s\n", ev["level"], node, ev["message"])
			return
		}
		fmt.Fprintf(w, "[%s] %s\n", ev["level"], ev["message"])
	case "run_paused":
		fmt.Fprintln(w, "run paused")
	case "run_resumed":
		fmt.Fprintln(w, "run resumed")
	}
}
