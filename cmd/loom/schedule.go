package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/model"
	"github.com/iosans/loom/internal/flow/sched"
	"github.com/iosans/loom/internal/flow/validate"
)

// cmdSchedule runs the cron loop over a workflow file until interrupted.
// Every match starts a fresh run of the whole workflow.
func cmdSchedule(args []string, stdout, stderr io.Writer) int {
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
				fmt.Fprintln(stderr, "schedule takes a single workflow file")
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

	enabled := 0
	for _, n := range wf.Nodes {
		if n.Type == model.TypeScheduleTrigger && n.DataBool("enabled") {
			enabled++
		}
	}
	if enabled == 0 {
		fmt.Fprintln(stderr, "workflow has no enabled scheduleTrigger nodes")
		return exitValidation
	}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	sch := &sched.Scheduler{
		Workflow: func() *model.Workflow { return wf },
		Fire: func(wf *model.Workflow, trigger *model.Node) {
			fmt.Fprintf(stderr, "fired %s (%s)\n", trigger.ID, trigger.DataString("cronExpression"))
			wg.Add(1)
			go func() {
				defer wg.Done()
				run, err := eng.Run(ctx, wf)
				if run == nil {
					fmt.Fprintf(stderr, "run failed: %s\n", fault.Message(err))
					return
				}
				rep := run.Snapshot()
				fmt.Fprintf(stdout, "run_id=%s ok=%t\n", rep.RunID, rep.OK)
				if err != nil && ctx.Err() == nil {
					fmt.Fprintf(stderr, "run %s: %s\n", rep.RunID, fault.Message(err))
				}
			}()
		},
		Tick: time.Duration(cfg.Scheduler.TickMS) * time.Millisecond,
	}

	fmt.Fprintf(stderr, "scheduling %d trigger(s) from %s\n", enabled, workflowPath)
	_ = sch.Run(ctx)
	wg.Wait()
	fmt.Fprintln(stderr, "interrupted")
	return exitInterrupted
}
