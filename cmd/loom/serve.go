package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/iosans/loom/internal/flow/engine"
	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/model"
	"github.com/iosans/loom/internal/flow/sched"
	"github.com/iosans/loom/internal/flow/store"
	"github.com/iosans/loom/internal/server"
)

// cmdServe runs the HTTP API plus the cron loop over the stored workflow.
// Documents updated over PUT /api/workflow pick up new schedule triggers
// without a restart.
func cmdServe(args []string, stdout, stderr io.Writer) int {
	var configPath string
	var addr string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--addr requires a value")
				return exitValidation
			}
			addr = args[i]
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--config requires a value")
				return exitValidation
			}
			configPath = args[i]
		default:
			fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
			return exitValidation
		}
	}

	cfg, ok := loadConfig(configPath, stderr)
	if !ok {
		return exitValidation
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	svcs, cleanup, err := buildServices(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitRuntime
	}
	defer cleanup()

	eng := engine.New(svcs,
		engine.WithMaxParallel(cfg.Engine.MaxParallel),
		engine.WithRunsDir(cfg.Paths.Runs),
	)

	st := store.New()
	if err := st.LoadFrom(cfg.Paths.Store); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(stderr, fault.Message(err))
			return exitRuntime
		}
		fmt.Fprintf(stderr, "no stored workflow at %s, starting empty\n", cfg.Paths.Store)
	}

	srv := server.New(eng, st, svcs.Artifacts, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sch := &sched.Scheduler{
		Workflow: st.Workflow,
		Fire: func(wf *model.Workflow, trigger *model.Node) {
			if _, err := srv.StartRun(wf); err != nil {
				fmt.Fprintf(stderr, "scheduled run: %s\n", fault.Message(err))
			}
		},
		Tick: time.Duration(cfg.Scheduler.TickMS) * time.Millisecond,
	}
	go func() { _ = sch.Run(ctx) }()

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitRuntime
	}
	return exitOK
}
