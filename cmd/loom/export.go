package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/iosans/loom/internal/flow/fault"
	"github.com/iosans/loom/internal/flow/model"
	"github.com/iosans/loom/internal/flow/store"
)

// cmdExport writes the stored workflow to stdout or a file, as the
// canonical JSON document or as a Graphviz digraph with --dot.
func cmdExport(args []string, stdout, stderr io.Writer) int {
	var configPath string
	var outputPath string
	var dot bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dot":
			dot = true
		case "--output":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--output requires a value")
				return exitValidation
			}
			outputPath = args[i]
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

	st := store.New()
	if err := st.LoadFrom(cfg.Paths.Store); err != nil {
		fmt.Fprintln(stderr, fault.Message(err))
		return exitRuntime
	}
	wf := st.Workflow()

	var buf bytes.Buffer
	if dot {
		if err := model.WriteDOT(&buf, wf, "workflow"); err != nil {
			fmt.Fprintln(stderr, err)
			return exitRuntime
		}
	} else {
		b, err := model.Encode(wf)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitRuntime
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	if outputPath == "" {
		if _, err := stdout.Write(buf.Bytes()); err != nil {
			fmt.Fprintln(stderr, err)
			return exitRuntime
		}
		return exitOK
	}
	if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintln(stderr, err)
		return exitRuntime
	}
	fmt.Fprintf(stdout, "exported=%s\n", outputPath)
	return exitOK
}
