// Package main provides the imitatoes CLI entrypoint.
//
// Usage:
//
//	imitatoes <command> [subcommand] [options]
//
// Exit codes for `run`:
//   - 0: done, or budget exhausted
//   - 1: backend, storage or configuration error (and cancellation)
//   - 2: a generation job did not complete before the poll timeout
//   - 3: a completed job produced no image
//   - 4: the critique held no JSON object
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/imitatoes/cli/cmd"
	"github.com/pithecene-io/imitatoes/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "imitatoes",
		Usage:          "Generate with ComfyUI, critique with a vision model, evolve the prompt",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.InspectCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler has already exited for anything it recognized.
		os.Exit(1)
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(reportExit(os.Stderr, err))
}

// reportExit prints err unless it carries no message and returns the
// process exit code. cli.Exit codes pass through, anything else is 1.
func reportExit(w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		// cli.Exit("", N) reports "exit status N".
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}
