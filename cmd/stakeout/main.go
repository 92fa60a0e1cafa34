// Package main provides the stakeout CLI entrypoint.
//
// The same binary runs every pipeline role: worker and scheduler are the
// long-running processes, serve exposes the REST API, and the remaining
// commands are read-only operator tools.
//
// Usage:
//
//	stakeout <command> [subcommand] [options]
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/stakeout/cli/cmd"
	"github.com/justapithecus/stakeout/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "stakeout",
		Usage:          "Botnet tracking pipeline CLI",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Flags: []cli.Flag{
			cmd.ConfigFlag,
		},
		Commands: []*cli.Command{
			cmd.WorkerCommand(),
			cmd.SchedulerCommand(),
			cmd.ServeCommand(),
			cmd.FetchCommand(),
			cmd.StatusCommand(),
			cmd.ListCommand(),
			cmd.InspectCommand(),
			cmd.ProxiesCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from
// cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	// Check for ExitCoder (from cli.Exit), handles wrapped errors
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// Only print if there's a real message (not just "exit status N")
		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	// Unexpected error - print and exit with code 1
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
