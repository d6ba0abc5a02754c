// Command tracebackd wires the seven trace-backbone components (C1-C7)
// into a single long-running process: collector, persistent store,
// snapshot manager, state reconstructor, and streaming server, fronted
// by a urfave/cli/v3 CLI the way NVIDIA/cloud-native-stack's cnsctl
// structures its subcommands (the teacher's own cmd/gasoline-cmd is a
// hand-rolled flag parser with no subcommand tree to generalize from —
// this is new process-entry surface grounded on the rest of the pack,
// per SPEC_FULL.md's Ambient Stack "CLI" note).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// Exit codes per §6 "Process exit codes".
const (
	exitClean            = 0
	exitUncaughtStartup  = 1
	exitConfigInvalid    = 2
	exitStorageInitFailed = 3
	exitStreamingPortInUse = 4
)

func main() {
	cmd := &cli.Command{
		Name:                  "tracebackd",
		Usage:                 "distributed-agent tracing backbone daemon",
		Version:               "1.0.0",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "storage-path",
				Usage: "sqlite database path",
			},
			&cli.IntFlag{
				Name:  "streaming-port",
				Usage: "streaming server listen port",
			},
			&cli.Float64Flag{
				Name:  "sampling-rate",
				Usage: "base sampling rate before adaptive control (0..1)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "address the /metrics endpoint listens on",
			},
			&cli.BoolFlag{
				Name:  "auth-enabled",
				Usage: "require streaming clients to authenticate",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "use the development logging encoder",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			versionCommand(),
			configCheckCommand(),
		},
		// Bare invocation behaves like `tracebackd run`.
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDaemon(ctx, cmd)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var exitErr *daemonError
		if asDaemonError(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.msg)
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUncaughtStartup)
	}
}

// daemonError pairs an error message with the §6 process exit code it
// should surface as, so main can os.Exit with the right code without
// every call site duplicating os.Exit logic.
type daemonError struct {
	code int
	msg  string
	err  error
}

func (e *daemonError) Error() string { return e.msg }
func (e *daemonError) Unwrap() error { return e.err }

func newDaemonError(code int, format string, args ...any) *daemonError {
	msg := fmt.Sprintf(format, args...)
	return &daemonError{code: code, msg: msg}
}

func asDaemonError(err error, target **daemonError) bool {
	for err != nil {
		if de, ok := err.(*daemonError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
