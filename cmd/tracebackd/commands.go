package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the tracing backbone daemon (collector, store, snapshots, streaming)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDaemon(ctx, cmd)
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the daemon version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Println(cmd.Root().Version)
			return nil
		},
	}
}

func configCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "configuration utilities",
		Commands: []*cli.Command{
			{
				Name:  "check",
				Usage: "load and validate the configuration cascade without starting the daemon",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return newDaemonError(exitConfigInvalid, "configuration invalid: %v", err)
					}
					fmt.Printf("configuration OK: storage=%s streaming_port=%d sampling_rate=%v\n",
						cfg.StoragePath, cfg.Streaming.Port, cfg.SamplingRate)
					return nil
				},
			},
		},
	}
}
