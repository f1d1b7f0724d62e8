// Package main provides the Conveyr client CLI: deploy definitions, start
// and cancel instances, and query instance status over the broker API.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "conveyr",
		Usage:                 "Manage processes on a Conveyr broker",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "broker-url",
				Usage:   "Base URL of the Conveyr broker",
				Value:   "http://localhost:9190",
				Sources: cli.EnvVars("BROKER_URL"),
			},
		},
		Commands: []*cli.Command{
			DeployCommand(),
			StartCommand(),
			StatusCommand(),
			CancelCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		os.Exit(1)
	}
}
