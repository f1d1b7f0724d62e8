package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/conveyr/conveyr/pkg/web"
)

// DeployCommand uploads a process definition document to the broker.
func DeployCommand() *cli.Command {
	return &cli.Command{
		Name:      "deploy",
		Usage:     "Deploy a process definition from a JSON file",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("missing definition file argument")
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read definition file: %w", err)
			}

			client := newAPIClient(command.String("broker-url"))

			var deployed web.DeployResponse

			err = client.postRaw(ctx, "/definitions", raw, &deployed)
			if err != nil {
				return err
			}

			fmt.Printf("Deployed %s version %d\n", deployed.ID, deployed.Version)

			return nil
		},
	}
}

// StartCommand creates a new instance of a deployed process.
func StartCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a new instance of a deployed process",
		ArgsUsage: "<process-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "variables",
				Usage: "Initial variables as a JSON object",
				Value: "{}",
			},
			&cli.IntFlag{
				Name:  "version",
				Usage: "Definition version to run (0 means latest)",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			processID := command.Args().First()
			if processID == "" {
				return fmt.Errorf("missing process id argument")
			}

			var variables map[string]any

			err := json.Unmarshal([]byte(command.String("variables")), &variables)
			if err != nil {
				return fmt.Errorf("invalid --variables JSON: %w", err)
			}

			client := newAPIClient(command.String("broker-url"))

			var created web.CreateInstanceResponse

			err = client.post(ctx, "/instances", web.CreateInstanceRequest{
				ProcessID: processID,
				Version:   int(command.Int("version")),
				Variables: variables,
			}, &created)
			if err != nil {
				return err
			}

			fmt.Println(created.InstanceKey)

			return nil
		},
	}
}

// StatusCommand prints the current state of a process instance.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the current state of a process instance",
		ArgsUsage: "<instance-key>",
		Action: func(ctx context.Context, command *cli.Command) error {
			key := command.Args().First()
			if key == "" {
				return fmt.Errorf("missing instance key argument")
			}

			client := newAPIClient(command.String("broker-url"))

			var status web.InstanceStatusResponse

			err := client.get(ctx, "/instances/"+key, &status)
			if err != nil {
				return err
			}

			pretty, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}

			fmt.Println(string(pretty))

			return nil
		},
	}
}

// CancelCommand terminates a running process instance.
func CancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a running process instance",
		ArgsUsage: "<instance-key>",
		Action: func(ctx context.Context, command *cli.Command) error {
			key := command.Args().First()
			if key == "" {
				return fmt.Errorf("missing instance key argument")
			}

			client := newAPIClient(command.String("broker-url"))

			err := client.delete(ctx, "/instances/"+key, nil)
			if err != nil {
				return err
			}

			fmt.Printf("Cancelled %s\n", key)

			return nil
		},
	}
}
