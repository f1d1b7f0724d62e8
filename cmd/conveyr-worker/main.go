// Package main provides a demo Conveyr worker that charges credit cards:
// it registers a handler for the "charge-credit-card" task type and echoes
// the charged amount back into the instance's variables.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/conveyr/conveyr/pkg/log"
	"github.com/conveyr/conveyr/pkg/web"
	"github.com/conveyr/conveyr/pkg/worker"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("worker")

	command := &cli.Command{
		Name:                  "conveyr-worker",
		Usage:                 "Run the credit card charging worker",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "broker-url",
				Usage:   "Base URL of the Conveyr broker",
				Value:   "http://localhost:9190",
				Sources: cli.EnvVars("BROKER_URL"),
			},
			&cli.StringFlag{
				Name:    "worker-id",
				Usage:   "Identity this worker holds its job leases under",
				Value:   "charge-worker-1",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			client := worker.NewClient(command.String("broker-url"), nil)
			w := worker.NewWorker(client, command.String("worker-id"), logger)

			err := w.RegisterHandler("charge-credit-card", chargeCreditCard(logger))
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Starting worker", "broker_url", command.String("broker-url"))
			w.Run(ctx)

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

// chargeCreditCard simulates charging a credit card: it reads the total from
// the job's variables and reports the same amount as charged.
func chargeCreditCard(logger *slog.Logger) worker.JobHandler {
	return func(ctx context.Context, job web.ActivatedJob) (map[string]any, error) {
		total, ok := job.Variables["total"].(float64)
		if !ok {
			return nil, fmt.Errorf("job %s has no numeric total variable", job.JobKey)
		}

		logger.InfoContext(ctx, "Charging credit card", "total", total)

		return map[string]any{"amountCharged": total}, nil
	}
}
