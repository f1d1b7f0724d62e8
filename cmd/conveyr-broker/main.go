package main

import (
	"context"
	"os"
	"time"

	"github.com/conveyr/conveyr/pkg/cmd"
	"github.com/conveyr/conveyr/pkg/log"
	"github.com/conveyr/conveyr/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9190

func main() {
	logger := log.WithModule("broker")

	command := &cli.Command{
		Name:                  "conveyr-broker",
		Usage:                 "Run the Conveyr orchestration broker",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the broker API on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (file://path or postgres://...)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (memory, kafka)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "lease-reconcile-interval",
				Usage:   "How often expired job leases are reverted",
				Value:   time.Second,
				Sources: cli.EnvVars("LEASE_RECONCILE_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("TRACING_ENABLED"),
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

			logger.InfoContext(ctx, "Initializing Conveyr broker")

			if command.Bool("tracing") {
				_, err := otelhelper.NewTracer(ctx, "conveyr-broker")
				if err != nil {
					return err
				}
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			broker, err := NewBroker(
				logger,
				persistence,
				eventBus,
				command.Duration("lease-reconcile-interval"),
			)
			if err != nil {
				return err
			}

			err = broker.Start(ctx, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Broker stopped", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
