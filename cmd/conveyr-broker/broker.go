// Package main provides the Conveyr broker: the orchestration engine and
// its client and worker HTTP protocols in one process.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/conveyr/conveyr/pkg/definition"
	"github.com/conveyr/conveyr/pkg/engine"
	"github.com/conveyr/conveyr/pkg/eventbus"
	"github.com/conveyr/conveyr/pkg/jobqueue"
	"github.com/conveyr/conveyr/pkg/persistence"
	"github.com/conveyr/conveyr/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type Broker struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	definitions *definition.Store
	queue       *jobqueue.Queue
	engine      *engine.Engine
	reconciler  *jobqueue.Reconciler
	validate    *validator.Validate
}

func NewBroker(
	log *slog.Logger,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	reconcileInterval time.Duration,
) (*Broker, error) {
	definitions, err := definition.NewStore(p.DefinitionRepository(), log)
	if err != nil {
		return nil, err
	}

	queue := jobqueue.NewQueue(p.JobRepository(), eventBus, log)
	processEngine := engine.New(definitions, p.InstanceRepository(), queue, eventBus, log)
	queue.SetListener(processEngine)

	return &Broker{
		logger:      log,
		persistence: p,
		eventBus:    eventBus,
		definitions: definitions,
		queue:       queue,
		engine:      processEngine,
		reconciler:  jobqueue.NewReconciler(queue, reconcileInterval, log),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (b *Broker) App() *fiber.App {
	handlers := web.NewAPIHandlers(b.definitions, b.engine, b.queue, b.validate, b.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Conveyr broker")
	})

	d := app.Group("/definitions")
	d.Post("/", handlers.DeployDefinition)
	d.Get("/:id", handlers.GetDefinition)

	i := app.Group("/instances")
	i.Post("/", handlers.CreateInstance)
	i.Get("/:key", handlers.GetInstanceStatus)
	i.Delete("/:key", handlers.CancelInstance)

	j := app.Group("/jobs")
	j.Post("/activate", handlers.ActivateJobs)
	j.Post("/:key/complete", handlers.CompleteJob)
	j.Post("/:key/fail", handlers.FailJob)

	app.Get("/health", func(c fiber.Ctx) error {
		err := b.persistence.HealthCheck(c.Context())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}

		return c.JSON(fiber.Map{"status": "healthy"})
	})

	return app
}

// Start runs the lease reconciler and serves the HTTP API until the listener
// fails or the context is cancelled.
func (b *Broker) Start(ctx context.Context, port int) error {
	go b.reconciler.Run(ctx)

	return b.App().Listen(":" + strconv.Itoa(port))
}
