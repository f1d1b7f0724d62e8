package web

import (
	"errors"

	"github.com/conveyr/conveyr/pkg/definition"
	"github.com/conveyr/conveyr/pkg/jobqueue"
	"github.com/conveyr/conveyr/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("engine_unavailable").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps the orchestration error taxonomy onto problem
// responses: InvalidDefinition -> 422, NotFound -> 404, LeaseExpired and
// InstanceCancelled -> 409, anything else -> 500 (EngineUnavailable).
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, definition.ErrInvalidDefinition):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("invalid_definition").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case persistence.IsDefinitionNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("definition_not_found").
			WithDetail("definition not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsInstanceNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("instance_not_found").
			WithDetail("instance not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsJobNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("job_not_found").
			WithDetail("job not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case errors.Is(err, jobqueue.ErrLeaseExpired):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("lease_expired").
			WithDetail("lease expired or job leased to another worker")

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, jobqueue.ErrInstanceCancelled):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("instance_cancelled").
			WithDetail("owning instance was cancelled")

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		return internalError(c, err)
	}
}
