// Package web provides the HTTP handlers for the client and worker protocols.
package web

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/conveyr/conveyr/pkg/definition"
	"github.com/conveyr/conveyr/pkg/engine"
	"github.com/conveyr/conveyr/pkg/jobqueue"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	definitions *definition.Store
	engine      *engine.Engine
	queue       *jobqueue.Queue
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	definitions *definition.Store,
	processEngine *engine.Engine,
	queue *jobqueue.Queue,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		definitions: definitions,
		engine:      processEngine,
		queue:       queue,
		validator:   validator,
		logger:      logger,
	}
}

// DeployDefinition accepts a raw definition document and stores it as the
// next version of its process id.
func (h *APIHandlers) DeployDefinition(c fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "Request body is required")
	}

	def, err := h.definitions.Deploy(c.Context(), body)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(DeployResponse{
		ID:      def.ID,
		Version: def.Version,
	})
}

// GetDefinition resolves a definition by id and optional version query
// parameter; absent or zero version resolves to latest.
func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	version := 0

	if versionStr := c.Query("version"); versionStr != "" {
		parsed, err := strconv.Atoi(versionStr)
		if err != nil {
			return badRequest(c, "Invalid version: "+versionStr)
		}

		version = parsed
	}

	def, err := h.definitions.Resolve(c.Context(), id, version)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(def)
}

// CreateInstance starts one execution of a deployed process.
func (h *APIHandlers) CreateInstance(c fiber.Ctx) error {
	var req CreateInstanceRequest

	err := json.Unmarshal(c.Body(), &req)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	err = h.validator.Struct(req)
	if err != nil {
		return badRequest(c, "Validation failed: "+err.Error())
	}

	instance, err := h.engine.CreateInstance(c.Context(), req.ProcessID, req.Version, req.Variables)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(CreateInstanceResponse{
		InstanceKey: instance.Key,
	})
}

// GetInstanceStatus returns the latest committed state of an instance.
func (h *APIHandlers) GetInstanceStatus(c fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return badRequest(c, "Instance key is required")
	}

	instance, err := h.engine.InstanceStatus(c.Context(), key)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(InstanceStatusResponse{
		InstanceKey:   instance.Key,
		ProcessID:     instance.DefinitionID,
		Version:       instance.Version,
		Status:        instance.Status,
		Variables:     instance.Variables,
		FailureReason: instance.FailureReason,
	})
}

// CancelInstance terminates an active instance and cancels its jobs.
func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return badRequest(c, "Instance key is required")
	}

	err := h.engine.CancelInstance(c.Context(), key)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ActivateJobs long-polls for jobs of a task type and leases them to the
// calling worker. Returns an empty list on timeout; honors client
// disconnect through the request context.
func (h *APIHandlers) ActivateJobs(c fiber.Ctx) error {
	var req ActivateJobsRequest

	err := json.Unmarshal(c.Body(), &req)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	err = h.validator.Struct(req)
	if err != nil {
		return badRequest(c, "Validation failed: "+err.Error())
	}

	maxJobs := req.MaxJobs
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobs
	}

	if maxJobs > MaxJobsPerActivation {
		maxJobs = MaxJobsPerActivation
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout > MaxActivationTimeout {
		timeout = MaxActivationTimeout
	}

	leaseDuration := time.Duration(req.LeaseDurationMs) * time.Millisecond
	if leaseDuration <= 0 {
		leaseDuration = DefaultLeaseDuration
	}

	jobs, err := h.queue.Poll(c.Context(), jobqueue.PollRequest{
		TaskType:      req.TaskType,
		MaxJobs:       maxJobs,
		LeaseDuration: leaseDuration,
		Timeout:       timeout,
		WorkerID:      req.WorkerID,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	activated := make([]ActivatedJob, 0, len(jobs))
	for _, job := range jobs {
		activated = append(activated, ActivatedJob{
			JobKey:       job.Key,
			InstanceKey:  job.InstanceKey,
			TaskType:     job.TaskType,
			Retries:      job.Retries,
			Variables:    job.Variables,
			LeaseExpires: *job.LeaseExpires,
		})
	}

	return c.JSON(ActivateJobsResponse{Jobs: activated})
}

// CompleteJob reports successful execution of a leased job.
func (h *APIHandlers) CompleteJob(c fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return badRequest(c, "Job key is required")
	}

	var req CompleteJobRequest

	err := json.Unmarshal(c.Body(), &req)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	err = h.validator.Struct(req)
	if err != nil {
		return badRequest(c, "Validation failed: "+err.Error())
	}

	err = h.queue.Complete(c.Context(), key, req.WorkerID, req.Variables)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// FailJob reports a business-logic failure of a leased job.
func (h *APIHandlers) FailJob(c fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return badRequest(c, "Job key is required")
	}

	var req FailJobRequest

	err := json.Unmarshal(c.Body(), &req)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	err = h.validator.Struct(req)
	if err != nil {
		return badRequest(c, "Validation failed: "+err.Error())
	}

	err = h.queue.Fail(c.Context(), key, req.WorkerID, req.Retries, req.ErrorMessage)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
