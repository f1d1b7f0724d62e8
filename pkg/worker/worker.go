package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyr/conveyr/pkg/web"
)

// JobHandler executes one job and returns its output variables. A returned
// error fails the job, consuming one retry.
type JobHandler func(ctx context.Context, job web.ActivatedJob) (map[string]any, error)

const (
	defaultPollTimeout   = 10 * time.Second
	defaultLeaseDuration = 30 * time.Second
	defaultMaxJobs       = 8
	transportBackoff     = time.Second
)

// Worker polls the gateway and dispatches jobs to handlers registered per
// task type. Handler resolution is an explicit registration table, not
// dynamic dispatch: an unregistered task type is never polled.
type Worker struct {
	client        *Client
	workerID      string
	logger        *slog.Logger
	handlers      map[string]JobHandler
	pollTimeout   time.Duration
	leaseDuration time.Duration
	maxJobs       int
}

func NewWorker(client *Client, workerID string, logger *slog.Logger) *Worker {
	return &Worker{
		client:        client,
		workerID:      workerID,
		logger:        logger,
		handlers:      make(map[string]JobHandler),
		pollTimeout:   defaultPollTimeout,
		leaseDuration: defaultLeaseDuration,
		maxJobs:       defaultMaxJobs,
	}
}

// RegisterHandler binds a task type to a handler. Each task type may have
// only one handler per worker.
func (w *Worker) RegisterHandler(taskType string, handler JobHandler) error {
	if _, exists := w.handlers[taskType]; exists {
		return fmt.Errorf("handler already registered for task type %q", taskType)
	}

	w.handlers[taskType] = handler

	return nil
}

// Run polls for every registered task type until the context is cancelled.
// Must be called after all handlers are registered.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for taskType := range w.handlers {
		wg.Add(1)

		go func(taskType string) {
			defer wg.Done()
			w.pollLoop(ctx, taskType)
		}(taskType)
	}

	wg.Wait()
}

func (w *Worker) pollLoop(ctx context.Context, taskType string) {
	logger := w.logger.With("task_type", taskType, "worker_id", w.workerID)
	logger.InfoContext(ctx, "Polling for jobs")

	for {
		if ctx.Err() != nil {
			return
		}

		jobs, err := w.client.ActivateJobs(ctx, web.ActivateJobsRequest{
			TaskType:        taskType,
			WorkerID:        w.workerID,
			MaxJobs:         w.maxJobs,
			TimeoutMs:       int(w.pollTimeout.Milliseconds()),
			LeaseDurationMs: int(w.leaseDuration.Milliseconds()),
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}

			logger.WarnContext(ctx, "Activation failed, backing off", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(transportBackoff):
			}

			continue
		}

		for _, job := range jobs {
			w.execute(ctx, logger, job)
		}
	}
}

func (w *Worker) execute(ctx context.Context, logger *slog.Logger, job web.ActivatedJob) {
	handler := w.handlers[job.TaskType]

	output, err := handler(ctx, job)
	if err != nil {
		logger.WarnContext(ctx, "Job handler failed",
			"job_key", job.JobKey, "retries_remaining", job.Retries-1, "error", err)

		failErr := w.client.FailJob(ctx, job.JobKey, w.workerID, job.Retries-1, err.Error())
		if failErr != nil {
			logger.WarnContext(ctx, "Failed to report job failure", "job_key", job.JobKey, "error", failErr)
		}

		return
	}

	err = w.client.CompleteJob(ctx, job.JobKey, w.workerID, output)
	if err != nil {
		// A lease that expired mid-execution means the job was reassigned;
		// the other worker's completion wins.
		logger.WarnContext(ctx, "Failed to complete job", "job_key", job.JobKey, "error", err)

		return
	}

	logger.InfoContext(ctx, "Completed job", "job_key", job.JobKey)
}
