// Package jobqueue implements the job queue and lease manager: it buffers
// activated service tasks as jobs, leases them exclusively to polling
// workers for a bounded time, and recovers expired leases.
package jobqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyr/conveyr/pkg/eventbus"
	"github.com/conveyr/conveyr/pkg/events"
	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/persistence"
)

var (
	// ErrLeaseExpired indicates a stale worker operation: the lease elapsed,
	// was never held by the caller, or the job already reached a terminal
	// state. Recoverable by re-polling.
	ErrLeaseExpired = errors.New("lease expired")

	// ErrInstanceCancelled indicates the job's owning instance was cancelled.
	// Terminal, not retryable.
	ErrInstanceCancelled = errors.New("instance cancelled")
)

// Listener receives terminal job outcomes. The engine implements it to merge
// output variables and advance the owning instance's token.
type Listener interface {
	JobCompleted(ctx context.Context, job *models.Job, output map[string]any) error
	JobFailed(ctx context.Context, job *models.Job, errorMessage string) error
}

// PollRequest describes one worker poll.
type PollRequest struct {
	TaskType      string
	MaxJobs       int
	LeaseDuration time.Duration
	Timeout       time.Duration
	WorkerID      string
}

// Queue serializes all job state transitions under a single mutex, so
// Created->Leased, Leased->Completed/Failed and the reconciler's expiry
// reversion are mutually atomic: whichever mutation observes a job first
// wins, the other fails cleanly.
type Queue struct {
	mu       sync.Mutex
	jobs     persistence.JobRepository
	bus      eventbus.EventBus
	logger   *slog.Logger
	listener Listener
	waiters  map[string]chan struct{}
}

func NewQueue(jobs persistence.JobRepository, bus eventbus.EventBus, logger *slog.Logger) *Queue {
	return &Queue{
		jobs:    jobs,
		bus:     bus,
		logger:  logger,
		waiters: make(map[string]chan struct{}),
	}
}

// SetListener registers the completion listener. Must be called before the
// first Complete or Fail.
func (q *Queue) SetListener(listener Listener) {
	q.listener = listener
}

// Enqueue inserts a job in Created state, immediately visible to polling.
func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	now := time.Now()
	job.State = models.JobStateCreated
	job.CreatedAt = now
	job.UpdatedAt = now

	q.mu.Lock()

	err := q.jobs.SaveJob(ctx, job)
	if err != nil {
		q.mu.Unlock()

		return err
	}

	q.notifyLocked(job.TaskType)
	q.mu.Unlock()

	q.publish(ctx, job.InstanceKey, events.JobCreated{
		BaseEvent: events.JobBase(q.bus.GenerateID(), events.JobCreatedEvent, job),
		JobKey:    job.Key,
		NodeID:    job.NodeID,
		TaskType:  job.TaskType,
	})

	return nil
}

// Poll atomically leases up to MaxJobs Created jobs of the requested task
// type. When none are available it blocks until a job arrives, the timeout
// elapses or the caller's context is cancelled; an empty list is the normal
// no-work outcome, never an error.
func (q *Queue) Poll(ctx context.Context, req PollRequest) ([]*models.Job, error) {
	deadline := time.Now().Add(req.Timeout)

	for {
		leased, wait, err := q.tryLease(ctx, req)
		if err != nil {
			return nil, err
		}

		if len(leased) > 0 {
			for _, job := range leased {
				q.publish(ctx, job.InstanceKey, events.JobActivated{
					BaseEvent:    events.JobBase(q.bus.GenerateID(), events.JobActivatedEvent, job),
					JobKey:       job.Key,
					TaskType:     job.TaskType,
					WorkerID:     job.WorkerID,
					LeaseExpires: *job.LeaseExpires,
				})
			}

			return leased, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return []*models.Job{}, nil
		}

		timer := time.NewTimer(remaining)

		select {
		case <-ctx.Done():
			timer.Stop()

			return []*models.Job{}, ctx.Err()
		case <-timer.C:
			return []*models.Job{}, nil
		case <-wait:
			timer.Stop()
		}
	}
}

// tryLease performs one lease attempt and returns the channel to wait on
// when no jobs were available.
func (q *Queue) tryLease(ctx context.Context, req PollRequest) ([]*models.Job, chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	candidates, err := q.jobs.CreatedJobsByType(ctx, req.TaskType, req.MaxJobs)
	if err != nil {
		return nil, nil, err
	}

	if len(candidates) == 0 {
		return nil, q.waiterLocked(req.TaskType), nil
	}

	now := time.Now()
	expires := now.Add(req.LeaseDuration)
	leased := make([]*models.Job, 0, len(candidates))

	for _, job := range candidates {
		job.State = models.JobStateLeased
		job.WorkerID = req.WorkerID
		job.LeaseExpires = &expires
		job.UpdatedAt = now

		err = q.jobs.SaveJob(ctx, job)
		if err != nil {
			return nil, nil, err
		}

		leased = append(leased, job)
	}

	return leased, nil, nil
}

// Complete transitions a leased job to Completed and forwards the output
// variables to the listener. Rejected with ErrLeaseExpired when the lease
// elapsed or the caller is not the current holder, so late completions after
// an expiry-driven reversion are never double-applied.
func (q *Queue) Complete(ctx context.Context, jobKey, workerID string, output map[string]any) error {
	job, err := q.transition(ctx, jobKey, workerID, models.JobStateCompleted, 0, "")
	if err != nil {
		return err
	}

	q.publish(ctx, job.InstanceKey, events.JobCompleted{
		BaseEvent:  events.JobBase(q.bus.GenerateID(), events.JobCompletedEvent, job),
		JobKey:     job.Key,
		TaskType:   job.TaskType,
		WorkerID:   workerID,
		OutputData: output,
	})

	return q.listener.JobCompleted(ctx, job, output)
}

// Fail reports a business-logic failure. With retries remaining the job
// returns to Created for immediate re-lease; at zero it becomes terminal and
// the listener fails the owning instance.
func (q *Queue) Fail(ctx context.Context, jobKey, workerID string, retries int, errorMessage string) error {
	target := models.JobStateFailed
	if retries > 0 {
		target = models.JobStateCreated
	}

	job, err := q.transition(ctx, jobKey, workerID, target, retries, errorMessage)
	if err != nil {
		return err
	}

	q.publish(ctx, job.InstanceKey, events.JobFailed{
		BaseEvent:    events.JobBase(q.bus.GenerateID(), events.JobFailedEvent, job),
		JobKey:       job.Key,
		TaskType:     job.TaskType,
		WorkerID:     workerID,
		Retries:      retries,
		ErrorMessage: errorMessage,
	})

	if target == models.JobStateFailed {
		return q.listener.JobFailed(ctx, job, errorMessage)
	}

	return nil
}

// transition applies a worker-driven state change under the queue lock,
// enforcing the ownership and deadline checks.
func (q *Queue) transition(ctx context.Context, jobKey, workerID string, target models.JobState, retries int, errorMessage string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.jobs.JobByKey(ctx, jobKey)
	if err != nil {
		return nil, err
	}

	if job.State == models.JobStateCancelled {
		return nil, ErrInstanceCancelled
	}

	now := time.Now()
	if !job.HeldBy(workerID, now) {
		return nil, ErrLeaseExpired
	}

	job.State = target
	job.Retries = retries
	job.ErrorMessage = errorMessage
	job.UpdatedAt = now
	job.LeaseExpires = nil

	if target == models.JobStateCreated {
		job.WorkerID = ""
	}

	err = q.jobs.SaveJob(ctx, job)
	if err != nil {
		return nil, err
	}

	if target == models.JobStateCreated {
		q.notifyLocked(job.TaskType)
	}

	return job, nil
}

// CancelInstanceJobs transitions all outstanding jobs of an instance to the
// terminal Cancelled state. In-flight completions for them are rejected with
// ErrInstanceCancelled.
func (q *Queue) CancelInstanceJobs(ctx context.Context, instanceKey string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.jobs.JobsByInstance(ctx, instanceKey)
	if err != nil {
		return err
	}

	now := time.Now()

	for _, job := range jobs {
		if job.State.IsTerminal() {
			continue
		}

		job.State = models.JobStateCancelled
		job.LeaseExpires = nil
		job.UpdatedAt = now

		err = q.jobs.SaveJob(ctx, job)
		if err != nil {
			return err
		}
	}

	return nil
}

// waiterLocked returns the broadcast channel polls block on for a task type.
func (q *Queue) waiterLocked(taskType string) chan struct{} {
	waiter, exists := q.waiters[taskType]
	if !exists {
		waiter = make(chan struct{})
		q.waiters[taskType] = waiter
	}

	return waiter
}

// notifyLocked wakes every poll blocked on the task type.
func (q *Queue) notifyLocked(taskType string) {
	waiter, exists := q.waiters[taskType]
	if !exists {
		return
	}

	close(waiter)
	delete(q.waiters, taskType)
}

func (q *Queue) publish(ctx context.Context, key string, event eventbus.Event) {
	err := q.bus.Publish(ctx, key, event)
	if err != nil {
		q.logger.WarnContext(ctx, "Failed to publish job event", "event_type", event.GetType(), "error", err)
	}
}
