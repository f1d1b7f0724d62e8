package jobqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyr/conveyr/pkg/events"
	"github.com/conveyr/conveyr/pkg/models"
)

// DefaultReconcileInterval is the lease reconciliation tick used when the
// broker does not configure one.
const DefaultReconcileInterval = time.Second

// Reconciler periodically reverts expired leases so jobs abandoned by
// crashed or partitioned workers become available again. This is the sole
// crash-recovery mechanism; a late completion arriving after a reversion is
// rejected by the queue's lease check.
type Reconciler struct {
	queue    *Queue
	interval time.Duration
	logger   *slog.Logger
}

func NewReconciler(queue *Queue, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}

	return &Reconciler{
		queue:    queue,
		interval: interval,
		logger:   logger,
	}
}

// Run ticks until the context is cancelled. Reconciliation failures are
// logged and retried on the next tick; they never stop the loop.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reverted, err := r.queue.ReconcileLeases(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "Lease reconciliation failed", "error", err)

				continue
			}

			if reverted > 0 {
				r.logger.InfoContext(ctx, "Reverted expired leases", "count", reverted)
			}
		}
	}
}

// ReconcileLeases reverts every leased job whose deadline has passed back to
// Created and returns the number reverted. Idempotent: jobs already
// completed or already reverted are not observed Leased and are untouched.
func (q *Queue) ReconcileLeases(ctx context.Context) (int, error) {
	q.mu.Lock()

	now := time.Now()

	expired, err := q.jobs.ExpiredLeasedJobs(ctx, now)
	if err != nil {
		q.mu.Unlock()

		return 0, err
	}

	reverted := make([]*models.Job, 0, len(expired))

	for _, job := range expired {
		expiredWorker := job.WorkerID

		job.State = models.JobStateCreated
		job.WorkerID = ""
		job.LeaseExpires = nil
		job.UpdatedAt = now

		err = q.jobs.SaveJob(ctx, job)
		if err != nil {
			q.mu.Unlock()

			return len(reverted), err
		}

		job.WorkerID = expiredWorker // reported in the event below
		reverted = append(reverted, job)
		q.notifyLocked(job.TaskType)
	}

	q.mu.Unlock()

	for _, job := range reverted {
		q.publish(ctx, job.InstanceKey, events.JobLeaseExpired{
			BaseEvent: events.JobBase(q.bus.GenerateID(), events.JobLeaseExpiredEvent, job),
			JobKey:    job.Key,
			TaskType:  job.TaskType,
			WorkerID:  job.WorkerID,
		})
	}

	return len(reverted), nil
}
