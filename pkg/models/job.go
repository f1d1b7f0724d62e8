package models

import "time"

// JobState represents the lifecycle state of a job. Transitions are
// monotonic except for the leased->created reversion on lease expiry, which
// may happen any number of times before a terminal state.
type JobState string

const (
	JobStateCreated   JobState = "created"   // Awaiting a worker lease
	JobStateLeased    JobState = "leased"    // Exclusively claimed by one worker
	JobStateCompleted JobState = "completed" // Terminal
	JobStateFailed    JobState = "failed"    // Terminal, retry budget exhausted
	JobStateCancelled JobState = "cancelled" // Terminal, owning instance cancelled
)

// IsTerminal reports whether no further transitions are possible.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// Job represents one activated service task awaiting external execution.
// Variables is a snapshot copied from the owning instance's scope at
// activation time, never a live reference.
type Job struct {
	Key          string         `json:"key"`
	InstanceKey  string         `json:"instance_key"`
	NodeID       string         `json:"node_id"`
	TaskType     string         `json:"task_type"`
	State        JobState       `json:"state"`
	Variables    map[string]any `json:"variables"`
	Retries      int            `json:"retries"`
	WorkerID     string         `json:"worker_id,omitempty"`
	LeaseExpires *time.Time     `json:"lease_expires,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// LeaseExpired reports whether the job's lease has elapsed at the given time.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.LeaseExpires != nil && now.After(*j.LeaseExpires)
}

// HeldBy reports whether the job is leased by the given worker with an
// unexpired lease at the given time.
func (j *Job) HeldBy(workerID string, now time.Time) bool {
	return j.State == JobStateLeased && j.WorkerID == workerID && !j.LeaseExpired(now)
}
