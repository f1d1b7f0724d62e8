// Package web provides HTTP request and response types for the orchestration API.
package web

import (
	"time"

	"github.com/conveyr/conveyr/pkg/models"
)

// Protocol bounds for job activation. Timeouts beyond the cap are clamped,
// not rejected.
const (
	MaxActivationTimeout = 30 * time.Second
	DefaultLeaseDuration = 30 * time.Second
	DefaultMaxJobs       = 1
	MaxJobsPerActivation = 32
)

// DeployResponse is returned after a successful definition deploy.
type DeployResponse struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// CreateInstanceRequest starts one execution of a deployed process. A zero
// version binds to the latest deployed version.
type CreateInstanceRequest struct {
	ProcessID string         `json:"process_id" validate:"required"`
	Version   int            `json:"version"    validate:"min=0"`
	Variables map[string]any `json:"variables"`
}

// CreateInstanceResponse carries the key of the started instance.
type CreateInstanceResponse struct {
	InstanceKey string `json:"instance_key"`
}

// InstanceStatusResponse reflects the latest committed instance state.
type InstanceStatusResponse struct {
	InstanceKey   string                `json:"instance_key"`
	ProcessID     string                `json:"process_id"`
	Version       int                   `json:"version"`
	Status        models.InstanceStatus `json:"status"`
	Variables     map[string]any        `json:"variables"`
	FailureReason string                `json:"failure_reason,omitempty"`
}

// ActivateJobsRequest is one worker poll. TimeoutMs bounds the long-poll;
// zero returns immediately.
type ActivateJobsRequest struct {
	TaskType        string `json:"task_type"         validate:"required"`
	WorkerID        string `json:"worker_id"         validate:"required"`
	MaxJobs         int    `json:"max_jobs"          validate:"min=0"`
	TimeoutMs       int    `json:"timeout_ms"        validate:"min=0"`
	LeaseDurationMs int    `json:"lease_duration_ms" validate:"min=0"`
}

// ActivatedJob is one leased job as seen by a worker.
type ActivatedJob struct {
	JobKey       string         `json:"job_key"`
	InstanceKey  string         `json:"instance_key"`
	TaskType     string         `json:"task_type"`
	Retries      int            `json:"retries"`
	Variables    map[string]any `json:"variables"`
	LeaseExpires time.Time      `json:"lease_expires"`
}

// ActivateJobsResponse carries the leased jobs; empty is the normal no-work
// outcome.
type ActivateJobsResponse struct {
	Jobs []ActivatedJob `json:"jobs"`
}

// CompleteJobRequest reports successful job execution with output variables.
type CompleteJobRequest struct {
	WorkerID  string         `json:"worker_id" validate:"required"`
	Variables map[string]any `json:"variables"`
}

// FailJobRequest reports a business-logic failure. Retries is the budget
// remaining after this attempt; zero makes the failure terminal.
type FailJobRequest struct {
	WorkerID     string `json:"worker_id"     validate:"required"`
	Retries      int    `json:"retries"       validate:"min=0"`
	ErrorMessage string `json:"error_message"`
}
