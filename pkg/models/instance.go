package models

import "time"

// InstanceStatus represents the lifecycle state of a process instance.
type InstanceStatus string

const (
	InstanceStatusActive     InstanceStatus = "active"     // Token in flight or waiting on a job
	InstanceStatusCompleted  InstanceStatus = "completed"  // Token reached an end node
	InstanceStatusTerminated InstanceStatus = "terminated" // Explicitly cancelled
	InstanceStatusFailed     InstanceStatus = "failed"     // Job failed with no retries left
)

// IsTerminal reports whether no further transitions are possible.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusTerminated || s == InstanceStatusFailed
}

// ProcessInstance is one running execution of a process definition. It is
// owned exclusively by the engine; the current node id tracks the single
// token's position in the graph.
type ProcessInstance struct {
	Key           string         `json:"key"`
	DefinitionID  string         `json:"definition_id"`
	Version       int            `json:"version"`
	Status        InstanceStatus `json:"status"`
	CurrentNodeID string         `json:"current_node_id,omitempty"`
	Variables     map[string]any `json:"variables"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
}
