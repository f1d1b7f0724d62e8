// Package events defines event types and structures for orchestration lifecycle notifications.
package events

import (
	"time"

	"github.com/conveyr/conveyr/pkg/models"
)

type EventType string

const Topic = "conveyr.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Instance lifecycle events.
	InstanceCreatedEvent   EventType = "instance.created"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstanceCancelledEvent EventType = "instance.cancelled"

	// Job lifecycle events.
	JobCreatedEvent      EventType = "job.created"
	JobActivatedEvent    EventType = "job.activated"
	JobCompletedEvent    EventType = "job.completed"
	JobFailedEvent       EventType = "job.failed"
	JobLeaseExpiredEvent EventType = "job.lease_expired"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	InstanceKey string         `json:"instance_key"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type InstanceCreated struct {
	BaseEvent

	DefinitionID string `json:"definition_id"`
	Version      int    `json:"version"`
}

func (e InstanceCreated) GetType() EventType {
	return InstanceCreatedEvent
}

type InstanceCompleted struct {
	BaseEvent

	Variables map[string]any `json:"variables,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceFailed struct {
	BaseEvent

	Error string `json:"error"`
}

func (e InstanceFailed) GetType() EventType {
	return InstanceFailedEvent
}

type InstanceCancelled struct {
	BaseEvent
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

type JobCreated struct {
	BaseEvent

	JobKey   string `json:"job_key"`
	NodeID   string `json:"node_id"`
	TaskType string `json:"task_type"`
}

func (e JobCreated) GetType() EventType {
	return JobCreatedEvent
}

type JobActivated struct {
	BaseEvent

	JobKey       string    `json:"job_key"`
	TaskType     string    `json:"task_type"`
	WorkerID     string    `json:"worker_id"`
	LeaseExpires time.Time `json:"lease_expires"`
}

func (e JobActivated) GetType() EventType {
	return JobActivatedEvent
}

type JobCompleted struct {
	BaseEvent

	JobKey     string         `json:"job_key"`
	TaskType   string         `json:"task_type"`
	WorkerID   string         `json:"worker_id"`
	OutputData map[string]any `json:"output_data,omitempty"`
}

func (e JobCompleted) GetType() EventType {
	return JobCompletedEvent
}

type JobFailed struct {
	BaseEvent

	JobKey       string `json:"job_key"`
	TaskType     string `json:"task_type"`
	WorkerID     string `json:"worker_id"`
	Retries      int    `json:"retries"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (e JobFailed) GetType() EventType {
	return JobFailedEvent
}

type JobLeaseExpired struct {
	BaseEvent

	JobKey   string `json:"job_key"`
	TaskType string `json:"task_type"`
	WorkerID string `json:"worker_id"`
}

func (e JobLeaseExpired) GetType() EventType {
	return JobLeaseExpiredEvent
}

// NewBaseEvent stamps the common event fields for a job or instance event.
func NewBaseEvent(id string, eventType EventType, instanceKey string) BaseEvent {
	return BaseEvent{
		ID:          id,
		Type:        eventType,
		Timestamp:   time.Now(),
		InstanceKey: instanceKey,
	}
}

// JobBase builds the common event fields from a job.
func JobBase(id string, eventType EventType, job *models.Job) BaseEvent {
	return NewBaseEvent(id, eventType, job.InstanceKey)
}
