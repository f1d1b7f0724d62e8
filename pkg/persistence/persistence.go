// Package persistence provides the data storage abstraction layer for
// process definitions, instances and jobs.
package persistence

import (
	"context"
	"time"

	"github.com/conveyr/conveyr/pkg/models"
)

// DefinitionRepository stores immutable versioned process definitions.
// Saves are append-only; an existing (id, version) pair is never overwritten.
type DefinitionRepository interface {
	SaveDefinition(ctx context.Context, definition *models.ProcessDefinition) error
	DefinitionByVersion(ctx context.Context, id string, version int) (*models.ProcessDefinition, error)
	LatestDefinition(ctx context.Context, id string) (*models.ProcessDefinition, error)
	LatestVersion(ctx context.Context, id string) (int, error)
}

// InstanceRepository stores process instances.
type InstanceRepository interface {
	SaveInstance(ctx context.Context, instance *models.ProcessInstance) error
	InstanceByKey(ctx context.Context, key string) (*models.ProcessInstance, error)
}

// JobRepository stores jobs.
type JobRepository interface {
	SaveJob(ctx context.Context, job *models.Job) error
	JobByKey(ctx context.Context, key string) (*models.Job, error)
	JobsByState(ctx context.Context, state models.JobState) ([]*models.Job, error)
	JobsByInstance(ctx context.Context, instanceKey string) ([]*models.Job, error)
	// CreatedJobsByType returns up to limit jobs of the given task type in
	// Created state, oldest first.
	CreatedJobsByType(ctx context.Context, taskType string, limit int) ([]*models.Job, error)
	// ExpiredLeasedJobs returns leased jobs whose lease deadline has passed.
	ExpiredLeasedJobs(ctx context.Context, now time.Time) ([]*models.Job, error)
}

type Persistence interface {
	DefinitionRepository() DefinitionRepository
	InstanceRepository() InstanceRepository
	JobRepository() JobRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
