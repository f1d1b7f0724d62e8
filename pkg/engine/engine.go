// Package engine implements the process instance engine: it advances a
// running instance through its definition graph one token-step at a time,
// publishing jobs for service tasks and merging their output variables.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyr/conveyr/pkg/definition"
	"github.com/conveyr/conveyr/pkg/eventbus"
	"github.com/conveyr/conveyr/pkg/events"
	"github.com/conveyr/conveyr/pkg/jobqueue"
	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/otelhelper"
	"github.com/conveyr/conveyr/pkg/persistence"
	"github.com/conveyr/conveyr/pkg/variables"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine owns process instances exclusively. Token advancement is serialized
// per instance by a per-instance lock; distinct instances proceed fully in
// parallel.
type Engine struct {
	definitions *definition.Store
	instances   persistence.InstanceRepository
	queue       *jobqueue.Queue
	bus         eventbus.EventBus
	logger      *slog.Logger
	tracer      trace.Tracer
	locks       sync.Map // instance key -> *sync.Mutex
}

func New(
	definitions *definition.Store,
	instances persistence.InstanceRepository,
	queue *jobqueue.Queue,
	bus eventbus.EventBus,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		definitions: definitions,
		instances:   instances,
		queue:       queue,
		bus:         bus,
		logger:      logger,
		tracer:      otel.Tracer("conveyr.engine"),
	}
}

// CreateInstance starts one execution of the given process. A version of
// zero or less binds the instance to the latest deployed version. The token
// is advanced immediately, so by the time this returns the instance is
// either waiting on a job or already completed.
func (e *Engine) CreateInstance(ctx context.Context, processID string, version int, initialVariables map[string]any) (*models.ProcessInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.create_instance",
		attribute.String(otelhelper.ProcessIDKey, processID),
		attribute.Int(otelhelper.VersionKey, version),
	)
	defer span.End()

	def, err := e.definitions.Resolve(ctx, processID, version)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	now := time.Now()
	instance := &models.ProcessInstance{
		Key:           uuid.NewString(),
		DefinitionID:  def.ID,
		Version:       def.Version,
		Status:        models.InstanceStatusActive,
		CurrentNodeID: def.StartNode().ID,
		Variables:     variables.Merge(nil, variables.Snapshot(initialVariables)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	lock := e.instanceLock(instance.Key)
	lock.Lock()
	defer lock.Unlock()

	err = e.instances.SaveInstance(ctx, instance)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Created process instance",
		"instance_key", instance.Key, "process_id", def.ID, "version", def.Version)

	e.publish(ctx, instance.Key, events.InstanceCreated{
		BaseEvent:    events.NewBaseEvent(e.bus.GenerateID(), events.InstanceCreatedEvent, instance.Key),
		DefinitionID: def.ID,
		Version:      def.Version,
	})

	err = e.advance(ctx, instance, def, instance.CurrentNodeID)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

// InstanceStatus returns the latest committed state of an instance.
func (e *Engine) InstanceStatus(ctx context.Context, instanceKey string) (*models.ProcessInstance, error) {
	return e.instances.InstanceByKey(ctx, instanceKey)
}

// CancelInstance transitions an active instance to Terminated and cancels
// its outstanding jobs. Cancelling an already-terminal instance is a no-op.
func (e *Engine) CancelInstance(ctx context.Context, instanceKey string) error {
	lock := e.instanceLock(instanceKey)
	lock.Lock()
	defer lock.Unlock()

	instance, err := e.instances.InstanceByKey(ctx, instanceKey)
	if err != nil {
		return err
	}

	if instance.Status.IsTerminal() {
		return nil
	}

	e.end(instance, models.InstanceStatusTerminated, "")

	err = e.instances.SaveInstance(ctx, instance)
	if err != nil {
		return err
	}

	err = e.queue.CancelInstanceJobs(ctx, instanceKey)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Cancelled process instance", "instance_key", instanceKey)

	e.publish(ctx, instanceKey, events.InstanceCancelled{
		BaseEvent: events.NewBaseEvent(e.bus.GenerateID(), events.InstanceCancelledEvent, instanceKey),
	})

	return nil
}

// JobCompleted implements jobqueue.Listener. Output keys override existing
// keys of the same name; structured values replace wholesale.
func (e *Engine) JobCompleted(ctx context.Context, job *models.Job, output map[string]any) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.job_completed",
		attribute.String(otelhelper.InstanceKeyKey, job.InstanceKey),
		attribute.String(otelhelper.JobKeyKey, job.Key),
		attribute.String(otelhelper.TaskTypeKey, job.TaskType),
	)
	defer span.End()

	lock := e.instanceLock(job.InstanceKey)
	lock.Lock()
	defer lock.Unlock()

	instance, err := e.instances.InstanceByKey(ctx, job.InstanceKey)
	if err != nil {
		return err
	}

	if instance.Status.IsTerminal() {
		e.logger.WarnContext(ctx, "Dropping completion for terminal instance",
			"instance_key", instance.Key, "job_key", job.Key, "status", instance.Status)

		return nil
	}

	instance.Variables = variables.Merge(instance.Variables, output)

	def, err := e.definitions.Resolve(ctx, instance.DefinitionID, instance.Version)
	if err != nil {
		return err
	}

	return e.advance(ctx, instance, def, def.NextNodeID(job.NodeID))
}

// JobFailed implements jobqueue.Listener for jobs whose retry budget is
// exhausted; the owning instance fails with the job's last error message.
func (e *Engine) JobFailed(ctx context.Context, job *models.Job, errorMessage string) error {
	lock := e.instanceLock(job.InstanceKey)
	lock.Lock()
	defer lock.Unlock()

	instance, err := e.instances.InstanceByKey(ctx, job.InstanceKey)
	if err != nil {
		return err
	}

	if instance.Status.IsTerminal() {
		return nil
	}

	e.end(instance, models.InstanceStatusFailed, errorMessage)

	err = e.instances.SaveInstance(ctx, instance)
	if err != nil {
		return err
	}

	e.logger.WarnContext(ctx, "Process instance failed",
		"instance_key", instance.Key, "job_key", job.Key, "error", errorMessage)

	e.publish(ctx, instance.Key, events.InstanceFailed{
		BaseEvent: events.NewBaseEvent(e.bus.GenerateID(), events.InstanceFailedEvent, instance.Key),
		Error:     errorMessage,
	})

	return nil
}

// advance moves the token from the given node until it reaches a service
// task (publish a job, halt) or an end node (complete the instance). Start
// and gateway nodes pass through automatically. Caller holds the instance
// lock.
func (e *Engine) advance(ctx context.Context, instance *models.ProcessInstance, def *models.ProcessDefinition, nodeID string) error {
	for {
		node := def.NodeByID(nodeID)
		if node == nil {
			return fmt.Errorf("node %q not found in definition %s v%d", nodeID, def.ID, def.Version)
		}

		switch node.Kind {
		case models.NodeKindStart, models.NodeKindGateway:
			nodeID = def.NextNodeID(node.ID)

		case models.NodeKindServiceTask:
			instance.CurrentNodeID = node.ID
			instance.UpdatedAt = time.Now()

			err := e.instances.SaveInstance(ctx, instance)
			if err != nil {
				return err
			}

			return e.queue.Enqueue(ctx, &models.Job{
				Key:         uuid.NewString(),
				InstanceKey: instance.Key,
				NodeID:      node.ID,
				TaskType:    node.TaskType,
				Variables:   variables.Snapshot(instance.Variables),
				Retries:     node.JobRetries(),
			})

		case models.NodeKindEnd:
			instance.CurrentNodeID = node.ID
			e.end(instance, models.InstanceStatusCompleted, "")

			err := e.instances.SaveInstance(ctx, instance)
			if err != nil {
				return err
			}

			e.logger.InfoContext(ctx, "Process instance completed", "instance_key", instance.Key)

			e.publish(ctx, instance.Key, events.InstanceCompleted{
				BaseEvent: events.NewBaseEvent(e.bus.GenerateID(), events.InstanceCompletedEvent, instance.Key),
				Variables: variables.Snapshot(instance.Variables),
				Duration:  time.Since(instance.CreatedAt),
			})

			return nil
		}
	}
}

func (e *Engine) end(instance *models.ProcessInstance, status models.InstanceStatus, failureReason string) {
	now := time.Now()
	instance.Status = status
	instance.FailureReason = failureReason
	instance.UpdatedAt = now
	instance.EndedAt = &now
}

func (e *Engine) instanceLock(instanceKey string) *sync.Mutex {
	lock, _ := e.locks.LoadOrStore(instanceKey, &sync.Mutex{})

	return lock.(*sync.Mutex)
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	err := e.bus.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish instance event", "event_type", event.GetType(), "error", err)
	}
}
