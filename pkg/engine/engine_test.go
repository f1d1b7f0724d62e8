package engine

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyr/conveyr/pkg/channels/gochannel"
	"github.com/conveyr/conveyr/pkg/definition"
	"github.com/conveyr/conveyr/pkg/eventbus"
	"github.com/conveyr/conveyr/pkg/jobqueue"
	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/persistence"
	"github.com/conveyr/conveyr/pkg/persistence/file"
)

type testHarness struct {
	store  *definition.Store
	engine *Engine
	queue  *jobqueue.Queue
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	fp := file.NewPersistence(t.TempDir())

	store, err := definition.NewStore(fp.DefinitionRepository(), logger)
	require.NoError(t, err)

	queue := jobqueue.NewQueue(fp.JobRepository(), bus, logger)
	processEngine := New(store, fp.InstanceRepository(), queue, bus, logger)
	queue.SetListener(processEngine)

	return &testHarness{
		store:  store,
		engine: processEngine,
		queue:  queue,
	}
}

func (h *testHarness) deploy(t *testing.T, document string) *models.ProcessDefinition {
	t.Helper()

	def, err := h.store.Deploy(context.Background(), []byte(document))
	require.NoError(t, err)

	return def
}

// pollOne leases exactly one job for the given worker.
func (h *testHarness) pollOne(t *testing.T, taskType, workerID string) *models.Job {
	t.Helper()

	jobs, err := h.queue.Poll(context.Background(), jobqueue.PollRequest{
		TaskType:      taskType,
		MaxJobs:       1,
		LeaseDuration: time.Minute,
		WorkerID:      workerID,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	return jobs[0]
}

const paymentProcess = `{
	"id": "payments",
	"name": "Payment Processing",
	"nodes": [
		{"id": "start", "kind": "start"},
		{"id": "charge", "kind": "service_task", "task_type": "charge-credit-card"},
		{"id": "done", "kind": "end"}
	],
	"edges": [
		{"from": "start", "to": "charge"},
		{"from": "charge", "to": "done"}
	]
}`

const twoTaskProcess = `{
	"id": "two-step",
	"nodes": [
		{"id": "start", "kind": "start"},
		{"id": "first", "kind": "service_task", "task_type": "task-one"},
		{"id": "route", "kind": "gateway"},
		{"id": "second", "kind": "service_task", "task_type": "task-two"},
		{"id": "done", "kind": "end"}
	],
	"edges": [
		{"from": "start", "to": "first"},
		{"from": "first", "to": "route"},
		{"from": "route", "to": "second"},
		{"from": "second", "to": "done"}
	]
}`

const passThroughProcess = `{
	"id": "pass-through",
	"nodes": [
		{"id": "start", "kind": "start"},
		{"id": "route", "kind": "gateway"},
		{"id": "done", "kind": "end"}
	],
	"edges": [
		{"from": "start", "to": "route"},
		{"from": "route", "to": "done"}
	]
}`

func TestEngineCreateInstanceHaltsAtServiceTask(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.deploy(t, paymentProcess)

	instance, err := h.engine.CreateInstance(ctx, "payments", 0, map[string]any{"total": float64(100)})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusActive, instance.Status)
	assert.Equal(t, "charge", instance.CurrentNodeID)

	job := h.pollOne(t, "charge-credit-card", "w1")
	assert.Equal(t, instance.Key, job.InstanceKey)
	assert.Equal(t, map[string]any{"total": float64(100)}, job.Variables)
	assert.Equal(t, models.DefaultJobRetries, job.Retries)
}

func TestEngineCreateInstanceUnknownProcess(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.engine.CreateInstance(context.Background(), "unknown", 0, nil)
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestEnginePassThroughProcessCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.deploy(t, passThroughProcess)

	instance, err := h.engine.CreateInstance(ctx, "pass-through", 0, nil)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, "done", instance.CurrentNodeID)
	require.NotNil(t, instance.EndedAt)
}

func TestEngineChargeCompletionFinishesInstance(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.deploy(t, paymentProcess)

	instance, err := h.engine.CreateInstance(ctx, "payments", 0, map[string]any{"total": float64(100)})
	require.NoError(t, err)

	job := h.pollOne(t, "charge-credit-card", "w1")

	err = h.queue.Complete(ctx, job.Key, "w1", map[string]any{"amountCharged": float64(100)})
	require.NoError(t, err)

	final, err := h.engine.InstanceStatus(ctx, instance.Key)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, final.Status)
	assert.Equal(t, float64(100), final.Variables["total"])
	assert.Equal(t, float64(100), final.Variables["amountCharged"])
}

func TestEngineTwoTaskFlowMergesVariables(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.deploy(t, twoTaskProcess)

	instance, err := h.engine.CreateInstance(ctx, "two-step", 0, nil)
	require.NoError(t, err)

	first := h.pollOne(t, "task-one", "w1")
	require.NoError(t, h.queue.Complete(ctx, first.Key, "w1", map[string]any{"x": float64(1)}))

	// The second task sees the first task's output through the gateway.
	second := h.pollOne(t, "task-two", "w2")
	assert.Equal(t, float64(1), second.Variables["x"])
	require.NoError(t, h.queue.Complete(ctx, second.Key, "w2", map[string]any{"y": float64(2)}))

	final, err := h.engine.InstanceStatus(ctx, instance.Key)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, final.Status)
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, final.Variables)
}

func TestEngineJobVariablesAreSnapshots(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.deploy(t, paymentProcess)

	_, err := h.engine.CreateInstance(ctx, "payments", 0, map[string]any{"card": map[string]any{"number": "4111"}})
	require.NoError(t, err)

	job := h.pollOne(t, "charge-credit-card", "w1")

	// Mutating the job-side copy must not reach the instance scope.
	job.Variables["card"].(map[string]any)["number"] = "0000"

	require.NoError(t, h.queue.Complete(ctx, job.Key, "w1", nil))

	final, err := h.engine.InstanceStatus(ctx, job.InstanceKey)
	require.NoError(t, err)
	assert.Equal(t, "4111", final.Variables["card"].(map[string]any)["number"])
}

func TestEngineExhaustedRetriesFailInstance(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.deploy(t, paymentProcess)

	instance, err := h.engine.CreateInstance(ctx, "payments", 0, map[string]any{"total": float64(100)})
	require.NoError(t, err)

	job := h.pollOne(t, "charge-credit-card", "w1")
	require.NoError(t, h.queue.Fail(ctx, job.Key, "w1", 0, "card declined"))

	final, err := h.engine.InstanceStatus(ctx, instance.Key)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, final.Status)
	assert.Equal(t, "card declined", final.FailureReason)
	require.NotNil(t, final.EndedAt)
}

func TestEngineFailWithRetriesKeepsInstanceActive(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.deploy(t, paymentProcess)

	instance, err := h.engine.CreateInstance(ctx, "payments", 0, nil)
	require.NoError(t, err)

	job := h.pollOne(t, "charge-credit-card", "w1")
	require.NoError(t, h.queue.Fail(ctx, job.Key, "w1", 2, "transient"))

	current, err := h.engine.InstanceStatus(ctx, instance.Key)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusActive, current.Status)

	// The retried job completes on the second attempt.
	retried := h.pollOne(t, "charge-credit-card", "w2")
	assert.Equal(t, job.Key, retried.Key)
	require.NoError(t, h.queue.Complete(ctx, retried.Key, "w2", nil))

	final, err := h.engine.InstanceStatus(ctx, instance.Key)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, final.Status)
}

func TestEngineCancelInstance(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.deploy(t, paymentProcess)

	instance, err := h.engine.CreateInstance(ctx, "payments", 0, nil)
	require.NoError(t, err)

	job := h.pollOne(t, "charge-credit-card", "w1")

	require.NoError(t, h.engine.CancelInstance(ctx, instance.Key))

	final, err := h.engine.InstanceStatus(ctx, instance.Key)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusTerminated, final.Status)
	require.NotNil(t, final.EndedAt)

	// The in-flight job was cancelled with the instance.
	err = h.queue.Complete(ctx, job.Key, "w1", nil)
	assert.ErrorIs(t, err, jobqueue.ErrInstanceCancelled)

	// Cancelling again is a no-op, not an error.
	require.NoError(t, h.engine.CancelInstance(ctx, instance.Key))

	unchanged, err := h.engine.InstanceStatus(ctx, instance.Key)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusTerminated, unchanged.Status)
}

func TestEngineCancelUnknownInstance(t *testing.T) {
	h := newTestHarness(t)

	err := h.engine.CancelInstance(context.Background(), "missing")
	assert.True(t, persistence.IsInstanceNotFound(err))
}

func TestEngineInstanceBindsVersionAtCreation(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.deploy(t, paymentProcess)

	instance, err := h.engine.CreateInstance(ctx, "payments", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, instance.Version)

	// A newer version does not affect the running instance.
	h.deploy(t, paymentProcess)

	job := h.pollOne(t, "charge-credit-card", "w1")
	require.NoError(t, h.queue.Complete(ctx, job.Key, "w1", nil))

	final, err := h.engine.InstanceStatus(ctx, instance.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, final.Version)
	assert.Equal(t, models.InstanceStatusCompleted, final.Status)

	// New instances pick up the latest version.
	fresh, err := h.engine.CreateInstance(ctx, "payments", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Version)
}
