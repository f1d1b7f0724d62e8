package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStateIsTerminal(t *testing.T) {
	assert.False(t, JobStateCreated.IsTerminal())
	assert.False(t, JobStateLeased.IsTerminal())
	assert.True(t, JobStateCompleted.IsTerminal())
	assert.True(t, JobStateFailed.IsTerminal())
	assert.True(t, JobStateCancelled.IsTerminal())
}

func TestJobHeldBy(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name     string
		job      Job
		workerID string
		expected bool
	}{
		{
			name:     "leased by worker with live lease",
			job:      Job{State: JobStateLeased, WorkerID: "w1", LeaseExpires: &future},
			workerID: "w1",
			expected: true,
		},
		{
			name:     "different worker",
			job:      Job{State: JobStateLeased, WorkerID: "w1", LeaseExpires: &future},
			workerID: "w2",
			expected: false,
		},
		{
			name:     "lease elapsed",
			job:      Job{State: JobStateLeased, WorkerID: "w1", LeaseExpires: &past},
			workerID: "w1",
			expected: false,
		},
		{
			name:     "not leased",
			job:      Job{State: JobStateCreated, WorkerID: "w1", LeaseExpires: &future},
			workerID: "w1",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.job.HeldBy(tt.workerID, now))
		})
	}
}

func TestNodeJobRetries(t *testing.T) {
	withBudget := Node{Kind: NodeKindServiceTask, Retries: 5}
	assert.Equal(t, 5, withBudget.JobRetries())

	withoutBudget := Node{Kind: NodeKindServiceTask}
	assert.Equal(t, DefaultJobRetries, withoutBudget.JobRetries())
}

func TestProcessDefinitionGraphLookups(t *testing.T) {
	def := &ProcessDefinition{
		ID: "payments",
		Nodes: []*Node{
			{ID: "start", Kind: NodeKindStart},
			{ID: "charge", Kind: NodeKindServiceTask, TaskType: "charge-credit-card"},
			{ID: "done", Kind: NodeKindEnd},
		},
		Edges: []*Edge{
			{From: "start", To: "charge"},
			{From: "charge", To: "done"},
		},
	}

	assert.Equal(t, "start", def.StartNode().ID)
	assert.Equal(t, "charge", def.NodeByID("charge").ID)
	assert.Nil(t, def.NodeByID("missing"))
	assert.Equal(t, "charge", def.NextNodeID("start"))
	assert.Equal(t, "", def.NextNodeID("done"))
}
