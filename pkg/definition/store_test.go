package definition

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyr/conveyr/pkg/persistence"
	"github.com/conveyr/conveyr/pkg/persistence/file"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	fp := file.NewPersistence(t.TempDir())

	store, err := NewStore(fp.DefinitionRepository(), logger)
	require.NoError(t, err)

	return store
}

const validDocument = `{
	"id": "payments",
	"name": "Payment Processing",
	"nodes": [
		{"id": "start", "kind": "start"},
		{"id": "charge", "kind": "service_task", "task_type": "charge-credit-card", "retries": 2},
		{"id": "done", "kind": "end"}
	],
	"edges": [
		{"from": "start", "to": "charge"},
		{"from": "charge", "to": "done"}
	]
}`

func TestStoreDeploy(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	def, err := store.Deploy(ctx, []byte(validDocument))
	require.NoError(t, err)

	assert.Equal(t, "payments", def.ID)
	assert.Equal(t, 1, def.Version)
	assert.False(t, def.DeployedAt.IsZero())
	assert.Equal(t, "charge-credit-card", def.NodeByID("charge").TaskType)
	assert.Equal(t, 2, def.NodeByID("charge").JobRetries())
}

func TestStoreDeployAssignsMonotonicVersions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for expected := 1; expected <= 3; expected++ {
		def, err := store.Deploy(ctx, []byte(validDocument))
		require.NoError(t, err)
		assert.Equal(t, expected, def.Version)
	}
}

func TestStoreDeployRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name     string
		document string
	}{
		{
			name:     "not json",
			document: `{"id": payments`,
		},
		{
			name:     "missing nodes",
			document: `{"id": "payments"}`,
		},
		{
			name:     "unknown node kind",
			document: `{"id": "p", "nodes": [{"id": "a", "kind": "timer"}, {"id": "b", "kind": "end"}], "edges": [{"from": "a", "to": "b"}]}`,
		},
		{
			name:     "no start node",
			document: `{"id": "p", "nodes": [{"id": "a", "kind": "gateway"}, {"id": "b", "kind": "end"}], "edges": [{"from": "a", "to": "b"}]}`,
		},
		{
			name:     "two start nodes",
			document: `{"id": "p", "nodes": [{"id": "a", "kind": "start"}, {"id": "b", "kind": "start"}, {"id": "c", "kind": "end"}], "edges": [{"from": "a", "to": "c"}, {"from": "b", "to": "c"}]}`,
		},
		{
			name:     "no end node",
			document: `{"id": "p", "nodes": [{"id": "a", "kind": "start"}, {"id": "b", "kind": "gateway"}], "edges": [{"from": "a", "to": "b"}, {"from": "b", "to": "a"}]}`,
		},
		{
			name:     "duplicate node ids",
			document: `{"id": "p", "nodes": [{"id": "a", "kind": "start"}, {"id": "a", "kind": "end"}], "edges": [{"from": "a", "to": "a"}]}`,
		},
		{
			name:     "edge references unknown node",
			document: `{"id": "p", "nodes": [{"id": "a", "kind": "start"}, {"id": "b", "kind": "end"}], "edges": [{"from": "a", "to": "ghost"}]}`,
		},
		{
			name:     "unreachable node",
			document: `{"id": "p", "nodes": [{"id": "a", "kind": "start"}, {"id": "b", "kind": "end"}, {"id": "c", "kind": "gateway"}], "edges": [{"from": "a", "to": "b"}, {"from": "c", "to": "b"}]}`,
		},
		{
			name:     "service task without task type",
			document: `{"id": "p", "nodes": [{"id": "a", "kind": "start"}, {"id": "t", "kind": "service_task"}, {"id": "b", "kind": "end"}], "edges": [{"from": "a", "to": "t"}, {"from": "t", "to": "b"}]}`,
		},
		{
			name:     "branching non-end node",
			document: `{"id": "p", "nodes": [{"id": "a", "kind": "start"}, {"id": "b", "kind": "end"}, {"id": "c", "kind": "end"}], "edges": [{"from": "a", "to": "b"}, {"from": "a", "to": "c"}]}`,
		},
		{
			name:     "end node with outgoing edge",
			document: `{"id": "p", "nodes": [{"id": "a", "kind": "start"}, {"id": "b", "kind": "end"}], "edges": [{"from": "a", "to": "b"}, {"from": "b", "to": "a"}]}`,
		},
	}

	ctx := context.Background()
	store := newTestStore(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Deploy(ctx, []byte(tt.document))

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestStoreDeployRejectionLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Deploy(ctx, []byte(`{"id": "p", "nodes": [{"id": "a", "kind": "start"}]}`))
	require.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = store.Resolve(ctx, "p", 0)
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestStoreResolve(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.Deploy(ctx, []byte(validDocument))
	require.NoError(t, err)

	second, err := store.Deploy(ctx, []byte(validDocument))
	require.NoError(t, err)

	t.Run("explicit version", func(t *testing.T) {
		def, err := store.Resolve(ctx, "payments", first.Version)
		require.NoError(t, err)
		assert.Equal(t, 1, def.Version)
	})

	t.Run("zero resolves latest", func(t *testing.T) {
		def, err := store.Resolve(ctx, "payments", 0)
		require.NoError(t, err)
		assert.Equal(t, second.Version, def.Version)
	})

	t.Run("unknown process id", func(t *testing.T) {
		_, err := store.Resolve(ctx, "unknown", 0)
		assert.True(t, persistence.IsDefinitionNotFound(err))
	})

	t.Run("unknown version", func(t *testing.T) {
		_, err := store.Resolve(ctx, "payments", 42)
		assert.True(t, persistence.IsDefinitionNotFound(err))
	})
}
