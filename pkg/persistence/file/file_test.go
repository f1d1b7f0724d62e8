package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/persistence"
)

func testDefinition(id string, version int) *models.ProcessDefinition {
	return &models.ProcessDefinition{
		ID:      id,
		Version: version,
		Name:    "Test Process",
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "work", Kind: models.NodeKindServiceTask, TaskType: "work"},
			{ID: "done", Kind: models.NodeKindEnd},
		},
		Edges: []*models.Edge{
			{From: "start", To: "work"},
			{From: "work", To: "done"},
		},
		DeployedAt: time.Now().UTC(),
	}
}

func TestNewPersistenceStripsFileScheme(t *testing.T) {
	dir := t.TempDir()

	fp := NewPersistence("file://" + dir)

	require.NoError(t, fp.HealthCheck(context.Background()))
	assert.Equal(t, dir, fp.root)
}

func TestDefinitionRepository(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())
	repo := fp.DefinitionRepository()

	t.Run("latest version of unknown process", func(t *testing.T) {
		_, err := repo.LatestVersion(ctx, "unknown")
		assert.True(t, persistence.IsDefinitionNotFound(err))
	})

	t.Run("save and retrieve by version", func(t *testing.T) {
		require.NoError(t, repo.SaveDefinition(ctx, testDefinition("payments", 1)))
		require.NoError(t, repo.SaveDefinition(ctx, testDefinition("payments", 2)))

		def, err := repo.DefinitionByVersion(ctx, "payments", 1)
		require.NoError(t, err)
		assert.Equal(t, "payments", def.ID)
		assert.Equal(t, 1, def.Version)
		assert.Len(t, def.Nodes, 3)
	})

	t.Run("latest resolves highest version", func(t *testing.T) {
		version, err := repo.LatestVersion(ctx, "payments")
		require.NoError(t, err)
		assert.Equal(t, 2, version)

		def, err := repo.LatestDefinition(ctx, "payments")
		require.NoError(t, err)
		assert.Equal(t, 2, def.Version)
	})

	t.Run("versions are immutable", func(t *testing.T) {
		err := repo.SaveDefinition(ctx, testDefinition("payments", 1))
		assert.True(t, persistence.IsVersionExists(err))
	})

	t.Run("unknown version", func(t *testing.T) {
		_, err := repo.DefinitionByVersion(ctx, "payments", 99)
		assert.True(t, persistence.IsDefinitionNotFound(err))
	})
}

func TestInstanceRepository(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())
	repo := fp.InstanceRepository()

	_, err := repo.InstanceByKey(ctx, "missing")
	assert.True(t, persistence.IsInstanceNotFound(err))

	instance := &models.ProcessInstance{
		Key:           "inst-1",
		DefinitionID:  "payments",
		Version:       1,
		Status:        models.InstanceStatusActive,
		CurrentNodeID: "work",
		Variables:     map[string]any{"total": float64(100)},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	require.NoError(t, repo.SaveInstance(ctx, instance))

	loaded, err := repo.InstanceByKey(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusActive, loaded.Status)
	assert.Equal(t, map[string]any{"total": float64(100)}, loaded.Variables)

	// Saving again overwrites in place.
	instance.Status = models.InstanceStatusCompleted
	require.NoError(t, repo.SaveInstance(ctx, instance))

	loaded, err = repo.InstanceByKey(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, loaded.Status)
}

func TestJobRepositoryQueries(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())
	repo := fp.JobRepository()

	_, err := repo.JobByKey(ctx, "missing")
	assert.True(t, persistence.IsJobNotFound(err))

	base := time.Now().UTC()
	expired := base.Add(-time.Minute)

	jobs := []*models.Job{
		{Key: "j1", InstanceKey: "i1", TaskType: "charge", State: models.JobStateCreated, CreatedAt: base},
		{Key: "j2", InstanceKey: "i1", TaskType: "charge", State: models.JobStateCreated, CreatedAt: base.Add(time.Second)},
		{Key: "j3", InstanceKey: "i2", TaskType: "refund", State: models.JobStateCreated, CreatedAt: base},
		{Key: "j4", InstanceKey: "i2", TaskType: "charge", State: models.JobStateLeased, WorkerID: "w1", LeaseExpires: &expired, CreatedAt: base},
	}
	for _, job := range jobs {
		require.NoError(t, repo.SaveJob(ctx, job))
	}

	t.Run("created jobs by type in FIFO order", func(t *testing.T) {
		found, err := repo.CreatedJobsByType(ctx, "charge", 10)
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, "j1", found[0].Key)
		assert.Equal(t, "j2", found[1].Key)
	})

	t.Run("limit caps the batch", func(t *testing.T) {
		found, err := repo.CreatedJobsByType(ctx, "charge", 1)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "j1", found[0].Key)
	})

	t.Run("jobs by instance", func(t *testing.T) {
		found, err := repo.JobsByInstance(ctx, "i2")
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("jobs by state", func(t *testing.T) {
		found, err := repo.JobsByState(ctx, models.JobStateLeased)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "j4", found[0].Key)
	})

	t.Run("expired leased jobs", func(t *testing.T) {
		found, err := repo.ExpiredLeasedJobs(ctx, time.Now().UTC())
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "j4", found[0].Key)
	})
}
