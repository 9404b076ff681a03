package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

func TestMemoryDeploymentStore(t *testing.T) {
	provider := NewMemoryProvider()
	require.NoError(t, provider.Initialize())
	store := provider.GetDeploymentStore()

	t.Run("missing deployment returns the sentinel", func(t *testing.T) {
		_, err := store.GetDeployment("nope")
		assert.ErrorIs(t, err, ErrDeploymentNotFound)
	})

	t.Run("save and get round trip", func(t *testing.T) {
		require.NoError(t, store.SaveDeployment(&models.Deployment{ID: "dep-1", FlowID: "flow-1", ExecutionEnabled: true}))
		deployment, err := store.GetDeployment("dep-1")
		require.NoError(t, err)
		assert.Equal(t, "flow-1", deployment.FlowID)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		deployment, err := store.GetDeployment("dep-1")
		require.NoError(t, err)
		deployment.FlowID = "mutated"

		again, err := store.GetDeployment("dep-1")
		require.NoError(t, err)
		assert.Equal(t, "flow-1", again.FlowID)
	})

	t.Run("executable listing filters disabled and undeployed", func(t *testing.T) {
		require.NoError(t, store.SaveDeployment(&models.Deployment{ID: "dep-disabled", ExecutionEnabled: false}))
		require.NoError(t, store.SaveDeployment(&models.Deployment{ID: "dep-retired", ExecutionEnabled: true, Undeployed: true}))

		executable, err := store.ListExecutableDeployments()
		require.NoError(t, err)
		require.Len(t, executable, 1)
		assert.Equal(t, "dep-1", executable[0].ID)

		all, err := store.ListDeployments()
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestMemoryAdapterStore(t *testing.T) {
	store := NewMemoryProvider().GetAdapterStore()

	_, err := store.GetAdapter("nope")
	assert.ErrorIs(t, err, ErrAdapterNotFound)

	require.NoError(t, store.SaveAdapter(&models.Adapter{ID: "sftp-1", Type: "sftp", Active: true, Status: models.AdapterStarted}))
	adapter, err := store.GetAdapter("sftp-1")
	require.NoError(t, err)
	assert.True(t, adapter.Schedulable())
}

func TestMemoryFlowStore(t *testing.T) {
	store := NewMemoryProvider().GetFlowStore()

	_, err := store.GetFlowDefinition("nope")
	assert.ErrorIs(t, err, ErrFlowNotFound)

	require.NoError(t, store.SaveFlowDefinition(&models.FlowDefinition{
		ID:   "flow-1",
		Name: "Nightly transfer",
		Nodes: []models.FlowNode{
			{ID: "n-start", Type: "start"},
			{ID: "n-end", Type: "end"},
		},
	}))
	flow, err := store.GetFlowDefinition("flow-1")
	require.NoError(t, err)
	require.Len(t, flow.Nodes, 2)

	node, ok := flow.Node("n-end")
	require.True(t, ok)
	assert.Equal(t, "end", node.Type)
}

func TestMemoryExecutionStore(t *testing.T) {
	newStore := func(t *testing.T) ExecutionStore {
		t.Helper()
		provider := NewMemoryProvider()
		require.NoError(t, provider.Initialize())
		return provider.GetExecutionStore()
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("missing execution returns the sentinel", func(t *testing.T) {
		_, err := newStore(t).GetExecution("nope")
		assert.ErrorIs(t, err, ErrExecutionNotFound)
	})

	t.Run("status listing follows transitions", func(t *testing.T) {
		store := newStore(t)
		execution := &models.FlowExecution{ID: "exec-1", DeploymentID: "dep-1", Status: models.ExecutionRunning, StartedAt: base}
		require.NoError(t, store.SaveExecution(execution))

		running, err := store.ListExecutionsByStatus(models.ExecutionRunning)
		require.NoError(t, err)
		assert.Len(t, running, 1)

		execution.Status = models.ExecutionCompleted
		require.NoError(t, store.SaveExecution(execution))

		running, err = store.ListExecutionsByStatus(models.ExecutionRunning)
		require.NoError(t, err)
		assert.Empty(t, running)
		completed, err := store.ListExecutionsByStatus(models.ExecutionCompleted)
		require.NoError(t, err)
		assert.Len(t, completed, 1)
	})

	t.Run("running executions are scoped to the deployment", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveExecution(&models.FlowExecution{ID: "exec-1", DeploymentID: "dep-1", Status: models.ExecutionRunning, StartedAt: base}))
		require.NoError(t, store.SaveExecution(&models.FlowExecution{ID: "exec-2", DeploymentID: "dep-2", Status: models.ExecutionRunning, StartedAt: base}))
		require.NoError(t, store.SaveExecution(&models.FlowExecution{ID: "exec-3", DeploymentID: "dep-1", Status: models.ExecutionFailed, StartedAt: base}))

		running, err := store.ListRunningExecutions("dep-1")
		require.NoError(t, err)
		require.Len(t, running, 1)
		assert.Equal(t, "exec-1", running[0].ID)

		all, err := store.ListExecutionsForDeployment("dep-1")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("steps upsert by id and list in order", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveStep(&models.FlowExecutionStep{ID: "step-2", ExecutionID: "exec-1", StepOrder: 1, Status: models.StepRunning}))
		require.NoError(t, store.SaveStep(&models.FlowExecutionStep{ID: "step-1", ExecutionID: "exec-1", StepOrder: 0, Status: models.StepCompleted}))

		// Re-saving the same id updates in place
		require.NoError(t, store.SaveStep(&models.FlowExecutionStep{ID: "step-2", ExecutionID: "exec-1", StepOrder: 1, Status: models.StepCompleted}))

		steps, err := store.ListSteps("exec-1")
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, "step-1", steps[0].ID)
		assert.Equal(t, models.StepCompleted, steps[1].Status)
	})

	t.Run("file stats sum step counters", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveStep(&models.FlowExecutionStep{ID: "step-1", ExecutionID: "exec-1", StepOrder: 0, FilesProcessed: 2, BytesProcessed: 300}))
		require.NoError(t, store.SaveStep(&models.FlowExecutionStep{ID: "step-2", ExecutionID: "exec-1", StepOrder: 1, FilesProcessed: 1, BytesProcessed: 50}))

		files, bytes, err := store.GetExecutionFileStats("exec-1")
		require.NoError(t, err)
		assert.Equal(t, 3, files)
		assert.Equal(t, int64(350), bytes)
	})
}
