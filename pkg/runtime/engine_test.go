package runtime

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/storage"
)

// recordingNotifier captures events for assertions
type recordingNotifier struct {
	mu              sync.Mutex
	executionEvents []string
	stepEvents      []string
}

func (n *recordingNotifier) NotifyExecution(execution *models.FlowExecution, event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.executionEvents = append(n.executionEvents, event)
}

func (n *recordingNotifier) NotifyStep(step *models.FlowExecutionStep, event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stepEvents = append(n.stepEvents, event)
}

type engineFixture struct {
	engine   *FlowEngine
	provider storage.StorageProvider
	notifier *recordingNotifier
}

func newEngineFixture(t *testing.T, adapterService AdapterService, utilityService UtilityService) *engineFixture {
	t.Helper()
	provider := storage.NewMemoryProvider()
	require.NoError(t, provider.Initialize())

	contexts := NewContextManager()
	aggregator := NewResultAggregator(provider.GetExecutionStore(), provider.GetDeploymentStore(), contexts)
	registry := NewNodeRegistry(CoreNodeHandlers(NodeDeps{
		Contexts:       contexts,
		Adapters:       provider.GetAdapterStore(),
		AdapterService: adapterService,
		UtilityService: utilityService,
	})...)
	notifier := &recordingNotifier{}

	engine := NewFlowEngine(
		provider.GetFlowStore(),
		provider.GetExecutionStore(),
		provider.GetDeploymentStore(),
		registry,
		contexts,
		aggregator,
		notifier,
	)
	return &engineFixture{engine: engine, provider: provider, notifier: notifier}
}

func (f *engineFixture) seedFlow(t *testing.T, flow *models.FlowDefinition) {
	t.Helper()
	require.NoError(t, f.provider.GetFlowStore().SaveFlowDefinition(flow))
}

func (f *engineFixture) seedDeployment(t *testing.T, deployment *models.Deployment) {
	t.Helper()
	require.NoError(t, f.provider.GetDeploymentStore().SaveDeployment(deployment))
}

func threeNodeFlow() *models.FlowDefinition {
	return &models.FlowDefinition{
		ID:   "flow-1",
		Name: "Nightly transfer",
		Nodes: []models.FlowNode{
			{ID: "n-start", Type: "start"},
			{ID: "n-transform", Type: "utility", Config: map[string]interface{}{"utilityType": "data-csv-to-json"}},
			{ID: "n-end", Type: "end"},
		},
	}
}

func TestExecuteDeployedFlow(t *testing.T) {
	t.Run("successful run completes with file metrics", func(t *testing.T) {
		utility := utilityServiceFunc(func(utilityType string, config map[string]interface{}, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error) {
			return map[string]interface{}{
				KeyProcessedFiles: []interface{}{
					map[string]interface{}{"name": "a.csv", "size": 100},
					map[string]interface{}{"name": "b.csv", "size": 250},
				},
			}, nil
		})
		f := newEngineFixture(t, noopAdapterService(), utility)
		f.seedFlow(t, threeNodeFlow())
		f.seedDeployment(t, &models.Deployment{ID: "dep-1", FlowID: "flow-1"})

		deployment, err := f.provider.GetDeploymentStore().GetDeployment("dep-1")
		require.NoError(t, err)

		execution, err := f.engine.ExecuteDeployedFlow(deployment, map[string]interface{}{"source": "test"}, models.TriggerScheduled, "operator-1")
		require.NoError(t, err)
		require.NotNil(t, execution)

		assert.Equal(t, models.ExecutionCompleted, execution.Status)
		assert.Equal(t, models.TriggerScheduled, execution.TriggerType)
		assert.NotEmpty(t, execution.CorrelationID)
		assert.Equal(t, 2, execution.FilesProcessed)
		assert.Equal(t, int64(350), execution.BytesProcessed)

		steps, err := f.provider.GetExecutionStore().ListSteps(execution.ID)
		require.NoError(t, err)
		require.Len(t, steps, 3)
		for i, step := range steps {
			assert.Equal(t, i, step.StepOrder)
			assert.Equal(t, models.StepCompleted, step.Status)
			assert.Equal(t, execution.CorrelationID, step.CorrelationID)
		}

		// Deployment statistics rolled up
		updated, err := f.provider.GetDeploymentStore().GetDeployment("dep-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.TotalExecutions)
		assert.Equal(t, int64(0), updated.FailedExecutions)

		assert.Equal(t, []string{EventExecutionStarted, EventExecutionCompleted}, f.notifier.executionEvents)
		assert.Len(t, f.notifier.stepEvents, 6)
	})

	t.Run("failed step halts the pipeline", func(t *testing.T) {
		utility := utilityServiceFunc(func(utilityType string, config map[string]interface{}, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error) {
			return nil, Transient(errors.New("connection reset by peer"))
		})
		f := newEngineFixture(t, noopAdapterService(), utility)
		f.seedFlow(t, threeNodeFlow())
		f.seedDeployment(t, &models.Deployment{ID: "dep-1", FlowID: "flow-1"})

		deployment, err := f.provider.GetDeploymentStore().GetDeployment("dep-1")
		require.NoError(t, err)

		execution, err := f.engine.ExecuteDeployedFlow(deployment, nil, models.TriggerScheduled, "operator-1")
		require.Error(t, err)
		require.NotNil(t, execution)

		assert.Equal(t, models.ExecutionFailed, execution.Status)
		assert.Contains(t, execution.ErrorMessage, "n-transform")
		assert.Equal(t, models.ErrorKindTransient, execution.ErrorKind, "the structured kind survives the wrapping")

		// The end node never ran
		steps, err := f.provider.GetExecutionStore().ListSteps(execution.ID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, models.StepCompleted, steps[0].Status)
		assert.Equal(t, models.StepFailed, steps[1].Status)
		assert.NotEmpty(t, steps[1].ErrorMessage)

		updated, err := f.provider.GetDeploymentStore().GetDeployment("dep-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.FailedExecutions)
		assert.Equal(t, 1, updated.ConsecutiveFailures)

		assert.Equal(t, []string{EventExecutionStarted, EventExecutionFailed}, f.notifier.executionEvents)
	})

	t.Run("unknown flow fails before any record is created", func(t *testing.T) {
		f := newEngineFixture(t, noopAdapterService(), noopUtilityService())
		f.seedDeployment(t, &models.Deployment{ID: "dep-1", FlowID: "nope"})

		deployment, err := f.provider.GetDeploymentStore().GetDeployment("dep-1")
		require.NoError(t, err)

		execution, err := f.engine.ExecuteDeployedFlow(deployment, nil, models.TriggerManual, "operator-1")
		assert.Error(t, err)
		assert.Nil(t, execution)
	})

	t.Run("context carries the correlation identifiers", func(t *testing.T) {
		var seenCtx map[string]interface{}
		utility := utilityServiceFunc(func(utilityType string, config map[string]interface{}, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error) {
			seenCtx = execCtx
			return map[string]interface{}{}, nil
		})
		f := newEngineFixture(t, noopAdapterService(), utility)
		f.seedFlow(t, threeNodeFlow())
		f.seedDeployment(t, &models.Deployment{ID: "dep-1", FlowID: "flow-1"})

		deployment, err := f.provider.GetDeploymentStore().GetDeployment("dep-1")
		require.NoError(t, err)

		execution, err := f.engine.ExecuteDeployedFlow(deployment, nil, models.TriggerManual, "operator-1")
		require.NoError(t, err)
		require.NotNil(t, seenCtx)
		assert.Equal(t, execution.ID, seenCtx[KeyExecutionID])
		assert.Equal(t, "dep-1", seenCtx[KeyDeploymentID])
		assert.Equal(t, "Nightly transfer", seenCtx[KeyFlowName])
		assert.Equal(t, "operator-1", seenCtx["triggeredBy"])
	})
}

func TestResumeExecution(t *testing.T) {
	t.Run("re-runs from the persisted context", func(t *testing.T) {
		f := newEngineFixture(t, noopAdapterService(), noopUtilityService())
		f.seedFlow(t, threeNodeFlow())

		execution := &models.FlowExecution{
			ID:            "exec-1",
			FlowID:        "flow-1",
			Status:        models.ExecutionRunning,
			TriggerType:   models.TriggerRetry,
			CorrelationID: "corr-1",
			Context: map[string]interface{}{
				KeyCorrelationID: "corr-1",
				KeyFlowID:        "flow-1",
			},
		}
		require.NoError(t, f.provider.GetExecutionStore().SaveExecution(execution))

		require.NoError(t, f.engine.ResumeExecution(execution))

		assert.Equal(t, models.ExecutionCompleted, execution.Status)
		persisted, err := f.provider.GetExecutionStore().GetExecution("exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionCompleted, persisted.Status)
		assert.Equal(t, "corr-1", persisted.Context[KeyCorrelationID])
	})

	t.Run("a retry can fail again", func(t *testing.T) {
		utility := utilityServiceFunc(func(utilityType string, config map[string]interface{}, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error) {
			return nil, errors.New("still broken")
		})
		f := newEngineFixture(t, noopAdapterService(), utility)
		f.seedFlow(t, threeNodeFlow())

		execution := &models.FlowExecution{
			ID:     "exec-1",
			FlowID: "flow-1",
			Status: models.ExecutionRunning,
		}
		require.NoError(t, f.provider.GetExecutionStore().SaveExecution(execution))

		err := f.engine.ResumeExecution(execution)
		require.Error(t, err)
		assert.Equal(t, models.ExecutionFailed, execution.Status)
		assert.Contains(t, execution.ErrorMessage, "still broken")
	})
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.Equal(t, models.ErrorKindTransient, errorKindOf(Transient(base)))
	assert.Equal(t, models.ErrorKindPermanent, errorKindOf(Permanent(base)))
	assert.Equal(t, models.ErrorKindUnknown, errorKindOf(base))

	// The kind survives additional wrapping
	wrapped := Transient(base)
	assert.Equal(t, models.ErrorKindTransient, errorKindOf(errors.Join(errors.New("outer"), wrapped)))
	assert.True(t, errors.Is(wrapped, base))
}
