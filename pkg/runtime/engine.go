package runtime

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/storage"
)

// ClassifiedError attaches a structured failure kind at the point of
// failure. The retry manager honors the kind before falling back to the
// keyword heuristic on the message.
type ClassifiedError struct {
	Kind models.ErrorKind
	Err  error
}

// Error returns the wrapped message
func (e *ClassifiedError) Error() string { return e.Err.Error() }

// Unwrap returns the wrapped error
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Transient marks an error as expected to clear on its own
func Transient(err error) error {
	return &ClassifiedError{Kind: models.ErrorKindTransient, Err: err}
}

// Permanent marks an error as never retryable
func Permanent(err error) error {
	return &ClassifiedError{Kind: models.ErrorKindPermanent, Err: err}
}

// errorKindOf extracts the structured kind from an error chain
func errorKindOf(err error) models.ErrorKind {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return models.ErrorKindUnknown
}

// FlowEngine is the flow-execution entry point. It walks a flow
// definition's nodes strictly in order, creating one step record per
// node; a failed step halts the pipeline and fails the execution.
type FlowEngine struct {
	flows       storage.FlowStore
	executions  storage.ExecutionStore
	deployments storage.DeploymentStore

	registry   *NodeRegistry
	contexts   *ContextManager
	aggregator *ResultAggregator
	notifier   Notifier
}

// NewFlowEngine creates a new flow engine
func NewFlowEngine(flows storage.FlowStore, executions storage.ExecutionStore, deployments storage.DeploymentStore, registry *NodeRegistry, contexts *ContextManager, aggregator *ResultAggregator, notifier Notifier) *FlowEngine {
	return &FlowEngine{
		flows:       flows,
		executions:  executions,
		deployments: deployments,
		registry:    registry,
		contexts:    contexts,
		aggregator:  aggregator,
		notifier:    notifier,
	}
}

// ExecuteDeployedFlow runs one deployment's flow pipeline with the given
// trigger payload and returns the finished execution. The returned
// execution is non-nil whenever a record was created, even on failure.
func (e *FlowEngine) ExecuteDeployedFlow(deployment *models.Deployment, trigger map[string]interface{}, triggerType models.TriggerType, actingUser string) (*models.FlowExecution, error) {
	flowDef, err := e.flows.GetFlowDefinition(deployment.FlowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get flow %s: %w", deployment.FlowID, err)
	}

	executionID := uuid.New().String()
	correlationID := uuid.New().String()

	base := map[string]interface{}{
		KeyDeploymentID:  deployment.ID,
		KeyFlowID:        deployment.FlowID,
		KeyFlowName:      flowDef.Name,
		KeyExecutionID:   executionID,
		KeyCorrelationID: correlationID,
		KeyMessageID:     uuid.New().String(),
		KeyTriggerType:   string(triggerType),
		"triggeredBy":    actingUser,
	}
	execCtx := e.contexts.CreateExecutionContext(trigger, base)

	execution := &models.FlowExecution{
		ID:            executionID,
		FlowID:        deployment.FlowID,
		DeploymentID:  deployment.ID,
		Status:        models.ExecutionRunning,
		TriggerType:   triggerType,
		StartedAt:     time.Now(),
		CorrelationID: correlationID,
		Context:       e.contexts.CreateContextSnapshot(execCtx),
	}
	if err := e.executions.SaveExecution(execution); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}
	e.notifier.NotifyExecution(execution, EventExecutionStarted)

	runErr := e.runPipeline(execution, flowDef, execCtx)
	e.finishExecution(execution, execCtx, runErr)
	return execution, runErr
}

// ResumeExecution re-runs an execution the retry manager transitioned
// back to RUNNING. The pipeline restarts from the first node with the
// persisted context snapshot as its starting state.
func (e *FlowEngine) ResumeExecution(execution *models.FlowExecution) error {
	flowDef, err := e.flows.GetFlowDefinition(execution.FlowID)
	if err != nil {
		return fmt.Errorf("failed to get flow %s: %w", execution.FlowID, err)
	}

	execCtx := e.contexts.CreateIsolatedContext(execution.Context)
	cc := e.contexts.RestoreCorrelationContext(execCtx)
	cc.Apply(execCtx)

	e.notifier.NotifyExecution(execution, EventExecutionStarted)
	runErr := e.runPipeline(execution, flowDef, execCtx)
	e.finishExecution(execution, execCtx, runErr)
	return runErr
}

// runPipeline walks the nodes strictly in order
func (e *FlowEngine) runPipeline(execution *models.FlowExecution, flowDef *models.FlowDefinition, execCtx map[string]interface{}) error {
	for order := range flowDef.Nodes {
		if err := e.executeStep(execution, &flowDef.Nodes[order], order, execCtx); err != nil {
			return err
		}
	}
	return nil
}

// executeStep creates and persists one step record, dispatches to the
// resolved handler and records the outcome. A handler error fails the
// step and is re-raised to halt the pipeline.
func (e *FlowEngine) executeStep(execution *models.FlowExecution, node *models.FlowNode, order int, execCtx map[string]interface{}) error {
	step := &models.FlowExecutionStep{
		ID:            uuid.New().String(),
		ExecutionID:   execution.ID,
		NodeID:        node.ID,
		NodeType:      node.Type,
		StepOrder:     order,
		Status:        models.StepRunning,
		InputData:     e.contexts.CreateContextSnapshot(execCtx),
		CorrelationID: execution.CorrelationID,
		StartedAt:     time.Now(),
	}
	if err := e.executions.SaveStep(step); err != nil {
		return fmt.Errorf("failed to persist step for node %s: %w", node.ID, err)
	}
	e.notifier.NotifyStep(step, EventStepStarted)

	handler, err := e.registry.Resolve(node)
	if err == nil {
		var result map[string]interface{}
		result, err = handler.Execute(execution, step, node, execCtx)
		if err == nil {
			e.aggregator.UpdateStepWithMetrics(step, result)
		}
	}

	step.CompletedAt = time.Now()
	if err != nil {
		step.Status = models.StepFailed
		step.ErrorMessage = err.Error()
		if saveErr := e.executions.SaveStep(step); saveErr != nil {
			log.Printf("execution %s: failed to persist failed step %s: %v", execution.ID, step.ID, saveErr)
		}
		e.notifier.NotifyStep(step, EventStepFailed)
		return fmt.Errorf("node %s (%s) failed: %w", node.ID, node.Type, err)
	}

	step.Status = models.StepCompleted
	if saveErr := e.executions.SaveStep(step); saveErr != nil {
		log.Printf("execution %s: failed to persist completed step %s: %v", execution.ID, step.ID, saveErr)
	}
	e.notifier.NotifyStep(step, EventStepCompleted)
	return nil
}

// finishExecution records the terminal state and runs the bookkeeping
// that must never fail an otherwise-successful execution.
func (e *FlowEngine) finishExecution(execution *models.FlowExecution, execCtx map[string]interface{}, runErr error) {
	execution.CompletedAt = time.Now()
	execution.Context = e.contexts.CreateContextSnapshot(execCtx)

	if runErr != nil {
		execution.Status = models.ExecutionFailed
		execution.ErrorMessage = runErr.Error()
		execution.ErrorKind = errorKindOf(runErr)
	} else {
		execution.Status = models.ExecutionCompleted
		execution.ErrorMessage = ""
		execution.ErrorDetails = ""
		execution.ErrorKind = models.ErrorKindUnknown
		e.aggregator.UpdateExecutionFileMetrics(execution)
	}

	if err := e.executions.SaveExecution(execution); err != nil {
		log.Printf("execution %s: failed to persist terminal state: %v", execution.ID, err)
	}

	if runErr != nil {
		e.notifier.NotifyExecution(execution, EventExecutionFailed)
		e.aggregator.UpdateDeploymentStatistics(execution, false)
	} else {
		e.notifier.NotifyExecution(execution, EventExecutionCompleted)
		e.aggregator.UpdateDeploymentStatistics(execution, true)
	}
}
