// Package runtime provides the flow execution core: the step dispatcher,
// the node handlers, the execution context manager, the result aggregator
// and the retry manager.
package runtime

import (
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

// AdapterService executes adapter protocol implementations. The transfer
// mechanics (file, SFTP, email, ...) live outside this module; the
// orchestration layer only consumes the result map. A sender adapter
// reports new data under the "hasData" key.
type AdapterService interface {
	// ExecuteAdapter runs one adapter against the execution context.
	// The step is nil for scheduler ticks that poll outside a pipeline.
	ExecuteAdapter(adapter *models.Adapter, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error)
}

// AdapterServiceFunc adapts a function to the AdapterService interface
type AdapterServiceFunc func(adapter *models.Adapter, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error)

// ExecuteAdapter runs the wrapped function
func (f AdapterServiceFunc) ExecuteAdapter(adapter *models.Adapter, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error) {
	return f(adapter, execCtx, step)
}

// HasData reports whether an adapter result announced new data to process.
func HasData(result map[string]interface{}) bool {
	if result == nil {
		return false
	}
	hasData, _ := result["hasData"].(bool)
	return hasData
}

// UtilityService executes utility processors (PGP, ZIP, file and data
// transform families), routed by the utility type prefix.
type UtilityService interface {
	// ExecuteUtility runs one utility against the execution context
	ExecuteUtility(utilityType string, config map[string]interface{}, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error)
}

// Notifier receives execution lifecycle events. Delivery is
// fire-and-forget: a failing notifier must never affect the outcome of
// the execution it reports on.
type Notifier interface {
	// NotifyExecution reports an execution lifecycle transition
	NotifyExecution(execution *models.FlowExecution, event string)

	// NotifyStep reports a step start, completion or failure
	NotifyStep(step *models.FlowExecutionStep, event string)
}

// Notification event names
const (
	EventExecutionStarted   = "execution.started"
	EventExecutionCompleted = "execution.completed"
	EventExecutionFailed    = "execution.failed"
	EventExecutionRetry     = "execution.retry_scheduled"
	EventStepStarted        = "step.started"
	EventStepCompleted      = "step.completed"
	EventStepFailed         = "step.failed"
)

// NoopNotifier discards every event
type NoopNotifier struct{}

// NotifyExecution discards the event
func (NoopNotifier) NotifyExecution(*models.FlowExecution, string) {}

// NotifyStep discards the event
func (NoopNotifier) NotifyStep(*models.FlowExecutionStep, string) {}
