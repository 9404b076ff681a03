package runtime

import (
	"log"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/storage"
)

// metricFileKeys are the step-result keys whose list entries count
// toward the file metrics. Entries are summed across keys, not
// deduplicated.
var metricFileKeys = []string{KeyFoundFiles, KeyProcessedFiles}

// ResultAggregator extracts metrics from step outputs and rolls them
// into execution and deployment counters. Every write path here is
// bookkeeping: failures are logged and swallowed, never escalated.
type ResultAggregator struct {
	executions  storage.ExecutionStore
	deployments storage.DeploymentStore
	contexts    *ContextManager
}

// NewResultAggregator creates a new result aggregator
func NewResultAggregator(executions storage.ExecutionStore, deployments storage.DeploymentStore, contexts *ContextManager) *ResultAggregator {
	return &ResultAggregator{
		executions:  executions,
		deployments: deployments,
		contexts:    contexts,
	}
}

// ExtractStepMetrics counts file entries and sums their sizes from a
// step result. When no per-file sizes were found, a scalar
// totalBytesProcessed value is used as the byte count instead.
func (a *ResultAggregator) ExtractStepMetrics(result map[string]interface{}) (int, int64) {
	var files int
	var bytes int64
	var sawSize bool

	for _, key := range metricFileKeys {
		list, ok := result[key].([]interface{})
		if !ok {
			continue
		}
		files += len(list)
		for _, entry := range list {
			entryMap, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			if size, ok := numberValue(entryMap["size"]); ok {
				bytes += size
				sawSize = true
			}
		}
	}

	if !sawSize {
		if total, ok := numberValue(result["totalBytesProcessed"]); ok {
			bytes = total
		}
	}
	return files, bytes
}

// UpdateStepWithMetrics writes the file/byte counters and the output
// data onto a step record.
func (a *ResultAggregator) UpdateStepWithMetrics(step *models.FlowExecutionStep, result map[string]interface{}) {
	files, bytes := a.ExtractStepMetrics(result)
	step.FilesProcessed = files
	step.BytesProcessed = bytes
	step.OutputData = result
}

// UpdateExecutionFileMetrics pulls the aggregate file totals for an
// execution from the step statistics query.
func (a *ResultAggregator) UpdateExecutionFileMetrics(execution *models.FlowExecution) {
	files, bytes, err := a.executions.GetExecutionFileStats(execution.ID)
	if err != nil {
		log.Printf("execution %s: failed to aggregate file metrics: %v", execution.ID, err)
		return
	}
	execution.FilesProcessed = files
	execution.BytesProcessed = bytes
}

// UpdateDeploymentStatistics rolls one finished execution into its
// deployment's counters. The deployment id is read out of the
// execution context; when absent, there is nothing to update.
func (a *ResultAggregator) UpdateDeploymentStatistics(execution *models.FlowExecution, success bool) {
	deploymentID, ok := a.contexts.GetDeploymentID(execution.Context)
	if !ok {
		deploymentID = execution.DeploymentID
	}
	if deploymentID == "" {
		return
	}

	deployment, err := a.deployments.GetDeployment(deploymentID)
	if err != nil {
		log.Printf("execution %s: failed to load deployment %s for statistics: %v", execution.ID, deploymentID, err)
		return
	}

	duration := execution.CompletedAt.Sub(execution.StartedAt)
	if duration < 0 {
		duration = 0
	}
	deployment.RecordExecution(duration, success)
	if !success {
		deployment.LastError = execution.ErrorMessage
	}

	if err := a.deployments.SaveDeployment(deployment); err != nil {
		log.Printf("execution %s: failed to persist deployment statistics: %v", execution.ID, err)
	}
}

// RecordDeploymentError notes a failure that happened before any
// execution was created, such as a sender adapter tick error.
func (a *ResultAggregator) RecordDeploymentError(deploymentID, message string) {
	deployment, err := a.deployments.GetDeployment(deploymentID)
	if err != nil {
		log.Printf("deployment %s: failed to load for error recording: %v", deploymentID, err)
		return
	}
	deployment.RecordError(message)
	if err := a.deployments.SaveDeployment(deployment); err != nil {
		log.Printf("deployment %s: failed to persist error counters: %v", deploymentID, err)
	}
}

// numberValue reads a numeric value regardless of how the decoder
// represented it.
func numberValue(value interface{}) (int64, bool) {
	switch typed := value.(type) {
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case float32:
		return int64(typed), true
	case float64:
		return int64(typed), true
	default:
		return 0, false
	}
}
