// Package models contains the data model shared by the scheduler,
// the flow engine and the storage backends.
package models

import "time"

// ExecutionStatus represents the state of a flow execution
type ExecutionStatus string

const (
	// ExecutionRunning means the execution is currently in progress
	ExecutionRunning ExecutionStatus = "RUNNING"

	// ExecutionCompleted means the execution finished successfully
	ExecutionCompleted ExecutionStatus = "COMPLETED"

	// ExecutionFailed means the execution finished with an error
	ExecutionFailed ExecutionStatus = "FAILED"

	// ExecutionCancelled means the execution was cancelled and will not run again
	ExecutionCancelled ExecutionStatus = "CANCELLED"

	// ExecutionRetryPending means a failed execution is waiting for its retry slot
	ExecutionRetryPending ExecutionStatus = "RETRY_PENDING"
)

// TriggerType describes what caused a flow execution to start
type TriggerType string

const (
	// TriggerScheduled is a timer-driven execution
	TriggerScheduled TriggerType = "SCHEDULED"

	// TriggerManual is an operator-requested execution
	TriggerManual TriggerType = "MANUAL"

	// TriggerRetry is a re-run of a previously failed execution
	TriggerRetry TriggerType = "RETRY"
)

// ErrorKind classifies a failure for retry eligibility. The keyword
// heuristic on the error message is used when no kind was attached.
type ErrorKind string

const (
	// ErrorKindUnknown means the failure was not classified at the point of failure
	ErrorKindUnknown ErrorKind = ""

	// ErrorKindTransient means the failure is expected to clear on its own
	ErrorKindTransient ErrorKind = "TRANSIENT"

	// ErrorKindPermanent means retrying can never succeed
	ErrorKindPermanent ErrorKind = "PERMANENT"
)

// FlowExecution is one run of a deployment's pipeline
type FlowExecution struct {
	// ID of the execution
	ID string `json:"id"`

	// FlowID is the ID of the flow being executed
	FlowID string `json:"flow_id"`

	// DeploymentID is the deployment this execution ran under
	DeploymentID string `json:"deployment_id"`

	// Status of the execution
	Status ExecutionStatus `json:"status"`

	// TriggerType describes what started the execution
	TriggerType TriggerType `json:"trigger_type"`

	// StartedAt is when the execution started
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the execution reached a terminal state
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// RetryAttempt counts how many times this execution has been retried
	RetryAttempt int `json:"retry_attempt"`

	// ScheduledFor is when a RETRY_PENDING execution becomes runnable
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`

	// ErrorMessage is the failure message, if any
	ErrorMessage string `json:"error_message,omitempty"`

	// ErrorDetails carries additional failure context
	ErrorDetails string `json:"error_details,omitempty"`

	// ErrorKind is the structured failure classification, when available
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// FilesProcessed is the file total aggregated across the steps
	FilesProcessed int `json:"files_processed"`

	// BytesProcessed is the byte total aggregated across the steps
	BytesProcessed int64 `json:"bytes_processed"`

	// Context is a sanitized snapshot of the execution context
	Context map[string]interface{} `json:"context,omitempty"`

	// CorrelationID ties the execution to its steps and notifications
	CorrelationID string `json:"correlation_id"`
}

// IsTerminal reports whether the execution can never run again.
// FAILED is not terminal: the retry path may move it back to RUNNING.
func (e *FlowExecution) IsTerminal() bool {
	return e.Status == ExecutionCompleted || e.Status == ExecutionCancelled
}

// StepStatus represents the state of a single step within an execution
type StepStatus string

const (
	// StepRunning means the step is currently executing
	StepRunning StepStatus = "RUNNING"

	// StepCompleted means the step finished successfully
	StepCompleted StepStatus = "COMPLETED"

	// StepFailed means the step finished with an error
	StepFailed StepStatus = "FAILED"
)

// FlowExecutionStep is one node's execution within a FlowExecution.
// Steps are owned exclusively by their execution and never shared.
type FlowExecutionStep struct {
	// ID of the step
	ID string `json:"id"`

	// ExecutionID is the owning execution
	ExecutionID string `json:"execution_id"`

	// NodeID is the flow node this step executed
	NodeID string `json:"node_id"`

	// NodeType is the type of the flow node
	NodeType string `json:"node_type"`

	// StepOrder is the position of this step in the pipeline
	StepOrder int `json:"step_order"`

	// Status of the step
	Status StepStatus `json:"status"`

	// InputData is a sanitized snapshot of the context when the step started
	InputData map[string]interface{} `json:"input_data,omitempty"`

	// OutputData is the result returned by the node handler
	OutputData map[string]interface{} `json:"output_data,omitempty"`

	// FilesProcessed counts file entries handled by this step
	FilesProcessed int `json:"files_processed"`

	// BytesProcessed sums the sizes of files handled by this step
	BytesProcessed int64 `json:"bytes_processed"`

	// ErrorMessage is the failure message, if any
	ErrorMessage string `json:"error_message,omitempty"`

	// CorrelationID is inherited from the owning execution
	CorrelationID string `json:"correlation_id"`

	// StartedAt is when the step started
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the step finished
	CompletedAt time.Time `json:"completed_at,omitempty"`
}
