package models

import "time"

// Deployment is a published, schedulable instance of an integration flow
type Deployment struct {
	// ID of the deployment
	ID string `json:"id"`

	// FlowID is the flow definition this deployment runs
	FlowID string `json:"flow_id"`

	// FlowName is a human-readable name for the flow
	FlowName string `json:"flow_name"`

	// SenderAdapterID is the adapter polled for new data
	SenderAdapterID string `json:"sender_adapter_id"`

	// ReceiverAdapterID is the adapter that consumes flow output
	ReceiverAdapterID string `json:"receiver_adapter_id"`

	// MaxConcurrentExecutions bounds simultaneous executions (default 1)
	MaxConcurrentExecutions int `json:"max_concurrent_executions"`

	// ExecutionEnabled gates whether the scheduler runs this deployment
	ExecutionEnabled bool `json:"execution_enabled"`

	// Undeployed marks a retired deployment; it is never erased
	Undeployed bool `json:"undeployed"`

	// DeployedBy is the user that published the deployment and the
	// acting identity for scheduled executions
	DeployedBy string `json:"deployed_by"`

	// DeployedAt is when the deployment was published
	DeployedAt time.Time `json:"deployed_at"`

	// LastExecutionAt is when the deployment last triggered an execution
	LastExecutionAt time.Time `json:"last_execution_at,omitempty"`

	// ConsecutiveFailures counts failures since the last success
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastError is the most recent execution error message
	LastError string `json:"last_error,omitempty"`

	// TotalExecutions counts every recorded run
	TotalExecutions int64 `json:"total_executions"`

	// FailedExecutions counts every recorded failed run
	FailedExecutions int64 `json:"failed_executions"`

	// TotalDurationMs sums the durations of recorded runs
	TotalDurationMs int64 `json:"total_duration_ms"`
}

// EffectiveMaxConcurrent returns the concurrency limit, defaulting to 1
// when the deployment was stored without an explicit value.
func (d *Deployment) EffectiveMaxConcurrent() int {
	if d.MaxConcurrentExecutions <= 0 {
		return 1
	}
	return d.MaxConcurrentExecutions
}

// Executable reports whether the scheduler should run this deployment.
func (d *Deployment) Executable() bool {
	return d.ExecutionEnabled && !d.Undeployed
}

// RecordExecution rolls one finished run into the deployment statistics.
func (d *Deployment) RecordExecution(duration time.Duration, success bool) {
	d.TotalExecutions++
	d.TotalDurationMs += duration.Milliseconds()
	if success {
		d.ConsecutiveFailures = 0
		d.LastError = ""
	} else {
		d.FailedExecutions++
		d.ConsecutiveFailures++
	}
}

// RecordError notes a failure that happened outside a tracked execution,
// such as a sender adapter tick that errored before triggering a flow.
func (d *Deployment) RecordError(message string) {
	d.ConsecutiveFailures++
	d.LastError = message
}
