// Package storage provides interfaces for persistent storage.
package storage

import (
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

// StorageProvider defines the interface for persistence backends
type StorageProvider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// GetDeploymentStore returns a store for deployments
	GetDeploymentStore() DeploymentStore

	// GetAdapterStore returns a store for adapters
	GetAdapterStore() AdapterStore

	// GetFlowStore returns a store for flow definitions
	GetFlowStore() FlowStore

	// GetExecutionStore returns a store for executions and their steps
	GetExecutionStore() ExecutionStore
}

// DeploymentStore manages deployment persistence
type DeploymentStore interface {
	// SaveDeployment persists a deployment
	SaveDeployment(deployment *models.Deployment) error

	// GetDeployment retrieves a deployment
	GetDeployment(id string) (*models.Deployment, error)

	// ListDeployments returns every deployment, including undeployed ones
	ListDeployments() ([]*models.Deployment, error)

	// ListExecutableDeployments returns deployments the scheduler should run
	ListExecutableDeployments() ([]*models.Deployment, error)
}

// AdapterStore manages adapter persistence
type AdapterStore interface {
	// SaveAdapter persists an adapter
	SaveAdapter(adapter *models.Adapter) error

	// GetAdapter retrieves an adapter
	GetAdapter(id string) (*models.Adapter, error)
}

// FlowStore manages flow definition persistence
type FlowStore interface {
	// SaveFlowDefinition persists a flow definition
	SaveFlowDefinition(flow *models.FlowDefinition) error

	// GetFlowDefinition retrieves a flow definition
	GetFlowDefinition(id string) (*models.FlowDefinition, error)
}

// ExecutionStore manages execution and step persistence
type ExecutionStore interface {
	// SaveExecution persists an execution
	SaveExecution(execution *models.FlowExecution) error

	// GetExecution retrieves an execution
	GetExecution(id string) (*models.FlowExecution, error)

	// ListExecutionsByStatus returns every execution in the given status
	ListExecutionsByStatus(status models.ExecutionStatus) ([]*models.FlowExecution, error)

	// ListRunningExecutions returns the executions currently RUNNING for
	// a deployment. This is the ground truth the scheduler reconciles
	// its in-memory tracking against.
	ListRunningExecutions(deploymentID string) ([]*models.FlowExecution, error)

	// ListExecutionsForDeployment returns every execution of a deployment
	ListExecutionsForDeployment(deploymentID string) ([]*models.FlowExecution, error)

	// SaveStep persists an execution step
	SaveStep(step *models.FlowExecutionStep) error

	// ListSteps returns the steps of an execution in step order
	ListSteps(executionID string) ([]*models.FlowExecutionStep, error)

	// GetExecutionFileStats aggregates file and byte counters across the
	// steps of an execution
	GetExecutionFileStats(executionID string) (files int, bytes int64, err error)
}
