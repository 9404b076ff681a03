package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

// Errors returned by storage providers
var (
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrAdapterNotFound    = errors.New("adapter not found")
	ErrFlowNotFound       = errors.New("flow not found")
	ErrExecutionNotFound  = errors.New("execution not found")
)

// MemoryProvider implements the StorageProvider interface using in-memory storage
type MemoryProvider struct {
	deploymentStore *MemoryDeploymentStore
	adapterStore    *MemoryAdapterStore
	flowStore       *MemoryFlowStore
	executionStore  *MemoryExecutionStore
}

// NewMemoryProvider creates a new in-memory storage provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		deploymentStore: NewMemoryDeploymentStore(),
		adapterStore:    NewMemoryAdapterStore(),
		flowStore:       NewMemoryFlowStore(),
		executionStore:  NewMemoryExecutionStore(),
	}
}

// Initialize sets up the storage backend
func (p *MemoryProvider) Initialize() error {
	// Nothing to initialize for in-memory storage
	return nil
}

// Close cleans up resources
func (p *MemoryProvider) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// GetDeploymentStore returns a store for deployments
func (p *MemoryProvider) GetDeploymentStore() DeploymentStore {
	return p.deploymentStore
}

// GetAdapterStore returns a store for adapters
func (p *MemoryProvider) GetAdapterStore() AdapterStore {
	return p.adapterStore
}

// GetFlowStore returns a store for flow definitions
func (p *MemoryProvider) GetFlowStore() FlowStore {
	return p.flowStore
}

// GetExecutionStore returns a store for executions and steps
func (p *MemoryProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// MemoryDeploymentStore implements the DeploymentStore interface using in-memory storage
type MemoryDeploymentStore struct {
	deployments map[string]models.Deployment
	mu          sync.RWMutex
}

// NewMemoryDeploymentStore creates a new in-memory deployment store
func NewMemoryDeploymentStore() *MemoryDeploymentStore {
	return &MemoryDeploymentStore{
		deployments: make(map[string]models.Deployment),
	}
}

// SaveDeployment persists a deployment
func (s *MemoryDeploymentStore) SaveDeployment(deployment *models.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[deployment.ID] = *deployment
	return nil
}

// GetDeployment retrieves a deployment
func (s *MemoryDeploymentStore) GetDeployment(id string) (*models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deployment, ok := s.deployments[id]
	if !ok {
		return nil, ErrDeploymentNotFound
	}
	return &deployment, nil
}

// ListDeployments returns every deployment
func (s *MemoryDeploymentStore) ListDeployments() ([]*models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*models.Deployment, 0, len(s.deployments))
	for id := range s.deployments {
		deployment := s.deployments[id]
		result = append(result, &deployment)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListExecutableDeployments returns deployments the scheduler should run
func (s *MemoryDeploymentStore) ListExecutableDeployments() ([]*models.Deployment, error) {
	all, err := s.ListDeployments()
	if err != nil {
		return nil, err
	}
	result := make([]*models.Deployment, 0, len(all))
	for _, deployment := range all {
		if deployment.Executable() {
			result = append(result, deployment)
		}
	}
	return result, nil
}

// MemoryAdapterStore implements the AdapterStore interface using in-memory storage
type MemoryAdapterStore struct {
	adapters map[string]models.Adapter
	mu       sync.RWMutex
}

// NewMemoryAdapterStore creates a new in-memory adapter store
func NewMemoryAdapterStore() *MemoryAdapterStore {
	return &MemoryAdapterStore{
		adapters: make(map[string]models.Adapter),
	}
}

// SaveAdapter persists an adapter
func (s *MemoryAdapterStore) SaveAdapter(adapter *models.Adapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[adapter.ID] = *adapter
	return nil
}

// GetAdapter retrieves an adapter
func (s *MemoryAdapterStore) GetAdapter(id string) (*models.Adapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	adapter, ok := s.adapters[id]
	if !ok {
		return nil, ErrAdapterNotFound
	}
	return &adapter, nil
}

// MemoryFlowStore implements the FlowStore interface using in-memory storage
type MemoryFlowStore struct {
	flows map[string]models.FlowDefinition
	mu    sync.RWMutex
}

// NewMemoryFlowStore creates a new in-memory flow store
func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{
		flows: make(map[string]models.FlowDefinition),
	}
}

// SaveFlowDefinition persists a flow definition
func (s *MemoryFlowStore) SaveFlowDefinition(flow *models.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flow.ID] = *flow
	return nil
}

// GetFlowDefinition retrieves a flow definition
func (s *MemoryFlowStore) GetFlowDefinition(id string) (*models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flow, ok := s.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return &flow, nil
}

// MemoryExecutionStore implements the ExecutionStore interface using in-memory storage
type MemoryExecutionStore struct {
	executions map[string]models.FlowExecution
	steps      map[string][]models.FlowExecutionStep
	mu         sync.RWMutex
}

// NewMemoryExecutionStore creates a new in-memory execution store
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions: make(map[string]models.FlowExecution),
		steps:      make(map[string][]models.FlowExecutionStep),
	}
}

// SaveExecution persists an execution
func (s *MemoryExecutionStore) SaveExecution(execution *models.FlowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[execution.ID] = *execution
	return nil
}

// GetExecution retrieves an execution
func (s *MemoryExecutionStore) GetExecution(id string) (*models.FlowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	execution, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return &execution, nil
}

// ListExecutionsByStatus returns every execution in the given status
func (s *MemoryExecutionStore) ListExecutionsByStatus(status models.ExecutionStatus) ([]*models.FlowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.FlowExecution
	for id := range s.executions {
		execution := s.executions[id]
		if execution.Status == status {
			result = append(result, &execution)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.Before(result[j].StartedAt) })
	return result, nil
}

// ListRunningExecutions returns the RUNNING executions of a deployment
func (s *MemoryExecutionStore) ListRunningExecutions(deploymentID string) ([]*models.FlowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.FlowExecution
	for id := range s.executions {
		execution := s.executions[id]
		if execution.DeploymentID == deploymentID && execution.Status == models.ExecutionRunning {
			result = append(result, &execution)
		}
	}
	return result, nil
}

// ListExecutionsForDeployment returns every execution of a deployment
func (s *MemoryExecutionStore) ListExecutionsForDeployment(deploymentID string) ([]*models.FlowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.FlowExecution
	for id := range s.executions {
		execution := s.executions[id]
		if execution.DeploymentID == deploymentID {
			result = append(result, &execution)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.Before(result[j].StartedAt) })
	return result, nil
}

// SaveStep persists an execution step
func (s *MemoryExecutionStore) SaveStep(step *models.FlowExecutionStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.steps[step.ExecutionID]
	for i := range steps {
		if steps[i].ID == step.ID {
			steps[i] = *step
			return nil
		}
	}
	s.steps[step.ExecutionID] = append(steps, *step)
	return nil
}

// ListSteps returns the steps of an execution in step order
func (s *MemoryExecutionStore) ListSteps(executionID string) ([]*models.FlowExecutionStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := s.steps[executionID]
	result := make([]*models.FlowExecutionStep, 0, len(steps))
	for i := range steps {
		step := steps[i]
		result = append(result, &step)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StepOrder < result[j].StepOrder })
	return result, nil
}

// GetExecutionFileStats aggregates file and byte counters across steps
func (s *MemoryExecutionStore) GetExecutionFileStats(executionID string) (int, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var files int
	var bytes int64
	for _, step := range s.steps[executionID] {
		files += step.FilesProcessed
		bytes += step.BytesProcessed
	}
	return files, bytes, nil
}
