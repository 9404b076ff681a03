package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

// RedisProvider implements the StorageProvider interface using Redis.
// Records are stored as JSON blobs with set-based indexes for the
// status and per-deployment queries the scheduler reconciles against.
type RedisProvider struct {
	client          *redis.Client
	prefix          string
	deploymentStore *RedisDeploymentStore
	adapterStore    *RedisAdapterStore
	flowStore       *RedisFlowStore
	executionStore  *RedisExecutionStore
}

// RedisProviderConfig contains configuration for the Redis provider
type RedisProviderConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces every key written by this instance
	KeyPrefix string
}

// NewRedisProvider creates a new Redis storage provider
func NewRedisProvider(config RedisProviderConfig) (*RedisProvider, error) {
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "h2h"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	provider := &RedisProvider{client: client, prefix: config.KeyPrefix}
	provider.deploymentStore = &RedisDeploymentStore{client: client, prefix: config.KeyPrefix}
	provider.adapterStore = &RedisAdapterStore{client: client, prefix: config.KeyPrefix}
	provider.flowStore = &RedisFlowStore{client: client, prefix: config.KeyPrefix}
	provider.executionStore = &RedisExecutionStore{client: client, prefix: config.KeyPrefix}
	return provider, nil
}

// Initialize verifies connectivity
func (p *RedisProvider) Initialize() error {
	if err := p.client.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// GetDeploymentStore returns a store for deployments
func (p *RedisProvider) GetDeploymentStore() DeploymentStore {
	return p.deploymentStore
}

// GetAdapterStore returns a store for adapters
func (p *RedisProvider) GetAdapterStore() AdapterStore {
	return p.adapterStore
}

// GetFlowStore returns a store for flow definitions
func (p *RedisProvider) GetFlowStore() FlowStore {
	return p.flowStore
}

// GetExecutionStore returns a store for executions and steps
func (p *RedisProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// RedisDeploymentStore implements the DeploymentStore interface using Redis
type RedisDeploymentStore struct {
	client *redis.Client
	prefix string
}

func (s *RedisDeploymentStore) key(id string) string {
	return fmt.Sprintf("%s:deployment:%s", s.prefix, id)
}

func (s *RedisDeploymentStore) indexKey() string {
	return fmt.Sprintf("%s:deployments", s.prefix)
}

// SaveDeployment persists a deployment
func (s *RedisDeploymentStore) SaveDeployment(deployment *models.Deployment) error {
	ctx := context.Background()
	data, err := json.Marshal(deployment)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(deployment.ID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), deployment.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	return nil
}

// GetDeployment retrieves a deployment
func (s *RedisDeploymentStore) GetDeployment(id string) (*models.Deployment, error) {
	data, err := s.client.Get(context.Background(), s.key(id)).Result()
	if err == redis.Nil {
		return nil, ErrDeploymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	var deployment models.Deployment
	if err := json.Unmarshal([]byte(data), &deployment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployment: %w", err)
	}
	return &deployment, nil
}

// ListDeployments returns every deployment
func (s *RedisDeploymentStore) ListDeployments() ([]*models.Deployment, error) {
	ctx := context.Background()
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	sort.Strings(ids)

	result := make([]*models.Deployment, 0, len(ids))
	for _, id := range ids {
		deployment, err := s.GetDeployment(id)
		if err == ErrDeploymentNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, deployment)
	}
	return result, nil
}

// ListExecutableDeployments returns deployments the scheduler should run
func (s *RedisDeploymentStore) ListExecutableDeployments() ([]*models.Deployment, error) {
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

// RedisAdapterStore implements the AdapterStore interface using Redis
type RedisAdapterStore struct {
	client *redis.Client
	prefix string
}

func (s *RedisAdapterStore) key(id string) string {
	return fmt.Sprintf("%s:adapter:%s", s.prefix, id)
}

// SaveAdapter persists an adapter
func (s *RedisAdapterStore) SaveAdapter(adapter *models.Adapter) error {
	data, err := json.Marshal(adapter)
	if err != nil {
		return fmt.Errorf("failed to marshal adapter: %w", err)
	}
	if err := s.client.Set(context.Background(), s.key(adapter.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save adapter: %w", err)
	}
	return nil
}

// GetAdapter retrieves an adapter
func (s *RedisAdapterStore) GetAdapter(id string) (*models.Adapter, error) {
	data, err := s.client.Get(context.Background(), s.key(id)).Result()
	if err == redis.Nil {
		return nil, ErrAdapterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get adapter: %w", err)
	}
	var adapter models.Adapter
	if err := json.Unmarshal([]byte(data), &adapter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal adapter: %w", err)
	}
	return &adapter, nil
}

// RedisFlowStore implements the FlowStore interface using Redis
type RedisFlowStore struct {
	client *redis.Client
	prefix string
}

func (s *RedisFlowStore) key(id string) string {
	return fmt.Sprintf("%s:flow:%s", s.prefix, id)
}

// SaveFlowDefinition persists a flow definition
func (s *RedisFlowStore) SaveFlowDefinition(flow *models.FlowDefinition) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}
	if err := s.client.Set(context.Background(), s.key(flow.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

// GetFlowDefinition retrieves a flow definition
func (s *RedisFlowStore) GetFlowDefinition(id string) (*models.FlowDefinition, error) {
	data, err := s.client.Get(context.Background(), s.key(id)).Result()
	if err == redis.Nil {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}
	var flow models.FlowDefinition
	if err := json.Unmarshal([]byte(data), &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	return &flow, nil
}

// RedisExecutionStore implements the ExecutionStore interface using Redis
type RedisExecutionStore struct {
	client *redis.Client
	prefix string
}

func (s *RedisExecutionStore) key(id string) string {
	return fmt.Sprintf("%s:execution:%s", s.prefix, id)
}

func (s *RedisExecutionStore) statusKey(status models.ExecutionStatus) string {
	return fmt.Sprintf("%s:executions:status:%s", s.prefix, status)
}

func (s *RedisExecutionStore) deploymentKey(deploymentID string) string {
	return fmt.Sprintf("%s:executions:deployment:%s", s.prefix, deploymentID)
}

func (s *RedisExecutionStore) stepKey(id string) string {
	return fmt.Sprintf("%s:step:%s", s.prefix, id)
}

func (s *RedisExecutionStore) stepsKey(executionID string) string {
	return fmt.Sprintf("%s:steps:%s", s.prefix, executionID)
}

// SaveExecution persists an execution and maintains the status indexes.
// Status transitions move the id between status sets atomically.
func (s *RedisExecutionStore) SaveExecution(execution *models.FlowExecution) error {
	ctx := context.Background()
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	previous, err := s.GetExecution(execution.ID)
	if err != nil && err != ErrExecutionNotFound {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(execution.ID), data, 0)
	pipe.SAdd(ctx, s.deploymentKey(execution.DeploymentID), execution.ID)
	if previous != nil && previous.Status != execution.Status {
		pipe.SRem(ctx, s.statusKey(previous.Status), execution.ID)
	}
	pipe.SAdd(ctx, s.statusKey(execution.Status), execution.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution
func (s *RedisExecutionStore) GetExecution(id string) (*models.FlowExecution, error) {
	data, err := s.client.Get(context.Background(), s.key(id)).Result()
	if err == redis.Nil {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	var execution models.FlowExecution
	if err := json.Unmarshal([]byte(data), &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &execution, nil
}

// ListExecutionsByStatus returns every execution in the given status
func (s *RedisExecutionStore) ListExecutionsByStatus(status models.ExecutionStatus) ([]*models.FlowExecution, error) {
	ids, err := s.client.SMembers(context.Background(), s.statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return s.fetchWithStatus(ids, status)
}

// ListRunningExecutions returns the RUNNING executions of a deployment
func (s *RedisExecutionStore) ListRunningExecutions(deploymentID string) ([]*models.FlowExecution, error) {
	ids, err := s.client.SMembers(context.Background(), s.deploymentKey(deploymentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return s.fetchWithStatus(ids, models.ExecutionRunning)
}

// ListExecutionsForDeployment returns every execution of a deployment
func (s *RedisExecutionStore) ListExecutionsForDeployment(deploymentID string) ([]*models.FlowExecution, error) {
	ids, err := s.client.SMembers(context.Background(), s.deploymentKey(deploymentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return s.fetchWithStatus(ids, "")
}

// fetchWithStatus loads executions by id, optionally filtering by
// status. Index entries whose record has since disappeared are skipped.
func (s *RedisExecutionStore) fetchWithStatus(ids []string, status models.ExecutionStatus) ([]*models.FlowExecution, error) {
	result := make([]*models.FlowExecution, 0, len(ids))
	for _, id := range ids {
		execution, err := s.GetExecution(id)
		if err == ErrExecutionNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if status != "" && execution.Status != status {
			continue
		}
		result = append(result, execution)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// SaveStep persists an execution step
func (s *RedisExecutionStore) SaveStep(step *models.FlowExecutionStep) error {
	ctx := context.Background()
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.stepKey(step.ID), data, 0)
	pipe.SAdd(ctx, s.stepsKey(step.ExecutionID), step.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// ListSteps returns the steps of an execution in step order
func (s *RedisExecutionStore) ListSteps(executionID string) ([]*models.FlowExecutionStep, error) {
	ctx := context.Background()
	ids, err := s.client.SMembers(ctx, s.stepsKey(executionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	result := make([]*models.FlowExecutionStep, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.stepKey(id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get step: %w", err)
		}
		var step models.FlowExecutionStep
		if err := json.Unmarshal([]byte(data), &step); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step: %w", err)
		}
		result = append(result, &step)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StepOrder < result[j].StepOrder
	})
	return result, nil
}

// GetExecutionFileStats aggregates file and byte counters across steps
func (s *RedisExecutionStore) GetExecutionFileStats(executionID string) (int, int64, error) {
	steps, err := s.ListSteps(executionID)
	if err != nil {
		return 0, 0, err
	}
	var files int
	var bytes int64
	for _, step := range steps {
		files += step.FilesProcessed
		bytes += step.BytesProcessed
	}
	return files, bytes, nil
}
