package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

// PostgreSQLProvider implements the StorageProvider interface using PostgreSQL
type PostgreSQLProvider struct {
	db              *sql.DB
	deploymentStore *PostgreSQLDeploymentStore
	adapterStore    *PostgreSQLAdapterStore
	flowStore       *PostgreSQLFlowStore
	executionStore  *PostgreSQLExecutionStore
}

// PostgreSQLProviderConfig contains configuration for the PostgreSQL provider
type PostgreSQLProviderConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewPostgreSQLProvider creates a new PostgreSQL storage provider
func NewPostgreSQLProvider(config PostgreSQLProviderConfig) (*PostgreSQLProvider, error) {
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	provider := &PostgreSQLProvider{db: db}
	provider.deploymentStore = &PostgreSQLDeploymentStore{db: db}
	provider.adapterStore = &PostgreSQLAdapterStore{db: db}
	provider.flowStore = &PostgreSQLFlowStore{db: db}
	provider.executionStore = &PostgreSQLExecutionStore{db: db}
	return provider, nil
}

// Initialize creates the tables if they don't exist
func (p *PostgreSQLProvider) Initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS adapters (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deployments (
			id TEXT PRIMARY KEY,
			execution_enabled BOOLEAN NOT NULL,
			undeployed BOOLEAN NOT NULL,
			data JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS flows (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS flow_executions (
			id TEXT PRIMARY KEY,
			deployment_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			data JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS flow_executions_status_idx ON flow_executions (status)`,
		`CREATE INDEX IF NOT EXISTS flow_executions_deployment_idx ON flow_executions (deployment_id)`,
		`CREATE TABLE IF NOT EXISTS flow_execution_steps (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			step_order INT NOT NULL,
			files_processed INT NOT NULL DEFAULT 0,
			bytes_processed BIGINT NOT NULL DEFAULT 0,
			data JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS flow_execution_steps_execution_idx ON flow_execution_steps (execution_id)`,
	}
	for _, statement := range statements {
		if _, err := p.db.Exec(statement); err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL schema: %w", err)
		}
	}
	return nil
}

// Close cleans up resources
func (p *PostgreSQLProvider) Close() error {
	return p.db.Close()
}

// GetDeploymentStore returns a store for deployments
func (p *PostgreSQLProvider) GetDeploymentStore() DeploymentStore {
	return p.deploymentStore
}

// GetAdapterStore returns a store for adapters
func (p *PostgreSQLProvider) GetAdapterStore() AdapterStore {
	return p.adapterStore
}

// GetFlowStore returns a store for flow definitions
func (p *PostgreSQLProvider) GetFlowStore() FlowStore {
	return p.flowStore
}

// GetExecutionStore returns a store for executions and steps
func (p *PostgreSQLProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// PostgreSQLDeploymentStore implements the DeploymentStore interface using PostgreSQL
type PostgreSQLDeploymentStore struct {
	db *sql.DB
}

// SaveDeployment persists a deployment
func (s *PostgreSQLDeploymentStore) SaveDeployment(deployment *models.Deployment) error {
	data, err := json.Marshal(deployment)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO deployments (id, execution_enabled, undeployed, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET execution_enabled = $2, undeployed = $3, data = $4
	`, deployment.ID, deployment.ExecutionEnabled, deployment.Undeployed, data)
	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	return nil
}

// GetDeployment retrieves a deployment
func (s *PostgreSQLDeploymentStore) GetDeployment(id string) (*models.Deployment, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM deployments WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrDeploymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	var deployment models.Deployment
	if err := json.Unmarshal(data, &deployment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployment: %w", err)
	}
	return &deployment, nil
}

// ListDeployments returns every deployment
func (s *PostgreSQLDeploymentStore) ListDeployments() ([]*models.Deployment, error) {
	return s.queryDeployments(`SELECT data FROM deployments ORDER BY id`)
}

// ListExecutableDeployments returns deployments the scheduler should run
func (s *PostgreSQLDeploymentStore) ListExecutableDeployments() ([]*models.Deployment, error) {
	return s.queryDeployments(`SELECT data FROM deployments WHERE execution_enabled AND NOT undeployed ORDER BY id`)
}

func (s *PostgreSQLDeploymentStore) queryDeployments(query string) ([]*models.Deployment, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var result []*models.Deployment
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		var deployment models.Deployment
		if err := json.Unmarshal(data, &deployment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deployment: %w", err)
		}
		result = append(result, &deployment)
	}
	return result, rows.Err()
}

// PostgreSQLAdapterStore implements the AdapterStore interface using PostgreSQL
type PostgreSQLAdapterStore struct {
	db *sql.DB
}

// SaveAdapter persists an adapter
func (s *PostgreSQLAdapterStore) SaveAdapter(adapter *models.Adapter) error {
	data, err := json.Marshal(adapter)
	if err != nil {
		return fmt.Errorf("failed to marshal adapter: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO adapters (id, data) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data = $2
	`, adapter.ID, data)
	if err != nil {
		return fmt.Errorf("failed to save adapter: %w", err)
	}
	return nil
}

// GetAdapter retrieves an adapter
func (s *PostgreSQLAdapterStore) GetAdapter(id string) (*models.Adapter, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM adapters WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrAdapterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get adapter: %w", err)
	}
	var adapter models.Adapter
	if err := json.Unmarshal(data, &adapter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal adapter: %w", err)
	}
	return &adapter, nil
}

// PostgreSQLFlowStore implements the FlowStore interface using PostgreSQL
type PostgreSQLFlowStore struct {
	db *sql.DB
}

// SaveFlowDefinition persists a flow definition
func (s *PostgreSQLFlowStore) SaveFlowDefinition(flow *models.FlowDefinition) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO flows (id, data) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data = $2
	`, flow.ID, data)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

// GetFlowDefinition retrieves a flow definition
func (s *PostgreSQLFlowStore) GetFlowDefinition(id string) (*models.FlowDefinition, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM flows WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}
	var flow models.FlowDefinition
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	return &flow, nil
}

// PostgreSQLExecutionStore implements the ExecutionStore interface using PostgreSQL
type PostgreSQLExecutionStore struct {
	db *sql.DB
}

// SaveExecution persists an execution
func (s *PostgreSQLExecutionStore) SaveExecution(execution *models.FlowExecution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO flow_executions (id, deployment_id, status, started_at, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET deployment_id = $2, status = $3, started_at = $4, data = $5
	`, execution.ID, execution.DeploymentID, string(execution.Status), execution.StartedAt, data)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution
func (s *PostgreSQLExecutionStore) GetExecution(id string) (*models.FlowExecution, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM flow_executions WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	var execution models.FlowExecution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &execution, nil
}

// ListExecutionsByStatus returns every execution in the given status
func (s *PostgreSQLExecutionStore) ListExecutionsByStatus(status models.ExecutionStatus) ([]*models.FlowExecution, error) {
	return s.queryExecutions(`SELECT data FROM flow_executions WHERE status = $1 ORDER BY started_at`, string(status))
}

// ListRunningExecutions returns the RUNNING executions of a deployment
func (s *PostgreSQLExecutionStore) ListRunningExecutions(deploymentID string) ([]*models.FlowExecution, error) {
	return s.queryExecutions(`SELECT data FROM flow_executions WHERE deployment_id = $1 AND status = 'RUNNING'`, deploymentID)
}

// ListExecutionsForDeployment returns every execution of a deployment
func (s *PostgreSQLExecutionStore) ListExecutionsForDeployment(deploymentID string) ([]*models.FlowExecution, error) {
	return s.queryExecutions(`SELECT data FROM flow_executions WHERE deployment_id = $1 ORDER BY started_at`, deploymentID)
}

func (s *PostgreSQLExecutionStore) queryExecutions(query string, args ...interface{}) ([]*models.FlowExecution, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var result []*models.FlowExecution
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		var execution models.FlowExecution
		if err := json.Unmarshal(data, &execution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		result = append(result, &execution)
	}
	return result, rows.Err()
}

// SaveStep persists an execution step
func (s *PostgreSQLExecutionStore) SaveStep(step *models.FlowExecutionStep) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO flow_execution_steps (id, execution_id, step_order, files_processed, bytes_processed, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET step_order = $3, files_processed = $4, bytes_processed = $5, data = $6
	`, step.ID, step.ExecutionID, step.StepOrder, step.FilesProcessed, step.BytesProcessed, data)
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// ListSteps returns the steps of an execution in step order
func (s *PostgreSQLExecutionStore) ListSteps(executionID string) ([]*models.FlowExecutionStep, error) {
	rows, err := s.db.Query(`SELECT data FROM flow_execution_steps WHERE execution_id = $1 ORDER BY step_order`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var result []*models.FlowExecutionStep
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		var step models.FlowExecutionStep
		if err := json.Unmarshal(data, &step); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step: %w", err)
		}
		result = append(result, &step)
	}
	return result, rows.Err()
}

// GetExecutionFileStats aggregates file and byte counters across steps
func (s *PostgreSQLExecutionStore) GetExecutionFileStats(executionID string) (int, int64, error) {
	var files int
	var bytes int64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(files_processed), 0), COALESCE(SUM(bytes_processed), 0)
		FROM flow_execution_steps WHERE execution_id = $1
	`, executionID).Scan(&files, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate step metrics: %w", err)
	}
	return files, bytes, nil
}
