package storage

import (
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

// DynamoDBProvider implements the StorageProvider interface using DynamoDB
type DynamoDBProvider struct {
	client          dynamodbiface.DynamoDBAPI
	tablePrefix     string
	deploymentStore *DynamoDBDeploymentStore
	adapterStore    *DynamoDBAdapterStore
	flowStore       *DynamoDBFlowStore
	executionStore  *DynamoDBExecutionStore
}

// DynamoDBProviderConfig contains configuration for the DynamoDB provider
type DynamoDBProviderConfig struct {
	Region      string
	AccessKey   string
	SecretKey   string
	TablePrefix string
	Endpoint    string // Optional, for local DynamoDB
}

// NewDynamoDBProvider creates a new DynamoDB storage provider
func NewDynamoDBProvider(config DynamoDBProviderConfig) (*DynamoDBProvider, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" && config.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		)
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewDynamoDBProviderWithClient(dynamodb.New(sess), config.TablePrefix), nil
}

// NewDynamoDBProviderWithClient creates a new DynamoDB storage provider with a
// custom client. This is primarily used for testing with mock clients.
func NewDynamoDBProviderWithClient(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBProvider {
	provider := &DynamoDBProvider{
		client:      client,
		tablePrefix: tablePrefix,
	}
	provider.deploymentStore = &DynamoDBDeploymentStore{client: client, tableName: tablePrefix + "deployments"}
	provider.adapterStore = &DynamoDBAdapterStore{client: client, tableName: tablePrefix + "adapters"}
	provider.flowStore = &DynamoDBFlowStore{client: client, tableName: tablePrefix + "flows"}
	provider.executionStore = &DynamoDBExecutionStore{
		client:         client,
		tableName:      tablePrefix + "executions",
		stepsTableName: tablePrefix + "execution_steps",
	}
	return provider
}

// Initialize creates the tables if they don't exist
func (p *DynamoDBProvider) Initialize() error {
	if err := ensureTable(p.client, p.deploymentStore.tableName, simpleKeySchema()); err != nil {
		return fmt.Errorf("failed to initialize deployment store: %w", err)
	}
	if err := ensureTable(p.client, p.adapterStore.tableName, simpleKeySchema()); err != nil {
		return fmt.Errorf("failed to initialize adapter store: %w", err)
	}
	if err := ensureTable(p.client, p.flowStore.tableName, simpleKeySchema()); err != nil {
		return fmt.Errorf("failed to initialize flow store: %w", err)
	}
	if err := ensureTable(p.client, p.executionStore.tableName, simpleKeySchema()); err != nil {
		return fmt.Errorf("failed to initialize execution store: %w", err)
	}
	if err := ensureTable(p.client, p.executionStore.stepsTableName, stepKeySchema()); err != nil {
		return fmt.Errorf("failed to initialize step store: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *DynamoDBProvider) Close() error {
	// Nothing to close for DynamoDB client
	return nil
}

// GetDeploymentStore returns a store for deployments
func (p *DynamoDBProvider) GetDeploymentStore() DeploymentStore {
	return p.deploymentStore
}

// GetAdapterStore returns a store for adapters
func (p *DynamoDBProvider) GetAdapterStore() AdapterStore {
	return p.adapterStore
}

// GetFlowStore returns a store for flow definitions
func (p *DynamoDBProvider) GetFlowStore() FlowStore {
	return p.flowStore
}

// GetExecutionStore returns a store for executions and steps
func (p *DynamoDBProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

type tableKeySchema struct {
	attributes []*dynamodb.AttributeDefinition
	keys       []*dynamodb.KeySchemaElement
}

func simpleKeySchema() tableKeySchema {
	return tableKeySchema{
		attributes: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: aws.String("S")},
		},
		keys: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: aws.String("HASH")},
		},
	}
}

func stepKeySchema() tableKeySchema {
	return tableKeySchema{
		attributes: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("execution_id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("id"), AttributeType: aws.String("S")},
		},
		keys: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("execution_id"), KeyType: aws.String("HASH")},
			{AttributeName: aws.String("id"), KeyType: aws.String("RANGE")},
		},
	}
}

// ensureTable creates a table when it does not already exist
func ensureTable(client dynamodbiface.DynamoDBAPI, tableName string, schema tableKeySchema) error {
	_, err := client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err == nil {
		return nil
	}

	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeResourceNotFoundException {
		_, err = client.CreateTable(&dynamodb.CreateTableInput{
			TableName:            aws.String(tableName),
			AttributeDefinitions: schema.attributes,
			KeySchema:            schema.keys,
			BillingMode:          aws.String("PAY_PER_REQUEST"),
		})
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", tableName, err)
		}
		return nil
	}
	return fmt.Errorf("failed to describe table %s: %w", tableName, err)
}

// putItem marshals a record and writes it to a table
func putItem(client dynamodbiface.DynamoDBAPI, tableName string, record interface{}) error {
	item, err := dynamodbattribute.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	_, err = client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// getItemByID fetches a record keyed by ID into out. Returns false when
// the item does not exist.
func getItemByID(client dynamodbiface.DynamoDBAPI, tableName, id string, out interface{}) (bool, error) {
	result, err := client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(id)},
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to get item: %w", err)
	}
	if result.Item == nil || len(result.Item) == 0 {
		return false, nil
	}
	if err := dynamodbattribute.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return true, nil
}

// DynamoDBDeploymentStore implements the DeploymentStore interface using DynamoDB
type DynamoDBDeploymentStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// SaveDeployment persists a deployment
func (s *DynamoDBDeploymentStore) SaveDeployment(deployment *models.Deployment) error {
	return putItem(s.client, s.tableName, deployment)
}

// GetDeployment retrieves a deployment
func (s *DynamoDBDeploymentStore) GetDeployment(id string) (*models.Deployment, error) {
	var deployment models.Deployment
	found, err := getItemByID(s.client, s.tableName, id, &deployment)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrDeploymentNotFound
	}
	return &deployment, nil
}

// ListDeployments returns every deployment
func (s *DynamoDBDeploymentStore) ListDeployments() ([]*models.Deployment, error) {
	return s.scanDeployments(nil)
}

// ListExecutableDeployments returns deployments the scheduler should run
func (s *DynamoDBDeploymentStore) ListExecutableDeployments() ([]*models.Deployment, error) {
	filter := expression.Name("execution_enabled").Equal(expression.Value(true)).
		And(expression.Name("undeployed").Equal(expression.Value(false)))
	return s.scanDeployments(&filter)
}

func (s *DynamoDBDeploymentStore) scanDeployments(filter *expression.ConditionBuilder) ([]*models.Deployment, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.tableName)}
	if filter != nil {
		expr, err := expression.NewBuilder().WithFilter(*filter).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build filter: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	result, err := s.client.Scan(input)
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployments: %w", err)
	}

	deployments := make([]*models.Deployment, 0, len(result.Items))
	for _, item := range result.Items {
		var deployment models.Deployment
		if err := dynamodbattribute.UnmarshalMap(item, &deployment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deployment: %w", err)
		}
		deployments = append(deployments, &deployment)
	}
	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].ID < deployments[j].ID
	})
	return deployments, nil
}

// DynamoDBAdapterStore implements the AdapterStore interface using DynamoDB
type DynamoDBAdapterStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// SaveAdapter persists an adapter
func (s *DynamoDBAdapterStore) SaveAdapter(adapter *models.Adapter) error {
	return putItem(s.client, s.tableName, adapter)
}

// GetAdapter retrieves an adapter
func (s *DynamoDBAdapterStore) GetAdapter(id string) (*models.Adapter, error) {
	var adapter models.Adapter
	found, err := getItemByID(s.client, s.tableName, id, &adapter)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrAdapterNotFound
	}
	return &adapter, nil
}

// DynamoDBFlowStore implements the FlowStore interface using DynamoDB
type DynamoDBFlowStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// SaveFlowDefinition persists a flow definition
func (s *DynamoDBFlowStore) SaveFlowDefinition(flow *models.FlowDefinition) error {
	return putItem(s.client, s.tableName, flow)
}

// GetFlowDefinition retrieves a flow definition
func (s *DynamoDBFlowStore) GetFlowDefinition(id string) (*models.FlowDefinition, error) {
	var flow models.FlowDefinition
	found, err := getItemByID(s.client, s.tableName, id, &flow)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrFlowNotFound
	}
	return &flow, nil
}

// DynamoDBExecutionStore implements the ExecutionStore interface using DynamoDB
type DynamoDBExecutionStore struct {
	client         dynamodbiface.DynamoDBAPI
	tableName      string
	stepsTableName string
}

// SaveExecution persists an execution
func (s *DynamoDBExecutionStore) SaveExecution(execution *models.FlowExecution) error {
	return putItem(s.client, s.tableName, execution)
}

// GetExecution retrieves an execution
func (s *DynamoDBExecutionStore) GetExecution(id string) (*models.FlowExecution, error) {
	var execution models.FlowExecution
	found, err := getItemByID(s.client, s.tableName, id, &execution)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrExecutionNotFound
	}
	return &execution, nil
}

// ListExecutionsByStatus returns every execution in the given status
func (s *DynamoDBExecutionStore) ListExecutionsByStatus(status models.ExecutionStatus) ([]*models.FlowExecution, error) {
	filter := expression.Name("status").Equal(expression.Value(string(status)))
	return s.scanExecutions(filter)
}

// ListRunningExecutions returns the RUNNING executions of a deployment
func (s *DynamoDBExecutionStore) ListRunningExecutions(deploymentID string) ([]*models.FlowExecution, error) {
	filter := expression.Name("deployment_id").Equal(expression.Value(deploymentID)).
		And(expression.Name("status").Equal(expression.Value(string(models.ExecutionRunning))))
	return s.scanExecutions(filter)
}

// ListExecutionsForDeployment returns every execution of a deployment
func (s *DynamoDBExecutionStore) ListExecutionsForDeployment(deploymentID string) ([]*models.FlowExecution, error) {
	filter := expression.Name("deployment_id").Equal(expression.Value(deploymentID))
	return s.scanExecutions(filter)
}

func (s *DynamoDBExecutionStore) scanExecutions(filter expression.ConditionBuilder) ([]*models.FlowExecution, error) {
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build filter: %w", err)
	}

	result, err := s.client.Scan(&dynamodb.ScanInput{
		TableName:                 aws.String(s.tableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan executions: %w", err)
	}

	executions := make([]*models.FlowExecution, 0, len(result.Items))
	for _, item := range result.Items {
		var execution models.FlowExecution
		if err := dynamodbattribute.UnmarshalMap(item, &execution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		executions = append(executions, &execution)
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})
	return executions, nil
}

// SaveStep persists an execution step
func (s *DynamoDBExecutionStore) SaveStep(step *models.FlowExecutionStep) error {
	return putItem(s.client, s.stepsTableName, step)
}

// ListSteps returns the steps of an execution in step order
func (s *DynamoDBExecutionStore) ListSteps(executionID string) ([]*models.FlowExecutionStep, error) {
	keyCondition := expression.Key("execution_id").Equal(expression.Value(executionID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCondition).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build key condition: %w", err)
	}

	result, err := s.client.Query(&dynamodb.QueryInput{
		TableName:                 aws.String(s.stepsTableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	steps := make([]*models.FlowExecutionStep, 0, len(result.Items))
	for _, item := range result.Items {
		var step models.FlowExecutionStep
		if err := dynamodbattribute.UnmarshalMap(item, &step); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step: %w", err)
		}
		steps = append(steps, &step)
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StepOrder < steps[j].StepOrder
	})
	return steps, nil
}

// GetExecutionFileStats aggregates file and byte counters across steps
func (s *DynamoDBExecutionStore) GetExecutionFileStats(executionID string) (int, int64, error) {
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
