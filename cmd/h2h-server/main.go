// Package main provides the host-to-host integration server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/api"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/api/middleware"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/config"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/loader"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/runtime"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/scheduler"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/storage"
)

// version is set at build time
var version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "h2h-server",
		Short: "Host-to-host integration server",
		Long:  "Schedules deployed integration flows, executes their pipelines and exposes the operator API",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, flow engine and API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	initConfigCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a default configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SaveConfig(config.DefaultConfig(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Wrote default configuration to %s\n", args[0])
			return nil
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token [user]",
		Short: "Issue an operator API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			issuer := middleware.NewAuthMiddleware(
				cfg.Auth.JWTSecret,
				time.Duration(cfg.Auth.TokenExpirationHours)*time.Hour,
			)
			token, err := issuer.GenerateToken(args[0])
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	var (
		deployAdapterID     string
		deployedBy          string
		deployMaxConcurrent int
	)
	deployCmd := &cobra.Command{
		Use:   "deploy [flow.yaml]",
		Short: "Load a YAML flow definition and deploy it for scheduling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deploy(args[0], deployAdapterID, deployedBy, deployMaxConcurrent)
		},
	}
	deployCmd.Flags().StringVar(&deployAdapterID, "adapter", "", "Sender adapter id the deployment polls (omit to only register the flow)")
	deployCmd.Flags().StringVar(&deployedBy, "deployed-by", "operator", "Recorded deployer")
	deployCmd.Flags().IntVar(&deployMaxConcurrent, "max-concurrent", 1, "Maximum concurrent executions")

	rootCmd.AddCommand(serveCmd, versionCmd, initConfigCmd, tokenCmd, deployCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration: defaults, then the
// config file if one was given, then .env / environment overrides.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	config.ApplyEnv(cfg)
	return cfg, nil
}

// buildProvider creates the storage provider selected by the config
func buildProvider(cfg *config.Config) (storage.StorageProvider, error) {
	providerCfg := storage.ProviderConfig{
		Type: storage.ProviderType(cfg.Storage.Type),
		PostgreSQL: &storage.PostgreSQLProviderConfig{
			Host:     cfg.Storage.Postgres.Host,
			Port:     cfg.Storage.Postgres.Port,
			Database: cfg.Storage.Postgres.Database,
			User:     cfg.Storage.Postgres.User,
			Password: cfg.Storage.Postgres.Password,
			SSLMode:  cfg.Storage.Postgres.SSLMode,
		},
		DynamoDB: &storage.DynamoDBProviderConfig{
			Region:      cfg.Storage.DynamoDB.Region,
			Endpoint:    cfg.Storage.DynamoDB.Endpoint,
			TablePrefix: cfg.Storage.DynamoDB.TablePrefix,
		},
		Redis: &storage.RedisProviderConfig{
			Addr:      cfg.Storage.Redis.Addr,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
		},
	}

	provider, err := storage.NewProvider(providerCfg)
	if err != nil {
		return nil, err
	}
	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return provider, nil
}

// deploy registers a YAML flow definition and, when a sender adapter is
// named, creates an enabled deployment for it.
func deploy(path, adapterID, deployedBy string, maxConcurrent int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	defer provider.Close()

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read flow file: %w", err)
	}
	flow, err := loader.NewYAMLLoader().Parse(content)
	if err != nil {
		return err
	}
	if flow.ID == "" {
		flow.ID = uuid.New().String()
	}
	if err := provider.GetFlowStore().SaveFlowDefinition(flow); err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	fmt.Printf("Registered flow %q as %s\n", flow.Name, flow.ID)

	if adapterID == "" {
		return nil
	}
	if _, err := provider.GetAdapterStore().GetAdapter(adapterID); err != nil {
		return fmt.Errorf("sender adapter %s: %w", adapterID, err)
	}
	deployment := &models.Deployment{
		ID:                      uuid.New().String(),
		FlowID:                  flow.ID,
		SenderAdapterID:         adapterID,
		MaxConcurrentExecutions: maxConcurrent,
		ExecutionEnabled:        true,
		DeployedBy:              deployedBy,
		DeployedAt:              time.Now(),
	}
	if err := provider.GetDeploymentStore().SaveDeployment(deployment); err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	fmt.Printf("Deployed flow %s as deployment %s\n", flow.ID, deployment.ID)
	return nil
}

// noopAdapterService stands in until a transfer implementation is
// plugged in. It reports no data, so ticks never trigger executions.
var noopAdapterService = runtime.AdapterServiceFunc(
	func(adapter *models.Adapter, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error) {
		log.Printf("adapter %s polled without a transfer implementation", adapter.ID)
		return map[string]interface{}{"hasData": false}, nil
	},
)

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	defer provider.Close()

	executions := provider.GetExecutionStore()
	deployments := provider.GetDeploymentStore()
	adapters := provider.GetAdapterStore()
	flows := provider.GetFlowStore()

	wsManager := api.NewWebSocketManager()

	contexts := runtime.NewContextManager()
	aggregator := runtime.NewResultAggregator(executions, deployments, contexts)

	utilities := runtime.NewUtilityRouter()
	utilities.Register(runtime.UtilityFamilyData, runtime.NewDataTransformProcessor(contexts))

	registry := runtime.NewNodeRegistry(runtime.CoreNodeHandlers(runtime.NodeDeps{
		Contexts:       contexts,
		Adapters:       adapters,
		AdapterService: noopAdapterService,
		UtilityService: utilities,
	})...)

	engine := runtime.NewFlowEngine(flows, executions, deployments, registry, contexts, aggregator, wsManager)

	retries := runtime.NewRetryManager(
		executions,
		contexts,
		wsManager,
		engine,
		time.Duration(cfg.Scheduler.RetryPollIntervalMinutes)*time.Minute,
	)

	sched := scheduler.NewScheduler(deployments, adapters, executions, noopAdapterService, aggregator, engine, scheduler.Options{
		WorkerCount:         cfg.Scheduler.WorkerCount,
		MaintenanceInterval: time.Duration(cfg.Scheduler.MaintenanceIntervalMinutes) * time.Minute,
	})

	server := api.NewServer(cfg, sched, provider, wsManager)

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	retries.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	retries.Stop()
	sched.Stop()
	return nil
}
