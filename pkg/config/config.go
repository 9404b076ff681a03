// Package config provides configuration handling for the flow engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Scheduler configuration
	Scheduler SchedulerConfig `json:"scheduler"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host"`

	// Port to listen on
	Port int `json:"port"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// Type of storage to use
	Type string `json:"type"` // "memory", "postgres", "dynamodb", "redis"

	// Postgres configuration
	Postgres PostgresConfig `json:"postgres"`

	// DynamoDB configuration
	DynamoDB DynamoDBConfig `json:"dynamodb"`

	// Redis configuration
	Redis RedisConfig `json:"redis"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	// Host is the database host
	Host string `json:"host"`

	// Port is the database port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// User is the database user
	User string `json:"user"`

	// Password is the database password
	Password string `json:"password"`

	// SSLMode is the SSL mode
	SSLMode string `json:"ssl_mode"`
}

// DynamoDBConfig contains DynamoDB settings
type DynamoDBConfig struct {
	// Region is the AWS region
	Region string `json:"region"`

	// Endpoint is the DynamoDB endpoint (for local development)
	Endpoint string `json:"endpoint"`

	// TablePrefix is the prefix for all tables
	TablePrefix string `json:"table_prefix"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	// Addr is the host:port of the Redis server
	Addr string `json:"addr"`

	// Password for the Redis server
	Password string `json:"password"`

	// DB is the Redis database number
	DB int `json:"db"`

	// KeyPrefix namespaces every key written by this instance
	KeyPrefix string `json:"key_prefix"`
}

// SchedulerConfig contains scheduler pool settings
type SchedulerConfig struct {
	// WorkerCount sizes the tick execution pool
	WorkerCount int `json:"worker_count"`

	// MaintenanceIntervalMinutes is the reconciliation sweep cadence
	MaintenanceIntervalMinutes int `json:"maintenance_interval_minutes"`

	// RetryPollIntervalMinutes is the retry decision loop cadence
	RetryPollIntervalMinutes int `json:"retry_poll_interval_minutes"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	// JWTSecret is the secret for signing operator tokens
	JWTSecret string `json:"jwt_secret"`

	// TokenExpirationHours is the operator token lifetime
	TokenExpirationHours int `json:"token_expiration_hours"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
			DynamoDB: DynamoDBConfig{
				Region:      "us-east-1",
				TablePrefix: "h2h_",
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "h2h",
			},
		},
		Scheduler: SchedulerConfig{
			WorkerCount:                10,
			MaintenanceIntervalMinutes: 5,
			RetryPollIntervalMinutes:   1,
		},
		Auth: AuthConfig{
			TokenExpirationHours: 24,
		},
	}
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a file
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides configuration values from H2H_* environment
// variables, typically loaded from a .env file at startup.
func ApplyEnv(cfg *Config) {
	if value := os.Getenv("H2H_SERVER_HOST"); value != "" {
		cfg.Server.Host = value
	}
	if value := os.Getenv("H2H_SERVER_PORT"); value != "" {
		if port, err := strconv.Atoi(value); err == nil {
			cfg.Server.Port = port
		}
	}
	if value := os.Getenv("H2H_STORAGE_TYPE"); value != "" {
		cfg.Storage.Type = value
	}
	if value := os.Getenv("H2H_POSTGRES_HOST"); value != "" {
		cfg.Storage.Postgres.Host = value
	}
	if value := os.Getenv("H2H_POSTGRES_PASSWORD"); value != "" {
		cfg.Storage.Postgres.Password = value
	}
	if value := os.Getenv("H2H_REDIS_ADDR"); value != "" {
		cfg.Storage.Redis.Addr = value
	}
	if value := os.Getenv("H2H_JWT_SECRET"); value != "" {
		cfg.Auth.JWTSecret = value
	}
}
