package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 5432, cfg.Storage.Postgres.Port)
	assert.Equal(t, "disable", cfg.Storage.Postgres.SSLMode)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 10, cfg.Scheduler.WorkerCount)
	assert.Equal(t, 24, cfg.Auth.TokenExpirationHours)
	assert.Empty(t, cfg.Auth.JWTSecret, "no default secret")
}

func TestLoadAndSaveConfig(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "config.json")

		cfg := DefaultConfig()
		cfg.Server.Port = 9090
		cfg.Storage.Type = "redis"
		cfg.Storage.Redis.KeyPrefix = "prod"
		require.NoError(t, SaveConfig(cfg, path))

		loaded, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, loaded.Server.Port)
		assert.Equal(t, "redis", loaded.Storage.Type)
		assert.Equal(t, "prod", loaded.Storage.Redis.KeyPrefix)
	})

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":9999}}`), 0o644))

		loaded, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 9999, loaded.Server.Port)
		assert.Equal(t, "localhost", loaded.Server.Host)
		assert.Equal(t, "memory", loaded.Storage.Type)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("H2H_SERVER_HOST", "0.0.0.0")
	t.Setenv("H2H_SERVER_PORT", "9090")
	t.Setenv("H2H_STORAGE_TYPE", "redis")
	t.Setenv("H2H_REDIS_ADDR", "redis:6379")
	t.Setenv("H2H_JWT_SECRET", "env-secret")

	cfg := DefaultConfig()
	ApplyEnv(cfg)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
}

func TestApplyEnvIgnoresBadPort(t *testing.T) {
	t.Setenv("H2H_SERVER_PORT", "not-a-port")

	cfg := DefaultConfig()
	ApplyEnv(cfg)
	assert.Equal(t, 8080, cfg.Server.Port)
}
