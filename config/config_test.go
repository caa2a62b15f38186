package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "@every 5s", cfg.Outbox.Schedule)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, "repairflow.notifications", cfg.Valkey.Channel)
	assert.True(t, cfg.Database.MigrateOnStart)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url is required")
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REPAIRFLOW_DATABASE_URL", "postgres://u:p@db:5432/repair")
	t.Setenv("REPAIRFLOW_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("REPAIRFLOW_OUTBOX_BATCH_SIZE", "7")
	t.Setenv("REPAIRFLOW_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db:5432/repair", cfg.Database.URL)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 7, cfg.Outbox.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REPAIRFLOW_AUTH_JWT_SECRET=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("REPAIRFLOW_AUTH_JWT_SECRET") })

	file := filepath.Join(dir, "repairflow.yaml")
	require.NoError(t, os.WriteFile(file, []byte("http:\n  addr: \":9090\"\ndatabase:\n  url: postgres://file\n"), 0o600))

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "postgres://file", cfg.Database.URL)
	assert.Equal(t, "from-dotenv", cfg.Auth.JWTSecret)
}
