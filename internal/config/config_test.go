// Package config tests.
package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	t.Setenv("AUTH_MODE", "none")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "yaml", cfg.StoreBackend)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 100, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
}

func TestLoad_Overrides(t *testing.T) {
	os.Clearenv()
	t.Setenv("AUTH_MODE", "api-key")
	t.Setenv("API_KEY", "secret")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/test.db")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("LISTEN_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.SQLitePath)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.True(t, cfg.SQLiteEnabled())
}

func TestLoad_APIKeyRequired(t *testing.T) {
	os.Clearenv()
	t.Setenv("AUTH_MODE", "api-key")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY")
}

func TestLoad_JWTSecretRequired(t *testing.T) {
	os.Clearenv()
	t.Setenv("AUTH_MODE", "jwt")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_InvalidBackend(t *testing.T) {
	os.Clearenv()
	t.Setenv("AUTH_MODE", "none")
	t.Setenv("STORE_BACKEND", "postgres")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND")
}

func TestConfig_Predicates(t *testing.T) {
	cfg := &Config{StoreBackend: "yaml", Environment: "production", SweepInterval: 0}
	assert.False(t, cfg.SQLiteEnabled())
	assert.False(t, cfg.SweepEnabled())
	assert.False(t, cfg.Development())

	cfg.StoreBackend = "SQLITE"
	cfg.Environment = "development"
	cfg.SweepInterval = time.Minute
	assert.True(t, cfg.SQLiteEnabled())
	assert.True(t, cfg.SweepEnabled())
	assert.True(t, cfg.Development())
}
