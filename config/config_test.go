package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadShippedLocalConfig(t *testing.T) {
	cfg, err := Load("local", ".")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "local-development-secret", cfg.JWT.Secret)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, "E6AD7h4owuhfsHLcMFQtoZR8aQVLTMDP2e8sM5nE61Sv", cfg.Escrow.ProgramID)
	assert.Equal(t, 100*time.Millisecond, cfg.DB.SlowQueryThreshold)
	assert.Equal(t, 5, cfg.Outbox.MaxRetries)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("JWT_SECRET", "override")
	t.Setenv("SERVER_PORT", ":9090")

	cfg, err := Load("local", ".")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "override", cfg.JWT.Secret)
	assert.Equal(t, ":9090", cfg.Server.Port)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"),
		[]byte("store:\n  driver: sqlite\njwt:\n  secret: x\n"), 0o600))

	_, err := Load("", dir)
	require.ErrorContains(t, err, "unknown store driver")
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("server:\n  port: \":1\"\n"), 0o600))

	_, err := Load("", dir)
	require.ErrorContains(t, err, "jwt.secret")
}
