package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/lattice/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Dialect)
	assert.NotEmpty(t, cfg.Store.DSN)
	assert.Zero(t, cfg.Store.WriteLimit)
	assert.Equal(t, 200*time.Millisecond, cfg.Store.SlowThreshold)
	assert.Equal(t, 10000, cfg.Limits.MaxTotalResults)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lattice.yaml")
	content := `
store:
  dialect: postgres
  dsn: postgres://localhost/lattice
  write_limit: 4
  slow_threshold: 1s
limits:
  max_total_results: 500
cache:
  enabled: true
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Dialect)
	assert.Equal(t, "postgres://localhost/lattice", cfg.Store.DSN)
	assert.Equal(t, int64(4), cfg.Store.WriteLimit)
	assert.Equal(t, time.Second, cfg.Store.SlowThreshold)
	assert.Equal(t, 500, cfg.Limits.MaxTotalResults)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lattice.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  dialect: memory\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Dialect)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10000, cfg.Limits.MaxTotalResults)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("LATTICE_STORE_DIALECT", "mysql")
	t.Setenv("LATTICE_LOG_LEVEL", "warn")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Store.Dialect)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	t.Run("BadDialect", func(t *testing.T) {
		t.Setenv("LATTICE_STORE_DIALECT", "oracle")
		_, err := config.Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported store dialect")
	})

	t.Run("BadLevel", func(t *testing.T) {
		t.Setenv("LATTICE_LOG_LEVEL", "loud")
		_, err := config.Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported log level")
	})

	t.Run("NegativeLimit", func(t *testing.T) {
		t.Setenv("LATTICE_LIMITS_MAX_TOTAL_RESULTS", "-1")
		_, err := config.Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not be negative")
	})
}

func TestSlogLevel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Log.Level = "debug"
	assert.Equal(t, "DEBUG", cfg.SlogLevel())
}
