package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msghub/msghub/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "msghub.0", cfg.Namespace)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.Storage.Mode)
	assert.Equal(t, 1000, cfg.Storage.WriteIntervalMs)
	assert.Equal(t, 50, cfg.Archive.MaxBatchSize)
	assert.Equal(t, 4, cfg.Archive.KeepPreviousWeeks)
	assert.Equal(t, 120, cfg.Archive.MaxPathSegmentLength)
	assert.False(t, cfg.QuietHours.Enabled)
	assert.Equal(t, 22*60, cfg.QuietHours.StartMin)
	assert.Equal(t, 6*60, cfg.QuietHours.EndMin)
	assert.Equal(t, 400, cfg.Stats.RollupKeepDays)
	assert.Equal(t, ":8393", cfg.Admin.Addr)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msghub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
namespace: msghub.7
storage:
  mode: native
  writeIntervalMs: 0
quietHours:
  enabled: true
  maxLevel: 30
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "msghub.7", cfg.Namespace)
	assert.Equal(t, "native", cfg.Storage.Mode)
	assert.Zero(t, cfg.Storage.WriteIntervalMs)
	assert.True(t, cfg.QuietHours.Enabled)
	assert.Equal(t, 30, cfg.QuietHours.MaxLevel)
	// Untouched keys keep their defaults.
	assert.Equal(t, 50, cfg.Archive.MaxBatchSize)
}

func TestLoad_EnvOverridesAll(t *testing.T) {
	t.Setenv("MSGHUB_STORAGE__MODE", "host")
	t.Setenv("MSGHUB_ARCHIVE__MAX_BATCH_SIZE", "10")
	t.Setenv("MSGHUB_LOG_LEVEL", "debug")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "host", cfg.Storage.Mode)
	assert.Equal(t, 10, cfg.Archive.MaxBatchSize)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *config.Config {
		cfg, err := config.Load("")
		require.NoError(t, err)
		cfg.DataDir = t.TempDir()
		return cfg
	}

	cfg := base(t)
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad storage mode", func(c *config.Config) { c.Storage.Mode = "cloud" }},
		{"negative write interval", func(c *config.Config) { c.Storage.WriteIntervalMs = -1 }},
		{"zero batch size", func(c *config.Config) { c.Archive.MaxBatchSize = 0 }},
		{"tiny segment length", func(c *config.Config) { c.Archive.MaxPathSegmentLength = 4 }},
		{"quiet start out of range", func(c *config.Config) { c.QuietHours.StartMin = 24 * 60 }},
		{"empty namespace", func(c *config.Config) { c.Namespace = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base(t)
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidate_CreatesDataDir(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "msghub")
	require.NoError(t, cfg.Validate())

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
