package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the base directory at a temp dir so Load never touches
// the real home directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TROPHYSYNC_BASE_DIR", dir)
	t.Setenv(ConfigPathEnvVar, "")
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 500*time.Millisecond, cfg.Sync.FullDelay)
	assert.Equal(t, 300*time.Millisecond, cfg.Sync.QuickDelay)
	assert.Equal(t, 300*time.Millisecond, cfg.Sync.SpecificDelay)
	assert.Equal(t, 7*24*time.Hour, cfg.Sync.FreshnessWindow)
	assert.Equal(t, 10, cfg.Sync.CheckpointEvery)
	assert.Equal(t, 20, cfg.Sync.QuickDefaultMax)
	assert.Equal(t, 3, cfg.Jobs.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Jobs.FullRetryCountdown)
	assert.Equal(t, 30*time.Second, cfg.Jobs.QuickRetryCountdown)
	assert.Equal(t, 10*time.Second, cfg.Steam.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.BaseDir)
	assert.Equal(t, "https://api.steampowered.com", cfg.Steam.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.FullDelay)
	assert.DirExists(t, filepath.Join(dir, "logs"))
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	isolate(t)
	t.Setenv("STEAM_API_KEY", "steam-key-123")
	t.Setenv("DATABASE_URL", "postgres://user:pw@localhost/trophies")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "steam-key-123", cfg.Steam.APIKey)
	assert.Equal(t, "postgres://user:pw@localhost/trophies", cfg.Database.URL)
	assert.True(t, cfg.UsesPostgres())
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoad_EnvOverridesDurations(t *testing.T) {
	isolate(t)
	t.Setenv("TROPHYSYNC_FULL_DELAY", "1s")
	t.Setenv("TROPHYSYNC_WORKERS", "4")
	t.Setenv("TROPHYSYNC_TELEMETRY_TRACKING_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Sync.FullDelay)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	yaml := "sync:\n  quick_default_max: 5\nscheduler:\n  enabled: true\n  spec: \"@every 1h\"\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Sync.QuickDefaultMax)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "@every 1h", cfg.Scheduler.Spec)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	isolate(t)
	t.Setenv("TROPHYSYNC_LOG_LEVEL", "loud")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestDatabaseURL_FallsBackToSQLite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDir = "/tmp/trophies"

	assert.Equal(t, "/tmp/trophies/trophysync.db", DatabaseURL(cfg))
	assert.False(t, cfg.UsesPostgres())

	cfg.Database.URL = "postgresql://localhost/db"
	assert.Equal(t, "postgresql://localhost/db", DatabaseURL(cfg))
	assert.True(t, cfg.UsesPostgres())
}
