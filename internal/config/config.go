// Package config handles application configuration management.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variables. Later layers win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "TROPHYSYNC_CONFIG"

// Config holds all application configuration.
type Config struct {
	// Base directory for all trophysync data (~/.trophysync)
	BaseDir string `koanf:"base_dir" validate:"required"`

	Database  DatabaseConfig  `koanf:"database"`
	Steam     SteamConfig     `koanf:"steam"`
	Sync      SyncConfig      `koanf:"sync"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Redis     RedisConfig     `koanf:"redis"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// DatabaseConfig selects and tunes the persistent store.
type DatabaseConfig struct {
	// URL is either a postgres:// DSN or a SQLite file path. Empty means
	// <base_dir>/trophysync.db.
	URL          string `koanf:"url"`
	Debug        bool   `koanf:"debug"`
	MaxIdleConns int    `koanf:"max_idle_conns" validate:"gte=1"`
	MaxOpenConns int    `koanf:"max_open_conns" validate:"gte=1"`
}

// SteamConfig holds achievement provider settings.
type SteamConfig struct {
	APIKey    string        `koanf:"api_key"`
	BaseURL   string        `koanf:"base_url" validate:"required,url"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	RateLimit int           `koanf:"rate_limit" validate:"gte=1"` // requests per minute
	CacheTTL  time.Duration `koanf:"cache_ttl"`

	// Circuit breaker
	BreakerMaxRequests  uint32        `koanf:"breaker_max_requests"`
	BreakerInterval     time.Duration `koanf:"breaker_interval"`
	BreakerTimeout      time.Duration `koanf:"breaker_timeout"`
	BreakerMinRequests  uint32        `koanf:"breaker_min_requests"`
	BreakerFailureRatio float64       `koanf:"breaker_failure_ratio" validate:"gte=0,lte=1"`
}

// SyncConfig tunes the sync orchestrator.
type SyncConfig struct {
	FullDelay       time.Duration `koanf:"full_delay"`
	QuickDelay      time.Duration `koanf:"quick_delay"`
	SpecificDelay   time.Duration `koanf:"specific_delay"`
	FreshnessWindow time.Duration `koanf:"freshness_window"`
	CheckpointEvery int           `koanf:"checkpoint_every" validate:"gte=1"`
	QuickDefaultMax int           `koanf:"quick_default_max" validate:"gte=1"`
	LockTTL         time.Duration `koanf:"lock_ttl" validate:"gt=0"`
}

// JobsConfig tunes the job queue.
type JobsConfig struct {
	Workers             int           `koanf:"workers" validate:"gte=1"`
	MaxRetries          int           `koanf:"max_retries" validate:"gte=0"`
	FullRetryCountdown  time.Duration `koanf:"full_retry_countdown"`
	QuickRetryCountdown time.Duration `koanf:"quick_retry_countdown"`
	ResultTTL           time.Duration `koanf:"result_ttl"`
}

// RedisConfig enables the Redis-backed status store and lock.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// SchedulerConfig controls periodic syncs.
type SchedulerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Spec    string `koanf:"spec" validate:"required"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// TelemetryConfig holds telemetry settings.
type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

var validate = validator.New()

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// UsesPostgres reports whether the database URL points to PostgreSQL.
func (c *Config) UsesPostgres() bool {
	u := c.Database.URL
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

// Load reads configuration from defaults, the optional config file and the
// environment, validates it and ensures the base directory exists.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns TROPHYSYNC_CONFIG if set, else <base>/config.yaml
// when it exists.
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	base := os.Getenv("TROPHYSYNC_BASE_DIR")
	if base == "" {
		base = DefaultBaseDir()
	}
	p := filepath.Join(base, "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// envMappings maps environment variable names (lowercased) to config keys.
var envMappings = map[string]string{
	"steam_api_key": "steam.api_key",
	"database_url":  "database.url",
	"redis_url":     "redis.url",

	"trophysync_base_dir":              "base_dir",
	"trophysync_db_debug":              "database.debug",
	"trophysync_steam_base_url":        "steam.base_url",
	"trophysync_steam_timeout":         "steam.timeout",
	"trophysync_steam_rate_limit":      "steam.rate_limit",
	"trophysync_steam_cache_ttl":       "steam.cache_ttl",
	"trophysync_full_delay":            "sync.full_delay",
	"trophysync_quick_delay":           "sync.quick_delay",
	"trophysync_specific_delay":        "sync.specific_delay",
	"trophysync_freshness_window":      "sync.freshness_window",
	"trophysync_quick_default_max":     "sync.quick_default_max",
	"trophysync_lock_ttl":              "sync.lock_ttl",
	"trophysync_workers":               "jobs.workers",
	"trophysync_max_retries":           "jobs.max_retries",
	"trophysync_result_ttl":            "jobs.result_ttl",
	"trophysync_scheduler_enabled":     "scheduler.enabled",
	"trophysync_scheduler_spec":        "scheduler.spec",
	"trophysync_http_addr":             "server.addr",
	"trophysync_log_level":             "log.level",
	"trophysync_log_format":            "log.format",

	"trophysync_telemetry_tracking_enabled": "telemetry.enabled",
}

// envTransformFunc maps an environment variable to its config key. Unknown
// variables return "" and are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// ensureDirectories creates required directories if they don't exist.
func ensureDirectories(cfg *Config) error {
	dirs := []string{
		cfg.BaseDir,
		filepath.Join(cfg.BaseDir, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
