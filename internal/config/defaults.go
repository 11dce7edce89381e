package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseDir: DefaultBaseDir(),

		Database: DatabaseConfig{
			MaxIdleConns: 1,
			MaxOpenConns: 1,
		},

		Steam: SteamConfig{
			BaseURL:             "https://api.steampowered.com",
			Timeout:             10 * time.Second,
			RateLimit:           60,
			CacheTTL:            6 * time.Hour,
			BreakerMaxRequests:  3,
			BreakerInterval:     time.Minute,
			BreakerTimeout:      2 * time.Minute,
			BreakerMinRequests:  10,
			BreakerFailureRatio: 0.6,
		},

		Sync: SyncConfig{
			FullDelay:       500 * time.Millisecond,
			QuickDelay:      300 * time.Millisecond,
			SpecificDelay:   300 * time.Millisecond,
			FreshnessWindow: 7 * 24 * time.Hour,
			CheckpointEvery: 10,
			QuickDefaultMax: 20,
			LockTTL:         30 * time.Minute,
		},

		Jobs: JobsConfig{
			Workers:             1,
			MaxRetries:          3,
			FullRetryCountdown:  60 * time.Second,
			QuickRetryCountdown: 30 * time.Second,
			ResultTTL:           24 * time.Hour,
		},

		Scheduler: SchedulerConfig{
			Enabled: false,
			Spec:    "@every 6h",
		},

		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},

		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},

		Telemetry: TelemetryConfig{Enabled: true},
	}
}
