package config

import (
	"os"
	"path/filepath"
)

// Paths contains commonly used file paths.
type Paths struct {
	Database string // SQLite database (unused when the URL is postgres)
	Config   string // Config file
	Logs     string // Log directory
}

// GetPaths returns all commonly used paths based on config.
func GetPaths(cfg *Config) Paths {
	return Paths{
		Database: filepath.Join(cfg.BaseDir, "trophysync.db"),
		Config:   filepath.Join(cfg.BaseDir, "config.yaml"),
		Logs:     filepath.Join(cfg.BaseDir, "logs"),
	}
}

// DatabaseURL returns the configured database URL, falling back to the
// SQLite file under the base directory.
func DatabaseURL(cfg *Config) string {
	if cfg.Database.URL != "" {
		return cfg.Database.URL
	}
	return GetPaths(cfg).Database
}

// DefaultBaseDir returns the default base directory (~/.trophysync).
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trophysync"
	}
	return filepath.Join(home, ".trophysync")
}
