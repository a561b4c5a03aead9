package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// DefaultConfig returns the built-in configuration. The worker command is
// intentionally empty: dispatching without an explicit worker is an error
// surfaced at chain start, not a silent default.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: filepath.Join(xdg.DataHome, "taskweave", "tasks.db"),
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Chain: ChainConfig{
			PollIntervalSeconds: 15,
			Concurrency:         4,
		},
		ExpireAfterDays: 0,
	}
}

// GlobalPath is the per-user config file location.
func GlobalPath() string {
	return filepath.Join(xdg.ConfigHome, "taskweave", "config.json")
}

// ProjectPath is the per-project config file, relative to the working
// directory.
func ProjectPath() string {
	return filepath.Join(".taskweave", "config.json")
}
