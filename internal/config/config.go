// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for osfsync.
package config

import "github.com/psychopy/osfsync/internal/digest"

// Config is the top-level configuration structure, decoded from a single
// TOML document.
type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
}

// RemoteConfig controls how the engine talks to the OSF API.
type RemoteConfig struct {
	APIBaseURL     string `toml:"api_base_url"`
	HashAlgo       string `toml:"hash_algo"`
	ChunkSize      string `toml:"chunk_size"`
	ControlTimeout string `toml:"control_timeout"`
	DataTimeout    string `toml:"data_timeout"`
}

// SyncConfig controls the reconciliation engine and the optional watch loop.
type SyncConfig struct {
	RootPath  string `toml:"root_path"`
	ProjectID string `toml:"project_id"`
	AccountID string `toml:"account_id"`
	DryRun    bool   `toml:"dry_run"`
	// Watch enables fsnotify-driven resync instead of a single one-shot pass.
	Watch        bool   `toml:"watch"`
	PollInterval string `toml:"poll_interval"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// DefaultConfig returns a Config populated with every default value, so a
// partial or absent config file still produces a fully usable Config.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			APIBaseURL:     "https://api.osf.io/v2",
			HashAlgo:       string(digest.MD5),
			ChunkSize:      "64KiB",
			ControlTimeout: "10s",
			DataTimeout:    "30s",
		},
		Sync: SyncConfig{
			PollInterval: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}
