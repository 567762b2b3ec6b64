package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// EnvOverrides holds config inputs read from the process environment.
type EnvOverrides struct {
	ConfigPath string
}

// CLIOverrides holds config inputs read from command-line flags. A nil
// DryRun means "not specified on the command line".
type CLIOverrides struct {
	ConfigPath string
	RootPath   string
	DryRun     *bool
}

// Load reads and parses the TOML config file at path, starting from
// DefaultConfig() so any key absent from the file keeps its default value,
// then validates the result.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("config: loading file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	logger.Debug("config: loaded", "path", path, "root_path", cfg.Sync.RootPath)

	return cfg, nil
}

// LoadOrDefault reads the TOML config file at path if it exists, otherwise
// returns DefaultConfig() unmodified, supporting a zero-config first run.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Debug("config: no file found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ResolveConfigPath determines the config file path using the three-layer
// priority CLI flag > environment variable > platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	path := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		path = env.ConfigPath
		source = "env"
	}

	if cli.ConfigPath != "" {
		path = cli.ConfigPath
		source = "cli"
	}

	logger.Debug("config: path resolved", "path", path, "source", source)

	return path
}

// Resolve loads the config file (or defaults) and applies CLI overrides on
// top (defaults -> file -> CLI flags; there is no per-machine
// environment-variable config layer beyond the config path itself).
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	path := ResolveConfigPath(env, cli, logger)

	cfg, err := LoadOrDefault(path, logger)
	if err != nil {
		return nil, err
	}

	if cli.RootPath != "" {
		cfg.Sync.RootPath = cli.RootPath
	}

	if cli.DryRun != nil {
		cfg.Sync.DryRun = *cli.DryRun
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}
