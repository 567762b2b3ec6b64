package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/psychopy/osfsync/internal/digest"
)

// minChunkBytes and maxChunkBytes bound the configurable transfer chunk
// size. Chunking only applies above a threshold, but an absurdly small or
// large chunk size is still a misconfiguration worth rejecting.
const (
	minChunkBytes = 64 * 1024
	maxChunkBytes = 64 * 1024 * 1024
)

// Validate checks all configuration values and returns every error found,
// not just the first, so a user can fix a broken config file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	if r.APIBaseURL == "" {
		errs = append(errs, errors.New("remote.api_base_url: must not be empty"))
	}

	if !digest.Algorithm(r.HashAlgo).Valid() {
		errs = append(errs, fmt.Errorf("remote.hash_algo: must be %q or %q, got %q", digest.MD5, digest.SHA256, r.HashAlgo))
	}

	if n, err := humanize.ParseBytes(r.ChunkSize); err != nil {
		errs = append(errs, fmt.Errorf("remote.chunk_size: %w", err))
	} else if n < minChunkBytes || n > maxChunkBytes {
		errs = append(errs, fmt.Errorf("remote.chunk_size: must be between %s and %s, got %s",
			humanize.Bytes(minChunkBytes), humanize.Bytes(maxChunkBytes), r.ChunkSize))
	}

	if _, err := time.ParseDuration(r.ControlTimeout); err != nil {
		errs = append(errs, fmt.Errorf("remote.control_timeout: %w", err))
	}

	if _, err := time.ParseDuration(r.DataTimeout); err != nil {
		errs = append(errs, fmt.Errorf("remote.data_timeout: %w", err))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.Watch {
		if _, err := time.ParseDuration(s.PollInterval); err != nil {
			errs = append(errs, fmt.Errorf("sync.poll_interval: %w", err))
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: must be one of debug/info/warn/error, got %q", l.Level))
	}

	switch l.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: must be one of auto/text/json, got %q", l.Format))
	}

	return errs
}

// ChunkSizeBytes parses cfg's configured chunk size, already validated by
// Validate, into a byte count for the transfer scheduler.
func ChunkSizeBytes(cfg *Config) (int, error) {
	n, err := humanize.ParseBytes(cfg.Remote.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("config: parsing chunk_size: %w", err)
	}

	return int(n), nil
}

// ControlTimeout parses cfg's control-plane timeout.
func ControlTimeout(cfg *Config) (time.Duration, error) {
	d, err := time.ParseDuration(cfg.Remote.ControlTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: parsing control_timeout: %w", err)
	}

	return d, nil
}

// DataTimeout parses cfg's data-plane timeout.
func DataTimeout(cfg *Config) (time.Duration, error) {
	d, err := time.ParseDuration(cfg.Remote.DataTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: parsing data_timeout: %w", err)
	}

	return d, nil
}
