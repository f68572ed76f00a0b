// Package config handles configuration loading and validation for trustcore.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the Trust Core configuration.
type Config struct {
	// DataDir is the per-user directory holding the sealed credential and
	// license files, the device UUID fallback, and the entitlement
	// history database.
	DataDir string `toml:"data_dir" yaml:"data_dir"`

	// LogPath is the path to the audit log file.
	LogPath string `toml:"log_path" yaml:"log_path"`

	// HistoryDBPath is the path to the SQLite entitlement history log.
	HistoryDBPath string `toml:"history_db_path" yaml:"history_db_path"`

	// LicenseAPIBaseURL is the base URL of the license HTTP API.
	LicenseAPIBaseURL string `toml:"license_api_base_url" yaml:"license_api_base_url"`

	// HTTPTimeoutSeconds bounds every license API call.
	HTTPTimeoutSeconds int `toml:"http_timeout_seconds" yaml:"http_timeout_seconds"`

	// ValidationIntervalSeconds is how often a licensed install is expected
	// to phone home for background validation.
	ValidationIntervalSeconds int64 `toml:"validation_interval_seconds" yaml:"validation_interval_seconds"`

	// GracePeriodSeconds is how long a license stays valid after its last
	// successful validation when the network is unreachable.
	GracePeriodSeconds int64 `toml:"grace_period_seconds" yaml:"grace_period_seconds"`

	// TrialDurationSeconds is the length of the unlicensed trial window.
	TrialDurationSeconds int64 `toml:"trial_duration_seconds" yaml:"trial_duration_seconds"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	paths := GetDefaultPaths()

	return &Config{
		DataDir:                   paths.DataDir,
		LogPath:                   paths.AuditLogFile,
		HistoryDBPath:             paths.HistoryDBFile,
		LicenseAPIBaseURL:         "https://api.nekotick.com",
		HTTPTimeoutSeconds:        10,
		ValidationIntervalSeconds: int64(72 * time.Hour / time.Second),
		GracePeriodSeconds:        int64(7 * 24 * time.Hour / time.Second),
		TrialDurationSeconds:      int64(7 * 24 * time.Hour / time.Second),
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformDataDir(), "config.toml")
}

// Load reads configuration from the specified path. The format is chosen
// by file extension: ".yaml"/".yml" decodes as YAML, anything else as
// TOML. If the file doesn't exist, returns default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if c.LicenseAPIBaseURL == "" {
		return errors.New("config: license_api_base_url is required")
	}
	if c.HTTPTimeoutSeconds < 1 {
		return errors.New("config: http_timeout_seconds must be at least 1")
	}
	if c.ValidationIntervalSeconds < 1 {
		return errors.New("config: validation_interval_seconds must be at least 1")
	}
	if c.GracePeriodSeconds < 1 {
		return errors.New("config: grace_period_seconds must be at least 1")
	}
	if c.TrialDurationSeconds < 1 {
		return errors.New("config: trial_duration_seconds must be at least 1")
	}
	return nil
}

// EnsureDirectories creates all necessary directories for Trust Core.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.LogPath),
		filepath.Dir(c.HistoryDBPath),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	return nil
}

// HTTPTimeout returns the configured API timeout as a time.Duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// ValidationInterval returns the configured validation interval.
func (c *Config) ValidationInterval() time.Duration {
	return time.Duration(c.ValidationIntervalSeconds) * time.Second
}

// GracePeriod returns the configured grace period.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// TrialDuration returns the configured trial duration.
func (c *Config) TrialDuration() time.Duration {
	return time.Duration(c.TrialDurationSeconds) * time.Second
}
