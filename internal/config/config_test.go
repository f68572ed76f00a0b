package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "https://api.nekotick.com", cfg.LicenseAPIBaseURL)
	assert.Equal(t, int64(259200), cfg.ValidationIntervalSeconds)
	assert.Equal(t, int64(604800), cfg.GracePeriodSeconds)
	assert.Equal(t, int64(604800), cfg.TrialDurationSeconds)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, true},
		{"empty api url", func(c *Config) { c.LicenseAPIBaseURL = "" }, true},
		{"zero timeout", func(c *Config) { c.HTTPTimeoutSeconds = 0 }, true},
		{"zero validation interval", func(c *Config) { c.ValidationIntervalSeconds = 0 }, true},
		{"zero grace period", func(c *Config) { c.GracePeriodSeconds = 0 }, true},
		{"zero trial duration", func(c *Config) { c.TrialDurationSeconds = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().LicenseAPIBaseURL, cfg.LicenseAPIBaseURL)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
data_dir = "` + filepath.Join(dir, "data") + `"
license_api_base_url = "https://license.example.test"
http_timeout_seconds = 20
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://license.example.test", cfg.LicenseAPIBaseURL)
	assert.Equal(t, 20, cfg.HTTPTimeoutSeconds)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
data_dir: ` + filepath.Join(dir, "data") + `
license_api_base_url: https://license.example.test
http_timeout_seconds: 20
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://license.example.test", cfg.LicenseAPIBaseURL)
	assert.Equal(t, 20, cfg.HTTPTimeoutSeconds)
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.LogPath = filepath.Join(dir, "logs", "audit.log")
	cfg.HistoryDBPath = filepath.Join(dir, "db", "history.db")

	require.NoError(t, cfg.EnsureDirectories())

	for _, p := range []string{cfg.DataDir, filepath.Dir(cfg.LogPath), filepath.Dir(cfg.HistoryDBPath)} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
