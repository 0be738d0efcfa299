package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configYAML := `
gateways:
  ipfs:
    - "https://ipfs.io"
    - "https://cloudflare-ipfs.com"
  ipfs_mobile: "https://cloudflare-ipfs.com"
  arweave:
    - "https://arweave.net"
cache:
  budget_mb: 100
preload:
  count: 4
  cellular_max: 2
playback:
  threshold: 0.25
server:
  port: 9090
  host: "127.0.0.1"
store:
  directory: "` + filepath.Join(tmpDir, "data") + `"
logging:
  level: "debug"
  format: "text"
`

	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://ipfs.io", "https://cloudflare-ipfs.com"}, cfg.Gateways.IPFS)
	assert.Equal(t, "https://cloudflare-ipfs.com", cfg.Gateways.IPFSMobile)
	assert.Equal(t, 100, cfg.Cache.BudgetMB)
	assert.Equal(t, 4, cfg.Preload.Count)
	assert.Equal(t, 0.25, cfg.Playback.Threshold)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Minimal config relying on defaults everywhere.
	configYAML := `
store:
  directory: "` + filepath.Join(tmpDir, "data") + `"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "https://ipfs.io", cfg.Gateways.IPFS[0])
	assert.Equal(t, "https://cloudflare-ipfs.com", cfg.Gateways.IPFSMobile)
	assert.Equal(t, "https://arweave.net", cfg.Gateways.Arweave[0])
	assert.Equal(t, 50, cfg.Cache.BudgetMB)
	assert.Equal(t, 3, cfg.Preload.Count)
	assert.Equal(t, 2, cfg.Preload.CellularMax)
	assert.Equal(t, 10*time.Second, cfg.Preload.ProbeTimeout)
	assert.Equal(t, 0.25, cfg.Playback.Threshold)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotEmpty(t, cfg.Gateways.IPFS)
	assert.NotEmpty(t, cfg.Gateways.Arweave)
	assert.Equal(t, int64(50*1024*1024), cfg.Cache.CacheBudgetBytes())
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "empty ipfs gateways",
			mutate: func(c *Config) {
				c.Gateways.IPFS = nil
			},
		},
		{
			name: "gateway without scheme",
			mutate: func(c *Config) {
				c.Gateways.IPFS = []string{"ipfs.io"}
			},
		},
		{
			name: "gateway with trailing slash",
			mutate: func(c *Config) {
				c.Gateways.Arweave = []string{"https://arweave.net/"}
			},
		},
		{
			name: "negative cache budget",
			mutate: func(c *Config) {
				c.Cache.BudgetMB = -1
			},
		},
		{
			name: "threshold above one",
			mutate: func(c *Config) {
				c.Playback.Threshold = 1.5
			},
		},
		{
			name: "cellular max above count",
			mutate: func(c *Config) {
				c.Preload.Count = 2
				c.Preload.CellularMax = 5
			},
		},
		{
			name: "invalid port",
			mutate: func(c *Config) {
				c.Server.Port = 70000
			},
		},
		{
			name: "invalid log level",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Store.Directory = t.TempDir()
			tt.mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		cfg := LoggingConfig{Level: tt.level}
		assert.Equal(t, tt.want, cfg.GetLogLevel())
	}
}
