// Package config provides configuration management for the PODPLAYR media engine.
// It uses koanf for flexible configuration loading from YAML files with validation.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete configuration for the media engine.
// It represents the structure of config.yaml with validation rules for each section.
type Config struct {
	Gateways GatewayConfig  `koanf:"gateways"`
	Cache    CacheConfig    `koanf:"cache"`
	Preload  PreloadConfig  `koanf:"preload"`
	Playback PlaybackConfig `koanf:"playback"`
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// GatewayConfig lists the content gateways used to resolve ipfs:// and ar://
// references, plus the placeholder returned for tracks with no media at all.
type GatewayConfig struct {
	IPFS        []string `koanf:"ipfs"`
	IPFSMobile  string   `koanf:"ipfs_mobile"`
	Arweave     []string `koanf:"arweave"`
	Placeholder string   `koanf:"placeholder"`
}

// CacheConfig defines the in-memory chunk cache byte budget.
type CacheConfig struct {
	BudgetMB int `koanf:"budget_mb"`
}

// PreloadConfig controls predictive preloading behavior.
type PreloadConfig struct {
	Count         int           `koanf:"count"`
	CellularMax   int           `koanf:"cellular_max"`
	ProbeTimeout  time.Duration `koanf:"probe_timeout"`
	RateLimitMbps int           `koanf:"rate_limit_mbps"`
	ChunkKB3G     int           `koanf:"chunk_kb_3g"`
	ChunkKB4G     int           `koanf:"chunk_kb_4g"`
	ChunkKBWifi   int           `koanf:"chunk_kb_wifi"`
}

// PlaybackConfig controls play-session tracking.
type PlaybackConfig struct {
	// Threshold is the watched ratio at which a play is counted.
	Threshold float64 `koanf:"threshold"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port              int           `koanf:"port"`
	Host              string        `koanf:"host"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	EnableCompression bool          `koanf:"enable_compression"`
}

// StoreConfig defines where the play-history database lives.
type StoreConfig struct {
	Directory string `koanf:"directory"`
}

// LoggingConfig defines logging behavior and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads configuration from the specified YAML file and applies validation.
// Returns a validated Config struct or an error if loading/validation fails.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Load configuration from YAML file
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for missing values
	applyDefaults(&config)

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with all defaults applied and no file loaded.
// Used by the CLI tools, which run without a config file.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

// applyDefaults sets sensible defaults for configuration values that weren't specified.
func applyDefaults(config *Config) {
	// Gateway defaults
	if len(config.Gateways.IPFS) == 0 {
		config.Gateways.IPFS = []string{
			"https://ipfs.io",
			"https://cloudflare-ipfs.com",
			"https://dweb.link",
			"https://nftstorage.link",
		}
	}
	if config.Gateways.IPFSMobile == "" {
		config.Gateways.IPFSMobile = "https://cloudflare-ipfs.com"
	}
	if len(config.Gateways.Arweave) == 0 {
		config.Gateways.Arweave = []string{
			"https://arweave.net",
			"https://ar-io.net",
		}
	}
	if config.Gateways.Placeholder == "" {
		config.Gateways.Placeholder = "/images/default-nft.png"
	}

	// Cache defaults
	if config.Cache.BudgetMB == 0 {
		config.Cache.BudgetMB = 50
	}

	// Preload defaults
	if config.Preload.Count == 0 {
		config.Preload.Count = 3
	}
	if config.Preload.CellularMax == 0 {
		config.Preload.CellularMax = 2
	}
	if config.Preload.ProbeTimeout == 0 {
		config.Preload.ProbeTimeout = 10 * time.Second
	}
	if config.Preload.RateLimitMbps == 0 {
		config.Preload.RateLimitMbps = 20
	}
	if config.Preload.ChunkKB3G == 0 {
		config.Preload.ChunkKB3G = 128
	}
	if config.Preload.ChunkKB4G == 0 {
		config.Preload.ChunkKB4G = 512
	}
	if config.Preload.ChunkKBWifi == 0 {
		config.Preload.ChunkKBWifi = 1024
	}

	// Playback defaults
	if config.Playback.Threshold == 0 {
		config.Playback.Threshold = 0.25
	}

	// Server defaults
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 15 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 60 * time.Second
	}

	// Store defaults
	if config.Store.Directory == "" {
		config.Store.Directory = "./data"
	}

	// Logging defaults
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
}

// GetLogLevel converts the string log level to slog.Level.
// Returns slog.LevelInfo for invalid or unknown levels.
func (c *LoggingConfig) GetLogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CacheBudgetBytes returns the chunk cache byte budget.
func (c *CacheConfig) CacheBudgetBytes() int64 {
	return int64(c.BudgetMB) * 1024 * 1024
}
