package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// validate performs comprehensive validation of the configuration.
// Returns an error describing the first validation failure found.
func validate(config *Config) error {
	if err := validateGateways(&config.Gateways); err != nil {
		return fmt.Errorf("gateways config: %w", err)
	}

	if err := validateCache(&config.Cache); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := validatePreload(&config.Preload); err != nil {
		return fmt.Errorf("preload config: %w", err)
	}

	if err := validatePlayback(&config.Playback); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateStore(&config.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := validateLogging(&config.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// validateGateways validates the gateway host lists.
func validateGateways(config *GatewayConfig) error {
	if len(config.IPFS) == 0 {
		return fmt.Errorf("at least one ipfs gateway is required")
	}

	for _, gw := range config.IPFS {
		if err := validateGatewayURL(gw); err != nil {
			return fmt.Errorf("ipfs gateway %q: %w", gw, err)
		}
	}

	if err := validateGatewayURL(config.IPFSMobile); err != nil {
		return fmt.Errorf("ipfs_mobile gateway %q: %w", config.IPFSMobile, err)
	}

	if len(config.Arweave) == 0 {
		return fmt.Errorf("at least one arweave gateway is required")
	}

	for _, gw := range config.Arweave {
		if err := validateGatewayURL(gw); err != nil {
			return fmt.Errorf("arweave gateway %q: %w", gw, err)
		}
	}

	return nil
}

// validateGatewayURL checks a single gateway base URL.
func validateGatewayURL(gw string) error {
	if gw == "" {
		return fmt.Errorf("gateway URL cannot be empty")
	}

	if !strings.HasPrefix(gw, "http://") && !strings.HasPrefix(gw, "https://") {
		return fmt.Errorf("gateway URL must start with http:// or https://")
	}

	if strings.HasSuffix(gw, "/") {
		return fmt.Errorf("gateway URL must not end with a trailing slash")
	}

	return nil
}

// validateCache validates the chunk cache configuration.
func validateCache(config *CacheConfig) error {
	if config.BudgetMB <= 0 {
		return fmt.Errorf("budget_mb must be positive")
	}

	return nil
}

// validatePreload validates preload configuration.
func validatePreload(config *PreloadConfig) error {
	if config.Count < 0 || config.Count > 10 {
		return fmt.Errorf("count must be between 0 and 10")
	}

	if config.CellularMax < 0 || config.CellularMax > config.Count {
		return fmt.Errorf("cellular_max must be between 0 and count")
	}

	if config.ProbeTimeout < 100*time.Millisecond || config.ProbeTimeout > 60*time.Second {
		return fmt.Errorf("probe_timeout must be between 100ms and 60s")
	}

	if config.RateLimitMbps <= 0 {
		return fmt.Errorf("rate_limit_mbps must be positive")
	}

	if config.ChunkKB3G <= 0 || config.ChunkKB4G <= 0 || config.ChunkKBWifi <= 0 {
		return fmt.Errorf("chunk sizes must be positive")
	}

	return nil
}

// validatePlayback validates play-session tracking configuration.
func validatePlayback(config *PlaybackConfig) error {
	if config.Threshold <= 0 || config.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1")
	}

	return nil
}

// validateServer validates HTTP server configuration.
func validateServer(config *ServerConfig) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if config.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	return nil
}

// validateStore validates the play-history store directory.
func validateStore(config *StoreConfig) error {
	if config.Directory == "" {
		return fmt.Errorf("directory is required")
	}

	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return fmt.Errorf("cannot create store directory %s: %w", config.Directory, err)
	}

	return nil
}

// validateLogging validates logging configuration.
func validateLogging(config *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, config.Level) {
		return fmt.Errorf("level must be one of: %s", strings.Join(validLevels, ", "))
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("format must be one of: %s", strings.Join(validFormats, ", "))
	}

	return nil
}

// contains checks if a slice contains a specific string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
