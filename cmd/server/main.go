// Command server runs the PODPLAYR media engine HTTP daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/podplayr/media-engine/internal/playstore"
	"github.com/podplayr/media-engine/internal/server"
	"github.com/podplayr/media-engine/pkg/config"
)

func main() {
	configPath := flag.String("c", "config.yaml", "path to configuration file")
	exportPath := flag.String("export", "", "export play history to this file on shutdown")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(&cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		"config_path", *configPath,
		"port", cfg.Server.Port,
		"cache_budget_mb", cfg.Cache.BudgetMB,
		"preload_count", cfg.Preload.Count,
		"play_threshold", cfg.Playback.Threshold,
		"log_level", cfg.Logging.Level)

	store, err := playstore.NewStore(&cfg.Store, logger)
	if err != nil {
		logger.Error("Failed to open play store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	srv := server.New(cfg, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	if *exportPath != "" {
		if err := store.Export(*exportPath); err != nil {
			logger.Error("Failed to export play history", "path", *exportPath, "error", err)
			os.Exit(1)
		}
	}

	logger.Info("Shutdown complete")
}

// loadConfig reads the config file, falling back to the built-in
// defaults when no file exists at the default location.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
