package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/goodtune/presenced/internal/config"
	"github.com/goodtune/presenced/internal/storage"
	"github.com/goodtune/presenced/internal/storage/bolt"
	"github.com/goodtune/presenced/internal/storage/redis"
)

// loadConfig resolves the configuration path. A positional argument wins
// over the --config flag.
func loadConfig(args []string) (*config.Config, error) {
	path := configPath
	if len(args) > 0 {
		path = args[0]
	}
	return config.Load(path)
}

// openStore opens the configured storage backend. The bolt backend honors
// readOnly so report tools can run alongside a live tracker.
func openStore(cfg config.StorageConfig, readOnly bool) (storage.Store, error) {
	switch cfg.Type {
	case "redis":
		return redis.Open(cfg.Redis)
	case "bolt":
		return bolt.Open(cfg.Path, readOnly)
	default:
		return nil, fmt.Errorf("unknown storage.type %q", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format. "text" is accepted as an alias for "console".
	if cfg.Format == "console" || cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(out).With().Timestamp().Logger()
}
