// Package bootstrap wires configuration, storage, and services into runnable
// processes.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/scenesmith/scenesmith/config"
)

// InitLogger initializes the structured logger. LOG_LEVEL selects the minimum
// level (debug, info, warn, error); unknown values fall back to info.
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevelFromEnv(),
	}))
	slog.SetDefault(logger)
	return logger
}

func logLevelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig checks that the enabled service combination can run
// in one process. The HTTP API admits jobs to an in-process queue, so it
// cannot run without the pipeline scheduler alongside it.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}

	enabled, err := config.ParseServices(cfg.Services)
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if enabled[config.ServiceModeHTTP] && !enabled[config.ServiceModePipeline] {
		return errors.New("the http service requires the pipeline service in the same process")
	}
	if !cfg.Storage.DriverValid() {
		return fmt.Errorf("invalid store driver: %q (valid options: memory, redis, postgres)", cfg.Storage.Driver)
	}
	return nil
}

// GetEnabledServices returns a list of enabled service names for logging.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	enabled, err := config.ParseServices(cfg.Services)
	if err != nil {
		// Return empty list on error - validation will catch this
		return []string{}
	}

	names := make([]string, 0, len(enabled))
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			names = append(names, string(mode))
		}
	}
	return names
}
