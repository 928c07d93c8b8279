// Package config holds the environment-driven application configuration.
package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - http.go: HTTP server configuration
//   - services.go: Service mode, pipeline, and reaper configuration
//   - storage.go: Job store driver and artifact storage configuration
//   - observability.go: Metrics configuration
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging etc).
	// Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Services is a comma-delimited list of enabled services.
	// Valid values: http, pipeline, reaper
	Services string `env:"SERVICES" envDefault:"http,pipeline"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Pipeline scheduler configuration
	Pipeline PipelineConfig

	// Reaper configuration
	Reaper ReaperConfig

	// Job store and artifact storage configuration
	Storage StorageConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Pipeline.Sanitize()
	c.Reaper.Sanitize()
	c.Storage.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks the DEV environment variable directly so truthy
// spellings like "1" or "yes" also enable development mode.
func (c *AppConfig) detectDevMode() {
	if c.IsDev {
		return
	}
	switch strings.ToLower(os.Getenv("DEV")) {
	case "1", "true", "yes":
		c.IsDev = true
	}
}
