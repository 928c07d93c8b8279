package config

import "strings"

// Job store driver names.
const (
	StoreDriverMemory   = "memory"
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
)

// StorageConfig contains job store driver and artifact storage configuration.
type StorageConfig struct {
	// Driver selects the job store backend: memory, redis, or postgres.
	Driver string `env:"STORE_DRIVER" envDefault:"memory"`

	// Root is the artifact storage root directory.
	Root string `env:"STORAGE_ROOT" envDefault:"/var/lib/scenesmith/artifacts"`

	// Postgres connection settings (postgres driver only).
	Postgres DBConfig `envPrefix:"DB_"`

	// Redis connection settings (redis driver only).
	Redis RedisConfig `envPrefix:"REDIS_"`
}

// Sanitize applies guardrails to storage configuration values.
func (s *StorageConfig) Sanitize() {
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	if s.Driver == "" {
		s.Driver = StoreDriverMemory
	}
	s.Root = strings.TrimSpace(s.Root)
}

// DriverValid returns true when the configured driver is a known backend.
func (s *StorageConfig) DriverValid() bool {
	switch s.Driver {
	case StoreDriverMemory, StoreDriverRedis, StoreDriverPostgres:
		return true
	}
	return false
}

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"scenesmith"`
	Password string `env:"PASSWORD" envDefault:"scenesmith"`
	Name     string `env:"NAME"     envDefault:"scenesmith"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
}
