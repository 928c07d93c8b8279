package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_Defaults(t *testing.T) {
	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, "http,pipeline", cfg.Services)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 20, cfg.HTTP.MaxPhotos)
	assert.Equal(t, 2, cfg.Pipeline.MaxConcurrentJobs)
	assert.Equal(t, 32, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, 25*time.Minute, cfg.Pipeline.JobTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Reaper.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Reaper.TTL)
	assert.Equal(t, StoreDriverMemory, cfg.Storage.Driver)
	assert.False(t, cfg.Observability.Metrics.IsEnabled())
}

func TestAppConfig_FromEnv(t *testing.T) {
	t.Setenv("SERVICES", "http,pipeline,reaper")
	t.Setenv("PIPELINE_MAX_CONCURRENT_JOBS", "4")
	t.Setenv("STORE_DRIVER", "Redis")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("REAPER_TTL", "48h")
	t.Setenv("OBSERVABILITY_METRICS_ENABLED", "true")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrentJobs)
	assert.Equal(t, StoreDriverRedis, cfg.Storage.Driver)
	assert.True(t, cfg.Storage.DriverValid())
	assert.Equal(t, "redis.internal:6380", cfg.Storage.Redis.Addr)
	assert.Equal(t, 48*time.Hour, cfg.Reaper.TTL)
	assert.True(t, cfg.Observability.Metrics.IsEnabled())
}

func TestAppConfig_SanitizeGuardrails(t *testing.T) {
	cfg := AppConfig{
		Pipeline: PipelineConfig{MaxConcurrentJobs: 0, QueueCapacity: -5, JobTimeout: time.Second},
		Reaper:   ReaperConfig{Interval: time.Second, TTL: time.Minute, BatchSize: 0},
		Storage:  StorageConfig{Driver: "  MEMORY "},
	}
	cfg.Sanitize()

	assert.Equal(t, 1, cfg.Pipeline.MaxConcurrentJobs)
	assert.Equal(t, 1, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, time.Minute, cfg.Pipeline.JobTimeout)
	assert.Equal(t, time.Minute, cfg.Reaper.Interval)
	assert.Equal(t, time.Hour, cfg.Reaper.TTL)
	assert.Equal(t, 1, cfg.Reaper.BatchSize)
	assert.Equal(t, StoreDriverMemory, cfg.Storage.Driver)
}

func TestParseServices(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[ServiceMode]bool
		wantErr bool
	}{
		{
			name:  "single service",
			input: "http",
			want:  map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:  "all services with whitespace",
			input: " http , pipeline , reaper ",
			want: map[ServiceMode]bool{
				ServiceModeHTTP: true, ServiceModePipeline: true, ServiceModeReaper: true,
			},
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "only commas",
			input:   ",,,",
			wantErr: true,
		},
		{
			name:    "unknown service",
			input:   "http,frontend",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStorageConfig_DriverValid(t *testing.T) {
	for _, driver := range []string{StoreDriverMemory, StoreDriverRedis, StoreDriverPostgres} {
		cfg := StorageConfig{Driver: driver}
		assert.True(t, cfg.DriverValid(), driver)
	}
	cfg := StorageConfig{Driver: "etcd"}
	assert.False(t, cfg.DriverValid())
}
