package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesmith/scenesmith/config"
)

func TestValidateServiceConfig(t *testing.T) {
	cfg := &config.AppConfig{Services: "http,pipeline", Storage: config.StorageConfig{Driver: "memory"}}
	require.NoError(t, ValidateServiceConfig(cfg))

	cfg.Services = "pipeline,reaper"
	require.NoError(t, ValidateServiceConfig(cfg))

	// HTTP admits to an in-process queue and needs the pipeline next to it.
	cfg.Services = "http"
	assert.Error(t, ValidateServiceConfig(cfg))

	cfg.Services = "http,pipeline"
	cfg.Storage.Driver = "etcd"
	assert.Error(t, ValidateServiceConfig(cfg))

	cfg.Services = "bogus"
	assert.Error(t, ValidateServiceConfig(cfg))

	assert.Error(t, ValidateServiceConfig(nil))
}

func TestGetEnabledServices(t *testing.T) {
	cfg := &config.AppConfig{Services: "reaper,http,pipeline"}
	assert.Equal(t, []string{"http", "pipeline", "reaper"}, GetEnabledServices(cfg))

	cfg.Services = "bogus"
	assert.Empty(t, GetEnabledServices(cfg))
	assert.Empty(t, GetEnabledServices(nil))
}
