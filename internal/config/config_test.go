package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "./images", cfg.Storage.ImagesDir)
	assert.Equal(t, "./processed", cfg.Storage.ProcessedDir)
	assert.Equal(t, 4, cfg.Workers.Size)
	assert.Equal(t, 2*time.Minute, cfg.Workers.DeleteTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Shell.Async)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"IMGLC_IMAGES_DIR":       "/tmp/in",
		"IMGLC_PROCESSED_DIR":    "/tmp/out",
		"IMGLC_WORKERS":          "8",
		"IMGLC_DELETE_TIMEOUT":   "30s",
		"IMGLC_SHUTDOWN_TIMEOUT": "1m",
		"IMGLC_LOG_LEVEL":        "debug",
		"IMGLC_LOG_DEV":          "true",
		"IMGLC_METRICS_ADDR":     ":9100",
		"IMGLC_ASYNC":            "true",
		"IMGLC_BUS_BUFFER":       "16",
		"IMGLC_LOG_OUTPUTS":      "stderr,/tmp/imglc.log",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/in", cfg.Storage.ImagesDir)
	assert.Equal(t, "/tmp/out", cfg.Storage.ProcessedDir)
	assert.Equal(t, 8, cfg.Workers.Size)
	assert.Equal(t, 30*time.Second, cfg.Workers.DeleteTimeout)
	assert.Equal(t, time.Minute, cfg.Workers.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.True(t, cfg.Shell.Async)
	assert.Equal(t, 16, cfg.Shell.BusBuffer)
	assert.Equal(t, []string{"stderr", "/tmp/imglc.log"}, cfg.Logging.Outputs)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("IMGLC_WORKERS", "many")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Workers.Size = 0 }},
		{"empty images dir", func(c *Config) { c.Storage.ImagesDir = "" }},
		{"zero delete timeout", func(c *Config) { c.Workers.DeleteTimeout = 0 }},
		{"zero shutdown timeout", func(c *Config) { c.Workers.ShutdownTimeout = 0 }},
		{"negative bus buffer", func(c *Config) { c.Shell.BusBuffer = -1 }},
		{"logs on stdout", func(c *Config) { c.Logging.Outputs = []string{"stderr", "stdout"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
