package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Storage StorageConfig
	Workers WorkerConfig
	Logging LogConfig
	Metrics MetricsConfig
	Shell   ShellConfig
}

// StorageConfig holds the managed storage directories.
type StorageConfig struct {
	ImagesDir    string `envconfig:"IMGLC_IMAGES_DIR" default:"./images"`
	ProcessedDir string `envconfig:"IMGLC_PROCESSED_DIR" default:"./processed"`
}

// WorkerConfig controls the transformation pool and the wait bounds.
type WorkerConfig struct {
	Size            int           `envconfig:"IMGLC_WORKERS" default:"4"`
	DeleteTimeout   time.Duration `envconfig:"IMGLC_DELETE_TIMEOUT" default:"2m"`
	ShutdownTimeout time.Duration `envconfig:"IMGLC_SHUTDOWN_TIMEOUT" default:"5m"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"IMGLC_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"IMGLC_LOG_DEV" default:"false"`
	// Outputs are zap sink URLs or file paths. stdout carries command
	// output and is rejected.
	Outputs []string `envconfig:"IMGLC_LOG_OUTPUTS" default:"stderr"`
}

// MetricsConfig holds the optional Prometheus endpoint address.
type MetricsConfig struct {
	Addr string `envconfig:"IMGLC_METRICS_ADDR" default:""`
}

// ShellConfig controls the interactive command loop.
type ShellConfig struct {
	Async     bool `envconfig:"IMGLC_ASYNC" default:"false"`
	BusBuffer int  `envconfig:"IMGLC_BUS_BUFFER" default:"256"`
}

// Load loads configuration from IMGLC_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			ImagesDir:    "./images",
			ProcessedDir: "./processed",
		},
		Workers: WorkerConfig{
			Size:            4,
			DeleteTimeout:   2 * time.Minute,
			ShutdownTimeout: 5 * time.Minute,
		},
		Logging: LogConfig{
			Level:   "info",
			Outputs: []string{"stderr"},
		},
		Shell: ShellConfig{
			BusBuffer: 256,
		},
	}
}

// Validate returns an error if the configuration is inconsistent.
func (c *Config) Validate() error {
	if c.Storage.ImagesDir == "" || c.Storage.ProcessedDir == "" {
		return errors.New("config: storage directories must be set")
	}
	if c.Workers.Size <= 0 {
		return errors.New("config: worker count must be positive")
	}
	if c.Workers.DeleteTimeout <= 0 {
		return errors.New("config: delete timeout must be positive")
	}
	if c.Workers.ShutdownTimeout <= 0 {
		return errors.New("config: shutdown timeout must be positive")
	}
	for _, out := range c.Logging.Outputs {
		if out == "stdout" {
			return errors.New("config: logs cannot go to stdout")
		}
	}
	if c.Shell.BusBuffer < 0 {
		return errors.New("config: bus buffer must not be negative")
	}
	return nil
}
