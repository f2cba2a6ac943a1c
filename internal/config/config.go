// Package config loads the memefeed configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fanzone/memefeed/internal/cache"
	"github.com/fanzone/memefeed/internal/feed"
	"github.com/fanzone/memefeed/internal/server"
)

// Config holds the application configuration
type Config struct {
	Server  server.Config `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`

	Cache cache.Config `yaml:"cache"`
	Feed  feed.Config  `yaml:"feed"`

	Remote   RemoteConfig   `yaml:"remote"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:   server.DefaultConfig(),
		Logging:  DefaultLoggingConfig(),
		Cache:    cache.DefaultConfig(),
		Feed:     feed.DefaultConfig(),
		Remote:   DefaultRemoteConfig(),
		PubSub:   DefaultPubSubConfig(),
		Realtime: DefaultRealtimeConfig(),
	}
}

// LoadConfig loads configuration from configDir and the environment.
// Order: defaults -> config.yml -> config.local.yml -> .env -> env overrides -> ResolvePaths -> Validate.
// Missing files are skipped; unreadable or malformed ones are logged and skipped.
func LoadConfig(configDir string) (*Config, error) {
	cfg := Default()

	loadFile(filepath.Join(configDir, "config.yml"), cfg)
	loadFile(filepath.Join(configDir, "config.local.yml"), cfg)

	// .env never overrides variables already set in the process environment.
	if err := godotenv.Load(filepath.Join(filepath.Dir(configDir), ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env", "error", err)
	}

	if err := cfg.apply(filepath.Dir(configDir)); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func (c *Config) apply(baseDir string) error {
	return ApplyServiceConfigs(baseDir,
		&c.Server,
		&c.Logging,
		&c.Cache,
		&c.Feed,
		&c.Remote,
		&c.PubSub,
		&c.Realtime,
	)
}

func loadFile(filename string, cfg *Config) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		slog.Warn("Error reading config file", "file", filename, "error", err)
		return
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Error parsing config file", "file", filename, "error", err)
	}
}
