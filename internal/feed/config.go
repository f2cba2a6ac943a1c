package feed

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds feed pagination settings.
type Config struct {
	PageSize          int `yaml:"page_size"`
	FanoutConcurrency int `yaml:"fanout_concurrency"`
}

// DefaultConfig returns the default pagination settings.
func DefaultConfig() Config {
	return Config{
		PageSize:          15,
		FanoutConcurrency: 15,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.PageSize == 0 {
		c.PageSize = d.PageSize
	}
	if c.FanoutConcurrency == 0 {
		c.FanoutConcurrency = d.FanoutConcurrency
	}
}

// ApplyEnvOverrides applies MEMEFEED_PAGE_SIZE.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MEMEFEED_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PageSize = n
		}
	}
}

// ResolvePaths is a no-op: feed settings hold no paths.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("feed: page_size must be positive, got %d", c.PageSize)
	}
	if c.FanoutConcurrency <= 0 {
		return fmt.Errorf("feed: fanout_concurrency must be positive, got %d", c.FanoutConcurrency)
	}
	return nil
}
