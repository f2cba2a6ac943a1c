// Package ratelimit throttles HTTP clients by key, usually the client IP.
package ratelimit

import (
	"time"
)

// Limiter decides whether a request for a key may proceed.
type Limiter interface {
	// Allow reports whether a request from key is allowed and consumes a token if so.
	Allow(key string) bool

	// Reset forgets the state of key.
	Reset(key string)
}

// Config holds the configuration for rate limiting.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// Requests is the number of requests a key may make per Window. It is also the burst size.
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Requests: 300,
		Window:   time.Minute,
	}
}
