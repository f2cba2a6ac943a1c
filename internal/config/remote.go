package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fanzone/memefeed/internal/remote/mongo"
	"github.com/fanzone/memefeed/internal/remote/redis"
)

// Remote backends.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendNATS   = "nats"
)

// Realtime sources.
const (
	SourcePrimary = "primary"
	SourcePubSub  = "pubsub"
)

// RemoteConfig selects the primary collection and index store.
// The mongo backend pairs MongoDB for items with Redis for indices.
type RemoteConfig struct {
	Backend string       `yaml:"backend"` // memory, mongo
	Mongo   mongo.Config `yaml:"mongo"`
	Redis   redis.Config `yaml:"redis"`

	// RateLimit caps remote reads per second; 0 disables throttling.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// DefaultRemoteConfig returns the standalone defaults.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Backend: BackendMemory,
		Mongo:   mongo.DefaultConfig(),
		Redis:   redis.DefaultConfig(),
		Burst:   20,
	}
}

func (c *RemoteConfig) ApplyDefaults() {
	d := DefaultRemoteConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = d.Mongo.URI
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = d.Mongo.Database
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = d.Mongo.Collection
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = d.Redis.Addr
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = d.Redis.KeyPrefix
	}
	if c.Burst == 0 {
		c.Burst = d.Burst
	}
}

func (c *RemoteConfig) ApplyEnvOverrides() {
	if v := os.Getenv("MEMEFEED_REMOTE_BACKEND"); v != "" {
		c.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("MEMEFEED_MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("MEMEFEED_MONGO_DATABASE"); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv("MEMEFEED_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("MEMEFEED_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

func (c *RemoteConfig) ResolvePaths(_ string) { _ = c }

func (c *RemoteConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendMongo:
	default:
		return fmt.Errorf("remote: unknown backend %q (must be memory or mongo)", c.Backend)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("remote: rate_limit cannot be negative")
	}
	if c.Burst < 0 {
		return fmt.Errorf("remote: burst cannot be negative")
	}
	return nil
}

// PubSubConfig selects the transport for feed events.
type PubSubConfig struct {
	Backend       string `yaml:"backend"` // memory, nats
	NatsURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

func DefaultPubSubConfig() PubSubConfig {
	return PubSubConfig{
		Backend:       BackendMemory,
		NatsURL:       "nats://localhost:4222",
		SubjectPrefix: "memefeed",
	}
}

func (c *PubSubConfig) ApplyDefaults() {
	d := DefaultPubSubConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.NatsURL == "" {
		c.NatsURL = d.NatsURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = d.SubjectPrefix
	}
}

func (c *PubSubConfig) ApplyEnvOverrides() {
	if v := os.Getenv("MEMEFEED_PUBSUB_BACKEND"); v != "" {
		c.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("MEMEFEED_NATS_URL"); v != "" {
		c.NatsURL = v
	}
}

func (c *PubSubConfig) ResolvePaths(_ string) { _ = c }

func (c *PubSubConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendNATS:
	default:
		return fmt.Errorf("pubsub: unknown backend %q (must be memory or nats)", c.Backend)
	}
	if c.Backend == BackendNATS && c.NatsURL == "" {
		return fmt.Errorf("pubsub: nats_url is required for the nats backend")
	}
	return nil
}

// RealtimeConfig selects where ALL-filter change events come from.
//
//	primary: the primary collection's own change feed.
//	pubsub:  feed events on the pubsub transport.
//
// Relay republishes the primary change feed onto pubsub so that other
// instances can use the pubsub source.
type RealtimeConfig struct {
	Source string `yaml:"source"`
	Relay  bool   `yaml:"relay"`
}

func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{Source: SourcePrimary}
}

func (c *RealtimeConfig) ApplyDefaults() {
	if c.Source == "" {
		c.Source = SourcePrimary
	}
}

func (c *RealtimeConfig) ApplyEnvOverrides() {
	if v := os.Getenv("MEMEFEED_REALTIME_SOURCE"); v != "" {
		c.Source = strings.ToLower(v)
	}
}

func (c *RealtimeConfig) ResolvePaths(_ string) { _ = c }

func (c *RealtimeConfig) Validate() error {
	switch c.Source {
	case SourcePrimary, SourcePubSub:
	default:
		return fmt.Errorf("realtime: unknown source %q (must be primary or pubsub)", c.Source)
	}
	return nil
}
