package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fanzone/memefeed/internal/cache"
	"github.com/fanzone/memefeed/internal/config"
	"github.com/fanzone/memefeed/internal/events"
	"github.com/fanzone/memefeed/internal/feed"
	"github.com/fanzone/memefeed/internal/gateway"
	"github.com/fanzone/memefeed/internal/index"
	"github.com/fanzone/memefeed/internal/pubsub"
	pubsubmemory "github.com/fanzone/memefeed/internal/pubsub/memory"
	pubsubnats "github.com/fanzone/memefeed/internal/pubsub/nats"
	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/internal/remote/memory"
	"github.com/fanzone/memefeed/internal/remote/mongo"
	"github.com/fanzone/memefeed/internal/remote/redis"
	"github.com/fanzone/memefeed/internal/server"
)

// primaryBackend is a primary collection that also accepts writes and
// streams its changes.
type primaryBackend interface {
	remote.PrimaryCollection
	remote.ItemWriter
	remote.ChangeWatcher
	Close(ctx context.Context) error
}

type indexBackend interface {
	remote.IndexStore
	io.Closer
}

var connectPrimary = func(ctx context.Context, cfg mongo.Config, logger *slog.Logger) (primaryBackend, error) {
	p, err := mongo.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := p.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to ensure primary indexes", "error", err)
	}
	return p, nil
}

var connectIndex = func(ctx context.Context, cfg redis.Config) (indexBackend, error) {
	s, err := redis.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var newNATSProvider = func(url string) pubsub.Provider {
	return pubsubnats.NewProvider(url, "memefeed")
}

// Init builds every component. On error the components built so far are
// released by Shutdown.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.initRemote(ctx); err != nil {
		return err
	}
	if err := m.initPubSub(ctx); err != nil {
		return err
	}
	if err := m.initRealtimeSource(); err != nil {
		return err
	}
	if err := m.initCache(); err != nil {
		return err
	}
	if err := m.initRepository(); err != nil {
		return err
	}
	m.initServer()
	return nil
}

func (m *Manager) initRemote(ctx context.Context) error {
	cfg := m.cfg.Remote
	switch cfg.Backend {
	case config.BackendMemory:
		b := memory.New()
		m.primary, m.writer, m.changes, m.index = b, b, b, b
		m.logger.Info("Using in-memory remote backend")

	case config.BackendMongo:
		p, err := connectPrimary(ctx, cfg.Mongo, m.logger)
		if err != nil {
			return fmt.Errorf("failed to connect primary collection: %w", err)
		}
		m.addCloser("mongo", p.Close)

		idx, err := connectIndex(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect index store: %w", err)
		}
		m.addCloser("redis", ioCloser(idx))

		m.primary, m.writer, m.changes, m.index = p, p, p, idx
		m.logger.Info("Connected to remote backend", "mongo", cfg.Mongo.Database, "redis", cfg.Redis.Addr)

	default:
		return fmt.Errorf("unsupported remote backend %q", cfg.Backend)
	}

	if cfg.RateLimit > 0 {
		limiter := remote.NewLimiter(cfg.RateLimit, cfg.Burst)
		m.primary = remote.LimitPrimary(m.primary, limiter)
		m.index = remote.LimitIndex(m.index, limiter)
		m.logger.Info("Throttling remote reads", "rps", cfg.RateLimit, "burst", cfg.Burst)
	}
	return nil
}

func (m *Manager) needsPubSub() bool {
	return m.cfg.Realtime.Source == config.SourcePubSub || m.cfg.Realtime.Relay
}

func (m *Manager) initPubSub(ctx context.Context) error {
	if !m.needsPubSub() {
		return nil
	}

	cfg := m.cfg.PubSub
	switch cfg.Backend {
	case config.BackendMemory:
		m.provider = pubsubmemory.New()
	case config.BackendNATS:
		m.provider = newNATSProvider(cfg.NatsURL)
	default:
		return fmt.Errorf("unsupported pubsub backend %q", cfg.Backend)
	}
	m.addCloser("pubsub", ioCloser(m.provider))

	if c, ok := m.provider.(pubsub.Connectable); ok {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect pubsub: %w", err)
		}
	}

	pub, err := m.provider.NewPublisher(pubsub.PublisherOptions{SubjectPrefix: cfg.SubjectPrefix})
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	m.publisher = events.NewPublisher(pub, m.logger)
	m.logger.Info("Initialized pubsub", "backend", cfg.Backend)
	return nil
}

func (m *Manager) initRealtimeSource() error {
	switch m.cfg.Realtime.Source {
	case config.SourcePrimary:
		m.watcher = m.changes
	case config.SourcePubSub:
		if m.provider == nil {
			return errors.New("realtime source pubsub requires a pubsub provider")
		}
		m.watcher = events.NewWatcher(m.provider, m.cfg.PubSub.SubjectPrefix, m.logger)
	default:
		return fmt.Errorf("unsupported realtime source %q", m.cfg.Realtime.Source)
	}
	return nil
}

func (m *Manager) initCache() error {
	store, err := cache.Open(m.cfg.Cache.Path, cache.WithLogger(m.logger))
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	m.store = store
	m.addCloser("cache", ioCloser(store))
	m.logger.Info("Opened cache store", "path", m.cfg.Cache.Path)
	return nil
}

func (m *Manager) initRepository() error {
	repo, err := feed.NewRepository(feed.Deps{
		Cache:      m.store,
		Primary:    m.primary,
		Index:      m.index,
		Watcher:    m.watcher,
		Maintainer: index.NewMaintainer(m.index, m.logger),
		Logger:     m.logger,
	}, m.cfg.Feed, m.cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to create feed repository: %w", err)
	}
	m.repo = repo
	m.addCloser("repository", ioCloser(repo))
	return nil
}

func (m *Manager) initServer() {
	m.server = server.New(m.cfg.Server, m.logger)
	opts := []gateway.Option{
		gateway.WithWriter(m.writer, m.primary),
		gateway.WithLogger(m.logger),
		gateway.WithAllowedOrigins(m.cfg.Server.AllowedOrigins...),
	}
	// Without a relay, this instance announces its own writes.
	if m.publisher != nil && !m.cfg.Realtime.Relay {
		opts = append(opts, gateway.WithPublisher(m.publisher))
	}
	handler := gateway.NewHandler(m.repo, opts...)
	handler.RegisterRoutes(m.server.HTTPMux())
}
