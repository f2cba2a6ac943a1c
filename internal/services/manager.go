// Package services wires the memefeed components from configuration and
// runs them as one process.
package services

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/fanzone/memefeed/internal/cache"
	"github.com/fanzone/memefeed/internal/config"
	"github.com/fanzone/memefeed/internal/events"
	"github.com/fanzone/memefeed/internal/feed"
	"github.com/fanzone/memefeed/internal/pubsub"
	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/internal/server"
	"github.com/fanzone/memefeed/pkg/model"
)

// Options are process-level switches that do not belong in the config file.
type Options struct {
	// InitialFilter is selected when the manager starts. Empty skips the warm-up load.
	InitialFilter model.FilterKey
}

// closer releases one backend during shutdown.
type closer struct {
	name  string
	close func(ctx context.Context) error
}

type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	primary remote.PrimaryCollection
	writer  remote.ItemWriter
	index   remote.IndexStore
	changes remote.ChangeWatcher // change feed of the primary collection
	watcher remote.ChangeWatcher // realtime source handed to the repository

	provider  pubsub.Provider
	publisher *events.Publisher

	store  *cache.SQLiteStore
	repo   *feed.Repository
	server server.Service

	closers []closer
	wg      sync.WaitGroup
}

func NewManager(cfg *config.Config, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With("component", "services"),
	}
}

// Repository returns the feed session, nil before Init.
func (m *Manager) Repository() *feed.Repository {
	return m.repo
}

// Handler returns the HTTP handler with middleware, nil before Init.
func (m *Manager) Handler() http.Handler {
	if m.server == nil {
		return nil
	}
	return m.server.Handler()
}

func (m *Manager) addCloser(name string, fn func(ctx context.Context) error) {
	m.closers = append(m.closers, closer{name: name, close: fn})
}

func ioCloser(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}
