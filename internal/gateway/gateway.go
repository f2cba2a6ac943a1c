// Package gateway exposes a feed session over HTTP and WebSocket.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fanzone/memefeed/internal/feed"
	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/pkg/model"
)

// Default body size limit
const DefaultMaxBodySize = 1 << 20

// Default request timeouts
const (
	DefaultRequestTimeout = 30 * time.Second
	HealthTimeout         = 5 * time.Second
)

// Handler serves the feed API for one Repository.
type Handler struct {
	repo    *feed.Repository
	writer  remote.ItemWriter
	primary remote.PrimaryCollection
	events  EventPublisher
	logger  *slog.Logger

	allowedOrigins []string
}

// Option configures a Handler.
type Option func(*Handler)

// WithWriter enables POST and DELETE on /v1/items to write through to the
// primary collection before running the index hooks. primary resolves the
// team of an item being deleted.
func WithWriter(writer remote.ItemWriter, primary remote.PrimaryCollection) Option {
	return func(h *Handler) {
		h.writer = writer
		h.primary = primary
	}
}

// EventPublisher announces item writes to other feed instances.
type EventPublisher interface {
	PublishAdded(ctx context.Context, item model.ContentItem) error
	PublishRemoved(ctx context.Context, id string) error
}

// WithPublisher announces successful item writes through p.
func WithPublisher(p EventPublisher) Option {
	return func(h *Handler) {
		h.events = p
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithAllowedOrigins restricts WebSocket origins beyond same-host.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		h.allowedOrigins = origins
	}
}

// NewHandler creates a Handler. repo must not be nil.
func NewHandler(repo *feed.Repository, opts ...Option) *Handler {
	if repo == nil {
		panic("feed repository cannot be nil")
	}
	h := &Handler{repo: repo, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "gateway")
	return h
}

// RegisterRoutes registers the API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/feeds/state", withTimeout(h.handleGetState, DefaultRequestTimeout))
	mux.HandleFunc("GET /v1/feeds/{filter}/items", withTimeout(h.handleListItems, DefaultRequestTimeout))
	mux.HandleFunc("POST /v1/feeds/{filter}/select", withTimeout(h.runLoad(h.repo.SelectFilter), DefaultRequestTimeout))
	mux.HandleFunc("POST /v1/feeds/{filter}/load", withTimeout(h.runLoad(h.repo.InitialLoad), DefaultRequestTimeout))
	mux.HandleFunc("POST /v1/feeds/{filter}/next", withTimeout(h.runLoad(h.repo.LoadNextPage), DefaultRequestTimeout))
	mux.HandleFunc("POST /v1/feeds/{filter}/refresh", withTimeout(h.runLoad(h.repo.Refresh), DefaultRequestTimeout))
	mux.HandleFunc("DELETE /v1/feeds/{filter}/cursor", withTimeout(h.handleResetCursor, DefaultRequestTimeout))
	mux.HandleFunc("DELETE /v1/feeds/cursors", withTimeout(h.handleResetAllCursors, DefaultRequestTimeout))

	// Streams are long-lived: no request timeout.
	mux.HandleFunc("GET /v1/feeds/{filter}/watch", h.handleWatch)

	mux.HandleFunc("POST /v1/items", withTimeout(maxBodySize(h.handlePostItem, DefaultMaxBodySize), DefaultRequestTimeout))
	mux.HandleFunc("DELETE /v1/items/{id}", withTimeout(h.handleDeleteItem, DefaultRequestTimeout))
	mux.HandleFunc("PUT /v1/items/{id}/score", withTimeout(h.handleUpdateScore, DefaultRequestTimeout))

	mux.HandleFunc("GET /health", withTimeout(h.handleHealth, HealthTimeout))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
