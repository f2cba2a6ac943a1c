package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/pkg/model"
)

// InsertFunc receives an item added to the primary collection.
type InsertFunc func(ctx context.Context, item model.ContentItem)

// RemoveFunc receives the id of an item removed from the primary collection.
type RemoveFunc func(ctx context.Context, id string)

// ErrNoWatcher is returned when realtime is requested without a change source.
var ErrNoWatcher = errors.New("no change watcher configured")

// Reconciler relays child-added and child-removed events of the primary
// collection while the ALL filter is active. Other filters are snapshot only.
type Reconciler struct {
	watcher remote.ChangeWatcher
	primary remote.PrimaryCollection
	logger  *slog.Logger

	// lifecycle serializes Start and Stop so at most one subscription exists.
	lifecycle sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler creates a Reconciler. primary resolves added events that
// arrive without the full item.
func NewReconciler(watcher remote.ChangeWatcher, primary remote.PrimaryCollection, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		watcher: watcher,
		primary: primary,
		logger:  logger.With("component", "reconciler"),
	}
}

// Start subscribes for key. It is a no-op unless key is ALL. A running
// subscription is stopped first. The subscription lives until Stop or ctx ends.
func (r *Reconciler) Start(ctx context.Context, key model.FilterKey, knownIDs []string, onInsert InsertFunc, onRemove RemoveFunc) error {
	if key != model.FilterAll {
		return nil
	}
	if r.watcher == nil {
		return ErrNoWatcher
	}
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	r.stop()

	watchCtx, cancel := context.WithCancel(ctx)
	events, err := r.watcher.Watch(watchCtx)
	if err != nil {
		cancel()
		return model.WrapError(err)
	}

	known := make(map[string]struct{}, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = struct{}{}
	}
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	r.logger.Info("Realtime started", "filter", key, "known", len(known))
	go r.run(watchCtx, events, known, onInsert, onRemove, done)
	return nil
}

func (r *Reconciler) run(ctx context.Context, events <-chan remote.ChildEvent, known map[string]struct{}, onInsert InsertFunc, onRemove RemoveFunc, done chan struct{}) {
	defer close(done)
	for {
		var evt remote.ChildEvent
		var ok bool
		select {
		case evt, ok = <-events:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		switch evt.Type {
		case remote.ChildAdded:
			if _, seen := known[evt.ID]; seen {
				continue
			}
			item, err := r.resolve(ctx, evt)
			if err != nil {
				r.logger.Warn("Skipping unresolvable added item", "id", evt.ID, "error", err)
				continue
			}
			known[evt.ID] = struct{}{}
			if onInsert != nil {
				onInsert(ctx, item)
			}
		case remote.ChildRemoved:
			delete(known, evt.ID)
			if onRemove != nil {
				onRemove(ctx, evt.ID)
			}
		}
	}
}

func (r *Reconciler) resolve(ctx context.Context, evt remote.ChildEvent) (model.ContentItem, error) {
	if evt.Item != nil {
		return evt.Item.Clone(), nil
	}
	if r.primary == nil {
		return model.ContentItem{}, model.ErrNotFound
	}
	return r.primary.Get(ctx, evt.ID)
}

// Stop unsubscribes and waits for the event loop to exit. Safe to call when inactive.
func (r *Reconciler) Stop() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	r.stop()
}

// stop must be called with r.lifecycle held.
func (r *Reconciler) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("Realtime stopped")
}

// Active reports whether a subscription is running.
func (r *Reconciler) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}
