// Package feed is the fetch orchestrator of the memes feed: it pages the
// remote store per filter, maintains the local cache partitions and cursors,
// exposes pagination state and drives realtime reconciliation.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fanzone/memefeed/internal/cache"
	"github.com/fanzone/memefeed/internal/clock"
	"github.com/fanzone/memefeed/internal/cursor"
	"github.com/fanzone/memefeed/internal/index"
	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/pkg/model"
)

// Deps are the collaborators of a Repository. Index, Watcher and Maintainer
// are optional: without them only ALL paging works.
type Deps struct {
	Cache      cache.Store
	Primary    remote.PrimaryCollection
	Index      remote.IndexStore
	Watcher    remote.ChangeWatcher
	Maintainer *index.Maintainer
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Repository is one feed session. Page fetches are serialized; remote
// failures become PaginationState errors and never escape a load call.
type Repository struct {
	cache      cache.Store
	primary    remote.PrimaryCollection
	index      remote.IndexStore
	maintainer *index.Maintainer
	clock      clock.Clock
	logger     *slog.Logger

	cfg      Config
	capacity int
	ttl      time.Duration

	cursors    *cursor.Manager
	state      *stateHolder
	reconciler *Reconciler

	fetchMu sync.Mutex

	// Realtime subscriptions outlive the calls that start them.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	active model.FilterKey
	closed atomic.Bool
}

// NewRepository creates a feed session.
func NewRepository(deps Deps, cfg Config, cacheCfg cache.Config) (*Repository, error) {
	if deps.Cache == nil {
		return nil, errors.New("feed: cache store is required")
	}
	if deps.Primary == nil {
		return nil, errors.New("feed: primary collection is required")
	}
	cfg.ApplyDefaults()
	cacheCfg.ApplyDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Repository{
		cache:      deps.Cache,
		primary:    deps.Primary,
		index:      deps.Index,
		maintainer: deps.Maintainer,
		clock:      deps.Clock,
		logger:     logger.With("component", "feed"),
		cfg:        cfg,
		capacity:   cacheCfg.Capacity,
		ttl:        cacheCfg.TTL,
		cursors:    cursor.NewManager(),
		state:      newStateHolder(PaginationState{HasMore: true}),
		reconciler: NewReconciler(deps.Watcher, deps.Primary, logger),
		baseCtx:    ctx,
		baseCancel: cancel,
	}, nil
}

// Observe streams the cached partition for key. It keeps working while the
// network path fails.
func (r *Repository) Observe(ctx context.Context, key model.FilterKey) (<-chan []model.CachedEntry, error) {
	if err := r.check(key); err != nil {
		return nil, err
	}
	return r.cache.Observe(ctx, key)
}

// Snapshot returns the cached partition for key once.
func (r *Repository) Snapshot(ctx context.Context, key model.FilterKey) ([]model.CachedEntry, error) {
	if err := r.check(key); err != nil {
		return nil, err
	}
	return r.cache.Snapshot(ctx, key)
}

// InitialLoad evicts expired rows, fetches page 1 for key and replaces the
// partition with it. It waits for an in-flight fetch. On failure the
// partition is left untouched and the error is reported through State.
func (r *Repository) InitialLoad(ctx context.Context, key model.FilterKey) error {
	if err := r.check(key); err != nil {
		return err
	}
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()

	r.state.set(PaginationState{Filter: key, Loading: true, HasMore: true})

	now := r.clock.Now()
	if n, err := r.cache.EvictOlderThan(ctx, now.Add(-r.ttl)); err != nil {
		r.fail(key, fmt.Errorf("evict expired rows: %w", err))
		return nil
	} else if n > 0 {
		r.logger.Info("Evicted expired cache rows", "count", n)
	}

	res, err := r.fetch(ctx, key, nil)
	if err != nil {
		r.fail(key, err)
		return nil
	}
	if err := r.cache.ReplacePartition(ctx, key, toEntries(res.Items, key, now)); err != nil {
		r.fail(key, fmt.Errorf("replace partition: %w", err))
		return nil
	}
	r.cursors.Reset(key)
	r.finish(ctx, key, res)
	return nil
}

// LoadNextPage fetches the page after the stored cursor and merges it into
// the partition. It is a no-op while another fetch runs or when the last
// load of key reported no more pages.
func (r *Repository) LoadNextPage(ctx context.Context, key model.FilterKey) error {
	if err := r.check(key); err != nil {
		return err
	}
	if !r.fetchMu.TryLock() {
		r.logger.Debug("Skipping next page while loading", "filter", key)
		return nil
	}
	defer r.fetchMu.Unlock()

	if st := r.state.get(); st.Filter == key && !st.HasMore {
		return nil
	}

	var cur *cursor.Cursor
	if c, ok := r.cursors.Get(key); ok {
		cur = &c
	}
	r.state.set(PaginationState{Filter: key, Loading: true, HasMore: true})

	res, err := r.fetch(ctx, key, cur)
	if err != nil {
		r.fail(key, err)
		return nil
	}
	if err := r.cache.InsertOrReplace(ctx, toEntries(res.Items, key, r.clock.Now())); err != nil {
		r.fail(key, fmt.Errorf("insert page: %w", err))
		return nil
	}
	r.finish(ctx, key, res)
	return nil
}

// Refresh discards the cursor for key and reloads page 1.
func (r *Repository) Refresh(ctx context.Context, key model.FilterKey) error {
	if err := r.check(key); err != nil {
		return err
	}
	r.cursors.Reset(key)
	return r.InitialLoad(ctx, key)
}

// SelectFilter switches the session to key: realtime stops before anything
// is fetched for the new filter, then page 1 loads and realtime restarts when
// key is ALL.
func (r *Repository) SelectFilter(ctx context.Context, key model.FilterKey) error {
	if err := r.check(key); err != nil {
		return err
	}
	r.StopRealtime()
	r.ResetCursor(key)

	r.mu.Lock()
	r.active = key
	r.mu.Unlock()

	if err := r.InitialLoad(ctx, key); err != nil {
		return err
	}
	if key != model.FilterAll {
		return nil
	}

	entries, err := r.cache.Snapshot(ctx, key)
	if err != nil {
		r.logger.Warn("Realtime not started: cannot read known ids", "error", err)
		return nil
	}
	known := make([]string, len(entries))
	for i, e := range entries {
		known[i] = e.ID
	}
	if err := r.StartRealtime(key, known, nil, nil); err != nil && !errors.Is(err, ErrNoWatcher) {
		r.logger.Warn("Realtime not started", "error", err)
	}
	return nil
}

// ActiveFilter returns the filter last selected with SelectFilter.
func (r *Repository) ActiveFilter() model.FilterKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ResetCursor forgets the cursor for key.
func (r *Repository) ResetCursor(key model.FilterKey) {
	r.cursors.Reset(key)
}

// ResetAllCursors forgets every cursor, e.g. on session teardown.
func (r *Repository) ResetAllCursors() {
	r.cursors.ResetAll()
}

// State returns the current pagination state.
func (r *Repository) State() PaginationState {
	return r.state.get()
}

// SubscribeState emits the current state and every later change until ctx ends.
func (r *Repository) SubscribeState(ctx context.Context) <-chan PaginationState {
	return r.state.subscribe(ctx)
}

// StartRealtime starts reconciling the ALL partition. Inserted items are
// upserted into ALL and the partition is capped; removed ids are deleted from
// every partition. The optional callbacks run after the cache is patched.
// It is a no-op for any other filter.
func (r *Repository) StartRealtime(key model.FilterKey, knownIDs []string, onInsert InsertFunc, onRemove RemoveFunc) error {
	if err := r.check(key); err != nil {
		return err
	}
	insert := func(ctx context.Context, item model.ContentItem) {
		entry := model.NewCachedEntry(item, model.FilterAll, r.clock.Now())
		if err := r.cache.Insert(ctx, entry); err != nil {
			r.logger.Warn("Failed to cache realtime insert", "id", item.ID, "error", err)
			return
		}
		if _, err := r.cache.EnforceCap(ctx, model.FilterAll, r.capacity); err != nil {
			r.logger.Warn("Failed to cap partition after realtime insert", "error", err)
		}
		if onInsert != nil {
			onInsert(ctx, item)
		}
	}
	remove := func(ctx context.Context, id string) {
		if err := r.cache.DeleteByID(ctx, id); err != nil {
			r.logger.Warn("Failed to delete realtime removal", "id", id, "error", err)
			return
		}
		if onRemove != nil {
			onRemove(ctx, id)
		}
	}
	return r.reconciler.Start(r.baseCtx, key, knownIDs, insert, remove)
}

// StopRealtime stops reconciliation. Safe to call when inactive.
func (r *Repository) StopRealtime() {
	r.reconciler.Stop()
}

// RealtimeActive reports whether reconciliation is running.
func (r *Repository) RealtimeActive() bool {
	return r.reconciler.Active()
}

// Close stops realtime and ends state subscriptions. The cache store is not closed.
func (r *Repository) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.StopRealtime()
	r.baseCancel()
	r.state.close()
	return nil
}

func (r *Repository) check(key model.FilterKey) error {
	if r.closed.Load() {
		return model.ErrClosed
	}
	return key.Validate()
}

// finish caps the partition, advances the cursor and publishes the new state.
func (r *Repository) finish(ctx context.Context, key model.FilterKey, res pageResult) {
	if _, err := r.cache.EnforceCap(ctx, key, r.capacity); err != nil {
		r.fail(key, fmt.Errorf("enforce cap: %w", err))
		return
	}
	if res.Next != nil {
		r.cursors.Set(key, *res.Next)
	}
	hasMore := res.Raw >= r.cfg.PageSize
	r.state.set(PaginationState{Filter: key, HasMore: hasMore})
	r.logger.Debug("Page loaded", "filter", key, "items", len(res.Items), "raw", res.Raw, "hasMore", hasMore)
}

func (r *Repository) fail(key model.FilterKey, err error) {
	err = model.WrapError(err)
	r.state.set(PaginationState{Filter: key, HasMore: false, Err: err})
	if model.IsCanceled(err) {
		r.logger.Debug("Page fetch canceled", "filter", key)
		return
	}
	r.logger.Warn("Page fetch failed", "filter", key, "error", err)
}

func toEntries(items []model.ContentItem, key model.FilterKey, cachedAt time.Time) []model.CachedEntry {
	entries := make([]model.CachedEntry, len(items))
	for i, it := range items {
		entries[i] = model.NewCachedEntry(it, key, cachedAt)
	}
	return entries
}
