// Package memory implements the remote contracts in process. It backs the
// standalone deployment and the engine tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/pkg/model"
)

// watchBuffer is the per-watcher event buffer. Events beyond it are dropped.
const watchBuffer = 256

// Hooks inject failures or latency into backend calls. A non-nil error
// returned by a hook is returned from the call.
type Hooks struct {
	Page  func(ctx context.Context, q remote.PageQuery) error
	Get   func(ctx context.Context, id string) error
	Range func(ctx context.Context, index string, q remote.RangeQuery) error
	Apply func(ctx context.Context, mutations []remote.IndexMutation) error
}

// Backend is an in-memory primary collection, change feed and index store.
type Backend struct {
	mu       sync.RWMutex
	items    map[string]model.ContentItem
	indices  map[string]map[string]float64
	watchers map[chan remote.ChildEvent]struct{}
	hooks    Hooks
	now      func() time.Time
}

var (
	_ remote.PrimaryCollection = (*Backend)(nil)
	_ remote.ItemWriter        = (*Backend)(nil)
	_ remote.ChangeWatcher     = (*Backend)(nil)
	_ remote.IndexStore        = (*Backend)(nil)
)

// New creates an empty Backend.
func New() *Backend {
	return &Backend{
		items:    make(map[string]model.ContentItem),
		indices:  make(map[string]map[string]float64),
		watchers: make(map[chan remote.ChildEvent]struct{}),
		now:      time.Now,
	}
}

// SetHooks replaces the failure injection hooks.
func (b *Backend) SetHooks(h Hooks) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = h
}

// Seed stores items without emitting child events.
func (b *Backend) Seed(items ...model.ContentItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, it := range items {
		b.items[it.ID] = it.Clone()
	}
}

// SeedIndex sets index entries directly.
func (b *Backend) SeedIndex(index string, entries ...model.IndexEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		b.put(index, e.ID, e.Score)
	}
}

// Create stores a new item, assigning an id and creation time when missing,
// and emits a child-added event.
func (b *Backend) Create(ctx context.Context, item model.ContentItem) (model.ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return model.ContentItem{}, model.WrapError(err)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = b.now().UnixMilli()
	}
	if err := item.Validate(); err != nil {
		return model.ContentItem{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.items[item.ID]; exists {
		return model.ContentItem{}, fmt.Errorf("%w: %s already exists", model.ErrInvalidItem, item.ID)
	}
	b.items[item.ID] = item.Clone()
	created := item.Clone()
	b.broadcast(remote.ChildEvent{Type: remote.ChildAdded, ID: item.ID, Item: &created})
	return item, nil
}

// Delete removes an item and emits a child-removed event.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return model.WrapError(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[id]; !ok {
		return model.ErrNotFound
	}
	delete(b.items, id)
	b.broadcast(remote.ChildEvent{Type: remote.ChildRemoved, ID: id})
	return nil
}

// Page returns items ordered by createdAt desc, id desc, strictly older than q.Before.
func (b *Backend) Page(ctx context.Context, q remote.PageQuery) ([]model.ContentItem, error) {
	b.mu.RLock()
	hook := b.hooks.Page
	b.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, q); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, model.WrapError(err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.ContentItem, 0, len(b.items))
	for _, it := range b.items {
		if q.Before != nil && it.CreatedAt >= *q.Before {
			continue
		}
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return model.SortRecency.Less(out[i], out[j]) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Get returns the item with id or model.ErrNotFound.
func (b *Backend) Get(ctx context.Context, id string) (model.ContentItem, error) {
	b.mu.RLock()
	hook := b.hooks.Get
	b.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, id); err != nil {
			return model.ContentItem{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return model.ContentItem{}, model.WrapError(err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	it, ok := b.items[id]
	if !ok {
		return model.ContentItem{}, model.ErrNotFound
	}
	return it.Clone(), nil
}

// Watch streams child events until ctx is done.
func (b *Backend) Watch(ctx context.Context) (<-chan remote.ChildEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.WrapError(err)
	}
	ch := make(chan remote.ChildEvent, watchBuffer)
	b.mu.Lock()
	b.watchers[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.watchers, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Watchers returns the number of active watchers.
func (b *Backend) Watchers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.watchers)
}

// broadcast must be called with b.mu held.
func (b *Backend) broadcast(evt remote.ChildEvent) {
	for ch := range b.watchers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Range returns index entries ordered by score desc, id desc.
func (b *Backend) Range(ctx context.Context, index string, q remote.RangeQuery) (model.IndexPage, error) {
	b.mu.RLock()
	hook := b.hooks.Range
	b.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, index, q); err != nil {
			return model.IndexPage{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return model.IndexPage{}, model.WrapError(err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := make([]model.IndexEntry, 0, len(b.indices[index]))
	for id, score := range b.indices[index] {
		if !q.Admits(score) {
			continue
		}
		entries = append(entries, model.IndexEntry{ID: id, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ID > entries[j].ID
	})
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return model.IndexPage{Index: index, Entries: entries}, nil
}

// Apply writes all mutations under one lock.
func (b *Backend) Apply(ctx context.Context, mutations ...remote.IndexMutation) error {
	b.mu.RLock()
	hook := b.hooks.Apply
	b.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, mutations); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return model.WrapError(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range mutations {
		if m.Delete {
			if idx, ok := b.indices[m.Index]; ok {
				delete(idx, m.ID)
			}
			continue
		}
		b.put(m.Index, m.ID, m.Score)
	}
	return nil
}

// Score returns id's score in index.
func (b *Backend) Score(index, id string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	score, ok := b.indices[index][id]
	return score, ok
}

func (b *Backend) put(index, id string, score float64) {
	idx, ok := b.indices[index]
	if !ok {
		idx = make(map[string]float64)
		b.indices[index] = idx
	}
	idx[id] = score
}
