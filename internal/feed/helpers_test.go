package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fanzone/memefeed/internal/cache"
	"github.com/fanzone/memefeed/internal/clock"
	"github.com/fanzone/memefeed/internal/index"
	"github.com/fanzone/memefeed/internal/remote/memory"
	"github.com/fanzone/memefeed/pkg/model"
)

var epoch = time.Date(2026, 4, 10, 18, 0, 0, 0, time.UTC)

type testEnv struct {
	repo    *Repository
	backend *memory.Backend
	store   *cache.SQLiteStore
	clock   *clock.Fake
}

func newTestEnv(t *testing.T, capacity int) *testEnv {
	t.Helper()
	store, err := cache.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	backend := memory.New()
	fake := clock.NewFake(epoch)
	repo, err := NewRepository(Deps{
		Cache:      store,
		Primary:    backend,
		Index:      backend,
		Watcher:    backend,
		Maintainer: index.NewMaintainer(backend, nil),
		Clock:      fake,
	}, DefaultConfig(), cache.Config{Path: ":memory:", Capacity: capacity, TTL: 48 * time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return &testEnv{repo: repo, backend: backend, store: store, clock: fake}
}

// seedRecent stores n items with createdAt 1000+i, newest last.
func (e *testEnv) seedRecent(n int) []model.ContentItem {
	items := make([]model.ContentItem, n)
	for i := range items {
		items[i] = model.ContentItem{
			ID:        fmt.Sprintf("item-%03d", i),
			AuthorID:  "u1",
			CreatedAt: int64(1000 + i),
		}
	}
	e.backend.Seed(items...)
	return items
}

// seedScored stores items and a by-hit index entry per score.
func (e *testEnv) seedScored(scores []int64) {
	for i, s := range scores {
		id := fmt.Sprintf("m%02d", i)
		e.backend.Seed(model.ContentItem{ID: id, AuthorID: "u1", CreatedAt: int64(5000 + i), HitCount: s})
		e.backend.SeedIndex(model.IndexByHit, model.IndexEntry{ID: id, Score: float64(s)})
	}
}

func (e *testEnv) snapshot(t *testing.T, key model.FilterKey) []model.CachedEntry {
	t.Helper()
	entries, err := e.store.Snapshot(context.Background(), key)
	require.NoError(t, err)
	return entries
}

func entryIDs(entries []model.CachedEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func itemIDs(items []model.ContentItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
