package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanzone/memefeed/internal/cache"
	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/internal/remote/memory"
	"github.com/fanzone/memefeed/pkg/model"
)

func TestNewRepository_RequiresCacheAndPrimary(t *testing.T) {
	_, err := NewRepository(Deps{Primary: memory.New()}, DefaultConfig(), cache.DefaultConfig())
	assert.Error(t, err)

	store, err := cache.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	_, err = NewRepository(Deps{Cache: store}, DefaultConfig(), cache.DefaultConfig())
	assert.Error(t, err)
}

func TestRepository_InvalidFilter(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()

	assert.ErrorIs(t, env.repo.InitialLoad(ctx, "BOGUS"), model.ErrInvalidFilter)
	assert.ErrorIs(t, env.repo.LoadNextPage(ctx, "TEAM_XYZ"), model.ErrInvalidFilter)
	_, err := env.repo.Snapshot(ctx, "")
	assert.ErrorIs(t, err, model.ErrInvalidFilter)
}

func TestRepository_InitialLoadAll(t *testing.T) {
	env := newTestEnv(t, 30)
	env.seedRecent(20)
	ctx := context.Background()

	require.NoError(t, env.repo.InitialLoad(ctx, model.FilterAll))

	rows := env.snapshot(t, model.FilterAll)
	require.Len(t, rows, 15)
	assert.Equal(t, "item-019", rows[0].ID)
	assert.Equal(t, "item-005", rows[14].ID)
	for _, r := range rows {
		assert.Equal(t, epoch, r.CachedAt.UTC())
	}

	st := env.repo.State()
	assert.Equal(t, model.FilterAll, st.Filter)
	assert.False(t, st.Loading)
	assert.True(t, st.HasMore)
	assert.NoError(t, st.Err)
}

func TestRepository_CapacityBound(t *testing.T) {
	env := newTestEnv(t, 30)
	env.seedRecent(50)
	ctx := context.Background()

	require.NoError(t, env.repo.InitialLoad(ctx, model.FilterAll))
	assert.Len(t, env.snapshot(t, model.FilterAll), 15)

	require.NoError(t, env.repo.LoadNextPage(ctx, model.FilterAll))
	assert.Len(t, env.snapshot(t, model.FilterAll), 30)

	require.NoError(t, env.repo.LoadNextPage(ctx, model.FilterAll))
	rows := env.snapshot(t, model.FilterAll)
	require.Len(t, rows, 30)
	assert.Equal(t, "item-049", rows[0].ID)
	assert.Equal(t, "item-020", rows[29].ID)
}

func TestRepository_PagingReachesEnd(t *testing.T) {
	env := newTestEnv(t, 100)
	env.seedRecent(20)
	ctx := context.Background()

	require.NoError(t, env.repo.InitialLoad(ctx, model.FilterAll))
	require.NoError(t, env.repo.LoadNextPage(ctx, model.FilterAll))

	assert.Len(t, env.snapshot(t, model.FilterAll), 20)
	assert.False(t, env.repo.State().HasMore)
}

func TestRepository_EvictsExpiredRows(t *testing.T) {
	env := newTestEnv(t, 30)
	env.seedRecent(3)
	ctx := context.Background()

	stale := model.NewCachedEntry(model.ContentItem{ID: "old", CreatedAt: 1}, model.FilterTopHit, epoch.Add(-49*time.Hour))
	fresh := model.NewCachedEntry(model.ContentItem{ID: "young", CreatedAt: 2}, model.FilterTopHit, epoch.Add(-47*time.Hour))
	require.NoError(t, env.store.InsertOrReplace(ctx, []model.CachedEntry{stale, fresh}))

	require.NoError(t, env.repo.InitialLoad(ctx, model.FilterAll))

	assert.Equal(t, []string{"young"}, entryIDs(env.snapshot(t, model.FilterTopHit)))
}

func TestRepository_RefreshFailureKeepsCache(t *testing.T) {
	env := newTestEnv(t, 30)
	env.seedRecent(20)
	ctx := context.Background()

	require.NoError(t, env.repo.InitialLoad(ctx, model.FilterAll))
	before := entryIDs(env.snapshot(t, model.FilterAll))

	obsCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rows, err := env.repo.Observe(obsCtx, model.FilterAll)
	require.NoError(t, err)
	select {
	case got := <-rows:
		require.Equal(t, before, entryIDs(got))
	case <-time.After(time.Second):
		t.Fatal("no initial emission")
	}

	env.backend.SetHooks(memory.Hooks{
		Page: func(context.Context, remote.PageQuery) error { return errors.New("network down") },
	})
	require.NoError(t, env.repo.Refresh(ctx, model.FilterAll))

	assert.Equal(t, before, entryIDs(env.snapshot(t, model.FilterAll)))
	deadline := time.After(100 * time.Millisecond)
drain:
	for {
		select {
		case got, ok := <-rows:
			if !ok {
				break drain
			}
			assert.Equal(t, before, entryIDs(got))
		case <-deadline:
			break drain
		}
	}
	st := env.repo.State()
	assert.False(t, st.Loading)
	assert.False(t, st.HasMore)
	require.Error(t, st.Err)
	assert.Contains(t, st.ErrorMessage(), "network down")
}

func TestRepository_LoadNextPageAfterEndIsNoop(t *testing.T) {
	env := newTestEnv(t, 30)
	env.seedRecent(5)
	ctx := context.Background()

	require.NoError(t, env.repo.InitialLoad(ctx, model.FilterAll))
	require.False(t, env.repo.State().HasMore)

	var calls atomic.Int32
	env.backend.SetHooks(memory.Hooks{
		Page: func(context.Context, remote.PageQuery) error {
			calls.Add(1)
			return nil
		},
	})
	require.NoError(t, env.repo.LoadNextPage(ctx, model.FilterAll))
	assert.Zero(t, calls.Load())
}

func TestRepository_LoadNextPageWhileLoadingIsNoop(t *testing.T) {
	env := newTestEnv(t, 30)
	env.seedRecent(20)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	env.backend.SetHooks(memory.Hooks{
		Page: func(context.Context, remote.PageQuery) error {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
			return nil
		},
	})

	done := make(chan error, 1)
	go func() { done <- env.repo.InitialLoad(ctx, model.FilterAll) }()
	<-entered

	assert.True(t, env.repo.State().Loading)
	require.NoError(t, env.repo.LoadNextPage(ctx, model.FilterAll))
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, env.snapshot(t, model.FilterAll), 15)
}

func TestRepository_TeamPaging(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()
	index := model.TeamIndex("CSK")
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("csk-%02d", i)
		created := int64(2000 + i)
		env.backend.Seed(model.ContentItem{ID: id, Team: "CSK", CreatedAt: created})
		env.backend.SeedIndex(index, model.IndexEntry{ID: id, Score: float64(created)})
	}
	env.backend.Seed(model.ContentItem{ID: "mi-00", Team: "MI", CreatedAt: 9999})
	key := model.TeamFilter("CSK")

	require.NoError(t, env.repo.InitialLoad(ctx, key))
	rows := env.snapshot(t, key)
	require.Len(t, rows, 15)
	assert.Equal(t, "csk-19", rows[0].ID)
	assert.True(t, env.repo.State().HasMore)

	require.NoError(t, env.repo.LoadNextPage(ctx, key))
	rows = env.snapshot(t, key)
	require.Len(t, rows, 20)
	assert.Equal(t, "csk-00", rows[19].ID)
	assert.False(t, env.repo.State().HasMore)
	for _, r := range rows {
		assert.Equal(t, "CSK", r.Team)
	}
}

func TestRepository_FanoutDropsFailedLookup(t *testing.T) {
	env := newTestEnv(t, 30)
	env.seedScored([]int64{9, 7, 5, 3, 1})
	env.backend.SetHooks(memory.Hooks{
		Get: func(_ context.Context, id string) error {
			if id == "m02" {
				return errors.New("timeout")
			}
			return nil
		},
	})

	require.NoError(t, env.repo.InitialLoad(context.Background(), model.FilterTopHit))

	rows := env.snapshot(t, model.FilterTopHit)
	assert.Equal(t, []string{"m00", "m01", "m03", "m04"}, entryIDs(rows))
	assert.NoError(t, env.repo.State().Err)
}

func TestRepository_TopHitUsesIndexScore(t *testing.T) {
	env := newTestEnv(t, 30)
	env.backend.Seed(model.ContentItem{ID: "x", HitCount: 1})
	env.backend.SeedIndex(model.IndexByHit, model.IndexEntry{ID: "x", Score: 42})

	require.NoError(t, env.repo.InitialLoad(context.Background(), model.FilterTopHit))

	rows := env.snapshot(t, model.FilterTopHit)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(42), rows[0].HitCount)
}

func TestRepository_RepeatedLoadIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 30)
	env.seedRecent(10)
	ctx := context.Background()

	require.NoError(t, env.repo.InitialLoad(ctx, model.FilterAll))
	first := env.snapshot(t, model.FilterAll)
	require.NoError(t, env.repo.Refresh(ctx, model.FilterAll))
	second := env.snapshot(t, model.FilterAll)

	assert.Equal(t, entryIDs(first), entryIDs(second))
}

func TestRepository_PartitionsAreIndependent(t *testing.T) {
	env := newTestEnv(t, 30)
	env.seedRecent(3)
	env.seedScored([]int64{5, 4})
	ctx := context.Background()

	require.NoError(t, env.repo.InitialLoad(ctx, model.FilterAll))
	require.NoError(t, env.repo.InitialLoad(ctx, model.FilterTopHit))

	assert.Len(t, env.snapshot(t, model.FilterAll), 5)
	assert.Equal(t, []string{"m00", "m01"}, entryIDs(env.snapshot(t, model.FilterTopHit)))
}

func TestRepository_SelectFilterDrivesRealtime(t *testing.T) {
	env := newTestEnv(t, 30)
	env.seedRecent(3)
	ctx := context.Background()

	require.NoError(t, env.repo.SelectFilter(ctx, model.FilterAll))
	assert.Equal(t, model.FilterAll, env.repo.ActiveFilter())
	require.True(t, env.repo.RealtimeActive())

	_, err := env.backend.Create(ctx, model.ContentItem{ID: "live", AuthorID: "u2", CreatedAt: 5000})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ids := entryIDs(env.snapshot(t, model.FilterAll))
		return len(ids) == 4 && ids[0] == "live"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, env.backend.Delete(ctx, "item-000"))
	require.Eventually(t, func() bool {
		return len(env.snapshot(t, model.FilterAll)) == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, env.repo.SelectFilter(ctx, model.FilterTopHit))
	assert.False(t, env.repo.RealtimeActive())
	require.Eventually(t, func() bool { return env.backend.Watchers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRepository_RealtimeInsertRespectsCap(t *testing.T) {
	env := newTestEnv(t, 15)
	env.seedRecent(15)
	ctx := context.Background()

	require.NoError(t, env.repo.SelectFilter(ctx, model.FilterAll))
	_, err := env.backend.Create(ctx, model.ContentItem{ID: "live", CreatedAt: 5000})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ids := entryIDs(env.snapshot(t, model.FilterAll))
		return len(ids) == 15 && ids[0] == "live"
	}, time.Second, 5*time.Millisecond)
	assert.NotContains(t, entryIDs(env.snapshot(t, model.FilterAll)), "item-000")
}

func TestRepository_ConcurrentSelectStopsEveryListener(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.repo.StartRealtime(model.FilterAll, nil, nil, nil))
		}()
	}
	wg.Wait()

	env.repo.StopRealtime()
	assert.False(t, env.repo.RealtimeActive())
	require.Eventually(t, func() bool { return env.backend.Watchers() == 0 }, time.Second, 5*time.Millisecond)

	_, err := env.backend.Create(ctx, model.ContentItem{ID: "late", AuthorID: "u2", CreatedAt: 9000})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, env.snapshot(t, model.FilterAll))
}

func TestRepository_StartRealtimeNonAllIsNoop(t *testing.T) {
	env := newTestEnv(t, 30)

	require.NoError(t, env.repo.StartRealtime(model.FilterTopMiss, nil, nil, nil))
	assert.False(t, env.repo.RealtimeActive())
	assert.Zero(t, env.backend.Watchers())

	env.repo.StopRealtime()
	env.repo.StopRealtime()
}

func TestRepository_StartRealtimeCallbacks(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, env.repo.StartRealtime(model.FilterAll, nil, rec.insert, rec.remove))
	created, err := env.backend.Create(ctx, model.ContentItem{AuthorID: "u3"})
	require.NoError(t, err)
	require.NoError(t, env.backend.Delete(ctx, created.ID))

	require.Eventually(t, func() bool {
		ins, rem := rec.snapshot()
		return len(ins) == 1 && len(rem) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, env.snapshot(t, model.FilterAll))
}

func TestRepository_Hooks(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()
	item := model.ContentItem{ID: "p1", Team: "RCB", CreatedAt: 7000, HitCount: 2, MissCount: 1}
	env.backend.Seed(item)

	require.NoError(t, env.repo.OnItemPosted(ctx, item))
	hit, ok := env.backend.Score(model.IndexByHit, "p1")
	require.True(t, ok)
	assert.Equal(t, float64(2), hit)
	team, ok := env.backend.Score(model.TeamIndex("RCB"), "p1")
	require.True(t, ok)
	assert.Equal(t, float64(7000), team)

	require.NoError(t, env.repo.OnScoreChanged(ctx, "p1", 10, 4))
	hit, _ = env.backend.Score(model.IndexByHit, "p1")
	miss, _ := env.backend.Score(model.IndexByMiss, "p1")
	assert.Equal(t, float64(10), hit)
	assert.Equal(t, float64(4), miss)

	require.NoError(t, env.repo.InitialLoad(ctx, model.FilterTopHit))
	require.Len(t, env.snapshot(t, model.FilterTopHit), 1)

	require.NoError(t, env.repo.OnItemDeleted(ctx, item))
	_, ok = env.backend.Score(model.IndexByHit, "p1")
	assert.False(t, ok)
	_, ok = env.backend.Score(model.TeamIndex("RCB"), "p1")
	assert.False(t, ok)
	assert.Empty(t, env.snapshot(t, model.FilterTopHit))
}

func TestRepository_HooksWithoutMaintainer(t *testing.T) {
	store, err := cache.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	repo, err := NewRepository(Deps{Cache: store, Primary: memory.New()}, DefaultConfig(), cache.DefaultConfig())
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	assert.ErrorIs(t, repo.OnItemPosted(ctx, model.ContentItem{ID: "a"}), ErrNoMaintainer)
	assert.ErrorIs(t, repo.OnScoreChanged(ctx, "a", 1, 1), ErrNoMaintainer)
	assert.ErrorIs(t, repo.OnItemDeleted(ctx, model.ContentItem{ID: "a"}), ErrNoMaintainer)
	assert.ErrorIs(t, repo.StartRealtime(model.FilterAll, nil, nil, nil), ErrNoWatcher)
}

func TestRepository_Close(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()

	require.NoError(t, env.repo.Close())
	require.NoError(t, env.repo.Close())

	assert.ErrorIs(t, env.repo.InitialLoad(ctx, model.FilterAll), model.ErrClosed)
	assert.ErrorIs(t, env.repo.OnItemPosted(ctx, model.ContentItem{ID: "a"}), model.ErrClosed)
	_, err := env.repo.Observe(ctx, model.FilterAll)
	assert.ErrorIs(t, err, model.ErrClosed)
}

func TestRepository_SubscribeStateSeesLoadCycle(t *testing.T) {
	env := newTestEnv(t, 30)
	env.seedRecent(20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := env.repo.SubscribeState(ctx)
	<-states

	require.NoError(t, env.repo.InitialLoad(ctx, model.FilterAll))
	require.Eventually(t, func() bool {
		select {
		case st := <-states:
			return st.Filter == model.FilterAll && !st.Loading && st.HasMore
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
