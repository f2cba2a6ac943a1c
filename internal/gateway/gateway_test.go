package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanzone/memefeed/internal/cache"
	"github.com/fanzone/memefeed/internal/clock"
	"github.com/fanzone/memefeed/internal/feed"
	"github.com/fanzone/memefeed/internal/index"
	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/internal/remote/memory"
	"github.com/fanzone/memefeed/pkg/model"
)

var epoch = time.Date(2026, 4, 10, 18, 0, 0, 0, time.UTC)

type testEnv struct {
	repo    *feed.Repository
	backend *memory.Backend
	mux     *http.ServeMux
}

type envOptions struct {
	noMaintainer bool
	noWriter     bool
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	store, err := cache.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	backend := memory.New()
	deps := feed.Deps{
		Cache:   store,
		Primary: backend,
		Index:   backend,
		Watcher: backend,
		Clock:   clock.NewFake(epoch),
	}
	if !opts.noMaintainer {
		deps.Maintainer = index.NewMaintainer(backend, nil)
	}
	repo, err := feed.NewRepository(deps, feed.DefaultConfig(), cache.Config{Path: ":memory:", Capacity: 30, TTL: 48 * time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	var handlerOpts []Option
	if !opts.noWriter {
		handlerOpts = append(handlerOpts, WithWriter(backend, backend))
	}
	mux := http.NewServeMux()
	NewHandler(repo, handlerOpts...).RegisterRoutes(mux)
	return &testEnv{repo: repo, backend: backend, mux: mux}
}

func (e *testEnv) seed(n int) {
	for i := 0; i < n; i++ {
		e.backend.Seed(model.ContentItem{ID: fmt.Sprintf("item-%03d", i), AuthorID: "u1", CreatedAt: int64(1000 + i)})
	}
}

func (e *testEnv) do(method, target string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestNewHandler_NilRepoPanics(t *testing.T) {
	assert.Panics(t, func() { NewHandler(nil) })
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestFeedRoutes_InvalidFilter(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/v1/feeds/BOGUS/items"},
		{http.MethodPost, "/v1/feeds/BOGUS/select"},
		{http.MethodPost, "/v1/feeds/TEAM_XYZ/load"},
		{http.MethodPost, "/v1/feeds/BOGUS/next"},
		{http.MethodPost, "/v1/feeds/BOGUS/refresh"},
		{http.MethodDelete, "/v1/feeds/BOGUS/cursor"},
		{http.MethodGet, "/v1/feeds/BOGUS/watch"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rr := env.do(tt.method, tt.target, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			apiErr := decode[APIError](t, rr)
			assert.Equal(t, ErrCodeBadRequest, apiErr.Code)
		})
	}
}

func TestLoadAndList(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seed(20)

	rr := env.do(http.MethodPost, "/v1/feeds/all/load", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[StateResponse](t, rr)
	assert.Equal(t, model.FilterAll, st.Filter)
	assert.True(t, st.HasMore)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)

	rr = env.do(http.MethodGet, "/v1/feeds/ALL/items", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[ItemsResponse](t, rr)
	require.Len(t, resp.Items, 15)
	assert.Equal(t, "item-019", resp.Items[0].ID)
	assert.Equal(t, model.FilterAll, resp.Items[0].FilterKey)

	rr = env.do(http.MethodGet, "/v1/feeds/ALL/items?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[ItemsResponse](t, rr).Items, 5)

	rr = env.do(http.MethodGet, "/v1/feeds/ALL/items?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(http.MethodGet, "/v1/feeds/ALL/items?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListItems_EmptyPartition(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr := env.do(http.MethodGet, "/v1/feeds/TOP_HIT/items", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"items":[]`)
}

func TestNextPageAndReset(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seed(20)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/feeds/ALL/load", nil).Code)
	rr := env.do(http.MethodPost, "/v1/feeds/ALL/next", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[StateResponse](t, rr).HasMore)

	items := decode[ItemsResponse](t, env.do(http.MethodGet, "/v1/feeds/ALL/items", nil)).Items
	require.Len(t, items, 20)
	assert.Equal(t, "item-000", items[19].ID)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/v1/feeds/ALL/cursor", nil).Code)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/v1/feeds/cursors", nil).Code)

	rr = env.do(http.MethodPost, "/v1/feeds/ALL/refresh", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[StateResponse](t, rr).HasMore)
	assert.Len(t, decode[ItemsResponse](t, env.do(http.MethodGet, "/v1/feeds/ALL/items", nil)).Items, 15)
}

func TestLoad_FailureReportedInState(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seed(5)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/feeds/ALL/load", nil).Code)

	env.backend.SetHooks(memory.Hooks{Page: func(context.Context, remote.PageQuery) error {
		return errors.New("network unreachable")
	}})
	rr := env.do(http.MethodPost, "/v1/feeds/ALL/refresh", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[StateResponse](t, rr)
	assert.Contains(t, st.Error, "network unreachable")
	assert.False(t, st.HasMore)

	// Cached rows survive the failed refresh.
	assert.Len(t, decode[ItemsResponse](t, env.do(http.MethodGet, "/v1/feeds/ALL/items", nil)).Items, 5)

	rr = env.do(http.MethodGet, "/v1/feeds/state", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decode[StateResponse](t, rr).Error, "network unreachable")
}

func TestSelectTogglesRealtime(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seed(3)

	rr := env.do(http.MethodPost, "/v1/feeds/ALL/select", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[StateResponse](t, rr)
	assert.True(t, st.Live)
	assert.Equal(t, model.FilterAll, st.Active)

	rr = env.do(http.MethodPost, "/v1/feeds/TOP_HIT/select", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	st = decode[StateResponse](t, rr)
	assert.False(t, st.Live)
	assert.Equal(t, model.FilterTopHit, st.Active)
}

func TestPostItem(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(http.MethodPost, "/v1/items", []byte(`{"authorId":"u1","team":"CSK","mediaUrl":"https://cdn/x.png","hitCount":3}`))
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decode[model.ContentItem](t, rr)
	require.NotEmpty(t, created.ID)
	assert.NotZero(t, created.CreatedAt)

	stored, err := env.backend.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "CSK", stored.Team)

	score, ok := env.backend.Score(model.IndexByHit, created.ID)
	require.True(t, ok)
	assert.Equal(t, 3.0, score)
	_, ok = env.backend.Score(model.TeamIndex("CSK"), created.ID)
	assert.True(t, ok)
}

func TestPostItem_BadRequests(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(http.MethodPost, "/v1/items", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(http.MethodPost, "/v1/items", []byte(`{"authorId":"u1","team":"XYZ"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(http.MethodPost, "/v1/items", []byte(`{"authorId":"u1","hitCount":-1}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	big := `{"authorId":"` + strings.Repeat("a", DefaultMaxBodySize) + `"}`
	rr = env.do(http.MethodPost, "/v1/items", []byte(big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestPostItem_HookOnly(t *testing.T) {
	env := newTestEnv(t, envOptions{noWriter: true})

	rr := env.do(http.MethodPost, "/v1/items", []byte(`{"authorId":"u1"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(http.MethodPost, "/v1/items", []byte(`{"id":"m1","authorId":"u1","missCount":4,"createdAt":7000}`))
	require.Equal(t, http.StatusCreated, rr.Code)
	score, ok := env.backend.Score(model.IndexByMiss, "m1")
	require.True(t, ok)
	assert.Equal(t, 4.0, score)

	_, err := env.backend.Get(context.Background(), "m1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteItem(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(http.MethodPost, "/v1/items", []byte(`{"id":"m1","authorId":"u1","team":"MI","createdAt":1000}`))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/feeds/TEAM_MI/load", nil).Code)
	require.Len(t, decode[ItemsResponse](t, env.do(http.MethodGet, "/v1/feeds/TEAM_MI/items", nil)).Items, 1)

	rr = env.do(http.MethodDelete, "/v1/items/m1", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	_, err := env.backend.Get(context.Background(), "m1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, ok := env.backend.Score(model.TeamIndex("MI"), "m1")
	assert.False(t, ok)
	assert.Empty(t, decode[ItemsResponse](t, env.do(http.MethodGet, "/v1/feeds/TEAM_MI/items", nil)).Items)

	rr = env.do(http.MethodDelete, "/v1/items/m1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteItem_HookOnly(t *testing.T) {
	env := newTestEnv(t, envOptions{noWriter: true})
	env.backend.SeedIndex(model.TeamIndex("RCB"), model.IndexEntry{ID: "m1", Score: 1000})
	env.backend.SeedIndex(model.IndexByHit, model.IndexEntry{ID: "m1", Score: 9})

	rr := env.do(http.MethodDelete, "/v1/items/m1?team=RCB", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	_, ok := env.backend.Score(model.TeamIndex("RCB"), "m1")
	assert.False(t, ok)
	_, ok = env.backend.Score(model.IndexByHit, "m1")
	assert.False(t, ok)
}

func TestUpdateScore(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(http.MethodPut, "/v1/items/m1/score?hit=10&miss=4", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	hit, _ := env.backend.Score(model.IndexByHit, "m1")
	miss, _ := env.backend.Score(model.IndexByMiss, "m1")
	assert.Equal(t, 10.0, hit)
	assert.Equal(t, 4.0, miss)

	for _, target := range []string{
		"/v1/items/m1/score?hit=1",
		"/v1/items/m1/score?hit=-1&miss=0",
		"/v1/items/m1/score?hit=x&miss=0",
	} {
		assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, target, nil).Code, target)
	}
}

func TestWriteRoutes_NoMaintainer(t *testing.T) {
	env := newTestEnv(t, envOptions{noMaintainer: true, noWriter: true})

	rr := env.do(http.MethodPut, "/v1/items/m1/score?hit=1&miss=1", nil)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	assert.Equal(t, ErrCodeNotImplemented, decode[APIError](t, rr).Code)

	rr = env.do(http.MethodDelete, "/v1/items/m1", nil)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestClosedRepository(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.NoError(t, env.repo.Close())

	rr := env.do(http.MethodGet, "/v1/feeds/ALL/items", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	rr = env.do(http.MethodPost, "/v1/feeds/ALL/load", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestWriteFeedError(t *testing.T) {
	h := &Handler{logger: discardLogger()}
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"canceled", context.Canceled, statusClientClosed},
		{"filter", fmt.Errorf("wrap: %w", model.ErrInvalidFilter), http.StatusBadRequest},
		{"item", model.ErrInvalidItem, http.StatusBadRequest},
		{"not found", model.ErrNotFound, http.StatusNotFound},
		{"no maintainer", feed.ErrNoMaintainer, http.StatusNotImplemented},
		{"no watcher", feed.ErrNoWatcher, http.StatusNotImplemented},
		{"closed", model.ErrClosed, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.writeFeedError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.code, rr.Code)
		})
	}
}

func TestWithTimeout(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := withTimeout(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}, time.Minute)
	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

type recordingPublisher struct {
	added   []string
	removed []string
	err     error
}

func (p *recordingPublisher) PublishAdded(_ context.Context, item model.ContentItem) error {
	p.added = append(p.added, item.ID)
	return p.err
}

func (p *recordingPublisher) PublishRemoved(_ context.Context, id string) error {
	p.removed = append(p.removed, id)
	return p.err
}

func TestItemWrites_AnnounceEvents(t *testing.T) {
	for _, pubErr := range []error{nil, errors.New("broker down")} {
		env := newTestEnv(t, envOptions{})
		pub := &recordingPublisher{err: pubErr}
		env.mux = http.NewServeMux()
		NewHandler(env.repo, WithWriter(env.backend, env.backend), WithPublisher(pub), WithLogger(discardLogger())).RegisterRoutes(env.mux)

		rr := env.do(http.MethodPost, "/v1/items", []byte(`{"id":"m1","authorId":"u1","createdAt":1000}`))
		require.Equal(t, http.StatusCreated, rr.Code)
		rr = env.do(http.MethodDelete, "/v1/items/m1", nil)
		require.Equal(t, http.StatusNoContent, rr.Code)

		assert.Equal(t, []string{"m1"}, pub.added)
		assert.Equal(t, []string{"m1"}, pub.removed)
	}
}

func TestItemWrites_FailedWriteNotAnnounced(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	pub := &recordingPublisher{}
	env.mux = http.NewServeMux()
	NewHandler(env.repo, WithWriter(env.backend, env.backend), WithPublisher(pub)).RegisterRoutes(env.mux)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/v1/items/ghost", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/items", []byte(`{"hitCount":-5}`)).Code)
	assert.Empty(t, pub.added)
	assert.Empty(t, pub.removed)
}
