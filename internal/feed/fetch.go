package feed

import (
	"context"
	"fmt"

	"github.com/fanzone/memefeed/internal/cursor"
	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/pkg/model"
)

// pageResult is one fetched page plus the cursor that continues after it.
type pageResult struct {
	model.ItemPage
	// Next is nil when the remote returned nothing.
	Next *cursor.Cursor
}

// fetch routes a page read by filter: ALL reads the primary collection by
// recency, every other filter reads its index and fans out.
func (r *Repository) fetch(ctx context.Context, key model.FilterKey, cur *cursor.Cursor) (pageResult, error) {
	if key == model.FilterAll {
		return r.fetchPrimary(ctx, cur)
	}
	index, ok := model.IndexFor(key)
	if !ok {
		return pageResult{}, fmt.Errorf("%w: no index for %s", model.ErrInvalidFilter, key)
	}
	if r.index == nil {
		return pageResult{}, fmt.Errorf("no index store configured for %s", key)
	}
	if key.IsScoreOrdered() {
		return r.fetchScored(ctx, key, index, cur)
	}
	return r.fetchTeam(ctx, index, cur)
}

func (r *Repository) fetchPrimary(ctx context.Context, cur *cursor.Cursor) (pageResult, error) {
	q := remote.PageQuery{Limit: r.cfg.PageSize}
	if cur != nil {
		before := int64(cur.Value)
		q.Before = &before
	}
	items, err := r.primary.Page(ctx, q)
	if err != nil {
		return pageResult{}, fmt.Errorf("read primary page: %w", err)
	}

	res := pageResult{ItemPage: model.ItemPage{Items: items, Raw: len(items)}}
	if len(items) > 0 {
		oldest := items[0].CreatedAt
		for _, it := range items[1:] {
			oldest = min(oldest, it.CreatedAt)
		}
		res.Next = &cursor.Cursor{Value: float64(oldest)}
	}
	return res, nil
}

// fetchTeam pages a team index keyed by createdAt, strictly older than the cursor.
func (r *Repository) fetchTeam(ctx context.Context, index string, cur *cursor.Cursor) (pageResult, error) {
	q := remote.RangeQuery{Limit: r.cfg.PageSize}
	if cur != nil {
		bound := cur.Value
		q.Max = &bound
	}
	page, err := r.index.Range(ctx, index, q)
	if err != nil {
		return pageResult{}, fmt.Errorf("read index %s: %w", index, err)
	}

	items, err := fanOut(ctx, r.primary, page, model.SortRecency, r.cfg.FanoutConcurrency, r.logDrop)
	if err != nil {
		return pageResult{}, err
	}
	res := pageResult{ItemPage: items}
	if n := len(page.Entries); n > 0 {
		res.Next = &cursor.Cursor{Value: page.Entries[n-1].Score}
	}
	return res, nil
}

// fetchScored pages a count index. The cursor sits ScoreOffset below the
// lowest score delivered; the next read includes that score again and skips
// the ids already delivered at it, so ties across the page edge appear once.
func (r *Repository) fetchScored(ctx context.Context, key model.FilterKey, index string, cur *cursor.Cursor) (pageResult, error) {
	q := remote.RangeQuery{Limit: r.cfg.PageSize}
	if cur != nil {
		upper := cur.UpperBound()
		q.Max = &upper
		q.Inclusive = true
		q.Limit = r.cfg.PageSize + len(cur.Boundary)
	}
	page, err := r.index.Range(ctx, index, q)
	if err != nil {
		return pageResult{}, fmt.Errorf("read index %s: %w", index, err)
	}

	entries := make([]model.IndexEntry, 0, len(page.Entries))
	for _, e := range page.Entries {
		if cur != nil && cur.Seen(e.ID) {
			continue
		}
		entries = append(entries, e)
		if len(entries) == r.cfg.PageSize {
			break
		}
	}
	page.Entries = entries

	items, err := fanOut(ctx, r.primary, page, key.SortRule(), r.cfg.FanoutConcurrency, r.logDrop)
	if err != nil {
		return pageResult{}, err
	}
	res := pageResult{ItemPage: items}
	if n := len(entries); n > 0 {
		res.Next = scoreCursor(entries, cur)
	}
	return res, nil
}

// scoreCursor builds the cursor after entries, which are ordered by score desc.
func scoreCursor(entries []model.IndexEntry, prev *cursor.Cursor) *cursor.Cursor {
	lowest := entries[len(entries)-1].Score
	var boundary []string
	if prev != nil && prev.UpperBound() == lowest {
		boundary = append(boundary, prev.Boundary...)
	}
	for _, e := range entries {
		if e.Score == lowest {
			boundary = append(boundary, e.ID)
		}
	}
	return &cursor.Cursor{Value: lowest - cursor.ScoreOffset, Boundary: boundary}
}

func (r *Repository) logDrop(id string, err error) {
	if isDangling(err) {
		r.logger.Debug("Dropping dangling index entry", "id", id)
		return
	}
	r.logger.Warn("Dropping item after failed lookup", "id", id, "error", err)
}
