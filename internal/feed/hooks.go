package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/fanzone/memefeed/pkg/model"
)

// ErrNoMaintainer is returned by the write-path hooks when no index maintainer is configured.
var ErrNoMaintainer = errors.New("index maintenance not configured")

// OnItemPosted writes the index entries of a newly created item.
func (r *Repository) OnItemPosted(ctx context.Context, item model.ContentItem) error {
	if r.closed.Load() {
		return model.ErrClosed
	}
	if r.maintainer == nil {
		return ErrNoMaintainer
	}
	return r.maintainer.WriteEntries(ctx, item)
}

// OnItemDeleted removes the item's index entries and its cached rows.
func (r *Repository) OnItemDeleted(ctx context.Context, item model.ContentItem) error {
	if r.closed.Load() {
		return model.ErrClosed
	}
	if r.maintainer == nil {
		return ErrNoMaintainer
	}
	if err := r.maintainer.DeleteEntries(ctx, item); err != nil {
		return err
	}
	if err := r.cache.DeleteByID(ctx, item.ID); err != nil {
		return fmt.Errorf("invalidate cached item %s: %w", item.ID, err)
	}
	return nil
}

// OnScoreChanged overwrites the hit and miss index entries of id.
func (r *Repository) OnScoreChanged(ctx context.Context, id string, hitCount, missCount int64) error {
	if r.closed.Load() {
		return model.ErrClosed
	}
	if r.maintainer == nil {
		return ErrNoMaintainer
	}
	return r.maintainer.UpdateScores(ctx, id, hitCount, missCount)
}
