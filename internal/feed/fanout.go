package feed

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/pkg/model"
)

// fanOut resolves an index page into full items with at most limit concurrent
// lookups. Lookups that fail or find nothing are dropped. The index score
// overwrites the item's score field for rule, then items are sorted by rule.
// Only a cancelled ctx fails the page.
func fanOut(ctx context.Context, primary remote.PrimaryCollection, page model.IndexPage, rule model.SortRule, limit int, onDrop func(id string, err error)) (model.ItemPage, error) {
	resolved := make([]*model.ContentItem, len(page.Entries))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, entry := range page.Entries {
		g.Go(func() error {
			it, err := primary.Get(ctx, entry.ID)
			if err != nil {
				if onDrop != nil {
					onDrop(entry.ID, err)
				}
				return nil
			}
			applyIndexScore(&it, rule, entry.Score)
			resolved[i] = &it
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return model.ItemPage{}, model.WrapError(err)
	}

	items := make([]model.ContentItem, 0, len(resolved))
	for _, it := range resolved {
		if it != nil {
			items = append(items, *it)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return rule.Less(items[i], items[j]) })
	return model.ItemPage{Items: items, Raw: len(page.Entries)}, nil
}

func applyIndexScore(it *model.ContentItem, rule model.SortRule, score float64) {
	switch rule {
	case model.SortHit:
		it.HitCount = int64(score)
	case model.SortMiss:
		it.MissCount = int64(score)
	}
}

// isDangling reports whether a lookup failure means the index points at a deleted item.
func isDangling(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
