// Package index maintains the secondary score indices. Its three hooks are
// the only code paths that mutate an index.
package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/pkg/model"
)

// Maintainer keeps by-hit, by-miss and by-team/<code> in step with the write path.
type Maintainer struct {
	store  remote.IndexStore
	logger *slog.Logger
}

// NewMaintainer creates a Maintainer over store.
func NewMaintainer(store remote.IndexStore, logger *slog.Logger) *Maintainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{store: store, logger: logger.With("component", "index")}
}

// WriteEntries writes every index entry for a newly created item.
// The team entry is written only for a rostered team.
func (m *Maintainer) WriteEntries(ctx context.Context, item model.ContentItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	mutations := []remote.IndexMutation{
		remote.Put(model.IndexByHit, item.ID, float64(item.HitCount)),
		remote.Put(model.IndexByMiss, item.ID, float64(item.MissCount)),
	}
	if model.IsTeam(item.Team) {
		mutations = append(mutations, remote.Put(model.TeamIndex(item.Team), item.ID, float64(item.CreatedAt)))
	} else if item.Team != "" {
		m.logger.Warn("Skipping team index for unknown team", "id", item.ID, "team", item.Team)
	}
	if err := m.store.Apply(ctx, mutations...); err != nil {
		return fmt.Errorf("write index entries for %s: %w", item.ID, err)
	}
	return nil
}

// UpdateScores overwrites the by-hit and by-miss entries of id.
func (m *Maintainer) UpdateScores(ctx context.Context, id string, hitCount, missCount int64) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", model.ErrInvalidItem)
	}
	if hitCount < 0 || missCount < 0 {
		return fmt.Errorf("%w: negative score for %s", model.ErrInvalidItem, id)
	}
	err := m.store.Apply(ctx,
		remote.Put(model.IndexByHit, id, float64(hitCount)),
		remote.Put(model.IndexByMiss, id, float64(missCount)),
	)
	if err != nil {
		return fmt.Errorf("update score index for %s: %w", id, err)
	}
	return nil
}

// DeleteEntries removes every index entry of item.
func (m *Maintainer) DeleteEntries(ctx context.Context, item model.ContentItem) error {
	if item.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", model.ErrInvalidItem)
	}
	mutations := []remote.IndexMutation{
		remote.Remove(model.IndexByHit, item.ID),
		remote.Remove(model.IndexByMiss, item.ID),
	}
	if item.Team != "" {
		mutations = append(mutations, remote.Remove(model.TeamIndex(item.Team), item.ID))
	}
	if err := m.store.Apply(ctx, mutations...); err != nil {
		return fmt.Errorf("delete index entries for %s: %w", item.ID, err)
	}
	return nil
}
