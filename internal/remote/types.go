// Package remote defines the contracts of the remote document store the feed
// engine consumes: the primary item collection, its change feed, and the
// secondary score indices.
package remote

import (
	"context"

	"github.com/fanzone/memefeed/pkg/model"
)

// PageQuery selects a keyset page of the primary collection ordered by
// createdAt descending. Before is an exclusive upper bound; nil means newest first.
type PageQuery struct {
	Before *int64
	Limit  int
}

// PrimaryCollection is the authoritative collection of items keyed by id.
type PrimaryCollection interface {
	Page(ctx context.Context, q PageQuery) ([]model.ContentItem, error)
	// Get returns model.ErrNotFound when the item does not exist.
	Get(ctx context.Context, id string) (model.ContentItem, error)
}

// ItemWriter creates and deletes items in the primary collection.
type ItemWriter interface {
	Create(ctx context.Context, item model.ContentItem) (model.ContentItem, error)
	Delete(ctx context.Context, id string) error
}

// ChildEventType is the kind of change observed on the primary collection.
type ChildEventType string

const (
	ChildAdded   ChildEventType = "added"
	ChildRemoved ChildEventType = "removed"
)

// ChildEvent is a child-added or child-removed notification. Item is set for
// added events when the source carries the full document.
type ChildEvent struct {
	Type ChildEventType     `json:"type"`
	ID   string             `json:"id"`
	Item *model.ContentItem `json:"item,omitempty"`
}

// ChangeWatcher streams child events of the primary collection. The channel
// closes when ctx is done or the source fails.
type ChangeWatcher interface {
	Watch(ctx context.Context) (<-chan ChildEvent, error)
}

// RangeQuery selects index entries ordered by score descending then id descending.
// Max bounds the score from above; nil means +inf.
type RangeQuery struct {
	Max       *float64
	Inclusive bool
	Limit     int
}

// Admits reports whether score is within the query bound.
func (q RangeQuery) Admits(score float64) bool {
	if q.Max == nil {
		return true
	}
	if q.Inclusive {
		return score <= *q.Max
	}
	return score < *q.Max
}

// IndexMutation puts or deletes a single index entry.
type IndexMutation struct {
	Index  string
	ID     string
	Score  float64
	Delete bool
}

// Put returns a mutation that sets id's score in index.
func Put(index, id string, score float64) IndexMutation {
	return IndexMutation{Index: index, ID: id, Score: score}
}

// Remove returns a mutation that deletes id from index.
func Remove(index, id string) IndexMutation {
	return IndexMutation{Index: index, ID: id, Delete: true}
}

// IndexStore holds the secondary indices (itemId -> score).
type IndexStore interface {
	Range(ctx context.Context, index string, q RangeQuery) (model.IndexPage, error)
	// Apply writes the mutations as one batch.
	Apply(ctx context.Context, mutations ...IndexMutation) error
}
