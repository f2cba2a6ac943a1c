package model

import (
	"fmt"
	"time"
)

// ReactionKind is one of the fixed reaction keys an item can collect.
type ReactionKind string

const (
	ReactionLike  ReactionKind = "like"
	ReactionLaugh ReactionKind = "laugh"
	ReactionFire  ReactionKind = "fire"
	ReactionSad   ReactionKind = "sad"
	ReactionAngry ReactionKind = "angry"
)

// ReactionKinds returns every supported reaction kind.
func ReactionKinds() []ReactionKind {
	return []ReactionKind{ReactionLike, ReactionLaugh, ReactionFire, ReactionSad, ReactionAngry}
}

// IsValid checks if the reaction kind is part of the fixed set.
func (k ReactionKind) IsValid() bool {
	switch k {
	case ReactionLike, ReactionLaugh, ReactionFire, ReactionSad, ReactionAngry:
		return true
	}
	return false
}

// Reactions maps a reaction kind to its count.
type Reactions map[ReactionKind]int64

// Comment is a lightweight comment record denormalized onto its item.
type Comment struct {
	ID         string `json:"id" bson:"id"`
	AuthorID   string `json:"authorId" bson:"author_id"`
	AuthorName string `json:"authorName" bson:"author_name"`
	Text       string `json:"text" bson:"text"`
	CreatedAt  int64  `json:"createdAt" bson:"created_at"`
}

// ContentItem is the canonical unit of feed content.
//
//	ID is assigned by the remote store on creation and never changes.
//	CreatedAt is a wall-clock timestamp in Unix milliseconds.
//	HitCount, MissCount and Reactions are only adjusted by the reaction write path.
type ContentItem struct {
	ID           string    `json:"id" bson:"_id"`
	AuthorID     string    `json:"authorId" bson:"author_id"`
	AuthorName   string    `json:"authorName" bson:"author_name"`
	Team         string    `json:"team,omitempty" bson:"team,omitempty"`
	MediaURL     string    `json:"mediaUrl" bson:"media_url"`
	CreatedAt    int64     `json:"createdAt" bson:"created_at"`
	HitCount     int64     `json:"hitCount" bson:"hit_count"`
	MissCount    int64     `json:"missCount" bson:"miss_count"`
	CommentCount int64     `json:"commentCount" bson:"comment_count"`
	Reactions    Reactions `json:"reactions,omitempty" bson:"reactions,omitempty"`
	Comments     []Comment `json:"comments,omitempty" bson:"comments,omitempty"`
}

// Validate checks the item invariants: a non-empty id and non-negative counters.
func (it ContentItem) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidItem)
	}
	if it.HitCount < 0 || it.MissCount < 0 || it.CommentCount < 0 {
		return fmt.Errorf("%w: negative counter on %s", ErrInvalidItem, it.ID)
	}
	for kind, n := range it.Reactions {
		if !kind.IsValid() {
			return fmt.Errorf("%w: unknown reaction %q on %s", ErrInvalidItem, kind, it.ID)
		}
		if n < 0 {
			return fmt.Errorf("%w: negative %s count on %s", ErrInvalidItem, kind, it.ID)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate scores without touching shared state.
func (it ContentItem) Clone() ContentItem {
	out := it
	if it.Reactions != nil {
		out.Reactions = make(Reactions, len(it.Reactions))
		for k, v := range it.Reactions {
			out.Reactions[k] = v
		}
	}
	if it.Comments != nil {
		out.Comments = append([]Comment(nil), it.Comments...)
	}
	return out
}

// CachedEntry is a ContentItem stored in one filter partition of the local cache.
type CachedEntry struct {
	ContentItem
	FilterKey FilterKey `json:"filterKey"`
	CachedAt  time.Time `json:"cachedAt"`
}

// NewCachedEntry wraps an item for the given partition.
func NewCachedEntry(item ContentItem, key FilterKey, cachedAt time.Time) CachedEntry {
	return CachedEntry{ContentItem: item, FilterKey: key, CachedAt: cachedAt}
}
