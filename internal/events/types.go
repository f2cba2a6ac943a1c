// Package events defines the feed event schema carried over pubsub and the
// adapters between pubsub and the remote change feed.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/pkg/model"
)

// Subjects, relative to the configured subject prefix.
const (
	SubjectItemAdded   = "feed.items.added"
	SubjectItemRemoved = "feed.items.removed"
	SubjectItems       = "feed.items.>"
)

// FeedEvent is the wire envelope of one child-added or child-removed change.
type FeedEvent struct {
	EventID   string                `json:"eventId"`
	Type      remote.ChildEventType `json:"type"`
	ItemID    string                `json:"itemId"`
	Item      *model.ContentItem    `json:"item,omitempty"`
	Timestamp int64                 `json:"timestamp"` // Unix milliseconds
}

// NewFeedEvent wraps a child event with a fresh event id and the current timestamp.
func NewFeedEvent(evt remote.ChildEvent) *FeedEvent {
	return &FeedEvent{
		EventID:   uuid.NewString(),
		Type:      evt.Type,
		ItemID:    evt.ID,
		Item:      evt.Item,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Validate checks that the event names a known change and an item.
func (e *FeedEvent) Validate() error {
	if e.ItemID == "" {
		return fmt.Errorf("event %s: missing itemId", e.EventID)
	}
	switch e.Type {
	case remote.ChildAdded, remote.ChildRemoved:
		return nil
	default:
		return fmt.Errorf("event %s: unknown type %q", e.EventID, e.Type)
	}
}

// Subject returns the relative subject the event is published on.
func (e *FeedEvent) Subject() string {
	if e.Type == remote.ChildRemoved {
		return SubjectItemRemoved
	}
	return SubjectItemAdded
}

// ChildEvent converts the envelope back into a remote change.
func (e *FeedEvent) ChildEvent() remote.ChildEvent {
	return remote.ChildEvent{Type: e.Type, ID: e.ItemID, Item: e.Item}
}
