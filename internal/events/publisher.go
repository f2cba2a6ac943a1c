package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fanzone/memefeed/internal/pubsub"
	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/pkg/model"
)

// Publisher publishes feed events.
type Publisher struct {
	pub    pubsub.Publisher
	logger *slog.Logger
}

// NewPublisher wraps a pubsub publisher.
func NewPublisher(pub pubsub.Publisher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{pub: pub, logger: logger.With("component", "events.publisher")}
}

// Publish sends one change.
func (p *Publisher) Publish(ctx context.Context, change remote.ChildEvent) error {
	evt := NewFeedEvent(change)
	if err := evt.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.pub.Publish(ctx, evt.Subject(), data); err != nil {
		return model.WrapError(err)
	}
	return nil
}

// PublishAdded announces a new item.
func (p *Publisher) PublishAdded(ctx context.Context, item model.ContentItem) error {
	it := item.Clone()
	return p.Publish(ctx, remote.ChildEvent{Type: remote.ChildAdded, ID: item.ID, Item: &it})
}

// PublishRemoved announces a deleted item.
func (p *Publisher) PublishRemoved(ctx context.Context, id string) error {
	return p.Publish(ctx, remote.ChildEvent{Type: remote.ChildRemoved, ID: id})
}

// Relay forwards every change from source to pubsub until ctx ends or the
// source closes. Publish failures are logged and skipped.
func (p *Publisher) Relay(ctx context.Context, source remote.ChangeWatcher) error {
	changes, err := source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch source: %w", err)
	}
	p.logger.Info("Relaying feed changes")
	for change := range changes {
		if err := p.Publish(ctx, change); err != nil {
			if model.IsCanceled(err) {
				return nil
			}
			p.logger.Warn("Failed to relay change", "type", change.Type, "id", change.ID, "error", err)
		}
	}
	return nil
}
