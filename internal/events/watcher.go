package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fanzone/memefeed/internal/pubsub"
	"github.com/fanzone/memefeed/internal/remote"
)

// Watcher implements remote.ChangeWatcher on top of pubsub feed events.
type Watcher struct {
	provider pubsub.Provider
	prefix   string
	logger   *slog.Logger
}

var _ remote.ChangeWatcher = (*Watcher)(nil)

// NewWatcher creates a watcher reading subjects under prefix.
func NewWatcher(provider pubsub.Provider, prefix string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{provider: provider, prefix: prefix, logger: logger.With("component", "events.watcher")}
}

// Watch subscribes to feed events. Malformed payloads are logged and dropped.
func (w *Watcher) Watch(ctx context.Context) (<-chan remote.ChildEvent, error) {
	consumer, err := w.provider.NewConsumer(pubsub.ConsumerOptions{
		FilterSubject: pubsub.FullSubject(w.prefix, SubjectItems),
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	msgs, err := consumer.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan remote.ChildEvent)
	go func() {
		defer close(out)
		for msg := range msgs {
			var evt FeedEvent
			if err := json.Unmarshal(msg.Data(), &evt); err != nil {
				w.logger.Warn("Dropping malformed feed event", "subject", msg.Subject(), "error", err)
				continue
			}
			if err := evt.Validate(); err != nil {
				w.logger.Warn("Dropping invalid feed event", "subject", msg.Subject(), "error", err)
				continue
			}
			select {
			case out <- evt.ChildEvent():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
