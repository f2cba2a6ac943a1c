package cache

import (
	"context"
	"sync"

	"github.com/fanzone/memefeed/pkg/model"
)

// notifier fans write signals out to partition observers.
// Each subscriber has a one-slot signal channel so bursts of writes coalesce
// into a single re-read.
type notifier struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

type subscription struct {
	key    model.FilterKey
	signal chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[*subscription]struct{})}
}

func (n *notifier) add(key model.FilterKey) *subscription {
	sub := &subscription{key: key, signal: make(chan struct{}, 1)}
	n.mu.Lock()
	n.subs[sub] = struct{}{}
	n.mu.Unlock()
	return sub
}

func (n *notifier) remove(sub *subscription) {
	n.mu.Lock()
	delete(n.subs, sub)
	n.mu.Unlock()
}

// signal wakes observers of the given partitions, or of every partition when keys is empty.
func (n *notifier) signal(keys ...model.FilterKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs {
		if len(keys) > 0 && !containsKey(keys, sub.key) {
			continue
		}
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func containsKey(keys []model.FilterKey, key model.FilterKey) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// Observe emits the current partition snapshot, then a fresh snapshot after
// each write that may have changed it. Intermediate states may be skipped
// but the latest state is always delivered.
func (s *SQLiteStore) Observe(ctx context.Context, key model.FilterKey) (<-chan []model.CachedEntry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if s.closed() {
		return nil, model.ErrClosed
	}

	sub := s.notify.add(key)
	out := make(chan []model.CachedEntry, 1)

	go func() {
		defer close(out)
		defer s.notify.remove(sub)

		for {
			entries, err := s.Snapshot(ctx, key)
			switch {
			case err == nil:
				select {
				case out <- entries:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			case isClosedErr(err) || ctx.Err() != nil:
				return
			default:
				s.logger.Warn("Failed to read partition snapshot", "filter", key, "error", err)
			}

			select {
			case <-sub.signal:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}()

	return out, nil
}
