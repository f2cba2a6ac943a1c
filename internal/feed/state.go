package feed

import (
	"context"
	"sync"

	"github.com/fanzone/memefeed/pkg/model"
)

// PaginationState is the observable load status of a feed session.
type PaginationState struct {
	Filter  model.FilterKey `json:"filter,omitempty"`
	Loading bool            `json:"loading"`
	HasMore bool            `json:"hasMore"`
	Err     error           `json:"-"`
}

// ErrorMessage returns the error text, or "" when there is no error.
func (s PaginationState) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// stateHolder stores the current state and pushes every change to subscribers.
// Subscribers hold at most one pending value: a slow reader only sees the latest.
type stateHolder struct {
	mu     sync.Mutex
	cur    PaginationState
	subs   map[chan PaginationState]struct{}
	closed bool
}

func newStateHolder(initial PaginationState) *stateHolder {
	return &stateHolder{cur: initial, subs: make(map[chan PaginationState]struct{})}
}

func (h *stateHolder) get() PaginationState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur
}

func (h *stateHolder) set(st PaginationState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = st
	for ch := range h.subs {
		offer(ch, st)
	}
}

func (h *stateHolder) subscribe(ctx context.Context) <-chan PaginationState {
	ch := make(chan PaginationState, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	ch <- h.cur
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}()
	return ch
}

func (h *stateHolder) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = make(map[chan PaginationState]struct{})
}

// offer replaces any pending value in ch with st. Callers hold h.mu, so
// nothing else sends on ch and the send cannot block.
func offer(ch chan PaginationState, st PaginationState) {
	select {
	case <-ch:
	default:
	}
	ch <- st
}
