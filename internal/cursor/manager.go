// Package cursor holds per-filter keyset pagination boundaries for one feed session.
package cursor

import (
	"sync"

	"github.com/fanzone/memefeed/pkg/model"
)

// ScoreOffset is subtracted from the lowest loaded score so the next page
// boundary sits between integer scores.
const ScoreOffset = 0.5

// Cursor is the boundary of the last page fetched for a filter.
//
// Value is the oldest createdAt loaded (ALL, TEAM_*) or the lowest score loaded
// minus ScoreOffset (TOP_HIT, TOP_MISS). Boundary lists the ids already
// delivered at the lowest score so ties spanning a page edge appear exactly once.
type Cursor struct {
	Value    float64
	Boundary []string
}

// Manager stores one cursor per filter key. It is in-memory only.
type Manager struct {
	mu      sync.RWMutex
	cursors map[model.FilterKey]Cursor
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{cursors: make(map[model.FilterKey]Cursor)}
}

// Get returns the cursor for key. ok is false when the next fetch is a first page.
func (m *Manager) Get(key model.FilterKey) (Cursor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cursors[key]
	if !ok {
		return Cursor{}, false
	}
	c.Boundary = append([]string(nil), c.Boundary...)
	return c, true
}

// Set records the boundary observed by the latest successful page fetch.
func (m *Manager) Set(key model.FilterKey, c Cursor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Boundary = append([]string(nil), c.Boundary...)
	m.cursors[key] = c
}

// Reset forgets the cursor for key.
func (m *Manager) Reset(key model.FilterKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, key)
}

// ResetAll forgets every cursor.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors = make(map[model.FilterKey]Cursor)
}

// UpperBound converts a score cursor back into the inclusive maximum score of the next page.
func (c Cursor) UpperBound() float64 {
	return c.Value + ScoreOffset
}

// Seen reports whether id was already delivered at the boundary.
func (c Cursor) Seen(id string) bool {
	for _, b := range c.Boundary {
		if b == id {
			return true
		}
	}
	return false
}
