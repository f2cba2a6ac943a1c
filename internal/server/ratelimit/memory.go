package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// memoryLimiter keeps one token bucket per key.
type memoryLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	config  Config
	limit   rate.Limit

	cleanupT *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter creates an in-memory limiter. Idle keys are dropped
// after two windows.
func NewMemoryLimiter(cfg Config) Limiter {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	l := &memoryLimiter{
		clients:  make(map[string]*client),
		config:   cfg,
		limit:    rate.Limit(float64(cfg.Requests) / window.Seconds()),
		cleanupT: time.NewTicker(window * 2),
		stopCh:   make(chan struct{}),
	}
	l.config.Window = window
	go l.cleanup()
	return l
}

func (l *memoryLimiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.config.Requests)}
		l.clients[key] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.limiter.Allow()
}

func (l *memoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, key)
}

func (l *memoryLimiter) cleanup() {
	for {
		select {
		case <-l.cleanupT.C:
			l.cleanupStale()
		case <-l.stopCh:
			l.cleanupT.Stop()
			return
		}
	}
}

func (l *memoryLimiter) cleanupStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := l.config.Window * 2
	now := time.Now()
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > threshold {
			delete(l.clients, key)
		}
	}
}

// Stop ends the cleanup goroutine.
func (l *memoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Stoppable is a Limiter owning a background goroutine.
type Stoppable interface {
	Limiter
	Stop()
}

var _ Stoppable = (*memoryLimiter)(nil)
