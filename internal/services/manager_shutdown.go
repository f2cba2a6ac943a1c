package services

import (
	"context"
)

// Shutdown stops the HTTP server, waits for background tasks and releases
// components in reverse creation order. The background context passed to
// Start should be canceled first.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.server != nil {
		if err := m.server.Stop(ctx); err != nil {
			m.logger.Warn("Error shutting down HTTP server", "error", err)
		}
	}
	if m.repo != nil {
		m.repo.StopRealtime()
	}

	m.logger.Info("Waiting for background tasks to finish")
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for background tasks")
	}

	for i := len(m.closers) - 1; i >= 0; i-- {
		c := m.closers[i]
		if err := c.close(ctx); err != nil {
			m.logger.Warn("Error closing component", "name", c.name, "error", err)
		}
	}
	m.closers = nil
}
