package services

import (
	"context"
)

// Start runs the HTTP server and the realtime relay in the background and
// warms up the initial filter. It returns once the background tasks are launched.
func (m *Manager) Start(bgCtx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Start(bgCtx); err != nil {
			m.logger.Error("HTTP server stopped with error", "error", err)
		}
	}()

	if m.publisher != nil && m.cfg.Realtime.Relay {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.publisher.Relay(bgCtx, m.changes); err != nil {
				m.logger.Error("Feed relay stopped with error", "error", err)
			}
		}()
	}

	if m.opts.InitialFilter != "" {
		if err := m.repo.SelectFilter(bgCtx, m.opts.InitialFilter); err != nil {
			m.logger.Warn("Initial filter not selected", "filter", m.opts.InitialFilter, "error", err)
		} else if st := m.repo.State(); st.Err != nil {
			m.logger.Warn("Initial load failed", "filter", m.opts.InitialFilter, "error", st.Err)
		}
	}
}
