package manager

// Close stops the engine and rejects further EnsureReady calls. Waiters of
// a running initialization are released with its result.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.gen++
	m.inflight = nil
	m.state = StateUninitialized
	m.status = StatusInitializing
	m.announceLocked()
	m.mu.Unlock()

	m.cancel()
	m.log.Info().Msg("orchestrator_close")
	if m.cfg.Engine == nil {
		return nil
	}
	return m.cfg.Engine.Stop()
}
