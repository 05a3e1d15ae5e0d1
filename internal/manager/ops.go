package manager

import (
	"context"

	"modelhost/internal/errs"
)

// Reinitialize forces UNINITIALIZED -> INITIALIZING regardless of the
// current state and waits for the new attempt. An attempt already running
// is superseded: its result is discarded.
func (m *Manager) Reinitialize(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errs.New(errs.NotReady, "orchestrator is closed")
	}
	m.state = StateUninitialized
	m.status = StatusInitializing
	m.announceLocked()
	call := m.beginLocked()
	m.mu.Unlock()
	m.log.Info().Msg("reinitialize")
	return call.wait(ctx)
}

// SwitchModel persists modelID as the selection, drops cached capability
// data, stops the running engine and reinitializes.
func (m *Manager) SwitchModel(ctx context.Context, modelID string) error {
	if _, ok := m.cfg.Catalog.Get(modelID); !ok {
		return errs.New(errs.ModelNotFound, "unknown model %q", modelID)
	}
	if err := m.cfg.Settings.SetSelectedModel(modelID); err != nil {
		return errs.Wrap(err, errs.InvalidConfig, "persist selected model")
	}
	if m.cfg.Capabilities != nil {
		m.cfg.Capabilities.Invalidate()
	}
	if err := m.cfg.Engine.Stop(); err != nil {
		m.log.Warn().Err(err).Msg("engine_stop_failed")
	}
	m.log.Info().Str("model", modelID).Msg("model_switch")
	return m.Reinitialize(ctx)
}
