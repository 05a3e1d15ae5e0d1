package manager

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"modelhost/internal/errs"
	"modelhost/internal/events"
)

// initCall is the shared result cell of one initialization attempt. It is
// resolved exactly once by closing done.
type initCall struct {
	done chan struct{}
	err  error
}

func (c *initCall) wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// initResult is what a completed initialization committed.
type initResult struct {
	modelID string
	status  DisplayStatus
	lastErr string
}

// EnsureReady returns once the service is ready. Concurrent callers during
// initialization share the same attempt; an errored service is retried.
// A canceled ctx stops the wait, not the initialization.
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errs.New(errs.NotReady, "orchestrator is closed")
	}
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateInitializing:
		call := m.inflight
		m.mu.Unlock()
		return call.wait(ctx)
	}
	call := m.beginLocked()
	m.mu.Unlock()
	return call.wait(ctx)
}

// beginLocked enters INITIALIZING and starts a new attempt. Callers hold mu.
func (m *Manager) beginLocked() *initCall {
	if m.state == StateError {
		m.log.Info().Str("error", m.err).Msg("ensure_error_cleared")
	}
	m.gen++
	call := &initCall{done: make(chan struct{})}
	m.inflight = call
	m.state = StateInitializing
	m.status = StatusInitializing
	m.err = ""
	m.announceLocked()
	go m.initialize(call, m.gen)
	return call
}

func (m *Manager) initialize(call *initCall, gen uint64) {
	var (
		res initResult
		err error
	)
	began := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.Internal, "initialization panic: %v", r)
			m.log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("ensure_panic")
		}
		m.complete(call, gen, res, err)
		ev := m.log.Info()
		if err != nil {
			ev = m.log.Error().Err(err)
		}
		ev.Str("model", res.modelID).Str("status", string(res.status)).Dur("took", time.Since(began)).Msg("ensure_done")
	}()
	m.log.Info().Uint64("attempt", gen).Msg("ensure_start")
	res, err = m.resolveAndStart()
}

// resolveAndStart picks the model and tries to start the engine. Missing
// assets and engine failures are absorbed into a degraded result; only
// faults in the resolution itself are returned.
func (m *Manager) resolveAndStart() (initResult, error) {
	id, err := m.resolveModel()
	if err != nil {
		return initResult{}, err
	}
	if id == "" {
		m.log.Info().Msg("no_model_available")
		return initResult{status: StatusNotDownloaded}, nil
	}
	desc, ok := m.cfg.Catalog.Get(id)
	if !ok {
		e := errs.New(errs.ModelNotFound, "selected model %q is not in the catalog", id)
		m.log.Warn().Str("model", id).Msg("selected_model_unknown")
		return initResult{modelID: id, status: StatusDegraded, lastErr: e.Error()}, nil
	}
	if !m.cfg.Assets.HasRequired(desc) {
		m.log.Info().Str("model", id).Msg("model_not_downloaded")
		m.pub.Publish(events.New(events.ModelNotDownloaded, id, events.ModelNotDownloadedPayload{ModelID: id}))
		return initResult{modelID: id, status: StatusNotDownloaded}, nil
	}
	if err := m.cfg.Engine.Start(m.baseCtx, id); err != nil {
		m.log.Warn().Err(err).Str("model", id).Str("reason", string(errs.CodeOf(err))).Msg("engine_start_failed")
		return initResult{modelID: id, status: StatusDegraded, lastErr: err.Error()}, nil
	}
	return initResult{modelID: id, status: StatusReady}, nil
}

// resolveModel returns the configured model, or the first model in
// recommended order whose assets are present. An automatic choice is
// persisted. "" means nothing is available.
func (m *Manager) resolveModel() (string, error) {
	if id := strings.TrimSpace(m.cfg.Settings.SelectedModel()); id != "" {
		return id, nil
	}
	if m.cfg.Catalog == nil || m.cfg.Assets == nil {
		return "", errs.New(errs.Internal, "orchestrator has no catalog or asset store")
	}
	for _, id := range m.cfg.Catalog.RecommendedOrder() {
		desc, ok := m.cfg.Catalog.Get(id)
		if !ok || !m.cfg.Assets.HasRequired(desc) {
			continue
		}
		if err := m.cfg.Settings.SetSelectedModel(id); err != nil {
			m.log.Warn().Err(err).Str("model", id).Msg("persist_selection_failed")
		}
		m.log.Info().Str("model", id).Msg("model_auto_selected")
		return id, nil
	}
	return "", nil
}

// complete commits the result of attempt gen and resolves call. Results of
// a superseded attempt are not committed; its waiters follow the newer one.
func (m *Manager) complete(call *initCall, gen uint64, res initResult, err error) {
	var next *initCall
	m.mu.Lock()
	switch {
	case gen == m.gen && !m.closed:
		m.inflight = nil
		m.modelID = res.modelID
		m.initErr = err
		if err != nil {
			m.state, m.status, m.err = StateError, StatusError, err.Error()
		} else {
			m.state, m.status, m.err = StateReady, res.status, res.lastErr
		}
		m.announceLocked()
	case m.inflight != nil:
		next = m.inflight
	case !m.closed:
		// A newer attempt has already committed; report its outcome.
		err = m.initErr
	}
	m.mu.Unlock()

	if next != nil && next != call {
		go func() {
			<-next.done
			call.err = next.err
			close(call.done)
		}()
		return
	}
	call.err = err
	close(call.done)
}
