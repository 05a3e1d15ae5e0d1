package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"modelhost/internal/engine"
	"modelhost/internal/errs"
	"modelhost/internal/metrics"
	"modelhost/pkg/types"
)

// ClampTimeout applies the request timeout policy: unset means the
// configured default, and the result lies in [30s, 5x default].
func (m *Manager) ClampTimeout(d time.Duration) time.Duration {
	def := m.cfg.Settings.RequestTimeout()
	if def <= 0 {
		def = time.Minute
	}
	hi := max(minInferenceTimeout, maxTimeoutFactor*def)
	if d <= 0 {
		d = def
	}
	return min(max(d, minInferenceTimeout), hi)
}

// RequestInference runs one generation on the active model. Failed calls are
// surfaced as-is and never retried.
func (m *Manager) RequestInference(ctx context.Context, req types.InferRequest) (types.InferResponse, error) {
	m.mu.RLock()
	state, modelID := m.state, m.modelID
	m.mu.RUnlock()
	if state != StateReady {
		metrics.Inference.WithLabelValues("rejected").Inc()
		return types.InferResponse{}, errs.New(errs.NotReady, "service is %s", state)
	}
	if modelID == "" {
		metrics.Inference.WithLabelValues("rejected").Inc()
		return types.InferResponse{}, errs.New(errs.NoModelSelected, "no model selected")
	}

	timeout := m.ClampTimeout(time.Duration(req.TimeoutMs) * time.Millisecond)
	resp := types.InferResponse{AppliedTimeoutMs: timeout.Milliseconds(), ModelID: modelID}
	if req.FilePath != "" {
		if err := m.admitFile(ctx, modelID, req.FilePath); err != nil {
			metrics.Inference.WithLabelValues("rejected").Inc()
			resp.Error = err.Error()
			return resp, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	release, err := m.beginGeneration(ctx)
	if err != nil {
		metrics.Inference.WithLabelValues("busy").Inc()
		resp.Error = err.Error()
		return resp, err
	}
	defer release()

	began := time.Now()
	res, err := m.cfg.Engine.Complete(ctx, engine.CompletionRequest{
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		FilePath:    req.FilePath,
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = errs.Wrap(err, errs.InferenceFailed, fmt.Sprintf("no response within %s", timeout))
		m.recordOutcome(false, "timeout")
	case err != nil:
		if errs.CodeOf(err) == "" {
			err = errs.Wrap(err, errs.InferenceFailed, "engine request")
		}
		m.recordOutcome(false, "error")
	case !res.Success:
		err = errs.New(errs.InferenceFailed, "%s", res.Error)
		m.recordOutcome(false, "error")
	}
	if err != nil {
		m.log.Warn().Err(err).Str("model", modelID).Dur("took", time.Since(began)).Msg("inference_failed")
		resp.Error = err.Error()
		return resp, err
	}

	out := res.Response
	if req.ExpectJSON {
		if out, err = ExtractJSON(out); err != nil {
			m.recordOutcome(false, "invalid")
			resp.Error = err.Error()
			return resp, err
		}
	}
	m.recordOutcome(true, "ok")
	m.log.Debug().Str("model", modelID).Dur("took", time.Since(began)).Int("chars", len(out)).Msg("inference_done")
	resp.Success = true
	resp.Response = out
	return resp, nil
}
