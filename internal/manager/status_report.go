package manager

import (
	"time"

	"modelhost/internal/metrics"
	"modelhost/pkg/types"
)

// outcomeRing remembers the success of the last outcomeWindow inference calls.
type outcomeRing struct {
	buf  [outcomeWindow]bool
	n    int
	next int
}

func (r *outcomeRing) add(ok bool) {
	r.buf[r.next] = ok
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// rate returns the failure fraction and the number of calls it covers.
func (r *outcomeRing) rate() (float64, int) {
	if r.n == 0 {
		return 0, 0
	}
	fails := 0
	for i := 0; i < r.n; i++ {
		if !r.buf[i] {
			fails++
		}
	}
	return float64(fails) / float64(r.n), r.n
}

func (m *Manager) recordOutcome(ok bool, label string) {
	metrics.Inference.WithLabelValues(label).Inc()
	m.mu.Lock()
	m.outcomes.add(ok)
	m.mu.Unlock()
}

// Snapshot returns a read-only view of the orchestrator state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	s := Snapshot{
		State:     m.state,
		Status:    m.status,
		ModelID:   m.modelID,
		LastError: m.err,
		StartedAt: m.startTime,
	}
	s.ErrorRate, s.RecentRequests = m.outcomes.rate()
	m.mu.RUnlock()

	if m.cfg.Engine != nil {
		s.EngineRunning = m.cfg.Engine.Running()
	}
	if s.ModelID != "" && m.cfg.Catalog != nil {
		if desc, ok := m.cfg.Catalog.Get(s.ModelID); ok {
			for _, t := range desc.CapabilityTypes() {
				s.Capabilities = append(s.Capabilities, string(t))
			}
		}
	}
	return s
}

// Status builds the orchestrator part of the /status response.
func (m *Manager) Status() types.StatusResponse {
	s := m.Snapshot()
	return types.StatusResponse{
		Available:      true,
		State:          string(s.State),
		Status:         string(s.Status),
		ModelName:      s.ModelName(),
		EngineRunning:  s.EngineRunning,
		Capabilities:   s.Capabilities,
		ErrorRate:      s.ErrorRate,
		RecentRequests: s.RecentRequests,
		LastError:      s.LastError,
		UpdatedAt:      time.Now().Unix(),
		UptimeSeconds:  int64(time.Since(s.StartedAt).Seconds()),
	}
}
