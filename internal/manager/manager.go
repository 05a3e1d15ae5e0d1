package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modelhost/internal/events"
	"modelhost/internal/metrics"
)

// Manager owns the service state. All mutations go through its methods;
// collaborators never touch the state directly.
type Manager struct {
	cfg ManagerConfig
	log zerolog.Logger
	pub events.Publisher

	mu      sync.RWMutex
	state   State
	status  DisplayStatus
	modelID string
	err     string
	// initErr is the error committed by the last initialization.
	initErr error
	// inflight is the shared result cell of the running initialization.
	inflight *initCall
	// gen identifies the current initialization attempt; results of older
	// attempts are discarded.
	gen      uint64
	outcomes outcomeRing
	closed   bool

	// Engine admission: single in-flight request plus a bounded queue.
	genCh   chan struct{}
	queueCh chan struct{}

	baseCtx   context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// New constructs a Manager with default tunables.
func New(cfg ManagerConfig) *Manager { return NewWithConfig(cfg) }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Ready reports whether the service accepts inference requests.
func (m *Manager) Ready() bool { return m.State() == StateReady }

// ModelID returns the active model id, or "" when none is selected.
func (m *Manager) ModelID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modelID
}

func (m *Manager) setStateMetric(s State) { metrics.SetServiceState(string(s)) }
