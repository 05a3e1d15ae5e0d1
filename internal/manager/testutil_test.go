package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modelhost/internal/catalog"
	"modelhost/internal/config"
	"modelhost/internal/engine"
	"modelhost/internal/errs"
	"modelhost/internal/events"
	"modelhost/pkg/types"
)

// fakeAssets reports the listed model ids as downloaded.
type fakeAssets struct {
	mu      sync.Mutex
	present map[string]bool
}

func newFakeAssets(ids ...string) *fakeAssets {
	a := &fakeAssets{present: map[string]bool{}}
	for _, id := range ids {
		a.present[id] = true
	}
	return a
}

func (a *fakeAssets) HasRequired(d catalog.ModelDescriptor) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.present[d.ID]
}

// fakeEngine records starts and serves completions from a func.
type fakeEngine struct {
	mu       sync.Mutex
	starts   atomic.Int32
	stops    atomic.Int32
	started  []string
	startErr error
	gate     chan struct{}
	running  bool
	complete func(ctx context.Context, r engine.CompletionRequest) (engine.CompletionResult, error)
	panicOn  string
	// onStart runs first in every Start with the 1-based call number.
	onStart func(n int32)
}

func (e *fakeEngine) Start(ctx context.Context, id string) error {
	n := e.starts.Add(1)
	if e.onStart != nil {
		e.onStart(n)
	}
	if e.panicOn == id {
		panic("boom")
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, id)
	if e.startErr != nil {
		return e.startErr
	}
	e.running = true
	return nil
}

func (e *fakeEngine) Stop() error {
	e.stops.Add(1)
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *fakeEngine) Complete(ctx context.Context, r engine.CompletionRequest) (engine.CompletionResult, error) {
	if !e.Running() {
		return engine.CompletionResult{}, errs.New(errs.EngineUnavailable, "engine is not running")
	}
	if e.complete != nil {
		return e.complete(ctx, r)
	}
	return engine.CompletionResult{Success: true, Response: "echo: " + r.Prompt}, nil
}

// fakeCaps records invalidations and answers matches from a table.
type fakeCaps struct {
	invalidations atomic.Int32
	matches       map[string]types.FileTypeMatch
}

func (c *fakeCaps) Invalidate() { c.invalidations.Add(1) }

func (c *fakeCaps) MatchFileType(ctx context.Context, modelID, ext string) types.FileTypeMatch {
	if m, ok := c.matches[ext]; ok {
		return m
	}
	return types.FileTypeMatch{Extension: ext, Supported: true, Score: 80}
}

type harness struct {
	m        *Manager
	engine   *fakeEngine
	assets   *fakeAssets
	caps     *fakeCaps
	settings *config.Memory
	pub      *events.MemoryPublisher
}

func newHarness(t *testing.T, cfg config.Config, present ...string) *harness {
	t.Helper()
	h := &harness{
		engine:   &fakeEngine{},
		assets:   newFakeAssets(present...),
		caps:     &fakeCaps{matches: map[string]types.FileTypeMatch{}},
		settings: config.NewMemory(cfg),
		pub:      events.NewMemoryPublisher(),
	}
	h.m = NewWithConfig(ManagerConfig{
		Catalog:      catalog.Builtin(),
		Assets:       h.assets,
		Engine:       h.engine,
		Capabilities: h.caps,
		Settings:     h.settings,
		Publisher:    h.pub,
	})
	t.Cleanup(func() { _ = h.m.Close() })
	return h
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

func statusPayloads(p *events.MemoryPublisher) []events.StatusChangedPayload {
	var out []events.StatusChangedPayload
	for _, e := range p.Named(events.StatusChanged) {
		out = append(out, e.Payload.(events.StatusChangedPayload))
	}
	return out
}
