package engine

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modelhost/internal/assets"
	"modelhost/internal/catalog"
	"modelhost/internal/errs"
	"modelhost/internal/events"
)

type resolver map[string]catalog.ModelDescriptor

func (r resolver) Get(id string) (catalog.ModelDescriptor, bool) {
	d, ok := r[id]
	return d, ok
}

type fakeHandle struct{ pid int }

func (h *fakeHandle) PID() int { return h.pid }

// fakeController simulates processes; dying marks a process dead with logs.
type fakeController struct {
	mu      sync.Mutex
	next    int
	alive   map[int]bool
	logs    map[int][]LogLine
	started []EngineConfig
	stopped int
}

func newFakeController() *fakeController {
	return &fakeController{next: 100, alive: map[int]bool{}, logs: map[int][]LogLine{}}
}

func (f *fakeController) Start(_ context.Context, cfg EngineConfig) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.alive[f.next] = true
	f.started = append(f.started, cfg)
	return &fakeHandle{pid: f.next}, nil
}

func (f *fakeController) Stop(h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alive[h.PID()] {
		f.stopped++
	}
	f.alive[h.PID()] = false
	return nil
}

func (f *fakeController) IsAlive(h Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[h.PID()]
}

func (f *fakeController) RecentLogs(h Handle, n int) []LogLine {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.logs[h.PID()]
	if n > 0 && len(l) > n {
		l = l[len(l)-n:]
	}
	return append([]LogLine(nil), l...)
}

func (f *fakeController) die(msgs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.logs[f.next] = append(f.logs[f.next], LogLine{Level: lineLevel(m), Message: m})
	}
	f.alive[f.next] = false
}

type countingInvalidator struct{ n atomic.Int32 }

func (c *countingInvalidator) Invalidate() { c.n.Add(1) }

// engineServer is a fake engine HTTP endpoint whose health flips after
// healthyAfter polls (0 = never).
type engineServer struct {
	polls        atomic.Int32
	healthyAfter int32
	onPoll       func(n int32)
	models       string
	srv          *httptest.Server
}

func newEngineServer(t *testing.T, healthyAfter int32) *engineServer {
	es := &engineServer{healthyAfter: healthyAfter, models: `{"data":[{"id":"m"}]}`}
	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			n := es.polls.Add(1)
			if es.onPoll != nil {
				es.onPoll(n)
			}
			if es.healthyAfter > 0 && n >= es.healthyAfter {
				_, _ = w.Write([]byte(`{"status":"ok"}`))
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"Loading model"}}`))
		case "/v1/models":
			_, _ = w.Write([]byte(es.models))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(es.srv.Close)
	return es
}

func (es *engineServer) hostPort(t *testing.T) (string, int) {
	host, p, err := net.SplitHostPort(es.srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	port, _ := strconv.Atoi(p)
	return host, port
}

type harness struct {
	sup   *Supervisor
	ctrl  *fakeController
	inv   *countingInvalidator
	pub   *events.MemoryPublisher
	store *assets.Store
	desc  catalog.ModelDescriptor
}

func newHarness(t *testing.T, es *engineServer, multimodal, withFiles bool) *harness {
	t.Helper()
	store, err := assets.New(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	desc := catalog.ModelDescriptor{ID: "m", Name: "M", Multimodal: multimodal, Files: []catalog.FileSpec{
		{Name: "m.gguf", SizeBytes: 4, Required: true, Role: catalog.RoleModel},
	}}
	if multimodal {
		desc.Files = append(desc.Files, catalog.FileSpec{Name: "mmproj.gguf", SizeBytes: 4, Required: true, Role: catalog.RoleProjector})
	}
	if withFiles {
		dir, _ := store.EnsureModelDir("m")
		if err := os.WriteFile(filepath.Join(dir, "m.gguf"), []byte("GGUF"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	host, port := es.hostPort(t)
	h := &harness{ctrl: newFakeController(), inv: &countingInvalidator{}, pub: &events.MemoryPublisher{}, store: store, desc: desc}
	h.sup = New(Config{
		Catalog:        resolver{"m": desc},
		Store:          store,
		Controller:     h.ctrl,
		Invalidator:    h.inv,
		Publisher:      h.pub,
		Binary:         "llama-server",
		Host:           host,
		Port:           port,
		StartupTimeout: 200 * time.Millisecond,
		HealthInterval: 20 * time.Millisecond,
	})
	return h
}

func TestStartHealthyWithinBudget(t *testing.T) {
	es := newEngineServer(t, 3)
	h := newHarness(t, es, false, true)

	if err := h.sup.Start(context.Background(), "m"); err != nil {
		t.Fatalf("start: %v", err)
	}
	ec, _ := h.sup.Config()
	if got := es.polls.Load(); got != 3 || int(got) > ec.Retries() {
		t.Fatalf("polls=%d retries=%d", got, ec.Retries())
	}
	if n := h.inv.n.Load(); n != 1 {
		t.Fatalf("invalidate called %d times, want 1", n)
	}
	if !h.sup.Running() || h.sup.ModelID() != "m" {
		t.Fatalf("expected running engine for m")
	}
	if len(h.pub.Named(events.SpawnReady)) != 1 {
		t.Fatalf("expected spawn_ready event")
	}
	if c, ok := h.sup.Client(); !ok || c.BaseURL() != ec.BaseURL() {
		t.Fatalf("client not exposed")
	}
}

func TestStartFailsFastOnLoadFailure(t *testing.T) {
	es := newEngineServer(t, 0)
	h := newHarness(t, es, false, true)
	es.onPoll = func(n int32) {
		if n == 2 {
			h.ctrl.die("llama_model_load: error loading model", "failed to load model: corrupt")
		}
	}

	err := h.sup.Start(context.Background(), "m")
	if !errs.Is(err, errs.ModelLoadFailed) {
		t.Fatalf("expected ModelLoadFailed, got %v", err)
	}
	if got := es.polls.Load(); got != 2 {
		t.Fatalf("polling continued after exit: polls=%d", got)
	}
	if h.inv.n.Load() != 0 {
		t.Fatalf("invalidate must not run on failure")
	}
	if h.sup.Running() {
		t.Fatalf("no engine should be running")
	}
	if len(h.pub.Named(events.SpawnExit)) != 1 {
		t.Fatalf("expected spawn_exit event")
	}
}

func TestStartDiagnosesArchitecture(t *testing.T) {
	es := newEngineServer(t, 0)
	h := newHarness(t, es, false, true)
	es.onPoll = func(int32) { h.ctrl.die("llama_model_load: error loading model: unknown model architecture: 'qwen3moe'") }

	err := h.sup.Start(context.Background(), "m")
	if !errs.Is(err, errs.IncompatibleArchitecture) {
		t.Fatalf("expected IncompatibleArchitecture, got %v", err)
	}
}

func TestStartTimesOut(t *testing.T) {
	es := newEngineServer(t, 0)
	h := newHarness(t, es, false, true)

	err := h.sup.Start(context.Background(), "m")
	if !IsStartupTimeout(err) {
		t.Fatalf("expected StartupTimeout, got %v", err)
	}
	if got, want := int(es.polls.Load()), 10; got != want {
		t.Fatalf("polls=%d want %d", got, want)
	}
	if h.ctrl.stopped != 1 {
		t.Fatalf("unhealthy process should be stopped, stopped=%d", h.ctrl.stopped)
	}
	if len(h.pub.Named(events.SpawnTimeout)) != 1 {
		t.Fatalf("expected spawn_timeout event")
	}
}

func TestStartModelFileMissing(t *testing.T) {
	es := newEngineServer(t, 1)
	h := newHarness(t, es, false, false)

	err := h.sup.Start(context.Background(), "m")
	if !IsModelFileMissing(err) {
		t.Fatalf("expected ModelFileMissing, got %v", err)
	}
	if len(h.ctrl.started) != 0 {
		t.Fatalf("process must not be spawned")
	}
	ev := h.pub.Named(events.ModelNotDownloaded)
	if len(ev) != 1 {
		t.Fatalf("expected model-not-downloaded event")
	}
	p := ev[0].Payload.(events.ModelNotDownloadedPayload)
	if len(p.Missing) != 1 || p.Missing[0] != "m.gguf" {
		t.Fatalf("missing=%v", p.Missing)
	}
}

func TestStartWithoutProjectorIsSoft(t *testing.T) {
	es := newEngineServer(t, 1)
	h := newHarness(t, es, true, true)

	if err := h.sup.Start(context.Background(), "m"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if pp := h.ctrl.started[0].ProjectorPath; pp != "" {
		t.Fatalf("projector path should be empty, got %q", pp)
	}
}

func TestStartCanceled(t *testing.T) {
	es := newEngineServer(t, 0)
	h := newHarness(t, es, false, true)
	ctx, cancel := context.WithCancel(context.Background())
	es.onPoll = func(int32) { cancel() }

	err := h.sup.Start(ctx, "m")
	if err == nil {
		t.Fatalf("expected error on cancel")
	}
	if es.polls.Load() != 1 {
		t.Fatalf("polling continued after cancel")
	}
}

func TestStopAndRestart(t *testing.T) {
	es := newEngineServer(t, 1)
	h := newHarness(t, es, false, true)
	ctx := context.Background()
	if err := h.sup.Start(ctx, "m"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Same model and healthy: no second spawn.
	if err := h.sup.Start(ctx, "m"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(h.ctrl.started) != 1 {
		t.Fatalf("spawned %d times", len(h.ctrl.started))
	}
	if err := h.sup.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.sup.Running() || h.ctrl.stopped != 1 {
		t.Fatalf("engine still running after stop")
	}
	if len(h.pub.Named(events.SpawnStop)) != 1 {
		t.Fatalf("expected spawn_stop event")
	}
}

func TestProbeModalities(t *testing.T) {
	es := newEngineServer(t, 1)
	es.models = `{"models":[{"name":"m","capabilities":["completion","multimodal"]}],"data":[{"id":"m","modalities":{"vision":true,"audio":false}}]}`
	h := newHarness(t, es, true, true)

	if _, err := h.sup.ProbeModalities(context.Background()); !errs.Is(err, errs.EngineUnavailable) {
		t.Fatalf("expected EngineUnavailable before start, got %v", err)
	}
	if err := h.sup.Start(context.Background(), "m"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rm, err := h.sup.ProbeModalities(context.Background())
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !rm.Vision || rm.Audio || rm.ModelID != "m" {
		t.Fatalf("unexpected modalities: %+v", rm)
	}
}

func TestResolvePicksFreePort(t *testing.T) {
	es := newEngineServer(t, 1)
	h := newHarness(t, es, false, true)
	h.sup.cfg.Port = 0
	ec, err := h.sup.Resolve("m")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ec.Port == 0 {
		t.Fatalf("expected a picked port")
	}
	if ec.Threads < 2 || ec.Threads > 8 {
		t.Fatalf("threads=%d", ec.Threads)
	}
	if _, err := h.sup.Resolve("ghost"); !errs.Is(err, errs.ModelNotFound) {
		t.Fatalf("expected ModelNotFound, got %v", err)
	}
}
