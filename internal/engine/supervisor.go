package engine

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modelhost/internal/assets"
	"modelhost/internal/catalog"
	"modelhost/internal/errs"
	"modelhost/internal/events"
	"modelhost/internal/metrics"
	"modelhost/pkg/types"
)

// Resolver looks up model descriptors.
type Resolver interface {
	Get(id string) (catalog.ModelDescriptor, bool)
}

// CacheInvalidator is notified after every successful (re)start.
type CacheInvalidator interface {
	Invalidate()
}

// Config configures a Supervisor.
type Config struct {
	Catalog     Resolver
	Store       *assets.Store
	Controller  ProcessController
	Invalidator CacheInvalidator
	Publisher   events.Publisher
	Logger      zerolog.Logger
	HTTPClient  *http.Client

	Binary      string
	Host        string
	Port        int
	Threads     int
	ContextSize int
	BatchSize   int
	GPULayers   int
	ExtraArgs   []string

	StartupTimeout time.Duration
	HealthInterval time.Duration
	RequestTimeout time.Duration
	// LogTail is how many log lines feed the diagnosis. Default 50.
	LogTail int
}

// Supervisor owns at most one engine process.
type Supervisor struct {
	cfg Config
	log zerolog.Logger
	pub events.Publisher

	// startMu serializes Start/Stop so one model's process is never driven
	// by two operations at once.
	startMu sync.Mutex

	mu      sync.RWMutex
	handle  Handle
	running EngineConfig
	client  *Client
}

// New returns a Supervisor with defaults applied.
func New(cfg Config) *Supervisor {
	if cfg.Controller == nil {
		cfg.Controller = &ExecController{}
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Threads <= 0 {
		cfg.Threads = DefaultThreads()
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 512
	}
	if cfg.GPULayers == 0 {
		cfg.GPULayers = AutoGPULayers
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 120 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.LogTail <= 0 {
		cfg.LogTail = 50
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 0}
	}
	return &Supervisor{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "engine").Logger(),
		pub: events.OrNoop(cfg.Publisher),
	}
}

// Resolve builds the EngineConfig for modelID. It fails with ModelNotFound
// or ModelFileMissing; a missing projector is only a warning.
func (s *Supervisor) Resolve(modelID string) (EngineConfig, error) {
	desc, ok := s.cfg.Catalog.Get(modelID)
	if !ok {
		return EngineConfig{}, errs.New(errs.ModelNotFound, "unknown model %q", modelID)
	}
	modelPath, err := s.cfg.Store.ModelPath(desc)
	if err != nil {
		missing := make([]string, 0, len(desc.Files))
		for _, f := range s.cfg.Store.Missing(desc) {
			missing = append(missing, f.Name)
		}
		s.pub.Publish(events.New(events.ModelNotDownloaded, modelID, events.ModelNotDownloadedPayload{
			ModelID: modelID, Path: modelPath, Missing: missing,
		}))
		return EngineConfig{}, err
	}
	ec := EngineConfig{
		ModelID:        modelID,
		ModelPath:      modelPath,
		Binary:         s.cfg.Binary,
		Host:           s.cfg.Host,
		Port:           s.cfg.Port,
		Threads:        s.cfg.Threads,
		ContextSize:    s.cfg.ContextSize,
		BatchSize:      s.cfg.BatchSize,
		GPULayers:      s.cfg.GPULayers,
		ExtraArgs:      append([]string(nil), s.cfg.ExtraArgs...),
		StartupTimeout: s.cfg.StartupTimeout,
		HealthInterval: s.cfg.HealthInterval,
		RequestTimeout: s.cfg.RequestTimeout,
	}
	if desc.ContextSize > 0 && desc.ContextSize < ec.ContextSize {
		ec.ContextSize = desc.ContextSize
	}
	if desc.Multimodal {
		if p, present := s.cfg.Store.ProjectorPath(desc); present {
			ec.ProjectorPath = p
		} else {
			s.log.Warn().Str("model", modelID).Str("path", p).Msg("projector_missing")
		}
	}
	if ec.Port == 0 {
		port, err := pickFreePort(ec.Host)
		if err != nil {
			return EngineConfig{}, errs.Wrap(err, errs.EngineUnavailable, "pick port")
		}
		ec.Port = port
	}
	return ec, nil
}

// Start launches the engine for modelID and waits until it is healthy or
// the startup budget is spent. A running engine for another model is
// stopped first; a healthy engine for the same model is kept.
func (s *Supervisor) Start(ctx context.Context, modelID string) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.RLock()
	h, cur, cli := s.handle, s.running, s.client
	s.mu.RUnlock()
	if h != nil && cur.ModelID == modelID && s.cfg.Controller.IsAlive(h) {
		hctx, cancel := context.WithTimeout(ctx, time.Second)
		hs, err := cli.Health(hctx)
		cancel()
		if err == nil && hs.Healthy {
			return nil
		}
	}
	if h != nil {
		s.stopLocked("restart")
	}

	ec, err := s.Resolve(modelID)
	if err != nil {
		metrics.EngineStarts.WithLabelValues(string(errs.CodeOf(err))).Inc()
		return err
	}
	return s.launch(ctx, ec)
}

func (s *Supervisor) launch(ctx context.Context, ec EngineConfig) error {
	began := time.Now()
	h, err := s.cfg.Controller.Start(ctx, ec)
	if err != nil {
		metrics.EngineStarts.WithLabelValues(string(errs.EngineUnavailable)).Inc()
		return errs.Wrap(err, errs.EngineUnavailable, "spawn engine")
	}
	s.log.Info().Str("model", ec.ModelID).Int("pid", h.PID()).Str("host", ec.Host).Int("port", ec.Port).
		Int("threads", ec.Threads).Int("ctx", ec.ContextSize).Bool("projector", ec.ProjectorPath != "").Msg("spawn_start")
	s.pub.Publish(events.New(events.SpawnStart, ec.ModelID, events.SpawnPayload{PID: h.PID(), Port: ec.Port, URL: ec.BaseURL()}))

	client := NewClient(ec.BaseURL(), s.cfg.HTTPClient)
	it := newHealthIter(ec, s.cfg.Controller, h, client, s.cfg.LogTail)
	for {
		t := it.Next(ctx)
		switch t.Probe {
		case Starting:
			s.log.Debug().Str("model", ec.ModelID).Int("attempt", t.Attempt).Msg("health_wait")
			continue
		case Healthy:
			s.mu.Lock()
			s.handle, s.running, s.client = h, ec, client
			s.mu.Unlock()
			metrics.EngineStarts.WithLabelValues("ok").Inc()
			metrics.EngineStartupSeconds.Observe(time.Since(began).Seconds())
			s.log.Info().Str("model", ec.ModelID).Int("pid", h.PID()).Str("url", ec.BaseURL()).Int("polls", t.Attempt).Msg("spawn_ready")
			s.pub.Publish(events.New(events.SpawnReady, ec.ModelID, events.SpawnPayload{PID: h.PID(), Port: ec.Port, URL: ec.BaseURL()}))
			if s.cfg.Invalidator != nil {
				s.cfg.Invalidator.Invalidate()
			}
			return nil
		}

		// Failed: a live process that never became healthy is stopped.
		alive := s.cfg.Controller.IsAlive(h)
		if alive {
			_ = s.cfg.Controller.Stop(h)
		}
		code := errs.CodeOf(t.Err)
		if code == "" {
			code = "canceled"
		}
		metrics.EngineStarts.WithLabelValues(string(code)).Inc()
		name := events.SpawnExit
		if code == errs.StartupTimeout {
			name = events.SpawnTimeout
		}
		s.log.Error().Err(t.Err).Str("model", ec.ModelID).Int("pid", h.PID()).Int("polls", t.Attempt).Bool("was_alive", alive).Msg(name)
		s.pub.Publish(events.New(name, ec.ModelID, events.SpawnPayload{PID: h.PID(), Port: ec.Port, Reason: string(code), Error: t.Err.Error()}))
		return t.Err
	}
}

// Stop terminates the running engine, if any.
func (s *Supervisor) Stop() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	s.stopLocked("stop")
	return nil
}

func (s *Supervisor) stopLocked(reason string) {
	s.mu.Lock()
	h, ec := s.handle, s.running
	s.handle, s.running, s.client = nil, EngineConfig{}, nil
	s.mu.Unlock()
	if h == nil {
		return
	}
	_ = s.cfg.Controller.Stop(h)
	s.log.Info().Str("model", ec.ModelID).Int("pid", h.PID()).Str("reason", reason).Msg("spawn_stop")
	s.pub.Publish(events.New(events.SpawnStop, ec.ModelID, events.SpawnPayload{PID: h.PID(), Reason: reason}))
}

// Running reports whether an engine process is alive.
func (s *Supervisor) Running() bool {
	s.mu.RLock()
	h := s.handle
	s.mu.RUnlock()
	return h != nil && s.cfg.Controller.IsAlive(h)
}

// ModelID returns the model served by the running engine, or "".
func (s *Supervisor) ModelID() string {
	if !s.Running() {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running.ModelID
}

// Config returns the configuration of the running engine.
func (s *Supervisor) Config() (EngineConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running, s.handle != nil
}

// Client returns a client for the running engine.
func (s *Supervisor) Client() (*Client, bool) {
	if !s.Running() {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.client != nil
}

// RecentLogs returns the newest n lines of engine output.
func (s *Supervisor) RecentLogs(n int) []LogLine {
	s.mu.RLock()
	h := s.handle
	s.mu.RUnlock()
	if h == nil {
		return nil
	}
	return s.cfg.Controller.RecentLogs(h, n)
}

// ProbeModalities asks the running engine which input modalities it has
// loaded.
func (s *Supervisor) ProbeModalities(ctx context.Context) (types.RuntimeModalities, error) {
	c, ok := s.Client()
	if !ok {
		return types.RuntimeModalities{}, errs.New(errs.EngineUnavailable, "engine is not running")
	}
	s.mu.RLock()
	modelID := s.running.ModelID
	s.mu.RUnlock()
	models, err := c.Models(ctx)
	if err != nil {
		return types.RuntimeModalities{}, errs.Wrap(err, errs.EngineUnavailable, "probe modalities")
	}
	rm := types.RuntimeModalities{ModelID: modelID}
	for _, m := range models {
		rm.Vision = rm.Vision || m.Vision
		rm.Audio = rm.Audio || m.Audio
	}
	return rm, nil
}

// Complete forwards an inference request to the running engine.
func (s *Supervisor) Complete(ctx context.Context, r CompletionRequest) (CompletionResult, error) {
	c, ok := s.Client()
	if !ok {
		return CompletionResult{}, errs.New(errs.EngineUnavailable, "engine is not running")
	}
	return c.Complete(ctx, r)
}

// IsModelFileMissing reports whether err means the model is not on disk.
func IsModelFileMissing(err error) bool { return errs.Is(err, errs.ModelFileMissing) }

// IsStartupTimeout reports whether the engine never became healthy.
func IsStartupTimeout(err error) bool { return errs.Is(err, errs.StartupTimeout) }
