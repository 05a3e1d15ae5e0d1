// Package app constructs the lifecycle components once at process start and
// passes them to each other explicitly. The resulting App is the service
// behind the control API and the CLI.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"modelhost/internal/assets"
	"modelhost/internal/capability"
	"modelhost/internal/catalog"
	"modelhost/internal/config"
	"modelhost/internal/download"
	"modelhost/internal/engine"
	"modelhost/internal/events"
	"modelhost/internal/hardware"
	"modelhost/internal/manager"
	"modelhost/internal/status"
	"modelhost/pkg/types"
)

// Options configure New. Config should already carry defaults; Settings
// defaults to an in-memory source over Config.
type Options struct {
	Config   config.Config
	Settings config.Source
	Logger   zerolog.Logger

	// Seams for tests. Nil means the real implementation.
	Controller engine.ProcessController
	Fetcher    download.Fetcher
	Hardware   hardware.Prober
}

// App holds one instance of every lifecycle component.
type App struct {
	cfg      config.Config
	settings config.Source
	log      zerolog.Logger

	Bus        *events.Bus
	Catalog    *catalog.Catalog
	Store      *assets.Store
	Downloader *download.Manager
	Engine     *engine.Supervisor
	Detector   *capability.Detector
	Manager    *manager.Manager
	Aggregator *status.Aggregator

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// proberFunc adapts a func to capability.RuntimeProber.
type proberFunc func(ctx context.Context) (types.RuntimeModalities, error)

func (f proberFunc) ProbeModalities(ctx context.Context) (types.RuntimeModalities, error) {
	return f(ctx)
}

// New builds the component graph. Nothing is started.
func New(o Options) (*App, error) {
	cfg := o.Config.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	settings := o.Settings
	if settings == nil {
		settings = config.NewMemory(cfg)
	}
	log := o.Logger

	cat, err := catalog.LoadFile(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	store, err := assets.New(cfg.ModelsDir)
	if err != nil {
		return nil, err
	}
	bus := events.NewBus()

	var sup *engine.Supervisor
	det, err := capability.New(capability.Config{
		Catalog: cat,
		Prober: proberFunc(func(ctx context.Context) (types.RuntimeModalities, error) {
			return sup.ProbeModalities(ctx)
		}),
		Logger: log,
	})
	if err != nil {
		return nil, err
	}
	sup = engine.New(engine.Config{
		Catalog:        cat,
		Store:          store,
		Controller:     o.Controller,
		Invalidator:    det,
		Publisher:      bus,
		Logger:         log,
		Binary:         cfg.EngineBin,
		Host:           cfg.EngineHost,
		Port:           cfg.EnginePort,
		ContextSize:    cfg.ContextSize,
		BatchSize:      cfg.BatchSize,
		GPULayers:      cfg.GPULayers,
		ExtraArgs:      cfg.EngineExtraArgs,
		StartupTimeout: cfg.StartupTimeout.Duration,
		HealthInterval: cfg.HealthInterval.Duration,
		RequestTimeout: cfg.RequestTimeout.Duration,
	})
	dm := download.New(download.Config{
		Catalog:   cat,
		Store:     store,
		Fetcher:   o.Fetcher,
		Publisher: bus,
		Logger:    log,
	})
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Catalog:      cat,
		Assets:       store,
		Engine:       sup,
		Capabilities: det,
		Settings:     settings,
		Publisher:    bus,
		Logger:       log,
		EngineBin:    cfg.EngineBin,
		ModelsDir:    store.Dir(),
	})
	hw := o.Hardware
	if hw == nil {
		hw = hardware.System{}
	}
	agg := status.New(status.Config{
		Orchestrator: mgr,
		Downloads:    dm,
		Hardware:     hw,
		Interval:     cfg.StatusInterval.Duration,
		Publisher:    bus,
		Logger:       log,
	})

	return &App{
		cfg:        cfg,
		settings:   settings,
		log:        log.With().Str("component", "app").Logger(),
		Bus:        bus,
		Catalog:    cat,
		Store:      store,
		Downloader: dm,
		Engine:     sup,
		Detector:   det,
		Manager:    mgr,
		Aggregator: agg,
	}, nil
}

// Config returns the effective configuration.
func (a *App) Config() config.Config { return a.cfg }

// Start begins status polling and reinitializes the orchestrator when a
// download for the selected model completes. It does not call EnsureReady.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	a.Aggregator.Start(ctx)
	ch, unsubscribe := a.Bus.Subscribe(16, events.DownloadComplete)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-ch:
				a.onDownloadComplete(ctx, e.ModelID)
			}
		}
	}()
}

func (a *App) onDownloadComplete(ctx context.Context, modelID string) {
	sel := a.settings.SelectedModel()
	snap := a.Manager.Snapshot()
	if sel != "" && sel != modelID {
		return
	}
	if sel == "" && snap.Status != manager.StatusNotDownloaded {
		return
	}
	a.log.Info().Str("model", modelID).Msg("download_reinitialize")
	if err := a.Manager.Reinitialize(ctx); err != nil {
		a.log.Warn().Err(err).Str("model", modelID).Msg("download_reinitialize_failed")
	}
}

// Close stops polling, cancels downloads and stops the engine.
func (a *App) Close() error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.Aggregator.Stop()
	a.wg.Wait()
	a.Downloader.Close()
	return a.Manager.Close()
}
