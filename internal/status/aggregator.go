// Package status rolls orchestrator, download and hardware state into one
// immutable snapshot on a fixed interval, independent of the request path.
package status

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"modelhost/internal/events"
	"modelhost/internal/hardware"
	"modelhost/pkg/types"
)

const (
	defaultInterval    = 2 * time.Second
	defaultReadTimeout = 5 * time.Second
	// StatusUnavailable is the display status of a snapshot whose reads failed.
	StatusUnavailable = "unavailable"
)

// Orchestrator supplies the service part of the snapshot.
type Orchestrator interface {
	Status() types.StatusResponse
}

// Downloads lists in-flight download tasks.
type Downloads interface {
	Active() []types.DownloadStatus
}

// Config wires the aggregator's read sources. Downloads and Hardware are
// optional.
type Config struct {
	Orchestrator Orchestrator
	Downloads    Downloads
	Hardware     hardware.Prober
	Interval     time.Duration
	ReadTimeout  time.Duration
	Publisher    events.Publisher
	Logger       zerolog.Logger
}

// Aggregator polls its sources and republishes a snapshot. It never
// mutates any source.
type Aggregator struct {
	cfg    Config
	log    zerolog.Logger
	pub    events.Publisher
	latest atomic.Pointer[types.StatusResponse]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	a := &Aggregator{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "status").Logger(),
		pub: events.OrNoop(cfg.Publisher),
	}
	first := Unavailable(fmt.Errorf("status not collected yet"))
	a.latest.Store(&first)
	return a
}

// Latest returns the most recent snapshot. Before the first poll it is an
// unavailable snapshot.
func (a *Aggregator) Latest() types.StatusResponse {
	return *a.latest.Load()
}

// Start runs one poll synchronously and then polls every Interval until
// Stop or ctx cancellation. Calling Start twice is a no-op.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()

	a.Refresh(ctx)
	go func() {
		defer close(done)
		t := time.NewTicker(a.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				a.Refresh(ctx)
			}
		}
	}()
	a.log.Debug().Dur("interval", a.cfg.Interval).Msg("status_start")
}

// Stop ends polling and waits for the loop to exit.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	a.log.Debug().Msg("status_stop")
}

// Refresh collects a snapshot now, stores it and publishes it.
func (a *Aggregator) Refresh(ctx context.Context) types.StatusResponse {
	snap, err := a.collect(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("status_unavailable")
		snap = Unavailable(err)
	}
	a.latest.Store(&snap)
	a.pub.Publish(events.New(events.StatusSnapshot, "", snap))
	return snap
}

func (a *Aggregator) collect(ctx context.Context) (types.StatusResponse, error) {
	if a.cfg.Orchestrator == nil {
		return types.StatusResponse{}, fmt.Errorf("no orchestrator configured")
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ReadTimeout)
	defer cancel()

	var (
		svc   types.StatusResponse
		downs []types.DownloadStatus
		hw    *types.HardwareSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return guard("orchestrator", func() error {
			svc = a.cfg.Orchestrator.Status()
			return nil
		})
	})
	if a.cfg.Downloads != nil {
		g.Go(func() error {
			return guard("downloads", func() error {
				downs = a.cfg.Downloads.Active()
				return nil
			})
		})
	}
	if a.cfg.Hardware != nil {
		g.Go(func() error {
			return guard("hardware", func() error {
				info, err := a.cfg.Hardware.Probe(gctx)
				if err != nil {
					return fmt.Errorf("hardware: %w", err)
				}
				hw = info.Summary()
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return types.StatusResponse{}, err
	}
	svc.Downloads = downs
	svc.Hardware = hw
	if svc.UpdatedAt == 0 {
		svc.UpdatedAt = time.Now().Unix()
	}
	return svc, nil
}

// guard turns a panicking read into an error.
func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	return fn()
}

// Unavailable is the explicit snapshot served when a read fails.
func Unavailable(err error) types.StatusResponse {
	s := types.StatusResponse{
		Available: false,
		State:     "unknown",
		Status:    StatusUnavailable,
		UpdatedAt: time.Now().Unix(),
	}
	if err != nil {
		s.LastError = err.Error()
	}
	return s
}
