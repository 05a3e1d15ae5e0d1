package engine

import (
	"context"
	"time"

	"modelhost/internal/errs"
)

// Probe is the tri-state result of one health tick.
type Probe int

const (
	Starting Probe = iota
	Healthy
	Failed
)

func (p Probe) String() string {
	switch p {
	case Healthy:
		return "healthy"
	case Failed:
		return "failed"
	}
	return "starting"
}

// Tick is one step of the health iterator.
type Tick struct {
	Probe   Probe
	Attempt int
	// Err carries the diagnosis when Probe is Failed.
	Err error
}

// healthIter polls a freshly spawned process. Each Next performs at most one
// liveness check and one health request; the budget is Retries() polls.
type healthIter struct {
	ctrl     ProcessController
	handle   Handle
	client   *Client
	interval time.Duration
	retries  int
	tail     int
	attempt  int
	sleep    func(context.Context, time.Duration) error
}

func newHealthIter(cfg EngineConfig, ctrl ProcessController, h Handle, c *Client, tail int) *healthIter {
	return &healthIter{
		ctrl:     ctrl,
		handle:   h,
		client:   c,
		interval: cfg.HealthInterval,
		retries:  cfg.Retries(),
		tail:     tail,
		sleep:    sleepCtx,
	}
}

// Next advances the iterator. It returns Starting while budget remains.
func (it *healthIter) Next(ctx context.Context) Tick {
	if it.attempt > 0 {
		if err := it.sleep(ctx, it.interval); err != nil {
			return Tick{Probe: Failed, Attempt: it.attempt, Err: err}
		}
	}
	it.attempt++
	if !it.ctrl.IsAlive(it.handle) {
		return Tick{Probe: Failed, Attempt: it.attempt, Err: Diagnose(it.ctrl.RecentLogs(it.handle, it.tail))}
	}
	hctx, cancel := context.WithTimeout(ctx, requestBudget(it.interval))
	hs, err := it.client.Health(hctx)
	cancel()
	if err == nil && hs.Healthy {
		return Tick{Probe: Healthy, Attempt: it.attempt}
	}
	if ctx.Err() != nil {
		return Tick{Probe: Failed, Attempt: it.attempt, Err: ctx.Err()}
	}
	if it.attempt >= it.retries {
		// The process may have died while we waited on the request.
		if !it.ctrl.IsAlive(it.handle) {
			return Tick{Probe: Failed, Attempt: it.attempt, Err: Diagnose(it.ctrl.RecentLogs(it.handle, it.tail))}
		}
		return Tick{Probe: Failed, Attempt: it.attempt, Err: errs.New(errs.StartupTimeout, "engine not healthy after %d polls", it.attempt)}
	}
	return Tick{Probe: Starting, Attempt: it.attempt}
}

// requestBudget bounds a single health request.
func requestBudget(interval time.Duration) time.Duration {
	d := interval
	if d < 250*time.Millisecond {
		d = 250 * time.Millisecond
	}
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
