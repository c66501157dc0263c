package host

import (
	"context"
	"log/slog"
	"time"
)

// Runner drives the manager's tick loop at a fixed period. One runner per
// manager; it is the single goroutine issuing Process calls, which keeps
// the per-instance serialization contract trivially satisfied.
type Runner struct {
	mgr    *Manager
	period time.Duration
	log    *slog.Logger
	tick   uint64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger injects a logger; slog.Default() otherwise.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// NewRunner creates a runner ticking every period.
func NewRunner(mgr *Manager, period time.Duration, opts ...RunnerOption) *Runner {
	if period <= 0 {
		period = 20 * time.Millisecond
	}
	r := &Runner{mgr: mgr, period: period, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Period returns the tick period.
func (r *Runner) Period() time.Duration { return r.period }

// Tick returns the number of ticks issued so far.
func (r *Runner) Tick() uint64 { return r.tick }

// Step issues a single tick synchronously.
func (r *Runner) Step() {
	r.mgr.ProcessAll(r.tick, r.period.Seconds())
	r.tick++
}

// Run ticks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("runner started", "period", r.period.String())
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("runner stopped", "ticks", r.tick)
			return ctx.Err()
		case <-ticker.C:
			r.Step()
		}
	}
}
