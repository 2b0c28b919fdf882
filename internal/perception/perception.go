// Package perception implements the kernel's autonomous sensory workers:
// ticker-driven background goroutines that observe their domain on a
// fixed Fibonacci-derived cadence and submit a Cell to the scheduler
// when something is worth judging.
package perception

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

// Worker senses its domain and, when something is worth judging,
// returns a Cell. A nil Cell means nothing new to report.
type Worker interface {
	Name() string
	Interval() time.Duration
	TargetTier() kernel.Tier
	Sense(ctx context.Context) (*kernel.Cell, error)
}

// Submitter accepts a perceived Cell for scheduling, mirroring
// internal/scheduler.Scheduler.Submit's signature.
type Submitter func(cell kernel.Cell, tier kernel.Tier) bool

// Runner drives a set of Workers, each on its own goroutine, submitting
// perceived Cells to a Submitter until Stop is called.
type Runner struct {
	workers []Worker
	submit  Submitter
	logger  *slog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner constructs a Runner over workers. logger defaults to
// slog.Default() when nil.
func NewRunner(workers []Worker, submit Submitter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{workers: workers, submit: submit, logger: logger}
}

// Start launches one goroutine per worker. Each goroutine senses
// immediately, then on every Interval tick, until ctx is cancelled or
// Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for _, w := range r.workers {
		r.wg.Add(1)
		go r.run(ctx, w)
	}
}

func (r *Runner) run(ctx context.Context, w Worker) {
	defer r.wg.Done()
	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	r.tick(ctx, w)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, w)
		}
	}
}

func (r *Runner) tick(ctx context.Context, w Worker) {
	cell, err := w.Sense(ctx)
	if err != nil {
		r.logger.Warn("perception: sense failed", "worker", w.Name(), "error", err)
		return
	}
	if cell == nil {
		return
	}
	if !r.submit(*cell, w.TargetTier()) {
		r.logger.Debug("perception: queue full, cell dropped", "worker", w.Name())
	}
}

// Stop cancels every worker goroutine and waits for them to exit.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
