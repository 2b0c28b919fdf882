// Package scheduler implements the kernel's backpressure-aware,
// per-tier priority scheduler: a bounded channel per tier with a fixed
// goroutine pool, and a non-blocking submit/drop backpressure contract.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

// drainPollInterval is how often Shutdown checks whether every queue has
// emptied while waiting for its grace period to elapse.
const drainPollInterval = 10 * time.Millisecond

// QueueCap is the default per-tier queue capacity: F(12) = 144.
const QueueCap = 144

// WorkerCounts are the default worker-pool sizes per tier: F(5), F(4),
// F(3), 1.
var WorkerCounts = map[kernel.Tier]int{
	kernel.TierReflex: 5,
	kernel.TierMicro:  3,
	kernel.TierMacro:  2,
	kernel.TierMeta:   1,
}

// tierPriority ranks tiers for the "yield to higher-priority tiers"
// requirement: REFLEX drains ahead of MICRO, MICRO ahead of MACRO, etc.
var tierPriority = map[kernel.Tier]int{
	kernel.TierReflex: 0,
	kernel.TierMicro:  1,
	kernel.TierMacro:  2,
	kernel.TierMeta:   3,
}

// Job is one scheduled unit of work: a Cell plus the tier it was
// admitted at.
type Job struct {
	Cell kernel.Cell
	Tier kernel.Tier
}

// Handler processes one Job. Returning an error does not stop the
// scheduler; it is the caller's responsibility to log/count it.
type Handler func(context.Context, Job) error

// Scheduler runs one bounded queue and worker pool per tier.
type Scheduler struct {
	queues      map[kernel.Tier]chan Job
	caps        map[kernel.Tier]int
	workerCount map[kernel.Tier]int
	handler     Handler

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	accepting atomic.Bool
}

// New constructs a Scheduler. queueCap of 0 selects QueueCap; workerCounts
// of nil selects WorkerCounts.
func New(handler Handler, queueCap int, workerCounts map[kernel.Tier]int) *Scheduler {
	if queueCap <= 0 {
		queueCap = QueueCap
	}
	if workerCounts == nil {
		workerCounts = WorkerCounts
	}
	s := &Scheduler{
		queues:      make(map[kernel.Tier]chan Job),
		caps:        make(map[kernel.Tier]int),
		workerCount: workerCounts,
		handler:     handler,
	}
	for _, t := range []kernel.Tier{kernel.TierReflex, kernel.TierMicro, kernel.TierMacro, kernel.TierMeta} {
		s.queues[t] = make(chan Job, queueCap)
		s.caps[t] = queueCap
	}
	s.accepting.Store(true)
	return s
}

// Submit enqueues a Job at its tier, returning false without blocking if
// that tier's queue is at capacity (backpressure, invariant 8) or the
// scheduler has started shutting down.
func (s *Scheduler) Submit(cell kernel.Cell, tier kernel.Tier) bool {
	if !s.accepting.Load() {
		return false
	}
	select {
	case s.queues[tier] <- Job{Cell: cell, Tier: tier}:
		return true
	default:
		return false
	}
}

// Depth returns the current number of queued jobs for tier.
func (s *Scheduler) Depth(tier kernel.Tier) int {
	return len(s.queues[tier])
}

// Start launches each tier's worker pool. Before each receive from its
// own queue, a worker makes one non-blocking pass over the queues of
// higher-priority (lower tierPriority) tiers, in map iteration order, and
// runs the first job it finds there. A worker blocked on its own empty
// queue does not wake for work arriving at a higher-priority tier.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ordered := []kernel.Tier{kernel.TierReflex, kernel.TierMicro, kernel.TierMacro, kernel.TierMeta}
	for _, t := range ordered {
		n := s.workerCount[t]
		for i := 0; i < n; i++ {
			s.wg.Add(1)
			go s.worker(ctx, t)
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, tier kernel.Tier) {
	defer s.wg.Done()
	for {
		// Yield to any higher-priority tier with pending work before
		// taking from this worker's own queue.
		if job, ok := s.tryHigherPriority(tier); ok {
			_ = s.handler(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case job := <-s.queues[tier]:
			_ = s.handler(ctx, job)
		}
	}
}

func (s *Scheduler) tryHigherPriority(below kernel.Tier) (Job, bool) {
	for t, q := range s.queues {
		if tierPriority[t] >= tierPriority[below] {
			continue
		}
		select {
		case job := <-q:
			return job, true
		default:
		}
	}
	return Job{}, false
}

// Shutdown stops accepting new submissions immediately, then lets the
// running worker pools keep draining every already-queued job until
// either every tier's queue empties or ctx is done, whichever comes
// first. Only then are worker contexts cancelled; any job still queued
// at that point is dropped.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.accepting.Store(false)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for !s.allQueuesEmpty() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(drainPollInterval):
			}
		}
	}()

	select {
	case <-drained:
	case <-ctx.Done():
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) allQueuesEmpty() bool {
	for _, q := range s.queues {
		if len(q) > 0 {
			return false
		}
	}
	return true
}
