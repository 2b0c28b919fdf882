// Package breaker implements the circuit breaker pattern guarding the
// kernel's judgment pipeline entry points: a CLOSED/OPEN/HALF_OPEN state
// machine with a generation counter and Counts bookkeeping, one breaker
// per tier.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

// State is one of CLOSED, OPEN, HALF_OPEN.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Allow/Execute when the breaker is OPEN.
var ErrOpen = errors.New("breaker: circuit is open")

// ErrTooManyRequests is returned when a HALF_OPEN breaker's probe budget
// is exhausted.
var ErrTooManyRequests = errors.New("breaker: too many requests in half-open state")

// Counts holds request/response counters for the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses        uint32
	TotalFailures         uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// FailureRatio returns TotalFailures/Requests, or 0 if no requests yet.
func (c Counts) FailureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.TotalFailures) / float64(c.Requests)
}

func (c *Counts) clear() {
	*c = Counts{}
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Config configures one Breaker.
type Config struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	ReadyToTrip   func(Counts) bool
	OnStateChange func(name string, from, to State)
}

// DefaultConfig trips after 5+ requests with >50% failure rate, probes
// with 3 half-open requests, and resets the closed-state window every
// minute.
func DefaultConfig(name string, logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}
	return Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c Counts) bool {
			return c.Requests >= 5 && c.FailureRatio() > 0.5
		},
		OnStateChange: func(name string, from, to State) {
			logger.Info("breaker: state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
}

// Breaker is one named circuit breaker instance.
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	generation    uint64
	counts        Counts
	expiry        time.Time
	lastStateTime time.Time
}

// New constructs a Breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: StateClosed, lastStateTime: time.Now()}
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// State returns the current (possibly lazily-transitioned) state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

// Counts returns a copy of the current generation's counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Allow reports whether a request may proceed without executing anything.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	if state == StateOpen {
		return ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxRequests {
		return ErrTooManyRequests
	}
	return nil
}

// ExecuteContext runs req if the breaker allows it, recording the
// outcome. A panic inside req is recorded as a failure and re-panicked.
func (b *Breaker) ExecuteContext(ctx context.Context, req func(context.Context) error) error {
	generation, err := b.beforeRequest()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			b.afterRequest(generation, false)
			panic(r)
		}
	}()
	err = req(ctx)
	b.afterRequest(generation, err == nil)
	return err
}

func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	state, generation := b.currentState(now)
	if state == StateOpen {
		return generation, ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxRequests {
		return generation, ErrTooManyRequests
	}
	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) afterRequest(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	state, current := b.currentState(now)
	if generation != current {
		return
	}
	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.onSuccess()
	case StateHalfOpen:
		b.counts.onSuccess()
		if b.counts.ConsecutiveSuccesses >= b.cfg.MaxRequests {
			b.setState(StateClosed, now)
		}
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.onFailure()
		if b.cfg.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.toNewGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.lastStateTime = now
	b.toNewGeneration(now)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, prev, state)
	}
}

func (b *Breaker) toNewGeneration(now time.Time) {
	b.generation++
	b.counts.clear()

	var zero time.Time
	switch b.state {
	case StateClosed:
		if b.cfg.Interval == 0 {
			b.expiry = zero
		} else {
			b.expiry = now.Add(b.cfg.Interval)
		}
	case StateOpen:
		b.expiry = now.Add(b.cfg.Timeout)
	default:
		b.expiry = zero
	}
}

// Manager holds multiple named Breakers, a per-component breaker
// registry.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   *slog.Logger
}

// NewManager constructs an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{breakers: make(map[string]*Breaker), logger: logger}
}

// GetOrCreate returns the named Breaker, creating it with DefaultConfig
// on first access.
func (m *Manager) GetOrCreate(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b = New(DefaultConfig(name, m.logger))
	m.breakers[name] = b
	return b
}

// KernelBreakers holds the kernel's pre-named breakers, one per tier
// pipeline entry point, named after the subsystem each guards.
type KernelBreakers struct {
	Reflex *Breaker
	Micro  *Breaker
	Macro  *Breaker
	Meta   *Breaker
}

// tierTrip describes one tier's trip policy: a Fibonacci-sized requests
// floor (how much traffic a breaker waits for before judging it) and a
// φ-bound failure-ratio threshold. Cheap, high-volume tiers (REFLEX)
// wait for a bigger sample and tolerate a higher failure ratio before
// tripping, since a retry costs almost nothing; expensive tiers (META)
// trip on a thinner, stricter sample to protect the session budget.
type tierTrip struct {
	requestsFloor int
	failureRatio  float64
}

var tierTripPolicy = map[string]tierTrip{
	"reflex": {requestsFloor: kernel.Fibonacci(8), failureRatio: kernel.PhiInv},    // 21 reqs, >61.8%
	"micro":  {requestsFloor: kernel.Fibonacci(6), failureRatio: 0.5},              // 8 reqs, >50%
	"macro":  {requestsFloor: kernel.Fibonacci(5), failureRatio: 0.5},              // 5 reqs, >50%
	"meta":   {requestsFloor: kernel.Fibonacci(4), failureRatio: kernel.PhiInvSq},  // 3 reqs, >38.2%
}

func readyToTrip(policy tierTrip, scale float64) func(Counts) bool {
	floor := int(float64(policy.requestsFloor) * scale)
	if floor < 1 {
		floor = 1
	}
	return func(c Counts) bool {
		return int(c.Requests) >= floor && c.FailureRatio() > policy.failureRatio
	}
}

// NewKernelBreakers constructs the four tier breakers. failThreshold and
// resetSeconds come from config.BreakerConfig: failThreshold scales the
// Fibonacci requests floor relative to its default of 5 (kernel.Fibonacci(5)),
// and resetSeconds scales each tier's open-state timeout relative to its
// default of 30s, preserving the reflex < micro < macro < meta spacing.
func NewKernelBreakers(logger *slog.Logger, failThreshold, resetSeconds int) *KernelBreakers {
	if failThreshold <= 0 {
		failThreshold = 5
	}
	if resetSeconds <= 0 {
		resetSeconds = 30
	}
	scale := float64(failThreshold) / float64(kernel.Fibonacci(5))
	resetScale := float64(resetSeconds) / 30.0

	reflexCfg := DefaultConfig("reflex", logger)
	reflexCfg.Timeout = time.Duration(float64(5*time.Second) * resetScale)
	reflexCfg.ReadyToTrip = readyToTrip(tierTripPolicy["reflex"], scale)

	microCfg := DefaultConfig("micro", logger)
	microCfg.Timeout = time.Duration(float64(15*time.Second) * resetScale)
	microCfg.ReadyToTrip = readyToTrip(tierTripPolicy["micro"], scale)

	macroCfg := DefaultConfig("macro", logger)
	macroCfg.Timeout = time.Duration(float64(30*time.Second) * resetScale)
	macroCfg.ReadyToTrip = readyToTrip(tierTripPolicy["macro"], scale)

	metaCfg := DefaultConfig("meta", logger)
	metaCfg.Timeout = time.Duration(float64(60*time.Second) * resetScale)
	metaCfg.ReadyToTrip = readyToTrip(tierTripPolicy["meta"], scale)

	return &KernelBreakers{
		Reflex: New(reflexCfg),
		Micro:  New(microCfg),
		Macro:  New(macroCfg),
		Meta:   New(metaCfg),
	}
}
