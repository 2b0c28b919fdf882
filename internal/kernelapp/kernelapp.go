// Package kernelapp is the kernel's composition root: it constructs
// every subsystem, wires their explicit references (no singletons, no
// package-level state), and exposes the lifecycle and dispatch surface
// cmd/kerneld drives. Wiring is sequential and fallback-on-error: each
// collab dependency degrades to an in-memory fake rather than failing
// construction when its backend is unavailable.
package kernelapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cynic-kernel/kernel/internal/action"
	"github.com/cynic-kernel/kernel/internal/breaker"
	"github.com/cynic-kernel/kernel/internal/bus"
	"github.com/cynic-kernel/kernel/internal/collab"
	"github.com/cynic-kernel/kernel/internal/config"
	"github.com/cynic-kernel/kernel/internal/guardrail"
	"github.com/cynic-kernel/kernel/internal/introspect"
	"github.com/cynic-kernel/kernel/internal/kernel"
	"github.com/cynic-kernel/kernel/internal/learning"
	"github.com/cynic-kernel/kernel/internal/lod"
	"github.com/cynic-kernel/kernel/internal/orchestrator"
	"github.com/cynic-kernel/kernel/internal/panel"
	"github.com/cynic-kernel/kernel/internal/perception"
	"github.com/cynic-kernel/kernel/internal/residual"
	"github.com/cynic-kernel/kernel/internal/scheduler"
)

// ErrActionNotFound is returned by Dispatch when actionID names no
// proposed action the Proposer has ever seen.
var ErrActionNotFound = action.ErrNotFound

// options collects the functional options applied before New finishes
// wiring. Absent an explicit With*, every collab dependency defaults to
// the in-memory fakes in internal/collab/fakes.go.
type options struct {
	storage    collab.Storage
	llmReg     collab.LLMRegistry
	runner     collab.Runner
	embedder   collab.EmbeddingProvider
	verifier   guardrail.CallerVerifier
	approver   guardrail.Approver
	logger     *slog.Logger
	probeCells []orchestrator.ProbeCell
}

// Option configures New.
type Option func(*options)

// WithStorage overrides the default InMemoryStorage with a durable
// collab.Storage backend (e.g. collab.SupabaseStorage).
func WithStorage(s collab.Storage) Option { return func(o *options) { o.storage = s } }

// WithLLMRegistry overrides the default no-op registry with a live
// collab.LLMRegistry (e.g. collab.GRPCLLMRegistry).
func WithLLMRegistry(r collab.LLMRegistry) Option { return func(o *options) { o.llmReg = r } }

// WithRunner overrides the default no-op Runner with a live one (e.g.
// collab.DockerRunner or collab.CloudTasksDispatcher's fallback chain).
func WithRunner(r collab.Runner) Option { return func(o *options) { o.runner = r } }

// WithEmbeddingProvider overrides the default no-op embedder.
func WithEmbeddingProvider(e collab.EmbeddingProvider) Option {
	return func(o *options) { o.embedder = e }
}

// WithCallerVerifier wires SPIFFE identity verification into
// PowerLimiter; nil (the default) disables the SVID check entirely.
func WithCallerVerifier(v guardrail.CallerVerifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithApprover overrides the default AlwaysApprove human gate.
func WithApprover(a guardrail.Approver) Option { return func(o *options) { o.approver = a } }

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithProbeCells seeds the orchestrator's META self-probe set.
func WithProbeCells(probes []orchestrator.ProbeCell) Option {
	return func(o *options) { o.probeCells = probes }
}

// Kernel is the fully wired multi-tier judgment system: every component
// built in the prior packages, composed into one running process.
type Kernel struct {
	cfg *config.Config
	log *slog.Logger

	Bus          *bus.Bus
	QTable       *learning.QTable
	LearningLoop *learning.Loop
	Panel        *panel.Panel
	LOD          *lod.Controller
	Breakers     *breaker.KernelBreakers
	Scheduler    *scheduler.Scheduler
	Orchestrator *orchestrator.Orchestrator
	Guardrails   *guardrail.Chain
	Actions      *action.Proposer
	Residuals    *residual.Detector
	Perception   *perception.Runner
	Metrics      *introspect.Metrics
	Introspect   *introspect.Server

	Storage  collab.Storage
	LLMs     collab.LLMRegistry
	Runner   collab.Runner
	Embedder collab.EmbeddingProvider

	mu          sync.Mutex
	judgments   map[string]kernel.Judgment // recent cache, keyed by judgment_id, for Dispatch
	budgetSpent float64
	sessionUSD  float64
}

// New constructs a Kernel from cfg and opts, wiring every subsystem's
// explicit references. Components that self-subscribe at construction
// (action.Proposer, residual.Detector, learning.Loop) are built in an
// order that guarantees the Bus exists first.
func New(cfg *config.Config, opts ...Option) *Kernel {
	if cfg == nil {
		cfg = &config.Config{}
		cfg = defaultedConfig(cfg)
	}

	o := &options{}
	for _, apply := range opts {
		apply(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.storage == nil {
		o.storage = collab.NewInMemoryStorage()
	}
	if o.llmReg == nil {
		o.llmReg = collab.NoopLLMRegistry{}
	}
	if o.runner == nil {
		o.runner = collab.NoopRunner{}
	}
	if o.embedder == nil {
		o.embedder = collab.NoopEmbeddingProvider{}
	}

	eventBus := bus.New(o.logger, 8)

	qtable := learning.New(eventBus, cfg.Learning.FlushBatch)
	learningLoop := learning.NewLoop(qtable, eventBus)

	scholar := panel.NewScholarJudge(qtable)
	judges := []panel.Judge{
		panel.NewHeuristicJudge(),
		panel.NewGuardianJudge(),
		scholar,
		panel.NewPredictorJudge(qtable),
	}
	if cfg.LLM.Enabled {
		judges = append(judges,
			panel.NewLLMJudge(o.llmReg, kernel.TierMacro),
			panel.NewLLMJudge(o.llmReg, kernel.TierMeta),
		)
	}
	p := panel.New(judges, time.Duration(cfg.Tiers.MacroTimeoutMs)*time.Millisecond).WithTierTimeouts(map[kernel.Tier]time.Duration{
		kernel.TierReflex: time.Duration(cfg.Tiers.ReflexTimeoutMs) * time.Millisecond,
		kernel.TierMicro:  time.Duration(cfg.Tiers.MicroTimeoutMs) * time.Millisecond,
		kernel.TierMacro:  time.Duration(cfg.Tiers.MacroTimeoutMs) * time.Millisecond,
		kernel.TierMeta:   time.Duration(cfg.Tiers.MetaTimeoutMs) * time.Millisecond,
	})

	lodCtrl := lod.New(eventBus, cfg.LOD.HysteresisTicks)
	breakers := breaker.NewKernelBreakers(o.logger, cfg.Breaker.FailThreshold, cfg.Breaker.ResetSeconds)

	orch := orchestrator.New(p, lodCtrl, breakers, eventBus, nil, o.logger, o.probeCells)

	sched := scheduler.New(
		func(ctx context.Context, job scheduler.Job) error {
			_, err := orch.Run(ctx, job.Cell, job.Tier, job.Cell.BudgetUSD, orchestrator.BudgetState{}, orchestrator.SignalInputs{})
			return err
		},
		cfg.Tiers.QueueCap,
		map[kernel.Tier]int{
			kernel.TierReflex: cfg.Tiers.ReflexWorkers,
			kernel.TierMicro:  cfg.Tiers.MicroWorkers,
			kernel.TierMacro:  cfg.Tiers.MacroWorkers,
			kernel.TierMeta:   cfg.Tiers.MetaWorkers,
		},
	)

	actions := action.New(eventBus)
	detector := residual.New(eventBus)

	power := guardrail.NewPowerLimiter(1).WithVerifier(o.verifier)
	chain := guardrail.NewChain(
		power,
		guardrail.NewAlignmentChecker(),
		guardrail.NewTransparencyAudit(),
		guardrail.NewHumanApprovalGate(o.approver, 2),
	)

	metrics := introspect.NewMetrics()

	k := &Kernel{
		cfg:          cfg,
		log:          o.logger,
		Bus:          eventBus,
		QTable:       qtable,
		LearningLoop: learningLoop,
		Panel:        p,
		LOD:          lodCtrl,
		Breakers:     breakers,
		Scheduler:    sched,
		Orchestrator: orch,
		Guardrails:   chain,
		Actions:      actions,
		Residuals:    detector,
		Metrics:      metrics,
		Storage:      o.storage,
		LLMs:         o.llmReg,
		Runner:       o.runner,
		Embedder:     o.embedder,
		judgments:    make(map[string]kernel.Judgment),
		sessionUSD:   cfg.Budget.SessionUSD,
	}

	k.Perception = perception.NewRunner(k.defaultWorkers(), k.submit, o.logger)
	k.Introspect = introspect.NewServer(":"+cfg.Introspect.Port, metrics, k.snapshot)

	k.subscribeTelemetry()
	k.subscribeJudgmentCache()
	k.subscribeLearnedOutcomes(scholar)

	return k
}

func defaultedConfig(cfg *config.Config) *config.Config {
	cfg.Tiers.ReflexWorkers = 5
	cfg.Tiers.MicroWorkers = 3
	cfg.Tiers.MacroWorkers = 2
	cfg.Tiers.MetaWorkers = 1
	cfg.Tiers.QueueCap = scheduler.QueueCap
	cfg.Tiers.ReflexTimeoutMs = 5000
	cfg.Tiers.MicroTimeoutMs = 15000
	cfg.Tiers.MacroTimeoutMs = 30000
	cfg.Tiers.MetaTimeoutMs = 60000
	cfg.Breaker.FailThreshold = 5
	cfg.Breaker.ResetSeconds = 30
	cfg.LOD.HysteresisTicks = 3
	cfg.Learning.FlushBatch = kernel.EWCConsolidationThreshold
	cfg.Budget.SessionUSD = 5.0
	cfg.Introspect.Port = "9090"
	return cfg
}

// defaultWorkers builds the default perception.Worker roster. The
// external-feed workers (market/solana/social) are not included.
func (k *Kernel) defaultWorkers() []perception.Worker {
	return []perception.Worker{
		perception.NewGitWatcher("."),
		perception.NewHealthWatcher(k.breakerSnapshot),
		perception.NewSelfWatcher(func() (int, int) { return k.QTable.Size(), 0 }),
		perception.NewDiskWatcher("."),
		perception.NewMemoryWatcher(),
	}
}

func (k *Kernel) submit(cell kernel.Cell, tier kernel.Tier) bool {
	tier = k.LOD.Cap(tier)
	return k.Scheduler.Submit(cell, tier)
}

func (k *Kernel) breakerSnapshot() map[kernel.Tier]string {
	return map[kernel.Tier]string{
		kernel.TierReflex: k.Breakers.Reflex.State().String(),
		kernel.TierMicro:  k.Breakers.Micro.State().String(),
		kernel.TierMacro:  k.Breakers.Macro.State().String(),
		kernel.TierMeta:   k.Breakers.Meta.State().String(),
	}
}

// subscribeTelemetry wires every bus event that must move a named
// Prometheus series into the introspect.Metrics.
func (k *Kernel) subscribeTelemetry() {
	k.Bus.Subscribe(bus.JudgmentCreated, func(e bus.Event) error {
		payload, ok := e.Payload.(bus.JudgmentCreatedPayload)
		if !ok {
			return nil
		}
		k.Metrics.RecordJudgment(payload.LevelUsed, payload.Verdict)
		k.Metrics.RecordConsensusVariance(payload.Reality, payload.ResidualVariance)
		return nil
	})
	k.Bus.Subscribe(bus.JudgmentFailed, func(e bus.Event) error {
		payload, ok := e.Payload.(bus.JudgmentFailedPayload)
		if !ok {
			return nil
		}
		k.Metrics.RecordError("pipeline", payload.CellID)
		return nil
	})
	k.Bus.Subscribe(bus.CostAccounted, func(e bus.Event) error {
		payload, ok := e.Payload.(bus.CostAccountedPayload)
		if !ok {
			return nil
		}
		k.mu.Lock()
		k.budgetSpent += payload.CostUSD
		spent := k.budgetSpent
		k.mu.Unlock()
		k.Metrics.SetBudgetSpent(spent)
		if spent >= k.sessionUSD {
			k.Bus.Publish(bus.Event{Type: bus.BudgetExhausted, Payload: bus.BudgetPayload{SpentUSD: spent, SessionUSD: k.sessionUSD}})
		} else if spent >= k.sessionUSD*kernel.PhiInv {
			k.Bus.Publish(bus.Event{Type: bus.BudgetWarning, Payload: bus.BudgetPayload{SpentUSD: spent, SessionUSD: k.sessionUSD}})
		}
		return nil
	})
	k.Bus.Subscribe(bus.ConsciousnessChanged, func(e bus.Event) error {
		payload, ok := e.Payload.(bus.ConsciousnessChangedPayload)
		if !ok {
			return nil
		}
		k.Metrics.SetLODLevel(int(k.LOD.Current()))
		k.log.Info("lod: level changed", "from", payload.From, "to", payload.To, "direction", payload.Direction)
		return nil
	})
}

// subscribeJudgmentCache keeps the last judgment for every judgment_id
// the orchestrator emits, so Dispatch can build a guardrail.Decision
// without re-running consensus, and persists every judgment to Storage.
func (k *Kernel) subscribeJudgmentCache() {
	k.Bus.Subscribe(bus.JudgmentCreated, func(e bus.Event) error {
		payload, ok := e.Payload.(bus.JudgmentCreatedPayload)
		if !ok {
			return nil
		}
		j := kernel.Judgment{
			JudgmentID:       payload.JudgmentID,
			CellID:           payload.CellID,
			StateKey:         payload.StateKey,
			Reality:          kernel.Reality(payload.Reality),
			QScore:           payload.QScore,
			Confidence:       payload.Confidence,
			Verdict:          kernel.Verdict(payload.Verdict),
			ResidualVariance: payload.ResidualVariance,
			DogVotes:         payload.DogVotes,
			LevelUsed:        kernel.Tier(payload.LevelUsed),
			CreatedAt:        time.Now(),
		}
		k.mu.Lock()
		k.judgments[j.JudgmentID] = j
		k.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := k.Storage.SaveJudgment(ctx, j); err != nil {
			k.log.Warn("kernelapp: failed to persist judgment", "judgment_id", j.JudgmentID, "error", err)
		}
		return nil
	})
}

// subscribeLearnedOutcomes feeds every completed judgment back into
// ScholarJudge's rolling similarity buffer.
func (k *Kernel) subscribeLearnedOutcomes(scholar *panel.ScholarJudge) {
	k.Bus.Subscribe(bus.JudgmentCreated, func(e bus.Event) error {
		payload, ok := e.Payload.(bus.JudgmentCreatedPayload)
		if !ok {
			return nil
		}
		scholar.Learn(payload.CellID, payload.QScore, kernel.Reality(payload.Reality))
		return nil
	})
}

// snapshot serves introspect.Server's read-only state surface.
func (k *Kernel) snapshot() introspect.StateSnapshot {
	k.mu.Lock()
	spent := k.budgetSpent
	k.mu.Unlock()
	breakers := make(map[string]string, 4)
	for tier, state := range k.breakerSnapshot() {
		breakers[string(tier)] = state
	}
	return introspect.StateSnapshot{
		QueueDepth: map[string]int{
			string(kernel.TierReflex): k.Scheduler.Depth(kernel.TierReflex),
			string(kernel.TierMicro):  k.Scheduler.Depth(kernel.TierMicro),
			string(kernel.TierMacro):  k.Scheduler.Depth(kernel.TierMacro),
			string(kernel.TierMeta):   k.Scheduler.Depth(kernel.TierMeta),
		},
		BreakerState:   breakers,
		LODLevel:       int(k.LOD.Current()),
		BudgetSpentUSD: spent,
	}
}

// Dispatch runs a PENDING/ACCEPTED action through the guardrail chain
// and, on a pass, the wired Runner. callerSVID is forwarded to
// PowerLimiter for auto-executed dispatches.
func (k *Kernel) Dispatch(ctx context.Context, actionID, callerSVID string) (collab.RunResult, error) {
	a, ok := k.Actions.Get(actionID)
	if !ok {
		return collab.RunResult{}, ErrActionNotFound
	}

	k.mu.Lock()
	j := k.judgments[a.JudgmentID]
	k.mu.Unlock()

	decision := guardrail.Decision{Judgment: j, Action: a, CallerSVID: callerSVID}
	if rej := k.Guardrails.Evaluate(ctx, decision); rej != nil {
		return collab.RunResult{}, rej
	}

	if a.Status == kernel.ActionPending {
		if _, err := k.Actions.AutoExecute(actionID); err != nil {
			return collab.RunResult{}, err
		}
	}

	timeout := time.Duration(k.cfg.Tiers.MacroTimeoutMs) * time.Millisecond
	result, err := k.Runner.Execute(ctx, a.Prompt, timeout)
	if err != nil {
		k.Metrics.RecordError("guardrail", "dispatch")
		return result, fmt.Errorf("kernelapp: dispatch failed for action %s: %w", actionID, err)
	}

	if saveErr := k.Storage.SaveActionProposal(ctx, a); saveErr != nil {
		k.log.Warn("kernelapp: failed to persist dispatched action", "action_id", actionID, "error", saveErr)
	}
	k.Bus.Publish(bus.Event{
		Type: bus.ActCompleted,
		Payload: bus.ActCompletedPayload{
			ActionID: actionID,
			Success:  result.Success,
		},
	})
	return result, nil
}

// Start launches every background goroutine: the scheduler's worker
// pools, the perception runner, the learning loop, and the
// introspection HTTP server.
func (k *Kernel) Start(ctx context.Context) <-chan error {
	k.Scheduler.Start(ctx)
	k.Perception.Start(ctx)
	k.LearningLoop.Start()

	errCh := make(chan error, 1)
	k.Introspect.Start(errCh)
	k.log.Info("kernelapp: kernel started", "introspect_port", k.cfg.Introspect.Port)
	return errCh
}

// Shutdown stops every background goroutine within the given deadline.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.Perception.Stop()
	k.Scheduler.Shutdown(ctx)
	k.LearningLoop.Stop()
	if err := k.Introspect.Shutdown(ctx); err != nil {
		return fmt.Errorf("kernelapp: introspect shutdown: %w", err)
	}
	k.log.Info("kernelapp: kernel stopped")
	return nil
}
