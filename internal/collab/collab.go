// Package collab declares the kernel's collaborator boundary: the
// interfaces that separate judgment logic from the concrete
// infrastructure a deployment wires in. kernelapp defaults every one of
// these to an in-memory fake; the adapters in this package back them
// with a real third-party stack for a live deployment.
package collab

import (
	"context"
	"time"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

// Storage persists the kernel's durable records. Each repository method
// is idempotent on save by ID, so a retried flush never double-writes.
type Storage interface {
	SaveJudgment(ctx context.Context, j kernel.Judgment) error
	SaveQEntry(ctx context.Context, e kernel.QEntry) error
	LoadQTable(ctx context.Context) ([]kernel.QEntry, error)
	SaveLearningEvent(ctx context.Context, stateKey, action string, reward float64, judgmentID string) error
	SaveResidual(ctx context.Context, p kernel.ResidualPoint) error
	SaveScholarEntry(ctx context.Context, cellText string, qScore float64, reality kernel.Reality) error
	SaveActionProposal(ctx context.Context, a kernel.ProposedAction) error
}

// LLMResponse is one Adapter.Complete call's result.
type LLMResponse struct {
	Text       string
	CostUSD    float64
	LatencyMs  float64
	Tokens     int
}

// LLMRequest is what an LLMJudge sends to whichever Adapter its registry
// selects.
type LLMRequest struct {
	JudgeID   string
	Task      string
	Prompt    string
	Timeout   time.Duration
	BudgetUSD float64
}

// Adapter is one callable model endpoint.
type Adapter interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// LLMRegistry routes a (judge, task) pair to its best-performing Adapter
// and records benchmark outcomes back for future routing decisions.
type LLMRegistry interface {
	BestFor(judge, task string) (Adapter, error)
	UpdateBenchmark(judge, task, llmID string, result LLMResponse, success bool)
}

// RunResult is the outcome of a Runner.Execute call.
type RunResult struct {
	Success bool
	Output  string
	Error   string
}

// Runner executes an approved action's prompt against whatever
// execution surface a deployment wires in (a container, a remote queue,
// a shell). Opaque to the kernel: it never inspects Output beyond
// logging it.
type Runner interface {
	Execute(ctx context.Context, prompt string, timeout time.Duration) (RunResult, error)
}

// EmbeddingProvider turns text into a fixed-dimension vector for judges
// that need a similarity measure richer than token overlap.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimension() int
	IsAvailable() bool
}
