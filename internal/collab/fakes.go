package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

// InMemoryStorage is the Storage kernelapp wires in by default, so kernel
// tests and local runs never require live infrastructure. Safe for
// concurrent use.
type InMemoryStorage struct {
	mu        sync.RWMutex
	judgments map[string]kernel.Judgment
	qtable    map[string]kernel.QEntry
	residuals []kernel.ResidualPoint
	actions   map[string]kernel.ProposedAction
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		judgments: make(map[string]kernel.Judgment),
		qtable:    make(map[string]kernel.QEntry),
		actions:   make(map[string]kernel.ProposedAction),
	}
}

func (s *InMemoryStorage) SaveJudgment(ctx context.Context, j kernel.Judgment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.judgments[j.JudgmentID] = j
	return nil
}

func (s *InMemoryStorage) SaveQEntry(ctx context.Context, e kernel.QEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qtable[e.Key()] = e
	return nil
}

func (s *InMemoryStorage) LoadQTable(ctx context.Context) ([]kernel.QEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]kernel.QEntry, 0, len(s.qtable))
	for _, e := range s.qtable {
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *InMemoryStorage) SaveLearningEvent(ctx context.Context, stateKey, action string, reward float64, judgmentID string) error {
	return nil
}

func (s *InMemoryStorage) SaveResidual(ctx context.Context, p kernel.ResidualPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.residuals = append(s.residuals, p)
	return nil
}

func (s *InMemoryStorage) SaveScholarEntry(ctx context.Context, cellText string, qScore float64, reality kernel.Reality) error {
	return nil
}

func (s *InMemoryStorage) SaveActionProposal(ctx context.Context, a kernel.ProposedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[a.ActionID] = a
	return nil
}

// NoopEmbeddingProvider reports unavailable, so callers fall back to a
// token-overlap similarity measure (ScholarJudge's default).
type NoopEmbeddingProvider struct{}

func (NoopEmbeddingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, fmt.Errorf("collab: no embedding provider configured")
}
func (NoopEmbeddingProvider) Dimension() int    { return 0 }
func (NoopEmbeddingProvider) IsAvailable() bool { return false }

// NoopRunner refuses every execution request; it is the safe default
// until a deployment wires in collab.DockerRunner or an equivalent.
type NoopRunner struct{}

func (NoopRunner) Execute(ctx context.Context, prompt string, timeout time.Duration) (RunResult, error) {
	return RunResult{Success: false, Error: "no runner configured"}, nil
}

// staticAdapter always returns the same canned response, used by
// NoopLLMRegistry so a kernel without a live LLM router still exercises
// the panel's LLM-consuming judges.
type staticAdapter struct{}

func (staticAdapter) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	return LLMResponse{Text: "no LLM router configured: neutral assessment", CostUSD: 0, LatencyMs: 0, Tokens: 0}, nil
}

// NoopLLMRegistry is the LLMRegistry kernelapp wires in by default.
type NoopLLMRegistry struct{}

func (NoopLLMRegistry) BestFor(judge, task string) (Adapter, error) {
	return staticAdapter{}, nil
}
func (NoopLLMRegistry) UpdateBenchmark(judge, task, llmID string, result LLMResponse, success bool) {
}
