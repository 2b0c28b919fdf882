package collab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

func TestInMemoryStorage_SaveAndLoadQTable(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.SaveQEntry(ctx, kernel.QEntry{StateKey: "s", Action: "a", QValue: 0.5}))

	entries, err := s.LoadQTable(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0.5, entries[0].QValue)
}

func TestInMemoryStorage_SaveJudgmentIsRetrievable(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()
	j := kernel.Judgment{JudgmentID: "j1", QScore: 80}

	require.NoError(t, s.SaveJudgment(ctx, j))
	assert.Equal(t, j, s.judgments["j1"])
}

func TestInMemoryStorage_SaveActionProposal(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()
	a := kernel.ProposedAction{ActionID: "a1", Status: kernel.ActionPending}

	require.NoError(t, s.SaveActionProposal(ctx, a))
	assert.Equal(t, a, s.actions["a1"])
}

func TestNoopRunner_AlwaysRefuses(t *testing.T) {
	var r Runner = NoopRunner{}
	result, err := r.Execute(context.Background(), "do something", 0)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestNoopEmbeddingProvider_ReportsUnavailable(t *testing.T) {
	p := NoopEmbeddingProvider{}
	assert.False(t, p.IsAvailable())
	_, err := p.Embed(context.Background(), "text")
	assert.Error(t, err)
}

func TestNoopLLMRegistry_ReturnsNeutralAdapter(t *testing.T) {
	reg := NoopLLMRegistry{}
	adapter, err := reg.BestFor("judge", "task")
	require.NoError(t, err)

	resp, err := adapter.Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.CostUSD)
	assert.NotEmpty(t, resp.Text)
}
