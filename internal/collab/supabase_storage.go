package collab

import (
	"context"
	"fmt"

	"github.com/cynic-kernel/kernel/internal/kernel"
	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseStorage is a Storage backed by Supabase's PostgREST client:
// one table per repository, From(table).Insert/Upsert with ExecuteTo
// discarding the echoed row.
type SupabaseStorage struct {
	client *supabase.Client
}

// NewSupabaseStorage dials a Supabase project by URL and service key.
func NewSupabaseStorage(url, serviceKey string) (*SupabaseStorage, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("collab: supabase url and service key are required")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("collab: supabase client: %w", err)
	}
	return &SupabaseStorage{client: client}, nil
}

type judgmentRow struct {
	JudgmentID       string             `json:"judgment_id"`
	CellID           string             `json:"cell_id"`
	StateKey         string             `json:"state_key"`
	Reality          string             `json:"reality"`
	QScore           float64            `json:"q_score"`
	Confidence       float64            `json:"confidence"`
	Verdict          string             `json:"verdict"`
	ConsensusReached bool               `json:"consensus_reached"`
	ConsensusVotes   int                `json:"consensus_votes"`
	ConsensusQuorum  int                `json:"consensus_quorum"`
	ResidualVariance float64            `json:"residual_variance"`
	CostUSD          float64            `json:"cost_usd"`
	LLMCalls         int                `json:"llm_calls"`
	LevelUsed        string             `json:"level_used"`
	DurationMs       float64            `json:"duration_ms"`
	CreatedAt        string             `json:"created_at"`
}

func (s *SupabaseStorage) SaveJudgment(ctx context.Context, j kernel.Judgment) error {
	row := judgmentRow{
		JudgmentID:       j.JudgmentID,
		CellID:           j.CellID,
		StateKey:         j.StateKey,
		Reality:          string(j.Reality),
		QScore:           j.QScore,
		Confidence:       j.Confidence,
		Verdict:          string(j.Verdict),
		ConsensusReached: j.ConsensusReached,
		ConsensusVotes:   j.ConsensusVotes,
		ConsensusQuorum:  j.ConsensusQuorum,
		ResidualVariance: j.ResidualVariance,
		CostUSD:          j.CostUSD,
		LLMCalls:         j.LLMCalls,
		LevelUsed:        string(j.LevelUsed),
		DurationMs:       j.DurationMs,
		CreatedAt:        j.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	var result []judgmentRow
	_, err := s.client.From("judgments").
		Upsert(row, "judgment_id", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("collab: save judgment: %w", err)
	}
	return nil
}

type qEntryRow struct {
	StateKey     string   `json:"state_key"`
	Action       string   `json:"action"`
	QValue       float64  `json:"q_value"`
	Visits       int      `json:"visits"`
	Wins         int      `json:"wins"`
	Losses       int      `json:"losses"`
	EWCAnchor    *float64 `json:"ewc_anchor,omitempty"`
	Consolidated bool     `json:"consolidated"`
}

func (s *SupabaseStorage) SaveQEntry(ctx context.Context, e kernel.QEntry) error {
	row := qEntryRow{
		StateKey: e.StateKey, Action: e.Action, QValue: e.QValue,
		Visits: e.Visits, Wins: e.Wins, Losses: e.Losses,
		EWCAnchor: e.EWCAnchor, Consolidated: e.Consolidated,
	}
	var result []qEntryRow
	_, err := s.client.From("qtable").
		Upsert(row, "state_key,action", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("collab: save qtable entry: %w", err)
	}
	return nil
}

func (s *SupabaseStorage) LoadQTable(ctx context.Context) ([]kernel.QEntry, error) {
	var rows []qEntryRow
	_, err := s.client.From("qtable").
		Select("*", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("collab: load qtable: %w", err)
	}
	entries := make([]kernel.QEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, kernel.QEntry{
			StateKey: r.StateKey, Action: r.Action, QValue: r.QValue,
			Visits: r.Visits, Wins: r.Wins, Losses: r.Losses,
			EWCAnchor: r.EWCAnchor, Consolidated: r.Consolidated,
		})
	}
	return entries, nil
}

type learningEventRow struct {
	StateKey   string  `json:"state_key"`
	Action     string  `json:"action"`
	Reward     float64 `json:"reward"`
	JudgmentID string  `json:"judgment_id"`
}

func (s *SupabaseStorage) SaveLearningEvent(ctx context.Context, stateKey, action string, reward float64, judgmentID string) error {
	row := learningEventRow{StateKey: stateKey, Action: action, Reward: reward, JudgmentID: judgmentID}
	var result []map[string]interface{}
	_, err := s.client.From("learning_events").
		Insert(row, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("collab: save learning event: %w", err)
	}
	return nil
}

type residualRow struct {
	JudgmentID       string  `json:"judgment_id"`
	ResidualVariance float64 `json:"residual_variance"`
	Reality          string  `json:"reality"`
	Unnameable       bool    `json:"unnameable"`
}

func (s *SupabaseStorage) SaveResidual(ctx context.Context, p kernel.ResidualPoint) error {
	row := residualRow{
		JudgmentID: p.JudgmentID, ResidualVariance: p.ResidualVariance,
		Reality: string(p.Reality), Unnameable: p.Unnameable,
	}
	var result []map[string]interface{}
	_, err := s.client.From("residuals").
		Insert(row, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("collab: save residual: %w", err)
	}
	return nil
}

type scholarRow struct {
	CellText string  `json:"cell_text"`
	QScore   float64 `json:"q_score"`
	Reality  string  `json:"reality"`
}

func (s *SupabaseStorage) SaveScholarEntry(ctx context.Context, cellText string, qScore float64, reality kernel.Reality) error {
	row := scholarRow{CellText: cellText, QScore: qScore, Reality: string(reality)}
	var result []map[string]interface{}
	_, err := s.client.From("scholar_entries").
		Insert(row, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("collab: save scholar entry: %w", err)
	}
	return nil
}

type actionProposalRow struct {
	ActionID   string `json:"action_id"`
	JudgmentID string `json:"judgment_id"`
	StateKey   string `json:"state_key"`
	Verdict    string `json:"verdict"`
	Reality    string `json:"reality"`
	ActionType string `json:"action_type"`
	Priority   int    `json:"priority"`
	Prompt     string `json:"prompt"`
	Status     string `json:"status"`
}

func (s *SupabaseStorage) SaveActionProposal(ctx context.Context, a kernel.ProposedAction) error {
	row := actionProposalRow{
		ActionID: a.ActionID, JudgmentID: a.JudgmentID, StateKey: a.StateKey,
		Verdict: string(a.Verdict), Reality: string(a.Reality),
		ActionType: string(a.ActionType), Priority: a.Priority,
		Prompt: a.Prompt, Status: string(a.Status),
	}
	var result []actionProposalRow
	_, err := s.client.From("action_proposals").
		Upsert(row, "action_id", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("collab: save action proposal: %w", err)
	}
	return nil
}
