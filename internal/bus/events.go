// Package bus implements the kernel's typed publish/subscribe event bus.
// It dispatches on a closed EventType enum rather than an open string
// type: adding an event requires touching one file, which is a feature.
package bus

// EventType is the kernel's closed event vocabulary.
type EventType string

const (
	PerceptionReceived EventType = "PERCEPTION_RECEIVED"
	JudgmentRequested  EventType = "JUDGMENT_REQUESTED"
	JudgmentCreated    EventType = "JUDGMENT_CREATED"
	JudgmentFailed     EventType = "JUDGMENT_FAILED"
	ConsensusReached   EventType = "CONSENSUS_REACHED"
	ConsensusFailed    EventType = "CONSENSUS_FAILED"
	LearningEvent      EventType = "LEARNING_EVENT"
	QTableUpdated      EventType = "Q_TABLE_UPDATED"
	EWCCheckpoint      EventType = "EWC_CHECKPOINT"
	ResidualHigh       EventType = "RESIDUAL_HIGH"
	EmergenceDetected  EventType = "EMERGENCE_DETECTED"
	DecisionMade       EventType = "DECISION_MADE"
	ActRequested       EventType = "ACT_REQUESTED"
	ActCompleted       EventType = "ACT_COMPLETED"
	BudgetWarning      EventType = "BUDGET_WARNING"
	BudgetExhausted    EventType = "BUDGET_EXHAUSTED"
	CostAccounted      EventType = "COST_ACCOUNTED"
	ConsciousnessChanged EventType = "CONSCIOUSNESS_CHANGED"
	MetaCycle          EventType = "META_CYCLE"
	UserFeedback       EventType = "USER_FEEDBACK"
	UserCorrection     EventType = "USER_CORRECTION"
	DiskPressure       EventType = "DISK_PRESSURE"
	MemoryPressure     EventType = "MEMORY_PRESSURE"
)

// Event is the envelope delivered to subscribers. Payload is one of the
// Payload* structs below, chosen by Type.
type Event struct {
	Type    EventType
	Payload interface{}
}

// Payload structs, one per EventType.

type PerceptionReceivedPayload struct {
	CellID  string
	Reality string
	Source  string
	Data    map[string]interface{}
}

type JudgmentRequestedPayload struct {
	CellID  string
	Reality string
	Level   string
}

type JudgmentCreatedPayload struct {
	JudgmentID       string
	CellID           string
	StateKey         string
	Reality          string
	Verdict          string
	QScore           float64
	Confidence       float64
	ResidualVariance float64
	DogVotes         map[string]float64
	LevelUsed        string
}

type JudgmentFailedPayload struct {
	CellID        string
	Error         string
	CircuitState  string
	FailureCount  int
}

type ConsensusPayload struct {
	JudgmentID       string
	Votes            int
	Quorum           int
	ResidualVariance float64
}

type LearningEventPayload struct {
	StateKey   string
	Action     string
	Reward     float64
	JudgmentID string
	LoopName   string
}

type QTableUpdatedPayload struct {
	Flushed          int
	TotalEntries     int
	EWCConsolidated  int
	TotalUpdates     int
}

type EWCCheckpointPayload struct {
	StateKey string
	Action   string
	QValue   float64
}

type ResidualHighPayload struct {
	JudgmentID       string
	ResidualVariance float64
	CellID           string
}

type EmergenceDetectedPayload struct {
	PatternType string
	Severity    float64
	Evidence    string
}

type DecisionMadePayload struct {
	Verdict      string
	Reality      string
	StateKey     string
	QValue       float64
	ActionPrompt string
	JudgmentID   string
}

type ActRequestedPayload struct {
	ActionID   string
	ActionType string
	Reality    string
}

type ActCompletedPayload struct {
	ActionID   string
	Success    bool
	DurationMs float64
	Error      string
}

type BudgetPayload struct {
	SessionUSD float64
	SpentUSD   float64
}

type CostAccountedPayload struct {
	JudgmentID string
	CostUSD    float64
}

type ConsciousnessChangedPayload struct {
	From      string
	To        string
	Direction string
}

type MetaCyclePayload struct {
	PassRate   float64
	Regression bool
	Results    interface{}
}

type UserFeedbackPayload struct {
	Rating     int
	StateKey   string
	Action     string
	JudgmentID string
}

type PressurePayload struct {
	UsedPct  float64
	Pressure float64
}
