package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage is one position of the reasoning pipeline (0-8).
type Stage int

// The nine pipeline positions, in strict order. SkillDetection may
// skip RouteDrafting in agent mode; KnowledgeTransfer may loop back to
// RouteDrafting a bounded number of times.
const (
	StageJohariDiscovery Stage = iota
	StageIntentAnalysis
	StageCapabilityScan
	StageSkillDetection
	StageRouteDrafting
	StageRouteEvaluation
	StageContradictionCheck
	StageConfidenceScoring
	StageKnowledgeTransfer
)

var stageNames = map[Stage]string{
	StageJohariDiscovery:    "johari_discovery",
	StageIntentAnalysis:     "intent_analysis",
	StageCapabilityScan:     "capability_scan",
	StageSkillDetection:     "skill_detection",
	StageRouteDrafting:      "route_drafting",
	StageRouteEvaluation:    "route_evaluation",
	StageContradictionCheck: "contradiction_check",
	StageConfidenceScoring:  "confidence_scoring",
	StageKnowledgeTransfer:  "knowledge_transfer",
}

// String returns the stage's wire name.
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ReasoningStatus is the lifecycle status of a reasoning session.
type ReasoningStatus string

const (
	ReasoningActive    ReasoningStatus = "active"
	ReasoningCompleted ReasoningStatus = "completed"
	ReasoningHalted    ReasoningStatus = "halted"
)

// RouteAttempt preserves a discarded preliminary route when the loop
// sends the pipeline back for re-evaluation.
type RouteAttempt struct {
	Route     string    `json:"route"`
	Iteration int       `json:"iteration"`
	Reason    string    `json:"reason,omitempty"`
	AttemptAt time.Time `json:"attempt_at"`
}

// DispatchRecord is a durable, idempotent queue-of-one: it records
// that a hand-off to a downstream system is pending so the hand-off
// survives a crashed caller. A recovery scan finds sessions with a
// non-nil record and re-enqueues them; consumers dedupe on ID.
type DispatchRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Route     string    `json:"route"`
	CreatedAt time.Time `json:"created_at"`
}

// NewDispatchRecord creates a pending hand-off record.
func NewDispatchRecord(sessionID, route string) *DispatchRecord {
	return &DispatchRecord{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Route:     route,
		CreatedAt: time.Now().UTC(),
	}
}

// ReasoningState is the durable state of one reasoning session: a
// strictly-linear 9-position pipeline with one conditional skip and a
// bounded loop-back at its terminal position.
type ReasoningState struct {
	SchemaVersion int             `json:"schema_version"`
	SessionID     string          `json:"session_id"`
	Query         string          `json:"query"`
	AgentMode     bool            `json:"agent_mode"`
	Stage         Stage           `json:"stage"`
	Status        ReasoningStatus `json:"status"`

	IterationCount        int             `json:"iteration_count"`
	PreliminaryRoutes     []RouteAttempt  `json:"preliminary_routes,omitempty"`
	ContradictionDetected bool            `json:"contradiction_detected"`
	FinalRoute            string          `json:"final_route,omitempty"`
	HaltReason            string          `json:"halt_reason,omitempty"`
	ClarificationQuestions []string       `json:"clarification_questions,omitempty"`
	PendingDispatch       *DispatchRecord `json:"pending_dispatch,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewReasoning creates a reasoning session at the first pipeline
// position.
func NewReasoning(query string, agentMode bool) *ReasoningState {
	now := time.Now().UTC()
	return &ReasoningState{
		SchemaVersion: SchemaVersion,
		SessionID:     uuid.New().String(),
		Query:         query,
		AgentMode:     agentMode,
		Stage:         StageJohariDiscovery,
		Status:        ReasoningActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Touch stamps the state as mutated.
func (r *ReasoningState) Touch() {
	r.UpdatedAt = time.Now().UTC()
}

// Marshal serializes the state for persistence.
func (r *ReasoningState) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal reasoning state: %w", err)
	}
	return data, nil
}

// UnmarshalReasoning deserializes a persisted reasoning document.
func UnmarshalReasoning(data []byte) (*ReasoningState, error) {
	var r ReasoningState
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal reasoning state: %w", err)
	}
	return &r, nil
}
