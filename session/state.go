// Package session defines the durable state envelope around one
// workflow instance. A WorkflowState is everything the engine needs to
// resume after a process restart: the FSM snapshot plus workflow-level
// metadata, outputs, and timestamps.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-dev/stagehand/graph"
	"github.com/stagehand-dev/stagehand/machine"
)

// SchemaVersion is bumped whenever the persisted layout changes shape.
const SchemaVersion = 1

// Metadata key conventions. Values are free-form strings; these keys
// carry engine-interpreted flags.
const (
	// MetaValidationStatus is inspected by Remediation phases.
	MetaValidationStatus = "validationStatus"
	// ValidationNeedsRemediation triggers a loop-back.
	ValidationNeedsRemediation = "needsRemediation"
)

// Output records what a phase produced, as reported by verification.
type Output struct {
	Worker       string    `json:"worker,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// WorkflowState is the durable, serializable envelope around one FSM
// instance. Exactly one live WorkflowState exists per session ID, and
// every mutation is followed by a full re-serialization.
type WorkflowState struct {
	SchemaVersion int    `json:"schema_version"`
	WorkflowName  string `json:"workflow_name"`
	TaskID        string `json:"task_id"`
	SessionID     string `json:"session_id"`

	FSM machine.Snapshot `json:"fsm"`

	PhaseOutputs    map[graph.PhaseID]Output    `json:"phase_outputs,omitempty"`
	PhaseTimestamps map[graph.PhaseID]time.Time `json:"phase_timestamps,omitempty"`
	Metadata        map[string]string           `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a fresh WorkflowState with a generated session ID.
func New(workflowName, taskID string) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		SchemaVersion: SchemaVersion,
		WorkflowName:  workflowName,
		TaskID:        taskID,
		SessionID:     uuid.New().String(),
		FSM:           machine.NewSnapshot(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Touch stamps the state as mutated.
func (s *WorkflowState) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// RecordOutput notes that a phase's work was verified, with the
// artifact that proved it.
func (s *WorkflowState) RecordOutput(phase graph.PhaseID, worker, artifactPath string) {
	if s.PhaseOutputs == nil {
		s.PhaseOutputs = make(map[graph.PhaseID]Output)
	}
	if s.PhaseTimestamps == nil {
		s.PhaseTimestamps = make(map[graph.PhaseID]time.Time)
	}
	now := time.Now().UTC()
	s.PhaseOutputs[phase] = Output{
		Worker:       worker,
		ArtifactPath: artifactPath,
		RecordedAt:   now,
	}
	s.PhaseTimestamps[phase] = now
}

// Meta returns the metadata value for key, empty when unset.
func (s *WorkflowState) Meta(key string) string {
	return s.Metadata[key]
}

// SetMeta sets a metadata flag.
func (s *WorkflowState) SetMeta(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[key] = value
}

// ClearMeta removes a metadata flag.
func (s *WorkflowState) ClearMeta(key string) {
	delete(s.Metadata, key)
}

// SkipConditionSet reports whether the named skip condition is set
// truthy ("", "false" and "0" count as unset).
func (s *WorkflowState) SkipConditionSet(key string) bool {
	if key == "" {
		return false
	}
	switch s.Metadata[key] {
	case "", "false", "0":
		return false
	default:
		return true
	}
}

// NeedsRemediation reports whether the validation status flag demands
// a loop-back.
func (s *WorkflowState) NeedsRemediation() bool {
	return s.Metadata[MetaValidationStatus] == ValidationNeedsRemediation
}

// Marshal serializes the state for persistence.
func (s *WorkflowState) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal workflow state: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes a persisted state document.
func Unmarshal(data []byte) (*WorkflowState, error) {
	var s WorkflowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal workflow state: %w", err)
	}
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SchemaVersion
	}
	if s.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("workflow state schema version %d is newer than supported %d", s.SchemaVersion, SchemaVersion)
	}
	return &s, nil
}
