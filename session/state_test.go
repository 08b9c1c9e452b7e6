package session

import (
	"reflect"
	"testing"
	"time"

	"github.com/stagehand-dev/stagehand/graph"
	"github.com/stagehand-dev/stagehand/machine"
)

func TestNewWorkflowState(t *testing.T) {
	s := New("demo", "task-42")

	if s.SchemaVersion != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, s.SchemaVersion)
	}
	if s.SessionID == "" {
		t.Error("expected generated session id")
	}
	if s.WorkflowName != "demo" || s.TaskID != "task-42" {
		t.Errorf("identity wrong: %s/%s", s.WorkflowName, s.TaskID)
	}
	if s.FSM.Status != machine.StatusInitialized {
		t.Errorf("expected initialized FSM, got %s", s.FSM.Status)
	}

	// Two states never share a session id.
	if other := New("demo", "task-42"); other.SessionID == s.SessionID {
		t.Error("expected unique session ids")
	}
}

func TestRecordOutput(t *testing.T) {
	s := New("demo", "task-42")
	s.RecordOutput("plan", "demo-planner", "/tmp/task-42_demo-planner.md")

	out, ok := s.PhaseOutputs["plan"]
	if !ok {
		t.Fatal("expected output recorded for plan")
	}
	if out.Worker != "demo-planner" {
		t.Errorf("expected worker demo-planner, got %s", out.Worker)
	}
	if _, ok := s.PhaseTimestamps["plan"]; !ok {
		t.Error("expected timestamp recorded for plan")
	}
}

func TestMetadataHelpers(t *testing.T) {
	s := New("demo", "task-42")

	if s.SkipConditionSet("skip_polish") {
		t.Error("unset condition should be false")
	}
	s.SetMeta("skip_polish", "false")
	if s.SkipConditionSet("skip_polish") {
		t.Error("false condition should be false")
	}
	s.SetMeta("skip_polish", "true")
	if !s.SkipConditionSet("skip_polish") {
		t.Error("true condition should be true")
	}
	if s.SkipConditionSet("") {
		t.Error("empty key is never set")
	}

	if s.NeedsRemediation() {
		t.Error("fresh state should not need remediation")
	}
	s.SetMeta(MetaValidationStatus, ValidationNeedsRemediation)
	if !s.NeedsRemediation() {
		t.Error("expected needs-remediation flag to read back")
	}
	s.ClearMeta(MetaValidationStatus)
	if s.NeedsRemediation() {
		t.Error("cleared flag should not need remediation")
	}
}

func TestWorkflowStateRoundTrip(t *testing.T) {
	s := New("demo", "task-42")
	s.FSM.CurrentPhase = "build"
	s.FSM.Status = machine.StatusExecuting
	s.FSM.History = []string{"start -> plan", "plan -> build"}
	s.FSM.IterationCounters = map[graph.PhaseID]int{"iterate": 2}
	s.FSM.ParallelBranches = map[graph.PhaseID]map[graph.BranchID]*machine.BranchInfo{
		"build": {
			"a": {BranchID: "a", Status: machine.BranchCompleted, Output: "done", FailOnError: true},
		},
	}
	s.RecordOutput("plan", "planner", "artifact.md")
	s.SetMeta("skip_polish", "true")

	data, err := s.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Timestamps are marshaled at UTC with full precision, so the
	// whole envelope must compare equal.
	if !reflect.DeepEqual(s, restored) {
		t.Errorf("state did not round-trip:\n  before: %+v\n  after:  %+v", s, restored)
	}
}

func TestUnmarshalRejectsNewerSchema(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"schema_version": 99}`)); err == nil {
		t.Error("expected error for newer schema version")
	}
	if _, err := Unmarshal([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed document")
	}
}

func TestReasoningRoundTrip(t *testing.T) {
	r := NewReasoning("where should this query route?", true)
	r.Stage = StageKnowledgeTransfer
	r.IterationCount = 2
	r.PreliminaryRoutes = []RouteAttempt{
		{Route: "ops", Iteration: 1, Reason: "contradiction", AttemptAt: time.Now().UTC()},
	}
	r.ContradictionDetected = true
	r.PendingDispatch = NewDispatchRecord(r.SessionID, "research")

	data, err := r.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored, err := UnmarshalReasoning(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(r, restored) {
		t.Errorf("reasoning state did not round-trip:\n  before: %+v\n  after:  %+v", r, restored)
	}
}

func TestStageString(t *testing.T) {
	if StageJohariDiscovery.String() != "johari_discovery" {
		t.Errorf("unexpected name: %s", StageJohariDiscovery)
	}
	if StageKnowledgeTransfer.String() != "knowledge_transfer" {
		t.Errorf("unexpected name: %s", StageKnowledgeTransfer)
	}
	if Stage(42).String() != "stage(42)" {
		t.Errorf("unexpected name for unknown stage: %s", Stage(42))
	}
}
