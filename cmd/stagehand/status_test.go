package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-dev/stagehand/graph"
	"github.com/stagehand-dev/stagehand/machine"
	"github.com/stagehand-dev/stagehand/session"
)

func statusFixture(t *testing.T) (*session.WorkflowState, *graph.Graph) {
	t.Helper()
	g, err := graph.New("demo", []graph.PhaseDefinition{
		{ID: "plan", Topology: graph.TopologyLinear, Next: "build", Worker: "plan-writer"},
		{ID: "build", Topology: graph.TopologyParallel, Next: "check", Branches: map[graph.BranchID]graph.BranchSpec{
			"api": {Worker: "api-writer", FailOnError: true},
			"ui":  {Worker: "ui-writer"},
		}},
		{ID: "check", Topology: graph.TopologyRemediation, Worker: "qa-checker", RemediationTarget: "build", MaxRemediation: 2},
	})
	require.NoError(t, err)

	state := session.New("demo", "task-1")
	state.FSM.Status = machine.StatusExecuting
	state.FSM.CurrentPhase = "build"
	state.FSM.History = []string{"start -> plan", "plan -> build"}
	state.FSM.ParallelBranches = map[graph.PhaseID]map[graph.BranchID]*machine.BranchInfo{
		"build": {
			"api": {BranchID: "api", Status: machine.BranchCompleted, FailOnError: true},
			"ui":  {BranchID: "ui", Status: machine.BranchPending},
		},
	}
	state.RecordOutput("plan", "plan-writer", "/tmp/task-1_plan-writer.md")
	return state, g
}

func TestRenderStatus(t *testing.T) {
	state, g := statusFixture(t)

	out := renderStatus(state, g)

	assert.Contains(t, out, "## demo")
	assert.Contains(t, out, "▶ executing")
	assert.Contains(t, out, "[✓] plan → [▶] build → [ ] check")
	assert.Contains(t, out, "| plan | linear | plan-writer | verified |")
	assert.Contains(t, out, "| build | parallel | 2 branches | current |")
	assert.Contains(t, out, "| check | remediation | qa-checker | pending |")
	assert.Contains(t, out, "| build | api | completed |")
	assert.Contains(t, out, "| build | ui | pending |")
	assert.Contains(t, out, "- plan -> build")
}

func TestRenderStatusCompleted(t *testing.T) {
	state, g := statusFixture(t)
	state.FSM.Status = machine.StatusCompleted
	state.FSM.CurrentPhase = ""
	state.FSM.HaltReason = ""

	out := renderStatus(state, g)
	assert.Contains(t, out, "✓ completed")
	// Every phase shows done once the workflow completed.
	assert.Equal(t, 3, strings.Count(out, "[✓]"))
}

func TestRenderStatusHalted(t *testing.T) {
	state, g := statusFixture(t)
	state.FSM.Status = machine.StatusHalted
	state.FSM.CurrentPhase = ""
	state.FSM.HaltReason = "critical branch api failed on phase build"

	out := renderStatus(state, g)
	assert.Contains(t, out, "✗ halted")
	assert.Contains(t, out, "**Halt reason**: critical branch api failed")
}
