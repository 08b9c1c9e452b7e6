package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-dev/stagehand/graph"
	"github.com/stagehand-dev/stagehand/machine"
	"github.com/stagehand-dev/stagehand/session"
	"github.com/stagehand-dev/stagehand/storage"
	"github.com/stagehand-dev/stagehand/verify"
)

// testEnv wires an engine over a temp file store and artifact root.
type testEnv struct {
	engine    *Engine
	store     *storage.FileStore
	artifacts string
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	artifacts := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := verify.New(artifacts, 0, logger)

	return &testEnv{
		engine:    New(testGraphs(t), store, verifier, logger, opts...),
		store:     store,
		artifacts: artifacts,
	}
}

// testGraphs builds the two fixture workflows: "demo" exercises the
// parallel/remediation path, "full" the optional/auto/iterative path.
func testGraphs(t *testing.T) map[string]*graph.Graph {
	t.Helper()

	demo, err := graph.New("demo", []graph.PhaseDefinition{
		{ID: "setup", Topology: graph.TopologyLinear, Next: "gather", Worker: "setup-writer"},
		{ID: "gather", Topology: graph.TopologyParallel, Next: "validate", Branches: map[graph.BranchID]graph.BranchSpec{
			"a": {Worker: "a-writer", FailOnError: true},
			"b": {Worker: "b-writer"},
		}},
		{ID: "validate", Topology: graph.TopologyRemediation, Worker: "qa-checker", RemediationTarget: "gather", MaxRemediation: 2},
	})
	require.NoError(t, err)

	full, err := graph.New("full", []graph.PhaseDefinition{
		{ID: "plan", Topology: graph.TopologyLinear, Next: "polish", Worker: "plan-writer"},
		{ID: "polish", Topology: graph.TopologyOptional, Next: "gate", Worker: "polish-writer", SkipConditionKey: "skip_polish"},
		{ID: "gate", Topology: graph.TopologyAuto, Next: "iterate"},
		{ID: "iterate", Topology: graph.TopologyIterative, IterationWorkers: []string{"x-writer", "y-writer"}},
	})
	require.NoError(t, err)

	return map[string]*graph.Graph{"demo": demo, "full": full}
}

func (env *testEnv) writeArtifact(t *testing.T, taskID, worker string) {
	t.Helper()
	content := `# Report

## Summary

The delegated work for this phase finished and the result was recorded.

## Outcome

Everything landed as expected.
`
	path := filepath.Join(env.artifacts, taskID+"_"+worker+".md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (env *testEnv) removeArtifact(t *testing.T, taskID, worker string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(env.artifacts, taskID+"_"+worker+".md")))
}

func (env *testEnv) setMeta(t *testing.T, sessionID, key, value string) {
	t.Helper()
	ctx := context.Background()
	state, err := env.store.LoadWorkflow(ctx, sessionID)
	require.NoError(t, err)
	if value == "" {
		state.ClearMeta(key)
	} else {
		state.SetMeta(key, value)
	}
	require.NoError(t, env.store.SaveWorkflow(ctx, state))
}

func TestStartEmitsFirstDirective(t *testing.T) {
	env := newTestEnv(t)

	state, directive, err := env.engine.Start(context.Background(), "demo", "task-1")
	require.NoError(t, err)

	assert.Equal(t, ActionInvokeWorker, directive.Action)
	assert.Equal(t, graph.PhaseID("setup"), directive.Phase)
	assert.Equal(t, "setup-writer", directive.Worker)
	assert.Equal(t, machine.StatusExecuting, state.FSM.Status)

	// The session is durable immediately.
	loaded, err := env.store.LoadWorkflow(context.Background(), state.SessionID)
	require.NoError(t, err)
	assert.Equal(t, graph.PhaseID("setup"), loaded.FSM.CurrentPhase)
}

func TestStartUnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.engine.Start(context.Background(), "nope", "task-1")
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestAdvanceUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.engine.Advance(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestAdvanceRequiresProof(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	state, _, err := env.engine.Start(ctx, "demo", "task-1")
	require.NoError(t, err)

	_, _, err = env.engine.Advance(ctx, state.SessionID)
	require.ErrorIs(t, err, verify.ErrPhaseNotVerified)

	// A failed verification leaves the session untouched.
	loaded, err := env.store.LoadWorkflow(ctx, state.SessionID)
	require.NoError(t, err)
	assert.Equal(t, graph.PhaseID("setup"), loaded.FSM.CurrentPhase)
	assert.Empty(t, loaded.PhaseOutputs)
}

func TestDemoScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	state, _, err := env.engine.Start(ctx, "demo", "task-1")
	require.NoError(t, err)
	id := state.SessionID

	// Linear phase verified, workflow moves to the parallel phase with
	// a directive per branch.
	env.writeArtifact(t, "task-1", "setup-writer")
	state, directive, err := env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionInvokeBranches, directive.Action)
	require.Len(t, directive.Branches, 2)
	assert.Equal(t, graph.PhaseID("gather"), state.FSM.CurrentPhase)
	for _, info := range state.FSM.ParallelBranches["gather"] {
		assert.Equal(t, machine.BranchPending, info.Status)
	}

	// One branch done: the phase gates and does not move.
	env.writeArtifact(t, "task-1", "a-writer")
	state, directive, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionWaitBranches, directive.Action)
	assert.Equal(t, graph.PhaseID("gather"), state.FSM.CurrentPhase)
	assert.Equal(t, machine.BranchCompleted, state.FSM.ParallelBranches["gather"]["a"].Status)
	assert.Equal(t, machine.BranchPending, state.FSM.ParallelBranches["gather"]["b"].Status)

	// Both branches done: on to the remediation phase.
	env.writeArtifact(t, "task-1", "b-writer")
	state, directive, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionInvokeWorker, directive.Action)
	assert.Equal(t, "qa-checker", directive.Worker)
	assert.Equal(t, graph.PhaseID("validate"), state.FSM.CurrentPhase)

	// Validator ran and demands remediation: loop back to gather.
	env.writeArtifact(t, "task-1", "qa-checker")
	env.setMeta(t, id, session.MetaValidationStatus, session.ValidationNeedsRemediation)
	state, directive, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionInvokeBranches, directive.Action)
	assert.Equal(t, graph.PhaseID("gather"), state.FSM.CurrentPhase)
	assert.Equal(t, machine.StatusRemediation, state.FSM.Status)
	assert.Equal(t, 1, state.FSM.RemediationCounts["validate"])
	for _, info := range state.FSM.ParallelBranches["gather"] {
		assert.Equal(t, machine.BranchPending, info.Status, "loop-back must reset branches")
	}

	// Branch artifacts are still on disk, so the re-verification
	// passes and the workflow returns to validate.
	state, _, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, graph.PhaseID("validate"), state.FSM.CurrentPhase)
	assert.Equal(t, machine.StatusExecuting, state.FSM.Status)

	// Validation passed this round: clear the flag and complete.
	env.setMeta(t, id, session.MetaValidationStatus, "")
	state, directive, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionComplete, directive.Action)
	assert.Equal(t, machine.StatusCompleted, state.FSM.Status)
	assert.Empty(t, state.FSM.CurrentPhase)
}

func TestRemediationBound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	state, _, err := env.engine.Start(ctx, "demo", "task-1")
	require.NoError(t, err)
	id := state.SessionID

	env.writeArtifact(t, "task-1", "setup-writer")
	env.writeArtifact(t, "task-1", "a-writer")
	env.writeArtifact(t, "task-1", "b-writer")
	env.writeArtifact(t, "task-1", "qa-checker")

	// setup -> gather -> validate.
	_, _, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	state, _, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	require.Equal(t, graph.PhaseID("validate"), state.FSM.CurrentPhase)

	env.setMeta(t, id, session.MetaValidationStatus, session.ValidationNeedsRemediation)

	// Loop 1 and loop 2 are allowed; the third demand halts.
	for loop := 1; loop <= 2; loop++ {
		state, _, err = env.engine.Advance(ctx, id)
		require.NoError(t, err)
		require.Equal(t, graph.PhaseID("gather"), state.FSM.CurrentPhase, "loop %d", loop)
		require.Equal(t, loop, state.FSM.RemediationCounts["validate"])

		state, _, err = env.engine.Advance(ctx, id)
		require.NoError(t, err)
		require.Equal(t, graph.PhaseID("validate"), state.FSM.CurrentPhase)
	}

	state, directive, err := env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionHalted, directive.Action)
	assert.Equal(t, machine.StatusHalted, state.FSM.Status)
	assert.Contains(t, state.FSM.HaltReason, "max remediation loops reached")
}

func TestFailBranchCritical(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	state, _, err := env.engine.Start(ctx, "demo", "task-1")
	require.NoError(t, err)
	id := state.SessionID

	env.writeArtifact(t, "task-1", "setup-writer")
	_, _, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)

	state, directive, err := env.engine.FailBranch(ctx, id, "a", "worker crashed")
	require.ErrorIs(t, err, ErrCriticalBranchFailure)
	assert.Equal(t, ActionHalted, directive.Action)
	assert.Equal(t, machine.StatusHalted, state.FSM.Status)
	assert.Contains(t, state.FSM.HaltReason, "critical branch a failed")

	// The halt is durable.
	loaded, err := env.store.LoadWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, machine.StatusHalted, loaded.FSM.Status)
}

func TestFailBranchNonCritical(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	state, _, err := env.engine.Start(ctx, "demo", "task-1")
	require.NoError(t, err)
	id := state.SessionID

	env.writeArtifact(t, "task-1", "setup-writer")
	_, _, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)

	state, directive, err := env.engine.FailBranch(ctx, id, "b", "flaky tooling")
	require.NoError(t, err)
	assert.Equal(t, ActionWaitBranches, directive.Action)
	assert.Equal(t, machine.BranchFailed, state.FSM.ParallelBranches["gather"]["b"].Status)

	// The critical branch completing still lets the phase proceed: all
	// branches are terminal and no fail-on-error branch failed.
	env.writeArtifact(t, "task-1", "a-writer")
	state, _, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, graph.PhaseID("validate"), state.FSM.CurrentPhase)
}

func TestOptionalSkipAutoAndIterative(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	state, _, err := env.engine.Start(ctx, "full", "task-2")
	require.NoError(t, err)
	id := state.SessionID

	env.writeArtifact(t, "task-2", "plan-writer")
	state, directive, err := env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "polish-writer", directive.Worker)
	require.Equal(t, graph.PhaseID("polish"), state.FSM.CurrentPhase)

	// Skip condition set: polish is skipped without an artifact.
	env.setMeta(t, id, "skip_polish", "true")
	state, directive, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionAdvanceAgain, directive.Action)
	require.Equal(t, graph.PhaseID("gate"), state.FSM.CurrentPhase)
	require.Len(t, state.FSM.SkippedPhases, 1)
	assert.Equal(t, graph.PhaseID("polish"), state.FSM.SkippedPhases[0].Phase)

	// Auto phase advances without proof and enters the iterative
	// phase on its first worker.
	state, directive, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "x-writer", directive.Worker)
	require.Equal(t, graph.PhaseID("iterate"), state.FSM.CurrentPhase)

	// First iteration verified: stay on the phase, next worker.
	env.writeArtifact(t, "task-2", "x-writer")
	state, directive, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionInvokeWorker, directive.Action)
	assert.Equal(t, "y-writer", directive.Worker)
	require.Equal(t, graph.PhaseID("iterate"), state.FSM.CurrentPhase)
	assert.Equal(t, 1, state.FSM.IterationCounters["iterate"])

	// Last iteration verified: counters reset and, with no successor,
	// the workflow completes.
	env.writeArtifact(t, "task-2", "y-writer")
	state, directive, err = env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionComplete, directive.Action)
	assert.Equal(t, machine.StatusCompleted, state.FSM.Status)
	assert.Empty(t, state.FSM.IterationCounters)
}

func TestCompletionHook(t *testing.T) {
	ctx := context.Background()

	var completed []string
	env := newTestEnv(t, WithCompletionHook(func(_ context.Context, state *session.WorkflowState) error {
		completed = append(completed, state.SessionID)
		return nil
	}))

	state, _, err := env.engine.Start(ctx, "full", "task-3")
	require.NoError(t, err)
	id := state.SessionID

	env.writeArtifact(t, "task-3", "plan-writer")
	env.setMeta(t, id, "skip_polish", "true")
	env.writeArtifact(t, "task-3", "x-writer")
	env.writeArtifact(t, "task-3", "y-writer")

	for i := 0; i < 5; i++ {
		state, _, err = env.engine.Advance(ctx, id)
		require.NoError(t, err)
		if state.FSM.Status == machine.StatusCompleted {
			break
		}
	}
	require.Equal(t, machine.StatusCompleted, state.FSM.Status)
	assert.Equal(t, []string{id}, completed)
}

func TestLearningsFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	state, _, err := env.engine.Start(ctx, "full", "task-4")
	require.NoError(t, err)
	id := state.SessionID

	// Learnings cannot be required while executing.
	_, err = env.engine.RequireLearnings(ctx, id)
	assert.ErrorIs(t, err, machine.ErrInvalidTransition)

	env.writeArtifact(t, "task-4", "plan-writer")
	env.setMeta(t, id, "skip_polish", "true")
	env.writeArtifact(t, "task-4", "x-writer")
	env.writeArtifact(t, "task-4", "y-writer")
	for i := 0; i < 5; i++ {
		state, _, err = env.engine.Advance(ctx, id)
		require.NoError(t, err)
		if state.FSM.Status == machine.StatusCompleted {
			break
		}
	}
	require.Equal(t, machine.StatusCompleted, state.FSM.Status)

	state, err = env.engine.RequireLearnings(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, machine.StatusLearningsPending, state.FSM.Status)

	// No ordinary advancement out of learnings_pending.
	_, _, err = env.engine.Advance(ctx, id)
	assert.ErrorIs(t, err, ErrSessionTerminal)

	state, err = env.engine.CompleteLearnings(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, machine.StatusFullyComplete, state.FSM.Status)
}

func TestHalt(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	state, _, err := env.engine.Start(ctx, "demo", "task-5")
	require.NoError(t, err)

	state, directive, err := env.engine.Halt(ctx, state.SessionID, "operator abort")
	require.NoError(t, err)
	assert.Equal(t, ActionHalted, directive.Action)
	assert.Equal(t, "operator abort", state.FSM.HaltReason)

	_, _, err = env.engine.Advance(ctx, state.SessionID)
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestIterativeVerifiesCurrentWorker(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	state, _, err := env.engine.Start(ctx, "full", "task-6")
	require.NoError(t, err)
	id := state.SessionID

	env.writeArtifact(t, "task-6", "plan-writer")
	env.setMeta(t, id, "skip_polish", "true")
	for i := 0; i < 3; i++ {
		state, _, err = env.engine.Advance(ctx, id)
		require.NoError(t, err)
		if state.FSM.CurrentPhase == "iterate" {
			break
		}
	}
	require.Equal(t, graph.PhaseID("iterate"), state.FSM.CurrentPhase)

	// Proof for the wrong iteration worker does not count.
	env.writeArtifact(t, "task-6", "y-writer")
	_, _, err = env.engine.Advance(ctx, id)
	assert.ErrorIs(t, err, verify.ErrPhaseNotVerified)

	env.removeArtifact(t, "task-6", "y-writer")
	env.writeArtifact(t, "task-6", "x-writer")
	_, directive, err := env.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "y-writer", directive.Worker)
}
