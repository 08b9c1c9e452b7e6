// Package engine implements the phase advancer: the orchestration
// entry point that verifies the current phase, computes the next phase
// per its topology, mutates the state machine, persists the session,
// and emits a directive describing the next required action.
//
// Every call loads the session fresh and persists it before returning,
// so the engine survives being re-invoked as a new process on every
// step. Verification failures return before any mutation, which makes
// retrying Advance with no new evidence a safe no-op.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stagehand-dev/stagehand/graph"
	"github.com/stagehand-dev/stagehand/machine"
	"github.com/stagehand-dev/stagehand/session"
	"github.com/stagehand-dev/stagehand/storage"
	"github.com/stagehand-dev/stagehand/verify"
)

// CompletionFunc runs once when a workflow's final phase is verified
// and the machine moves to completed.
type CompletionFunc func(ctx context.Context, state *session.WorkflowState) error

// Engine drives workflow sessions through their phase graphs.
type Engine struct {
	graphs     map[string]*graph.Graph
	store      storage.Store
	verifier   *verify.Verifier
	logger     *slog.Logger
	metrics    *Metrics
	onComplete CompletionFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics installs a shared metrics set, for processes that also
// serve the metrics endpoint.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCompletionHook installs the routine invoked when a workflow
// completes.
func WithCompletionHook(fn CompletionFunc) Option {
	return func(e *Engine) { e.onComplete = fn }
}

// New creates an Engine over the loaded phase graphs.
func New(graphs map[string]*graph.Graph, store storage.Store, verifier *verify.Verifier, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		graphs:   graphs,
		store:    store,
		verifier: verifier,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return e
}

// Graph returns the loaded phase graph for a workflow name, nil when
// unknown.
func (e *Engine) Graph(name string) *graph.Graph {
	return e.graphs[name]
}

// Get loads a session without mutating it.
func (e *Engine) Get(ctx context.Context, sessionID string) (*session.WorkflowState, error) {
	return e.store.LoadWorkflow(ctx, sessionID)
}

// Start creates a new session for the named workflow and returns the
// directive for its first phase.
func (e *Engine) Start(ctx context.Context, workflowName, taskID string) (*session.WorkflowState, Directive, error) {
	g := e.graphs[workflowName]
	if g == nil {
		return nil, Directive{}, fmt.Errorf("%w: %q", ErrUnknownWorkflow, workflowName)
	}

	state := session.New(workflowName, taskID)
	fsm := machine.New(g)
	first, err := fsm.Start()
	if err != nil {
		return nil, Directive{}, err
	}

	directive := e.enterPhase(fsm, g.Phase(first))
	if err := e.persist(ctx, state, fsm); err != nil {
		return nil, Directive{}, err
	}

	e.metrics.SessionsStarted.WithLabelValues(workflowName).Inc()
	e.logger.Info("Started workflow session",
		"workflow", workflowName,
		"task_id", taskID,
		"session_id", state.SessionID,
		"first_phase", first)
	return state, directive, nil
}

// Advance verifies the current phase, computes the next phase per its
// topology, applies the transition, persists, and returns the next
// directive. When verification fails the session is returned unchanged
// alongside the wrapped verify.ErrPhaseNotVerified.
func (e *Engine) Advance(ctx context.Context, sessionID string) (*session.WorkflowState, Directive, error) {
	state, g, fsm, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, Directive{}, err
	}

	if fsm.Status().Terminal() || fsm.Status() == machine.StatusLearningsPending {
		return state, Directive{}, fmt.Errorf("%w: session %s is %s", ErrSessionTerminal, sessionID, fsm.Status())
	}
	cur := g.Phase(fsm.Current())
	if cur == nil {
		return state, Directive{}, fmt.Errorf("%w: session %s has no current phase", machine.ErrInvalidTransition, sessionID)
	}

	if cur.Topology == graph.TopologyParallel {
		return e.advanceParallel(ctx, state, g, fsm, cur)
	}

	// Verify the current phase before anything moves.
	verified := true
	skipped := false
	switch {
	case cur.Topology == graph.TopologyAuto:
		// Auto phases bind no worker and need no proof.
	case cur.Topology == graph.TopologyOptional && state.SkipConditionSet(cur.SkipConditionKey):
		fsm.MarkSkipped(cur.ID, fmt.Sprintf("skip condition %s set", cur.SkipConditionKey))
		verified = false
		skipped = true
	default:
		worker := cur.Worker
		if cur.Topology == graph.TopologyIterative {
			worker = cur.IterationWorkers[fsm.IterationCount(cur.ID)]
		}
		result, err := e.verifier.RequireCompletion(state.TaskID, worker)
		if err != nil {
			e.metrics.VerificationFailures.WithLabelValues(state.WorkflowName).Inc()
			e.logger.Warn("Phase verification failed",
				"session_id", sessionID,
				"phase", cur.ID,
				"worker", worker,
				"error", err)
			return state, Directive{}, err
		}
		state.RecordOutput(cur.ID, worker, result.ArtifactPath)
	}

	// Compute the next phase per the current phase's topology.
	next := cur.Next
	switch cur.Topology {
	case graph.TopologyIterative:
		count := fsm.AdvanceIteration(cur.ID)
		if count < len(cur.IterationWorkers) {
			if _, err := fsm.Transition(cur.ID, true); err != nil {
				return state, Directive{}, err
			}
			directive := Directive{
				Action: ActionInvokeWorker,
				Phase:  cur.ID,
				Worker: cur.IterationWorkers[count],
			}
			if err := e.persist(ctx, state, fsm); err != nil {
				return state, Directive{}, err
			}
			e.metrics.Advances.WithLabelValues(state.WorkflowName).Inc()
			return state, directive, nil
		}
		fsm.ResetIteration(cur.ID)
	case graph.TopologyRemediation:
		if state.NeedsRemediation() {
			if fsm.RemediationCount(cur.ID) >= cur.MaxRemediation {
				return e.haltSession(ctx, state, fsm,
					fmt.Sprintf("max remediation loops reached for phase %s", cur.ID), "max_remediation")
			}
			count := fsm.AdvanceRemediation(cur.ID)
			fsm.EnterRemediation()
			if _, err := fsm.Transition(cur.RemediationTarget, true); err != nil {
				return state, Directive{}, err
			}
			directive := e.enterPhase(fsm, g.Phase(cur.RemediationTarget))
			if err := e.persist(ctx, state, fsm); err != nil {
				return state, Directive{}, err
			}
			e.metrics.RemediationLoops.WithLabelValues(state.WorkflowName).Inc()
			e.logger.Info("Remediation loop-back",
				"session_id", sessionID,
				"phase", cur.ID,
				"target", cur.RemediationTarget,
				"loop", count)
			return state, directive, nil
		}
		// Validation passed; a stale flag value must not trigger a
		// future loop.
		state.ClearMeta(session.MetaValidationStatus)
	}

	return e.proceed(ctx, state, g, fsm, cur, next, verified, skipped)
}

// advanceParallel re-checks every branch artifact, then either gates,
// halts on a failed critical branch, or proceeds once all branches are
// terminal.
func (e *Engine) advanceParallel(ctx context.Context, state *session.WorkflowState, g *graph.Graph, fsm *machine.Machine, cur *graph.PhaseDefinition) (*session.WorkflowState, Directive, error) {
	if fsm.Branches(cur.ID) == nil {
		fsm.InitBranches(cur.ID, cur.Branches)
	}
	branches := fsm.Branches(cur.ID)

	results := e.verifier.VerifyParallelBranches(state.TaskID, cur.Branches)
	for id, result := range results {
		info := branches[id]
		if info == nil || info.Status == machine.BranchFailed {
			continue
		}
		if result.Passed {
			if err := fsm.SetBranchStatus(cur.ID, id, machine.BranchCompleted, result.ArtifactPath, ""); err != nil {
				return state, Directive{}, err
			}
		}
	}

	if id, ok := fsm.FailedCriticalBranch(cur.ID); ok {
		return e.haltSession(ctx, state, fsm,
			fmt.Sprintf("critical branch %s failed on phase %s", id, cur.ID), "critical_branch")
	}

	if !fsm.AreAllBranchesComplete(cur.ID) {
		var outstanding []BranchDirective
		for _, b := range branchDirectives(cur) {
			info := branches[b.Branch]
			if info != nil && (info.Status == machine.BranchPending || info.Status == machine.BranchInProgress) {
				outstanding = append(outstanding, b)
			}
		}
		// Branch completions observed this call are still worth
		// keeping.
		if err := e.persist(ctx, state, fsm); err != nil {
			return state, Directive{}, err
		}
		return state, Directive{Action: ActionWaitBranches, Phase: cur.ID, Branches: outstanding}, nil
	}

	state.RecordOutput(cur.ID, "", "")
	return e.proceed(ctx, state, g, fsm, cur, cur.Next, true, false)
}

// proceed applies the computed transition (or completion), persists,
// and emits the entry directive for the next phase.
func (e *Engine) proceed(ctx context.Context, state *session.WorkflowState, g *graph.Graph, fsm *machine.Machine, cur *graph.PhaseDefinition, next graph.PhaseID, verified, skipped bool) (*session.WorkflowState, Directive, error) {
	if next == "" {
		if err := fsm.Complete(); err != nil {
			return state, Directive{}, err
		}
		if err := e.persist(ctx, state, fsm); err != nil {
			return state, Directive{}, err
		}
		e.metrics.Advances.WithLabelValues(state.WorkflowName).Inc()
		e.logger.Info("Workflow completed",
			"workflow", state.WorkflowName,
			"session_id", state.SessionID)
		if e.onComplete != nil {
			if err := e.onComplete(ctx, state); err != nil {
				return state, Directive{Action: ActionComplete}, fmt.Errorf("completion routine: %w", err)
			}
		}
		return state, Directive{Action: ActionComplete}, nil
	}

	if _, err := fsm.Transition(next, verified); err != nil {
		return state, Directive{}, err
	}
	directive := e.enterPhase(fsm, g.Phase(next))
	if err := e.persist(ctx, state, fsm); err != nil {
		return state, Directive{}, err
	}

	e.metrics.Advances.WithLabelValues(state.WorkflowName).Inc()
	e.logger.Info("Advanced workflow",
		"session_id", state.SessionID,
		"from", cur.ID,
		"to", next,
		"skipped", skipped)
	return state, directive, nil
}

// enterPhase performs phase-entry setup and builds the entry
// directive. Entering a parallel phase (including a remediation
// loop-back re-entry) resets its branches to pending.
func (e *Engine) enterPhase(fsm *machine.Machine, def *graph.PhaseDefinition) Directive {
	switch def.Topology {
	case graph.TopologyParallel:
		fsm.InitBranches(def.ID, def.Branches)
		return Directive{Action: ActionInvokeBranches, Phase: def.ID, Branches: branchDirectives(def)}
	case graph.TopologyAuto:
		return Directive{Action: ActionAdvanceAgain, Phase: def.ID}
	case graph.TopologyIterative:
		return Directive{
			Action: ActionInvokeWorker,
			Phase:  def.ID,
			Worker: def.IterationWorkers[fsm.IterationCount(def.ID)],
		}
	default:
		return Directive{Action: ActionInvokeWorker, Phase: def.ID, Worker: def.Worker}
	}
}

// Halt moves a session to the terminal halted state with an
// operator-supplied reason.
func (e *Engine) Halt(ctx context.Context, sessionID, reason string) (*session.WorkflowState, Directive, error) {
	state, _, fsm, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, Directive{}, err
	}
	return e.haltSession(ctx, state, fsm, reason, "manual")
}

// FailBranch marks one branch of the current parallel phase as failed.
// Failing a fail-on-error branch halts the workflow and returns
// ErrCriticalBranchFailure after the halt is persisted.
func (e *Engine) FailBranch(ctx context.Context, sessionID string, branch graph.BranchID, errText string) (*session.WorkflowState, Directive, error) {
	state, g, fsm, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, Directive{}, err
	}

	cur := g.Phase(fsm.Current())
	if cur == nil || cur.Topology != graph.TopologyParallel {
		return state, Directive{}, fmt.Errorf("%w: current phase is not parallel", machine.ErrInvalidTransition)
	}
	if fsm.Branches(cur.ID) == nil {
		fsm.InitBranches(cur.ID, cur.Branches)
	}
	if err := fsm.SetBranchStatus(cur.ID, branch, machine.BranchFailed, "", errText); err != nil {
		return state, Directive{}, err
	}

	if spec, ok := cur.Branches[branch]; ok && spec.FailOnError {
		state, directive, err := e.haltSession(ctx, state, fsm,
			fmt.Sprintf("critical branch %s failed on phase %s: %s", branch, cur.ID, errText), "critical_branch")
		if err != nil {
			return state, directive, err
		}
		return state, directive, fmt.Errorf("%w: branch %s: %s", ErrCriticalBranchFailure, branch, errText)
	}

	if err := e.persist(ctx, state, fsm); err != nil {
		return state, Directive{}, err
	}
	e.logger.Warn("Branch failed",
		"session_id", sessionID,
		"phase", cur.ID,
		"branch", branch,
		"error", errText)
	return state, Directive{Action: ActionWaitBranches, Phase: cur.ID}, nil
}

// RequireLearnings moves a completed session to learnings_pending.
func (e *Engine) RequireLearnings(ctx context.Context, sessionID string) (*session.WorkflowState, error) {
	state, _, fsm, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fsm.RequireLearnings(); err != nil {
		return state, err
	}
	if err := e.persist(ctx, state, fsm); err != nil {
		return state, err
	}
	return state, nil
}

// CompleteLearnings moves a learnings_pending session to
// fully_complete.
func (e *Engine) CompleteLearnings(ctx context.Context, sessionID string) (*session.WorkflowState, error) {
	state, _, fsm, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fsm.CompleteLearnings(); err != nil {
		return state, err
	}
	if err := e.persist(ctx, state, fsm); err != nil {
		return state, err
	}
	return state, nil
}

func (e *Engine) haltSession(ctx context.Context, state *session.WorkflowState, fsm *machine.Machine, reason, class string) (*session.WorkflowState, Directive, error) {
	if err := fsm.Halt(reason); err != nil {
		return state, Directive{}, err
	}
	if err := e.persist(ctx, state, fsm); err != nil {
		return state, Directive{}, err
	}
	e.metrics.Halts.WithLabelValues(state.WorkflowName, class).Inc()
	e.logger.Warn("Workflow halted",
		"session_id", state.SessionID,
		"reason", reason)
	return state, Directive{Action: ActionHalted, HaltReason: reason}, nil
}

func (e *Engine) loadSession(ctx context.Context, sessionID string) (*session.WorkflowState, *graph.Graph, *machine.Machine, error) {
	state, err := e.store.LoadWorkflow(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, nil, nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrSessionNotFound)
		}
		return nil, nil, nil, err
	}
	g := e.graphs[state.WorkflowName]
	if g == nil {
		return nil, nil, nil, fmt.Errorf("%w: session %s references %q", ErrUnknownWorkflow, sessionID, state.WorkflowName)
	}
	return state, g, machine.Restore(g, state.FSM), nil
}

func (e *Engine) persist(ctx context.Context, state *session.WorkflowState, fsm *machine.Machine) error {
	state.FSM = fsm.Snapshot()
	state.Touch()
	if err := e.store.SaveWorkflow(ctx, state); err != nil {
		return fmt.Errorf("persist session %s: %w", state.SessionID, err)
	}
	return nil
}
