// Package reasoning drives the route-selection pipeline: a strictly
// ordered nine-position state machine with one conditional skip (agent
// mode bypasses route drafting) and a bounded loop-back at the
// terminal knowledge-transfer position. The controller validates and
// applies stage moves; the cognitive work at each stage happens in the
// caller, which reports its analysis back.
package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stagehand-dev/stagehand/session"
	"github.com/stagehand-dev/stagehand/storage"
)

// MaxIterations bounds how many times knowledge transfer may loop the
// pipeline back for re-evaluation. Exceeding it forces a halt.
const MaxIterations = 3

// Dispatcher hands a completed session's route to the downstream
// system.
type Dispatcher interface {
	Enqueue(ctx context.Context, rec *session.DispatchRecord) error
}

// Outcome is the caller-reported result of the knowledge-transfer
// stage.
type Outcome string

const (
	// OutcomeProceed records the final route and completes the session.
	OutcomeProceed Outcome = "proceed"
	// OutcomeHalt stops the session pending external clarification.
	OutcomeHalt Outcome = "halt"
	// OutcomeLoopBack sends the pipeline back to route drafting.
	OutcomeLoopBack Outcome = "loop_back"
)

// Report carries the knowledge-transfer analysis back into the
// controller.
type Report struct {
	Outcome Outcome

	// Route is the selected route (proceed) or the discarded
	// preliminary route (loop back).
	Route string

	// Reason explains a halt or a loop-back.
	Reason string

	// Questions are the clarifications a halted session needs answered.
	Questions []string

	// ContradictionDetected flags that the contradiction check fired
	// during this pass.
	ContradictionDetected bool
}

// Controller owns reasoning session lifecycle and stage transitions.
type Controller struct {
	store      storage.Store
	dispatcher Dispatcher
	logger     *slog.Logger
}

// New creates a Controller. The dispatcher may be nil when no
// downstream hand-off is wired; completed sessions then rely on the
// recovery scan.
func New(store storage.Store, dispatcher Dispatcher, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{store: store, dispatcher: dispatcher, logger: logger}
}

// StartSession creates a reasoning session at the first pipeline
// position and persists it.
func (c *Controller) StartSession(ctx context.Context, query string, agentMode bool) (*session.ReasoningState, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	state := session.NewReasoning(query, agentMode)
	if err := c.store.SaveReasoning(ctx, state); err != nil {
		return nil, err
	}

	c.logger.Info("Started reasoning session",
		"session_id", state.SessionID,
		"agent_mode", agentMode)
	return state, nil
}

// Get loads a reasoning session without mutating it.
func (c *Controller) Get(ctx context.Context, sessionID string) (*session.ReasoningState, error) {
	return c.store.LoadReasoning(ctx, sessionID)
}

// AdvanceStage moves an active session to its next pipeline position.
// In agent mode, skill detection skips route drafting. The terminal
// knowledge-transfer position does not advance this way; it concludes
// through ReportKnowledgeTransfer.
func (c *Controller) AdvanceStage(ctx context.Context, sessionID string) (*session.ReasoningState, error) {
	state, err := c.store.LoadReasoning(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Status != session.ReasoningActive {
		return state, fmt.Errorf("%w: session %s is %s", ErrSessionNotActive, sessionID, state.Status)
	}
	if state.Stage == session.StageKnowledgeTransfer {
		return state, fmt.Errorf("%w: knowledge transfer concludes via report, not advance", ErrWrongStage)
	}

	next := state.Stage + 1
	if state.AgentMode && state.Stage == session.StageSkillDetection {
		next = session.StageRouteEvaluation
	}

	state.Stage = next
	state.Touch()
	if err := c.store.SaveReasoning(ctx, state); err != nil {
		return state, err
	}

	c.logger.Debug("Reasoning stage advanced",
		"session_id", sessionID,
		"stage", next.String())
	return state, nil
}

// ReportKnowledgeTransfer applies the caller's terminal-stage analysis:
// proceed (record the final route, complete, create the pending
// dispatch), halt (record reason and questions), or loop back (bounded
// re-entry at route drafting). A loop-back past MaxIterations is
// converted into a halt.
func (c *Controller) ReportKnowledgeTransfer(ctx context.Context, sessionID string, report Report) (*session.ReasoningState, error) {
	state, err := c.store.LoadReasoning(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Status != session.ReasoningActive {
		return state, fmt.Errorf("%w: session %s is %s", ErrSessionNotActive, sessionID, state.Status)
	}
	if state.Stage != session.StageKnowledgeTransfer {
		return state, fmt.Errorf("%w: session %s is at %s", ErrWrongStage, sessionID, state.Stage)
	}

	if report.ContradictionDetected {
		state.ContradictionDetected = true
	}

	outcome := report.Outcome
	if outcome == OutcomeLoopBack && state.IterationCount >= MaxIterations {
		report.Reason = fmt.Sprintf("max re-evaluation iterations (%d) reached: %s", MaxIterations, report.Reason)
		outcome = OutcomeHalt
	}

	switch outcome {
	case OutcomeProceed:
		if report.Route == "" {
			return state, fmt.Errorf("proceed outcome requires a route")
		}
		state.FinalRoute = report.Route
		state.Status = session.ReasoningCompleted
		state.PendingDispatch = session.NewDispatchRecord(state.SessionID, report.Route)
	case OutcomeHalt:
		state.HaltReason = report.Reason
		state.ClarificationQuestions = report.Questions
		state.Status = session.ReasoningHalted
	case OutcomeLoopBack:
		state.IterationCount++
		state.PreliminaryRoutes = append(state.PreliminaryRoutes, session.RouteAttempt{
			Route:     report.Route,
			Iteration: state.IterationCount,
			Reason:    report.Reason,
			AttemptAt: time.Now().UTC(),
		})
		state.Stage = session.StageRouteDrafting
	default:
		return state, fmt.Errorf("unknown knowledge transfer outcome %q", report.Outcome)
	}

	// The state change is durable before any hand-off attempt, so a
	// crash between save and enqueue is recoverable by scan.
	state.Touch()
	if err := c.store.SaveReasoning(ctx, state); err != nil {
		return state, err
	}

	switch outcome {
	case OutcomeProceed:
		c.logger.Info("Reasoning session completed",
			"session_id", sessionID,
			"route", state.FinalRoute,
			"iterations", state.IterationCount)
		c.enqueue(ctx, state)
	case OutcomeHalt:
		c.logger.Warn("Reasoning session halted",
			"session_id", sessionID,
			"reason", state.HaltReason,
			"questions", len(state.ClarificationQuestions))
	case OutcomeLoopBack:
		c.logger.Info("Reasoning loop-back",
			"session_id", sessionID,
			"iteration", state.IterationCount,
			"reason", report.Reason)
	}
	return state, nil
}

// ConfirmDispatch clears the pending hand-off once the downstream
// consumer acknowledged it. The dispatch ID must match, so a stale
// confirmation cannot clear a newer record.
func (c *Controller) ConfirmDispatch(ctx context.Context, sessionID, dispatchID string) error {
	state, err := c.store.LoadReasoning(ctx, sessionID)
	if err != nil {
		return err
	}
	if state.PendingDispatch == nil {
		return nil
	}
	if state.PendingDispatch.ID != dispatchID {
		return fmt.Errorf("dispatch %s does not match pending %s for session %s", dispatchID, state.PendingDispatch.ID, sessionID)
	}

	state.PendingDispatch = nil
	state.Touch()
	return c.store.SaveReasoning(ctx, state)
}

// RecoverPending scans every reasoning session for an unconfirmed
// dispatch record and re-enqueues each one. Enqueueing is idempotent
// on the record ID, so rescanning is safe. Returns how many records
// were re-enqueued.
func (c *Controller) RecoverPending(ctx context.Context) (int, error) {
	if c.dispatcher == nil {
		return 0, fmt.Errorf("no dispatcher configured")
	}

	states, err := c.store.ListReasoning(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, state := range states {
		if state.PendingDispatch == nil {
			continue
		}
		if err := c.dispatcher.Enqueue(ctx, state.PendingDispatch); err != nil {
			c.logger.Warn("Failed to re-enqueue pending dispatch",
				"session_id", state.SessionID,
				"dispatch_id", state.PendingDispatch.ID,
				"error", err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		c.logger.Info("Recovered pending dispatches", "count", recovered)
	}
	return recovered, nil
}

// enqueue hands off a completed session, tolerating failure: the
// pending record stays on the session for the recovery scan.
func (c *Controller) enqueue(ctx context.Context, state *session.ReasoningState) {
	if c.dispatcher == nil || state.PendingDispatch == nil {
		return
	}
	if err := c.dispatcher.Enqueue(ctx, state.PendingDispatch); err != nil {
		c.logger.Warn("Dispatch enqueue failed, record left pending",
			"session_id", state.SessionID,
			"dispatch_id", state.PendingDispatch.ID,
			"error", err)
	}
}
