// Package machine implements the finite state machine that tracks one
// workflow instance: current phase, machine status, transition history,
// per-phase counters, and parallel branch state.
//
// The machine validates and applies transitions; it does not decide
// them. Choosing the next phase for a topology is the engine's job
// (package engine), which hands the chosen target to Transition.
//
// Status flow:
//
//	initialized -(Start)-> executing -(all phases done)-> completed
//	completed -(RequireLearnings)-> learnings_pending -(CompleteLearnings)-> fully_complete
//	executing -(Halt)-> halted   (from any phase)
//	executing <-> remediation    (bounded loop-back, engine-driven)
package machine

import (
	"fmt"

	"github.com/stagehand-dev/stagehand/graph"
)

// Status is the overall machine status.
type Status string

const (
	// StatusInitialized is the state before Start seeds the first phase.
	StatusInitialized Status = "initialized"
	// StatusExecuting means a phase is in flight.
	StatusExecuting Status = "executing"
	// StatusCompleted means every phase finished. Terminal for
	// ordinary transitions; only the learnings calls move past it.
	StatusCompleted Status = "completed"
	// StatusHalted is the terminal halt state, reached by Halt or by a
	// bounded loop being exhausted.
	StatusHalted Status = "halted"
	// StatusRemediation means the machine is looping back to an
	// earlier phase after a failed validation.
	StatusRemediation Status = "remediation"
	// StatusLearningsPending means completion is recorded but the
	// learnings capture step has not run yet.
	StatusLearningsPending Status = "learnings_pending"
	// StatusFullyComplete is the final state after learnings capture.
	StatusFullyComplete Status = "fully_complete"
)

// Terminal reports whether the status permits no further phase
// transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusHalted, StatusLearningsPending, StatusFullyComplete:
		return true
	default:
		return false
	}
}

// BranchStatus is the lifecycle status of one parallel branch.
type BranchStatus string

const (
	BranchPending    BranchStatus = "pending"
	BranchInProgress BranchStatus = "in_progress"
	BranchCompleted  BranchStatus = "completed"
	BranchFailed     BranchStatus = "failed"
)

// terminal reports whether a branch needs no further work.
func (s BranchStatus) terminal() bool {
	return s == BranchCompleted || s == BranchFailed
}

// BranchInfo tracks one branch of a parallel phase.
type BranchInfo struct {
	BranchID    graph.BranchID `json:"branch_id"`
	Status      BranchStatus   `json:"status"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	FailOnError bool           `json:"fail_on_error"`
}

// SkippedPhase records an Optional phase that was skipped, with the
// reason (typically the metadata key that triggered the skip).
type SkippedPhase struct {
	Phase  graph.PhaseID `json:"phase"`
	Reason string        `json:"reason"`
}

// Snapshot is the serializable state of a Machine. It round-trips
// through JSON without loss.
type Snapshot struct {
	CurrentPhase      graph.PhaseID                                     `json:"current_phase,omitempty"`
	Status            Status                                            `json:"status"`
	History           []string                                          `json:"history,omitempty"`
	SkippedPhases     []SkippedPhase                                    `json:"skipped_phases,omitempty"`
	IterationCounters map[graph.PhaseID]int                             `json:"iteration_counters,omitempty"`
	RemediationCounts map[graph.PhaseID]int                             `json:"remediation_counts,omitempty"`
	ParallelBranches  map[graph.PhaseID]map[graph.BranchID]*BranchInfo  `json:"parallel_branches,omitempty"`
	HaltReason        string                                            `json:"halt_reason,omitempty"`
}

// NewSnapshot returns an initialized, empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{Status: StatusInitialized}
}

// Machine drives transitions over a static phase graph.
type Machine struct {
	graph *graph.Graph
	snap  Snapshot
}

// New creates a Machine in the initialized state.
func New(g *graph.Graph) *Machine {
	return &Machine{graph: g, snap: NewSnapshot()}
}

// Restore creates a Machine from a persisted snapshot.
func Restore(g *graph.Graph, snap Snapshot) *Machine {
	if snap.Status == "" {
		snap.Status = StatusInitialized
	}
	return &Machine{graph: g, snap: snap}
}

// Snapshot returns a deep copy of the machine state for persistence.
func (m *Machine) Snapshot() Snapshot {
	out := m.snap
	out.History = append([]string(nil), m.snap.History...)
	out.SkippedPhases = append([]SkippedPhase(nil), m.snap.SkippedPhases...)
	if m.snap.IterationCounters != nil {
		out.IterationCounters = make(map[graph.PhaseID]int, len(m.snap.IterationCounters))
		for k, v := range m.snap.IterationCounters {
			out.IterationCounters[k] = v
		}
	}
	if m.snap.RemediationCounts != nil {
		out.RemediationCounts = make(map[graph.PhaseID]int, len(m.snap.RemediationCounts))
		for k, v := range m.snap.RemediationCounts {
			out.RemediationCounts[k] = v
		}
	}
	if m.snap.ParallelBranches != nil {
		out.ParallelBranches = make(map[graph.PhaseID]map[graph.BranchID]*BranchInfo, len(m.snap.ParallelBranches))
		for phase, branches := range m.snap.ParallelBranches {
			copied := make(map[graph.BranchID]*BranchInfo, len(branches))
			for id, info := range branches {
				c := *info
				copied[id] = &c
			}
			out.ParallelBranches[phase] = copied
		}
	}
	return out
}

// Current returns the current phase id, empty when none is in flight.
func (m *Machine) Current() graph.PhaseID { return m.snap.CurrentPhase }

// Status returns the machine status.
func (m *Machine) Status() Status { return m.snap.Status }

// HaltReason returns the recorded halt reason, if any.
func (m *Machine) HaltReason() string { return m.snap.HaltReason }

// History returns a copy of the transition history.
func (m *Machine) History() []string {
	return append([]string(nil), m.snap.History...)
}

// Start seeds the machine with the graph's first phase and returns it.
func (m *Machine) Start() (graph.PhaseID, error) {
	if m.snap.Status != StatusInitialized {
		return "", fmt.Errorf("%w: cannot start from status %s", ErrInvalidTransition, m.snap.Status)
	}
	first := m.graph.First()
	m.snap.CurrentPhase = first
	m.snap.Status = StatusExecuting
	m.snap.History = append(m.snap.History, fmt.Sprintf("start -> %s", first))
	return first, nil
}

// CanTransition reports whether moving to the target phase is allowed:
// the target must be reachable from the current phase per its topology
// (declared next, a skip-ahead across purely-Optional phases, the
// iterative self-target, or the remediation target), and the current
// phase must be verified unless it is Optional or Auto.
func (m *Machine) CanTransition(to graph.PhaseID, verified bool) bool {
	if m.snap.Status.Terminal() || m.snap.CurrentPhase == "" {
		return false
	}
	cur := m.graph.Phase(m.snap.CurrentPhase)
	if cur == nil || m.graph.Phase(to) == nil {
		return false
	}

	if !verified && cur.Topology != graph.TopologyOptional && cur.Topology != graph.TopologyAuto {
		return false
	}

	return m.validTarget(cur, to)
}

// validTarget checks reachability of to from cur per cur's topology.
func (m *Machine) validTarget(cur *graph.PhaseDefinition, to graph.PhaseID) bool {
	switch cur.Topology {
	case graph.TopologyIterative:
		if to == cur.ID {
			return true
		}
	case graph.TopologyRemediation:
		if to == cur.RemediationTarget {
			return true
		}
	}

	// Declared next, or skip-ahead across a chain of Optional phases.
	next := cur.Next
	for next != "" {
		if next == to {
			return true
		}
		def := m.graph.Phase(next)
		if def == nil || def.Topology != graph.TopologyOptional {
			return false
		}
		next = def.Next
	}
	return false
}

// Transition moves the machine to the target phase. It performs no
// mutation when the transition is rejected: an unverified move away
// from a phase that needs proof returns ErrNotVerified, and a target
// outside the graph's transition table returns ErrInvalidTransition.
func (m *Machine) Transition(to graph.PhaseID, verified bool) (graph.PhaseID, error) {
	if m.snap.Status.Terminal() {
		return m.snap.CurrentPhase, fmt.Errorf("%w: machine is %s", ErrInvalidTransition, m.snap.Status)
	}
	if m.snap.CurrentPhase == "" {
		return "", fmt.Errorf("%w: machine not started", ErrInvalidTransition)
	}

	cur := m.graph.Phase(m.snap.CurrentPhase)
	if cur == nil {
		return m.snap.CurrentPhase, fmt.Errorf("%w: current phase %q not in graph", ErrInvalidTransition, m.snap.CurrentPhase)
	}
	if m.graph.Phase(to) == nil {
		return m.snap.CurrentPhase, fmt.Errorf("%w: target phase %q not in graph", ErrInvalidTransition, to)
	}

	if !verified && cur.Topology != graph.TopologyOptional && cur.Topology != graph.TopologyAuto {
		return m.snap.CurrentPhase, fmt.Errorf("%w: phase %q", ErrNotVerified, cur.ID)
	}
	if !m.validTarget(cur, to) {
		return m.snap.CurrentPhase, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.ID, to)
	}

	m.snap.History = append(m.snap.History, fmt.Sprintf("%s -> %s", m.snap.CurrentPhase, to))
	m.snap.CurrentPhase = to
	if m.snap.Status == StatusRemediation && to != cur.RemediationTarget {
		m.snap.Status = StatusExecuting
	}
	return to, nil
}

// Complete marks the machine completed after the final phase. The
// current phase is cleared: no phase is in flight in a terminal state.
func (m *Machine) Complete() error {
	if m.snap.Status != StatusExecuting && m.snap.Status != StatusRemediation {
		return fmt.Errorf("%w: cannot complete from status %s", ErrInvalidTransition, m.snap.Status)
	}
	m.snap.History = append(m.snap.History, fmt.Sprintf("%s -> completed", m.snap.CurrentPhase))
	m.snap.CurrentPhase = ""
	m.snap.Status = StatusCompleted
	return nil
}

// Halt moves the machine to the terminal halted state with a reason.
// Halting an already-terminal machine is rejected.
func (m *Machine) Halt(reason string) error {
	if m.snap.Status.Terminal() {
		return fmt.Errorf("%w: cannot halt from status %s", ErrInvalidTransition, m.snap.Status)
	}
	m.snap.History = append(m.snap.History, fmt.Sprintf("%s -> halted", m.snap.CurrentPhase))
	m.snap.CurrentPhase = ""
	m.snap.Status = StatusHalted
	m.snap.HaltReason = reason
	return nil
}

// RequireLearnings moves a completed machine to learnings_pending.
// This is the only way out of completed.
func (m *Machine) RequireLearnings() error {
	if m.snap.Status != StatusCompleted {
		return fmt.Errorf("%w: learnings require status completed, machine is %s", ErrInvalidTransition, m.snap.Status)
	}
	m.snap.History = append(m.snap.History, "completed -> learnings_pending")
	m.snap.Status = StatusLearningsPending
	return nil
}

// CompleteLearnings moves a learnings_pending machine to the final
// fully_complete state.
func (m *Machine) CompleteLearnings() error {
	if m.snap.Status != StatusLearningsPending {
		return fmt.Errorf("%w: cannot finish learnings from status %s", ErrInvalidTransition, m.snap.Status)
	}
	m.snap.History = append(m.snap.History, "learnings_pending -> fully_complete")
	m.snap.Status = StatusFullyComplete
	return nil
}

// EnterRemediation flags the machine as looping back after a failed
// validation. The engine calls Transition to the remediation target
// immediately afterwards.
func (m *Machine) EnterRemediation() {
	if m.snap.Status == StatusExecuting {
		m.snap.Status = StatusRemediation
	}
}

// ResumeExecuting clears the remediation flag once the loop-back
// target phase is re-verified.
func (m *Machine) ResumeExecuting() {
	if m.snap.Status == StatusRemediation {
		m.snap.Status = StatusExecuting
	}
}

// MarkSkipped records an Optional phase as skipped with a reason.
func (m *Machine) MarkSkipped(phase graph.PhaseID, reason string) {
	m.snap.SkippedPhases = append(m.snap.SkippedPhases, SkippedPhase{Phase: phase, Reason: reason})
}

// SkippedPhases returns a copy of the skip records.
func (m *Machine) SkippedPhases() []SkippedPhase {
	return append([]SkippedPhase(nil), m.snap.SkippedPhases...)
}

// IterationCount returns the iteration counter for a phase.
func (m *Machine) IterationCount(phase graph.PhaseID) int {
	return m.snap.IterationCounters[phase]
}

// AdvanceIteration increments the iteration counter for a phase and
// returns the new value.
func (m *Machine) AdvanceIteration(phase graph.PhaseID) int {
	if m.snap.IterationCounters == nil {
		m.snap.IterationCounters = make(map[graph.PhaseID]int)
	}
	m.snap.IterationCounters[phase]++
	return m.snap.IterationCounters[phase]
}

// ResetIteration clears the iteration counter once an Iterative phase
// proceeds to its successor.
func (m *Machine) ResetIteration(phase graph.PhaseID) {
	delete(m.snap.IterationCounters, phase)
}

// RemediationCount returns how many times a Remediation phase has
// looped back.
func (m *Machine) RemediationCount(phase graph.PhaseID) int {
	return m.snap.RemediationCounts[phase]
}

// AdvanceRemediation increments the loop-back counter for a phase and
// returns the new value.
func (m *Machine) AdvanceRemediation(phase graph.PhaseID) int {
	if m.snap.RemediationCounts == nil {
		m.snap.RemediationCounts = make(map[graph.PhaseID]int)
	}
	m.snap.RemediationCounts[phase]++
	return m.snap.RemediationCounts[phase]
}

// InitBranches creates pending BranchInfo entries for a parallel phase
// on first entry. Re-entering the phase (a remediation loop-back)
// resets every branch to pending so the work is re-verified.
func (m *Machine) InitBranches(phase graph.PhaseID, specs map[graph.BranchID]graph.BranchSpec) {
	if m.snap.ParallelBranches == nil {
		m.snap.ParallelBranches = make(map[graph.PhaseID]map[graph.BranchID]*BranchInfo)
	}
	branches := make(map[graph.BranchID]*BranchInfo, len(specs))
	for id, spec := range specs {
		branches[id] = &BranchInfo{
			BranchID:    id,
			Status:      BranchPending,
			FailOnError: spec.FailOnError,
		}
	}
	m.snap.ParallelBranches[phase] = branches
}

// Branches returns the tracked branch map for a phase, nil when the
// phase has not been entered.
func (m *Machine) Branches(phase graph.PhaseID) map[graph.BranchID]*BranchInfo {
	return m.snap.ParallelBranches[phase]
}

// SetBranchStatus updates one branch's status, output, and error text.
func (m *Machine) SetBranchStatus(phase graph.PhaseID, branch graph.BranchID, status BranchStatus, output, errText string) error {
	branches := m.snap.ParallelBranches[phase]
	if branches == nil {
		return fmt.Errorf("%w: phase %q has no tracked branches", ErrInvalidTransition, phase)
	}
	info := branches[branch]
	if info == nil {
		return fmt.Errorf("%w: phase %q has no branch %q", ErrInvalidTransition, phase, branch)
	}
	info.Status = status
	if output != "" {
		info.Output = output
	}
	info.Error = errText
	return nil
}

// AreAllBranchesComplete reports whether every branch of a phase is
// terminal (completed or failed).
func (m *Machine) AreAllBranchesComplete(phase graph.PhaseID) bool {
	branches := m.snap.ParallelBranches[phase]
	if len(branches) == 0 {
		return false
	}
	for _, info := range branches {
		if !info.Status.terminal() {
			return false
		}
	}
	return true
}

// FailedCriticalBranch returns the first failed branch marked
// fail-on-error, if any.
func (m *Machine) FailedCriticalBranch(phase graph.PhaseID) (graph.BranchID, bool) {
	for id, info := range m.snap.ParallelBranches[phase] {
		if info.FailOnError && info.Status == BranchFailed {
			return id, true
		}
	}
	return "", false
}
