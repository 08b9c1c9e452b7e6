package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stagehand-dev/stagehand/graph"
)

// Action tells the caller what to do next.
type Action string

const (
	// ActionInvokeWorker asks the caller to run one worker for the
	// named phase, then call Advance again.
	ActionInvokeWorker Action = "invoke_worker"
	// ActionInvokeBranches asks the caller to launch every listed
	// branch worker, then call Advance as branches finish.
	ActionInvokeBranches Action = "invoke_branches"
	// ActionAdvanceAgain asks the caller to call Advance immediately;
	// the current phase binds no worker.
	ActionAdvanceAgain Action = "advance_again"
	// ActionWaitBranches means branches are still outstanding; the
	// phase did not move.
	ActionWaitBranches Action = "wait_branches"
	// ActionComplete means every phase is done and the completion
	// routine has run.
	ActionComplete Action = "complete"
	// ActionHalted means the workflow reached a terminal halt.
	ActionHalted Action = "halted"
)

// BranchDirective names one branch worker to launch.
type BranchDirective struct {
	Branch graph.BranchID `json:"branch"`
	Worker string         `json:"worker"`
}

// Directive is the engine's structured instruction to its caller.
type Directive struct {
	Action Action        `json:"action"`
	Phase  graph.PhaseID `json:"phase,omitempty"`

	// Worker is set for ActionInvokeWorker.
	Worker string `json:"worker,omitempty"`

	// Branches is set for ActionInvokeBranches and ActionWaitBranches.
	Branches []BranchDirective `json:"branches,omitempty"`

	// HaltReason is set for ActionHalted.
	HaltReason string `json:"halt_reason,omitempty"`
}

// String renders the directive as the one-line instruction the CLI
// prints.
func (d Directive) String() string {
	switch d.Action {
	case ActionInvokeWorker:
		return fmt.Sprintf("invoke worker %s for phase %s, then advance", d.Worker, d.Phase)
	case ActionInvokeBranches:
		names := make([]string, 0, len(d.Branches))
		for _, b := range d.Branches {
			names = append(names, fmt.Sprintf("%s=%s", b.Branch, b.Worker))
		}
		return fmt.Sprintf("launch all branches for phase %s: %s", d.Phase, strings.Join(names, ", "))
	case ActionAdvanceAgain:
		return fmt.Sprintf("phase %s binds no worker, advance again", d.Phase)
	case ActionWaitBranches:
		return fmt.Sprintf("phase %s still has outstanding branches", d.Phase)
	case ActionComplete:
		return "workflow complete"
	case ActionHalted:
		return fmt.Sprintf("halted: %s", d.HaltReason)
	default:
		return string(d.Action)
	}
}

// branchDirectives builds a sorted branch list from a parallel phase
// definition.
func branchDirectives(def *graph.PhaseDefinition) []BranchDirective {
	out := make([]BranchDirective, 0, len(def.Branches))
	for id, spec := range def.Branches {
		out = append(out, BranchDirective{Branch: id, Worker: spec.Worker})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Branch < out[j].Branch })
	return out
}
