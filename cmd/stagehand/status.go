package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/graph"
	"github.com/stagehand-dev/stagehand/machine"
	"github.com/stagehand-dev/stagehand/session"
)

func newStatusCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show session status, or list all sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				ids, err := a.store.ListWorkflowSessions(ctx)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					fmt.Println("No sessions")
					return nil
				}
				sort.Strings(ids)
				for _, id := range ids {
					state, err := a.store.LoadWorkflow(ctx, id)
					if err != nil {
						continue
					}
					fmt.Printf("%s  %-12s %-10s %s\n", id, state.WorkflowName, state.FSM.Status, state.TaskID)
				}
				return nil
			}

			state, err := a.store.LoadWorkflow(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Print(renderStatus(state, a.engine.Graph(state.WorkflowName)))
			return nil
		},
	}
}

// renderStatus builds the human-readable session report.
func renderStatus(state *session.WorkflowState, g *graph.Graph) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## %s\n\n", state.WorkflowName))
	sb.WriteString(fmt.Sprintf("**Session**: `%s`\n", state.SessionID))
	sb.WriteString(fmt.Sprintf("**Task**: %s\n", state.TaskID))
	sb.WriteString(fmt.Sprintf("**Status**: %s\n", formatStatus(state.FSM.Status)))
	if state.FSM.HaltReason != "" {
		sb.WriteString(fmt.Sprintf("**Halt reason**: %s\n", state.FSM.HaltReason))
	}
	sb.WriteString(fmt.Sprintf("**Created**: %s\n", state.CreatedAt.Format("2006-01-02 15:04")))
	sb.WriteString(fmt.Sprintf("**Updated**: %s\n\n", state.UpdatedAt.Format("2006-01-02 15:04")))

	if g != nil {
		sb.WriteString("### Progress\n\n")
		sb.WriteString(phaseProgress(state, g))
		sb.WriteString("\n### Phases\n\n")
		sb.WriteString("| Phase | Topology | Worker | State |\n")
		sb.WriteString("|-------|----------|--------|-------|\n")
		for _, def := range g.Phases() {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				def.ID, def.Topology, phaseWorker(def), phaseState(state, def)))
		}
	}

	if len(state.FSM.ParallelBranches) > 0 {
		sb.WriteString("\n### Branches\n\n")
		sb.WriteString("| Phase | Branch | Status | Error |\n")
		sb.WriteString("|-------|--------|--------|-------|\n")
		for phase, branches := range state.FSM.ParallelBranches {
			ids := make([]graph.BranchID, 0, len(branches))
			for id := range branches {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			for _, id := range ids {
				info := branches[id]
				sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n", phase, id, info.Status, info.Error))
			}
		}
	}

	if len(state.FSM.History) > 0 {
		sb.WriteString("\n### History\n\n")
		for _, entry := range state.FSM.History {
			sb.WriteString(fmt.Sprintf("- %s\n", entry))
		}
	}

	return sb.String()
}

// formatStatus renders a machine status with a marker.
func formatStatus(status machine.Status) string {
	switch status {
	case machine.StatusInitialized:
		return "○ initialized"
	case machine.StatusExecuting:
		return "▶ executing"
	case machine.StatusCompleted:
		return "✓ completed"
	case machine.StatusHalted:
		return "✗ halted"
	case machine.StatusRemediation:
		return "↻ remediation"
	case machine.StatusLearningsPending:
		return "… learnings pending"
	case machine.StatusFullyComplete:
		return "✓ fully complete"
	default:
		return string(status)
	}
}

// phaseProgress shows the phase chain as a visual indicator.
func phaseProgress(state *session.WorkflowState, g *graph.Graph) string {
	var sb strings.Builder
	sb.WriteString("```\n")

	currentIdx := -1
	phases := g.Phases()
	for i, def := range phases {
		if def.ID == state.FSM.CurrentPhase {
			currentIdx = i
			break
		}
	}
	done := state.FSM.Status == machine.StatusCompleted ||
		state.FSM.Status == machine.StatusLearningsPending ||
		state.FSM.Status == machine.StatusFullyComplete

	for i, def := range phases {
		switch {
		case done || (currentIdx >= 0 && i < currentIdx):
			sb.WriteString(fmt.Sprintf("[✓] %s", def.ID))
		case i == currentIdx:
			sb.WriteString(fmt.Sprintf("[▶] %s", def.ID))
		default:
			sb.WriteString(fmt.Sprintf("[ ] %s", def.ID))
		}
		if i < len(phases)-1 {
			sb.WriteString(" → ")
		}
	}
	sb.WriteString("\n```\n")
	return sb.String()
}

func phaseWorker(def *graph.PhaseDefinition) string {
	switch def.Topology {
	case graph.TopologyParallel:
		return fmt.Sprintf("%d branches", len(def.Branches))
	case graph.TopologyIterative:
		return strings.Join(def.IterationWorkers, ", ")
	case graph.TopologyAuto:
		return "-"
	default:
		return def.Worker
	}
}

func phaseState(state *session.WorkflowState, def *graph.PhaseDefinition) string {
	for _, skipped := range state.FSM.SkippedPhases {
		if skipped.Phase == def.ID {
			return "skipped"
		}
	}
	if def.ID == state.FSM.CurrentPhase {
		return "current"
	}
	if _, ok := state.PhaseOutputs[def.ID]; ok {
		return "verified"
	}
	return "pending"
}
