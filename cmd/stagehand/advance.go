package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/engine"
	"github.com/stagehand-dev/stagehand/graph"
)

func newAdvanceCmd(configPath, logLevel *string) *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "advance <session-id>",
		Short: "Verify the current phase and advance the workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			sessionID := args[0]
			if wait {
				if err := a.waitForCurrentArtifact(ctx, sessionID, timeout); err != nil {
					return err
				}
			}

			state, directive, err := a.engine.Advance(ctx, sessionID)
			if err != nil {
				return err
			}

			if directive.Action == engine.ActionHalted {
				// An expected halt is a successful outcome.
				fmt.Printf("Workflow halted: %s\n", state.FSM.HaltReason)
				return nil
			}
			fmt.Printf("Phase: %s (%s)\n", state.FSM.CurrentPhase, state.FSM.Status)
			fmt.Printf("Next: %s\n", directive)
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the current phase's artifact verifies")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wait timeout (default from config)")
	return cmd
}

// waitForCurrentArtifact blocks until the current phase's worker
// artifact passes verification. Phases without a single bound worker
// (auto, parallel) are not waited on.
func (a *app) waitForCurrentArtifact(ctx context.Context, sessionID string, timeout time.Duration) error {
	state, err := a.engine.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	g := a.engine.Graph(state.WorkflowName)
	if g == nil {
		return fmt.Errorf("unknown workflow %q", state.WorkflowName)
	}
	def := g.Phase(state.FSM.CurrentPhase)
	if def == nil {
		return nil
	}

	worker := def.Worker
	if def.Topology == graph.TopologyIterative {
		worker = def.IterationWorkers[state.FSM.IterationCounters[def.ID]]
	}
	if worker == "" {
		return nil
	}

	if timeout <= 0 {
		timeout = a.cfg.Artifacts.WaitTimeout
	}
	a.logger.Info("Waiting for artifact",
		"session_id", sessionID,
		"phase", def.ID,
		"worker", worker,
		"timeout", timeout)
	_, err = a.verifier.WaitForArtifact(ctx, state.TaskID, worker, timeout)
	return err
}
