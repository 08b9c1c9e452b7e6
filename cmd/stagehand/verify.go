package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/graph"
	"github.com/stagehand-dev/stagehand/verify"
)

func newVerifyCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <session-id>",
		Short: "Check the current phase's proof artifact without advancing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.engine.Get(ctx, args[0])
			if err != nil {
				return err
			}
			g := a.engine.Graph(state.WorkflowName)
			if g == nil {
				return fmt.Errorf("unknown workflow %q", state.WorkflowName)
			}
			def := g.Phase(state.FSM.CurrentPhase)
			if def == nil {
				return fmt.Errorf("session %s has no current phase (status %s)", state.SessionID, state.FSM.Status)
			}

			if def.Topology == graph.TopologyParallel {
				results := a.verifier.VerifyParallelBranches(state.TaskID, def.Branches)
				allPassed := true
				for branch, result := range results {
					printResult(fmt.Sprintf("branch %s (%s)", branch, def.Branches[branch].Worker), result)
					allPassed = allPassed && result.Passed
				}
				if !allPassed {
					return fmt.Errorf("phase %s has unverified branches", def.ID)
				}
				return nil
			}
			if def.Topology == graph.TopologyAuto {
				fmt.Printf("Phase %s binds no worker, nothing to verify\n", def.ID)
				return nil
			}

			worker := def.Worker
			if def.Topology == graph.TopologyIterative {
				worker = def.IterationWorkers[state.FSM.IterationCounters[def.ID]]
			}
			result := a.verifier.Verify(state.TaskID, worker)
			printResult(fmt.Sprintf("phase %s (%s)", def.ID, worker), result)
			if !result.Passed {
				return fmt.Errorf("phase %s is not verified", def.ID)
			}
			return nil
		},
	}
}

func printResult(label string, result verify.Result) {
	if result.Passed {
		fmt.Printf("✓ %s: %s\n", label, result.ArtifactPath)
		return
	}
	fmt.Printf("✗ %s\n", label)
	for _, failure := range result.Failures {
		fmt.Printf("    - %s\n", failure)
	}
}
