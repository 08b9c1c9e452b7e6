package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/engine"
	"github.com/stagehand-dev/stagehand/graph"
)

func newBranchCmd(configPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage branches of the current parallel phase",
	}

	var errText string
	fail := &cobra.Command{
		Use:   "fail <session-id> <branch>",
		Short: "Mark a branch of the current parallel phase as failed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			state, _, err := a.engine.FailBranch(ctx, args[0], graph.BranchID(args[1]), errText)
			if errors.Is(err, engine.ErrCriticalBranchFailure) {
				// The halt is the documented outcome of failing a
				// critical branch, not a command error.
				fmt.Printf("Workflow halted: %s\n", state.FSM.HaltReason)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Branch %s marked failed on phase %s\n", args[1], state.FSM.CurrentPhase)
			return nil
		},
	}
	fail.Flags().StringVar(&errText, "error", "marked failed by operator", "Failure description")

	cmd.AddCommand(fail)
	return cmd
}
