package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHaltCmd(configPath, logLevel *string) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "halt <session-id>",
		Short: "Halt a workflow session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			state, _, err := a.engine.Halt(ctx, args[0], reason)
			if err != nil {
				return err
			}
			fmt.Printf("Workflow halted: %s\n", state.FSM.HaltReason)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "halted by operator", "Halt reason")
	return cmd
}
