package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLearningsCmd(configPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learnings",
		Short: "Drive the post-completion learnings flow",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "require <session-id>",
		Short: "Mark a completed session as awaiting learnings capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.engine.RequireLearnings(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Session %s is now %s\n", state.SessionID, state.FSM.Status)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "complete <session-id>",
		Short: "Mark learnings capture as done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.engine.CompleteLearnings(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Session %s is now %s\n", state.SessionID, state.FSM.Status)
			return nil
		},
	})

	return cmd
}
