package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStartCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start <workflow> <task-id>",
		Short: "Start a new workflow session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			state, directive, err := a.engine.Start(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			fmt.Printf("Session: %s\n", state.SessionID)
			fmt.Printf("Next: %s\n", directive)
			return nil
		},
	}
}
