package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/reasoning"
	"github.com/stagehand-dev/stagehand/session"
)

func newReasonCmd(configPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reason",
		Short: "Drive the route-selection reasoning pipeline",
	}

	var agentMode bool
	start := &cobra.Command{
		Use:   "start <query>",
		Short: "Start a reasoning session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			controller, err := a.reasoningController(ctx)
			if err != nil {
				return err
			}
			state, err := controller.StartSession(ctx, strings.Join(args, " "), agentMode)
			if err != nil {
				return err
			}
			fmt.Printf("Session: %s\n", state.SessionID)
			fmt.Printf("Stage: %s\n", state.Stage)
			return nil
		},
	}
	start.Flags().BoolVar(&agentMode, "agent", false, "Agent mode (skips route drafting)")

	advance := &cobra.Command{
		Use:   "advance <session-id>",
		Short: "Advance the pipeline one stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			controller, err := a.reasoningController(ctx)
			if err != nil {
				return err
			}
			state, err := controller.AdvanceStage(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Stage: %s\n", state.Stage)
			return nil
		},
	}

	var (
		outcome       string
		route         string
		reason        string
		questions     []string
		contradiction bool
	)
	report := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Report the knowledge-transfer analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			controller, err := a.reasoningController(ctx)
			if err != nil {
				return err
			}
			state, err := controller.ReportKnowledgeTransfer(ctx, args[0], reasoning.Report{
				Outcome:               reasoning.Outcome(outcome),
				Route:                 route,
				Reason:                reason,
				Questions:             questions,
				ContradictionDetected: contradiction,
			})
			if err != nil {
				return err
			}
			printReasoningState(state)
			return nil
		},
	}
	report.Flags().StringVar(&outcome, "outcome", "", "proceed, halt, or loop_back")
	report.Flags().StringVar(&route, "route", "", "Selected route (proceed) or discarded route (loop_back)")
	report.Flags().StringVar(&reason, "reason", "", "Halt or loop-back reason")
	report.Flags().StringArrayVar(&questions, "question", nil, "Clarification question (repeatable)")
	report.Flags().BoolVar(&contradiction, "contradiction", false, "Contradiction check fired this pass")
	_ = report.MarkFlagRequired("outcome")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a reasoning session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			controller, err := a.reasoningController(ctx)
			if err != nil {
				return err
			}
			state, err := controller.Get(ctx, args[0])
			if err != nil {
				return err
			}
			printReasoningState(state)
			return nil
		},
	}

	cmd.AddCommand(start, advance, report, show)
	return cmd
}

func printReasoningState(state *session.ReasoningState) {
	fmt.Printf("Session: %s\n", state.SessionID)
	fmt.Printf("Status: %s\n", state.Status)
	fmt.Printf("Stage: %s\n", state.Stage)
	fmt.Printf("Iterations: %d\n", state.IterationCount)
	if state.FinalRoute != "" {
		fmt.Printf("Final route: %s\n", state.FinalRoute)
	}
	if state.HaltReason != "" {
		fmt.Printf("Halt reason: %s\n", state.HaltReason)
		for _, q := range state.ClarificationQuestions {
			fmt.Printf("  ? %s\n", q)
		}
	}
	if state.PendingDispatch != nil {
		fmt.Printf("Pending dispatch: %s (route %s)\n", state.PendingDispatch.ID, state.PendingDispatch.Route)
	}
}
