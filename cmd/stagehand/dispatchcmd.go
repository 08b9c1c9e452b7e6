package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newDispatchCmd(configPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Manage reasoning hand-off dispatches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Re-enqueue every unconfirmed pending dispatch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			queue, err := a.dispatchQueue(ctx)
			if err != nil {
				return err
			}
			controller := newRecoverController(a, queue)
			recovered, err := controller.RecoverPending(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Re-enqueued %d pending dispatch(es)\n", recovered)
			return nil
		},
	})

	var (
		batch   int
		maxWait time.Duration
	)
	drain := &cobra.Command{
		Use:   "drain",
		Short: "Fetch pending dispatches, print them, and confirm each hand-off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			queue, err := a.dispatchQueue(ctx)
			if err != nil {
				return err
			}
			deliveries, err := queue.Fetch(ctx, batch, maxWait)
			if err != nil {
				return err
			}

			controller := newRecoverController(a, queue)
			for _, delivery := range deliveries {
				rec := delivery.Record
				fmt.Printf("%s  session=%s route=%s\n", rec.ID, rec.SessionID, rec.Route)
				if err := controller.ConfirmDispatch(ctx, rec.SessionID, rec.ID); err != nil {
					a.logger.Warn("Could not confirm dispatch", "dispatch_id", rec.ID, "error", err)
					_ = delivery.Nak()
					continue
				}
				if err := delivery.Ack(); err != nil {
					return err
				}
			}
			fmt.Printf("Handled %d dispatch(es)\n", len(deliveries))
			return nil
		},
	}
	drain.Flags().IntVar(&batch, "batch", 16, "Max dispatches to fetch")
	drain.Flags().DurationVar(&maxWait, "max-wait", 5*time.Second, "How long to wait for the first dispatch")

	cmd.AddCommand(drain)
	return cmd
}
