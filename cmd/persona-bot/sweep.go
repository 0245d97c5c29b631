package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one wake sweep and exit",
		Long: `Wake every wake-enabled chat that has been idle longer than WAKE_IDLE_DAYS,
then print the sweep summary as JSON. Useful from an external scheduler
instead of the built-in one.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := a.wake.RunWakeSweep(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
