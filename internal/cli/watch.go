package cli

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mkotake/fleetview/internal/model"
)

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream aggregated events from all backends as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, cleanup, err := opts.wireApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			encoder := json.NewEncoder(os.Stdout)
			app.mgr.OnEvent(func(ev model.AggregatedEvent) {
				_ = encoder.Encode(ev)
			})

			app.mgr.Start(ctx)
			<-ctx.Done()
			return nil
		},
	}
}
