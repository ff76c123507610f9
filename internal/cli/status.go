package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *options) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show discovered backends and their connection state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := opts.wireApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			app.startAndSettle(cmd.Context(), wait)

			states := app.mgr.States()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PORT\tDIRECTORY\tSTATUS\tFAILURES\tLAST EVENT")
			for _, st := range states {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
					st.Port, st.Directory, st.Status, st.FailureCount, formatActivity(st.LastEventAt))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(states) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no backends discovered; writes fall back to %s\n", app.cfg.FallbackBaseURL)
			}

			dirs := app.state.Directories()
			sort.Strings(dirs)
			for _, dir := range dirs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sessions, ready=%t\n",
					dir, len(app.state.Sessions(dir)), app.state.Ready(dir))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "time to wait for discovery and streams")
	return cmd
}
