package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCmd(opts *options) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List aggregated sessions across all backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := opts.wireApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			app.startAndSettle(cmd.Context(), wait)

			dirs := app.state.Directories()
			sort.Strings(dirs)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DIRECTORY\tSESSION\tSTATUS\tLAST ACTIVITY\tTITLE")
			for _, dir := range dirs {
				sessions := app.state.Sessions(dir)
				// most recently active first; ties fall back to id order
				sort.SliceStable(sessions, func(i, j int) bool {
					return app.state.LastActivity(dir, sessions[i].ID).
						After(app.state.LastActivity(dir, sessions[j].ID))
				})
				for _, sess := range sessions {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						dir,
						sess.ID,
						app.state.SessionStatus(dir, sess.ID),
						formatActivity(app.state.LastActivity(dir, sess.ID)),
						sess.Title,
					)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "time to wait for streams to seed state")
	return cmd
}

func formatActivity(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
