package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkotake/fleetview/internal/journal"
)

func newJournalCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recently journaled events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := journal.Open(cmd.Context(), opts.JournalPath)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close() //nolint:errcheck

			entries, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RECEIVED\tPORT\tDIRECTORY\tTYPE")
			for _, entry := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					entry.ReceivedAt.Format(time.RFC3339), entry.Port, entry.Directory, entry.Type)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to show")

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal entries older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := journal.Open(cmd.Context(), opts.JournalPath)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close() //nolint:errcheck

			cfg := opts.config()
			pruned, err := j.PruneBefore(cmd.Context(), time.Now().Add(-cfg.JournalRetention))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries\n", pruned)
			return nil
		},
	}
	cmd.AddCommand(pruneCmd)
	return cmd
}
