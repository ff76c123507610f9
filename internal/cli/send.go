package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newSendCmd(opts *options) *cobra.Command {
	var (
		directory string
		sessionID string
		wait      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [prompt...]",
		Short: "Send a prompt to the backend that owns the target session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if directory == "" {
				return fmt.Errorf("--dir is required")
			}
			text := strings.Join(args, " ")

			app, cleanup, err := opts.wireApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			// routing tables need a discovery cycle before affinity works
			app.startAndSettle(cmd.Context(), wait)

			ctx := cmd.Context()
			if sessionID == "" {
				sess, err := app.client.CreateSession(ctx, directory, "")
				if err != nil {
					return fmt.Errorf("create session: %w", err)
				}
				sessionID = sess.ID
				fmt.Fprintf(cmd.OutOrStdout(), "created session %s\n", sessionID)
			}

			msg, err := app.client.SendPrompt(ctx, directory, sessionID, text)
			if err != nil {
				return fmt.Errorf("send prompt: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to session %s via %s\n",
				msg.ID, sessionID, app.router.ResolveBaseURL(directory, sessionID))
			return nil
		},
	}
	cmd.Flags().StringVar(&directory, "dir", "", "target project directory")
	cmd.Flags().StringVar(&sessionID, "session", "", "target session id (created when omitted)")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "time to wait for routing tables to build")
	return cmd
}
