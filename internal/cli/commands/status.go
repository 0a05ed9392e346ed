package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dashgate-dev/dashgate/internal/gate"
	"github.com/dashgate-dev/dashgate/internal/session"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			tracker, closeTracker, err := openTracker(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeTracker()

			return runStatus(cmd.Context(), cmd.OutOrStdout(), tracker, cfg.Server.PublicURL)
		},
	}
}

func runStatus(ctx context.Context, out io.Writer, tracker *session.Tracker, publicURL string) error {
	sess, err := tracker.Refresh(ctx)
	if err != nil {
		return err
	}

	if !sess.Authenticated {
		fmt.Fprintln(out, "Not logged in. Run 'dashgate login' to log in.")
		return nil
	}

	fmt.Fprintf(out, "Logged in as %s (%s)\n", sess.Identity, sess.Role)
	fmt.Fprintf(out, "  Dashboard: %s%s\n", strings.TrimRight(publicURL, "/"), gate.DefaultPath(sess))
	return nil
}
